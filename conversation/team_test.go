package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scripted is a Generator that replays fixed replies and records what it saw.
type scripted struct {
	mu       sync.Mutex
	replies  []string
	calls    int
	seen     [][]Message
	tools    []ToolInvocation
	err      error
	onCall   func(call int)
	panicMsg string
}

func (s *scripted) Generate(ctx context.Context, transcript []Message) (Message, error) {
	s.mu.Lock()
	call := s.calls
	s.calls++
	s.seen = append(s.seen, transcript)
	s.mu.Unlock()

	if s.onCall != nil {
		s.onCall(call)
	}
	if s.panicMsg != "" {
		panic(s.panicMsg)
	}
	if s.err != nil {
		return Message{}, s.err
	}
	reply := fmt.Sprintf("reply %d", call)
	if call < len(s.replies) {
		reply = s.replies[call]
	}
	return Message{Content: reply, Tools: s.tools}, nil
}

func (s *scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func leaf(name string, replies ...string) (*LeafAgent, *scripted) {
	g := &scripted{replies: replies}
	return NewLeafAgent(name, g), g
}

func never() TerminationCondition { return TextMention{Trigger: "\x00never"} }

func TestNewTeamValidation(t *testing.T) {
	a, _ := leaf("a")

	_, err := NewTeam("empty", nil, never())
	assert.Error(t, err)

	_, err = NewTeam("nocond", []Participant{a}, nil)
	assert.Error(t, err)

	team, err := NewTeam("ok", []Participant{a}, never())
	require.NoError(t, err)
	assert.Equal(t, KindNestedTeam, team.Kind())
	assert.Len(t, team.Participants(), 1)
}

func TestCursorAdvancesModuloParticipants(t *testing.T) {
	a, _ := leaf("a")
	b, _ := leaf("b")
	c, _ := leaf("c")
	team, err := NewTeam("t", []Participant{a, b, c}, never())
	require.NoError(t, err)

	tr := NewTranscript(TaskMessage("task"))
	for k := 1; k <= 8; k++ {
		_, err := team.Step(context.Background(), tr)
		require.NoError(t, err)
		assert.Equal(t, k%3, team.Cursor(), "after %d steps", k)
	}
	assert.Equal(t, 9, tr.Len())

	team.Reset()
	assert.Equal(t, 0, team.Cursor())
	team.Reset()
	assert.Equal(t, 0, team.Cursor())
	assert.False(t, team.Terminated())
}

func TestStepSetsSenderAndEvaluatesCondition(t *testing.T) {
	a, _ := leaf("a", "working", "done: Approved")
	team, err := NewTeam("t", []Participant{a}, TextMention{Trigger: "Approved"})
	require.NoError(t, err)

	tr := NewTranscript(TaskMessage("task"))
	msg, err := team.Step(context.Background(), tr)
	require.NoError(t, err)
	assert.Equal(t, "a", msg.Sender)
	assert.Equal(t, RoleAgent, msg.Role)
	assert.False(t, team.Terminated())

	_, err = team.Step(context.Background(), tr)
	require.NoError(t, err)
	assert.True(t, team.Terminated())
}

func TestStepFailureLeavesStateUnchanged(t *testing.T) {
	a, _ := leaf("a")
	failing := &scripted{err: errors.New("model unavailable")}
	b := NewLeafAgent("b", failing)
	team, err := NewTeam("t", []Participant{a, b}, never())
	require.NoError(t, err)

	tr := NewTranscript(TaskMessage("task"))
	_, err = team.Step(context.Background(), tr)
	require.NoError(t, err)

	_, err = team.Step(context.Background(), tr)
	var pe *ParticipantError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "b", pe.Participant)
	assert.EqualError(t, pe.Err, "model unavailable")
	assert.Equal(t, 1, team.Cursor())
	assert.Equal(t, 2, tr.Len())
}

func TestStepRecoversPanics(t *testing.T) {
	team, err := NewTeam("t", []Participant{NewLeafAgent("boom", &scripted{panicMsg: "kaboom"})}, never())
	require.NoError(t, err)

	tr := NewTranscript(TaskMessage("task"))
	_, err = team.Step(context.Background(), tr)
	var pe *ParticipantError
	require.ErrorAs(t, err, &pe)
	assert.Contains(t, pe.Error(), "kaboom")
	assert.Equal(t, 0, team.Cursor())
	assert.Equal(t, 1, tr.Len())
}

func TestRunStopsOnTermination(t *testing.T) {
	a, ga := leaf("a", "one", "three Approved")
	b, gb := leaf("b", "two")
	team, err := NewTeam("t", []Participant{a, b}, TextMention{Trigger: "Approved"})
	require.NoError(t, err)

	var got []string
	for msg, err := range team.Run(context.Background(), "task") {
		require.NoError(t, err)
		got = append(got, msg.Sender+":"+msg.Content)
	}
	assert.Equal(t, []string{"a:one", "b:two", "a:three Approved"}, got)
	assert.True(t, team.Terminated())
	assert.Equal(t, 2, ga.Calls())
	assert.Equal(t, 1, gb.Calls())

	// Every participant sees the full transcript, starting with the task.
	require.Len(t, gb.seen, 1)
	require.Len(t, gb.seen[0], 2)
	assert.Equal(t, TaskSender, gb.seen[0][0].Sender)
	assert.Equal(t, "task", gb.seen[0][0].Content)
}

func TestRunRequiresReset(t *testing.T) {
	a, _ := leaf("a", "Approved")
	team, err := NewTeam("t", []Participant{a}, TextMention{Trigger: "Approved"})
	require.NoError(t, err)

	for _, err := range team.Run(context.Background(), "task") {
		require.NoError(t, err)
	}

	var errs []error
	for _, err := range team.Run(context.Background(), "again") {
		errs = append(errs, err)
	}
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrTeamNotReset)

	team.Reset()
	count := 0
	for _, err := range team.Run(context.Background(), "again") {
		require.NoError(t, err)
		count++
	}
	assert.Equal(t, 1, count)
}

func TestRunIsLazy(t *testing.T) {
	a, ga := leaf("a")
	team, err := NewTeam("t", []Participant{a}, never())
	require.NoError(t, err)

	seq := team.Run(context.Background(), "task")
	assert.Equal(t, 0, ga.Calls())

	n := 0
	for _, err := range seq {
		require.NoError(t, err)
		n++
		if n == 3 {
			break
		}
	}
	assert.Equal(t, 3, ga.Calls())
}

func TestRunChecksContextBetweenSteps(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a, ga := leaf("a")
	team, err := NewTeam("t", []Participant{a}, never())
	require.NoError(t, err)

	var lastErr error
	for _, err := range team.Run(ctx, "task") {
		if err != nil {
			lastErr = err
			break
		}
		cancel()
	}
	assert.ErrorIs(t, lastErr, context.Canceled)
	assert.Equal(t, 1, ga.Calls())
}

func TestStepGateStopsBeforeNextStep(t *testing.T) {
	stop := false
	a, ga := leaf("a")
	team, err := NewTeam("t", []Participant{a}, never(), WithStepGate(func() error {
		if stop {
			return ErrCancelled
		}
		return nil
	}))
	require.NoError(t, err)

	var lastErr error
	for _, err := range team.Run(context.Background(), "task") {
		if err != nil {
			lastErr = err
			break
		}
		if ga.Calls() == 2 {
			stop = true
		}
	}
	assert.ErrorIs(t, lastErr, ErrCancelled)
	assert.Equal(t, 2, ga.Calls())
}

func TestNestedTeamFlattensToFinalMessage(t *testing.T) {
	a, _ := leaf("A", "A1", "A2 Approved")
	b, gb := leaf("B", "B1")
	inner, err := NewTeam("inner", []Participant{a, b}, TextMention{Trigger: "Approved"})
	require.NoError(t, err)

	observer := &scripted{replies: []string{"exit"}}
	outer, err := NewTeam("outer",
		[]Participant{inner, NewLeafAgent("observer", observer)},
		TextMention{Trigger: "exit", Senders: []string{"observer"}})
	require.NoError(t, err)

	var got []Message
	for msg, err := range outer.Run(context.Background(), "task") {
		require.NoError(t, err)
		got = append(got, msg)
	}

	require.Len(t, got, 2)
	assert.Equal(t, "A", got[0].Sender)
	assert.Equal(t, "A2 Approved", got[0].Content)
	assert.Equal(t, "exit", got[1].Content)

	// The outer level only ever saw the inner team's final message.
	require.Len(t, observer.seen, 1)
	require.Len(t, observer.seen[0], 2)
	assert.Equal(t, "task", observer.seen[0][0].Content)
	assert.Equal(t, "A2 Approved", observer.seen[0][1].Content)

	// The inner team worked on a copy of the outer transcript.
	require.Len(t, gb.seen, 1)
	assert.Len(t, gb.seen[0], 2)
}

func TestNestedTeamResetsOnEveryTurn(t *testing.T) {
	a, ga := leaf("A", "A1 Approved", "A2 Approved")
	b, gb := leaf("B")
	inner, err := NewTeam("inner", []Participant{a, b}, TextMention{Trigger: "Approved"})
	require.NoError(t, err)

	h, _ := leaf("H", "more", "exit")
	outer, err := NewTeam("outer", []Participant{inner, h}, TextMention{Trigger: "exit", Senders: []string{"H"}})
	require.NoError(t, err)

	n := 0
	for _, err := range outer.Run(context.Background(), "task") {
		require.NoError(t, err)
		n++
	}
	assert.Equal(t, 4, n)
	assert.Equal(t, 2, ga.Calls())
	assert.Equal(t, 0, gb.Calls(), "inner team restarts at its first participant")
}

func TestNestedTeamPropagatesFailure(t *testing.T) {
	a := NewLeafAgent("A", &scripted{err: errors.New("quota")})
	inner, err := NewTeam("inner", []Participant{a}, never())
	require.NoError(t, err)
	outer, err := NewTeam("outer", []Participant{inner}, never())
	require.NoError(t, err)

	var lastErr error
	for _, err := range outer.Run(context.Background(), "task") {
		lastErr = err
	}
	var pe *ParticipantError
	require.ErrorAs(t, lastErr, &pe)
	assert.Equal(t, "inner", pe.Participant)
	assert.Contains(t, lastErr.Error(), "quota")
}

func TestSingleParticipantRepeats(t *testing.T) {
	a, ga := leaf("solo", "x", "y", "z Approved")
	team, err := NewTeam("t", []Participant{a}, TextMention{Trigger: "Approved"})
	require.NoError(t, err)

	for _, err := range team.Run(context.Background(), "task") {
		require.NoError(t, err)
		assert.Equal(t, 0, team.Cursor())
	}
	assert.Equal(t, 3, ga.Calls())
}

func TestTurnBudgetSharedAcrossNestedTeams(t *testing.T) {
	a, ga := leaf("A")
	b, gb := leaf("B")
	budget := NewTurnBudget(3)
	inner, err := NewTeam("inner", []Participant{a, b}, never(), WithTurnBudget(budget))
	require.NoError(t, err)
	h, gh := leaf("H")
	outer, err := NewTeam("outer", []Participant{inner, h}, never(), WithTurnBudget(budget))
	require.NoError(t, err)

	var got []Message
	var lastErr error
	for msg, err := range outer.Run(context.Background(), "task") {
		if err != nil {
			lastErr = err
			break
		}
		got = append(got, msg)
	}

	require.ErrorIs(t, lastErr, ErrTurnLimit)
	require.Len(t, got, 1)
	assert.Equal(t, "A", got[0].Sender, "the inner loop surfaces its last message")
	assert.Equal(t, 2, ga.Calls())
	assert.Equal(t, 1, gb.Calls())
	assert.Equal(t, 0, gh.Calls())
	assert.Equal(t, 3, budget.Used())
}

func TestTurnBudgetSpentBeforeInnerTurn(t *testing.T) {
	a, ga := leaf("A")
	budget := NewTurnBudget(1)
	inner, err := NewTeam("inner", []Participant{a}, never(), WithTurnBudget(budget))
	require.NoError(t, err)
	h, _ := leaf("H", "again")
	outer, err := NewTeam("outer", []Participant{h, inner}, never(), WithTurnBudget(budget))
	require.NoError(t, err)

	var lastErr error
	n := 0
	for _, err := range outer.Run(context.Background(), "task") {
		if err != nil {
			lastErr = err
			break
		}
		n++
	}

	assert.Equal(t, 1, n)
	assert.ErrorIs(t, lastErr, ErrTurnLimit)
	assert.Equal(t, 0, ga.Calls())
}

func TestUnboundedTurnBudget(t *testing.T) {
	a, ga := leaf("solo", "x", "y", "z Approved")
	budget := NewTurnBudget(0)
	team, err := NewTeam("t", []Participant{a}, TextMention{Trigger: "Approved"}, WithTurnBudget(budget))
	require.NoError(t, err)

	for _, err := range team.Run(context.Background(), "task") {
		require.NoError(t, err)
	}
	assert.Equal(t, 3, ga.Calls())
	assert.Equal(t, 3, budget.Used())
}
