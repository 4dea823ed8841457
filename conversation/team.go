package conversation

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"time"
)

// Team runs its participants round-robin until its condition matches.
//
// A Team is not safe for concurrent use: exactly one goroutine drives it.
type Team struct {
	name         string
	participants []Participant
	cond         TerminationCondition
	gate         func() error
	budget       *TurnBudget
	logger       *slog.Logger

	cursor     int
	terminated bool
	consumed   bool
}

// TeamOption configures a Team.
type TeamOption func(*Team)

// WithStepGate installs a check that runs before every step; a non-nil
// error stops the loop before the next participant is invoked.
func WithStepGate(gate func() error) TeamOption {
	return func(t *Team) { t.gate = gate }
}

// WithTurnBudget charges every leaf turn against b. Teams that share a
// budget share one limit, so nested loops count toward it too.
func WithTurnBudget(b *TurnBudget) TeamOption {
	return func(t *Team) { t.budget = b }
}

// WithTeamLogger sets the team's logger.
func WithTeamLogger(logger *slog.Logger) TeamOption {
	return func(t *Team) { t.logger = logger }
}

// NewTeam builds a team. participants must be non-empty and cond non-nil.
func NewTeam(name string, participants []Participant, cond TerminationCondition, opts ...TeamOption) (*Team, error) {
	if len(participants) == 0 {
		return nil, fmt.Errorf("team %s: at least one participant is required", name)
	}
	if cond == nil {
		return nil, fmt.Errorf("team %s: termination condition is required", name)
	}
	t := &Team{
		name:         name,
		participants: slices.Clone(participants),
		cond:         cond,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With("team", name)
	return t, nil
}

func (t *Team) Name() string { return t.name }

func (t *Team) Kind() Kind { return KindNestedTeam }

// Cursor is the index of the participant that acts next.
func (t *Team) Cursor() int { return t.cursor }

// Terminated reports whether the condition has matched since the last Reset.
func (t *Team) Terminated() bool { return t.terminated }

// Participants returns the participants in turn order.
func (t *Team) Participants() []Participant { return slices.Clone(t.participants) }

// Reset rewinds the cursor and clears the terminated flag.
func (t *Team) Reset() {
	t.cursor = 0
	t.terminated = false
	t.consumed = false
}

// Step gives the current participant one turn over tr. On success the
// message is appended, the cursor advances, and the condition is evaluated
// against the new message. On failure tr and the cursor are unchanged and
// the error is a *ParticipantError.
func (t *Team) Step(ctx context.Context, tr *Transcript) (msg Message, err error) {
	p := t.participants[t.cursor]

	defer func() {
		if rec := recover(); rec != nil {
			t.logger.Error("participant panicked", "participant", p.Name(), "panic", rec)
			msg, err = Message{}, &ParticipantError{Participant: p.Name(), Err: fmt.Errorf("panic: %v", rec)}
		}
	}()

	msg, err = p.ProduceNext(ctx, tr.Messages())
	if err != nil {
		return Message{}, &ParticipantError{Participant: p.Name(), Err: err}
	}
	if msg.Sender == "" {
		msg.Sender = p.Name()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	tr.Append(msg)
	t.cursor = (t.cursor + 1) % len(t.participants)
	if t.cond.ShouldTerminate(msg) {
		t.terminated = true
	}
	t.logger.Debug("step", "participant", p.Name(), "cursor", t.cursor, "terminated", t.terminated)
	return msg, nil
}

// Run seeds a fresh transcript with task and yields each produced message
// until the condition matches. The sequence is lazy. Running a second time
// without Reset yields ErrTeamNotReset.
func (t *Team) Run(ctx context.Context, task string) iter.Seq2[Message, error] {
	return func(yield func(Message, error) bool) {
		if t.consumed {
			yield(Message{}, ErrTeamNotReset)
			return
		}
		t.consumed = true
		t.loop(ctx, NewTranscript(TaskMessage(task)), yield)
	}
}

func (t *Team) steps(ctx context.Context, tr *Transcript) iter.Seq2[Message, error] {
	return func(yield func(Message, error) bool) {
		t.loop(ctx, tr, yield)
	}
}

func (t *Team) loop(ctx context.Context, tr *Transcript, yield func(Message, error) bool) {
	for !t.terminated {
		if t.gate != nil {
			if err := t.gate(); err != nil {
				yield(Message{}, err)
				return
			}
		}
		if err := ctx.Err(); err != nil {
			yield(Message{}, err)
			return
		}
		counted := t.budget != nil && t.participants[t.cursor].Kind() != KindNestedTeam
		if counted && t.budget.exhausted() {
			yield(Message{}, ErrTurnLimit)
			return
		}
		msg, err := t.Step(ctx, tr)
		if err != nil {
			yield(Message{}, err)
			return
		}
		if counted {
			t.budget.used++
		}
		if !yield(msg, nil) {
			return
		}
	}
}

// ProduceNext makes the team a participant of an enclosing team. It resets
// itself, runs its own loop over a copy of the outer transcript, and returns
// only its final message. When the turn budget runs out mid-loop the last
// message produced so far is returned.
func (t *Team) ProduceNext(ctx context.Context, transcript []Message) (Message, error) {
	t.Reset()
	t.consumed = true

	var (
		last Message
		have bool
	)
	for msg, err := range t.steps(ctx, NewTranscript(transcript...)) {
		if err != nil {
			if errors.Is(err, ErrTurnLimit) && have {
				return last, nil
			}
			var pe *ParticipantError
			if errors.As(err, &pe) || errors.Is(err, ErrCancelled) || errors.Is(err, ErrTurnLimit) {
				return Message{}, err
			}
			return Message{}, fmt.Errorf("team %s: %w", t.name, err)
		}
		last, have = msg, true
	}
	if !have {
		return Message{}, fmt.Errorf("team %s: produced no message", t.name)
	}
	return last, nil
}

// TurnBudget bounds the number of leaf turns across every team that shares
// it. Like Team it belongs to the single goroutine driving the run.
type TurnBudget struct {
	limit int
	used  int
}

// NewTurnBudget returns a budget of limit turns. Zero or less is unbounded.
func NewTurnBudget(limit int) *TurnBudget {
	return &TurnBudget{limit: limit}
}

// Used reports how many turns have been taken.
func (b *TurnBudget) Used() int { return b.used }

func (b *TurnBudget) exhausted() bool {
	return b.limit > 0 && b.used >= b.limit
}
