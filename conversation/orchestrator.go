package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Default participant names and triggers.
const (
	DefaultCoderName      = "Coding_Agent"
	DefaultCriticName     = "Critic_Agent"
	DefaultHumanName      = "user_proxy"
	DefaultApproveTrigger = "Approved"
	DefaultExitTrigger    = "exit"

	DoneMessage = "Team has finished the task."
)

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMaxTurns bounds the number of participant turns in a run. Coder,
// critic and human turns all count, including those inside the inner loop.
// Zero means unbounded.
func WithMaxTurns(n int) Option {
	return func(o *Orchestrator) { o.maxTurns = n }
}

// WithTriggers sets the approval and exit phrases. Empty values keep the
// defaults.
func WithTriggers(approve, exit string) Option {
	return func(o *Orchestrator) {
		if approve != "" {
			o.approve = approve
		}
		if exit != "" {
			o.exit = exit
		}
	}
}

// WithSinks adds event sinks that observe every run.
func WithSinks(sinks ...EventSink) Option {
	return func(o *Orchestrator) { o.sinks = append(o.sinks, sinks...) }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithEventBuffer sets the capacity of each run's event channel.
func WithEventBuffer(n int) Option {
	return func(o *Orchestrator) { o.buffer = n }
}

// WithNames overrides the participant names. Empty values keep the defaults.
func WithNames(coder, critic, human string) Option {
	return func(o *Orchestrator) {
		if coder != "" {
			o.coderName = coder
		}
		if critic != "" {
			o.criticName = critic
		}
		if human != "" {
			o.humanName = human
		}
	}
}

// Orchestrator runs the two-level coder/critic/human conversation for a
// task. One Orchestrator may start many independent runs.
type Orchestrator struct {
	coder, critic Generator

	maxTurns   int
	approve    string
	exit       string
	sinks      []EventSink
	logger     *slog.Logger
	buffer     int
	coderName  string
	criticName string
	humanName  string
}

// NewOrchestrator builds an orchestrator around the two model-backed
// generators.
func NewOrchestrator(coder, critic Generator, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		coder:      coder,
		critic:     critic,
		approve:    DefaultApproveTrigger,
		exit:       DefaultExitTrigger,
		logger:     slog.Default(),
		buffer:     64,
		coderName:  DefaultCoderName,
		criticName: DefaultCriticName,
		humanName:  DefaultHumanName,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run is the handle for one in-flight conversation.
type Run struct {
	id        string
	task      string
	events    *emitter
	bridge    *Bridge
	cancelled atomic.Bool
	done      chan struct{}

	mu     sync.Mutex
	status string
	err    error
	fault  error
}

// ID returns the run identifier.
func (r *Run) ID() string { return r.id }

// Task returns the task text the run was started with.
func (r *Run) Task() string { return r.task }

// Events streams the run's events and is closed after the done event. The
// driver blocks until each event is received.
func (r *Run) Events() <-chan Event { return r.events.ch }

// Prompts delivers human-input prompts; see Bridge.Prompts.
func (r *Run) Prompts() <-chan string { return r.bridge.Prompts() }

// Pending returns the outstanding human-input prompt, if any.
func (r *Run) Pending() (string, bool) { return r.bridge.Pending() }

// Reply answers the outstanding human-input request. A reply nobody asked
// for is a protocol violation and fails the run.
func (r *Run) Reply(text string) error {
	err := r.bridge.Supply(text)
	if errors.Is(err, ErrProtocolViolation) {
		r.abort(err)
	}
	return err
}

// Cancel stops the run before its next step. A model call or sandbox run
// already in progress is allowed to finish.
func (r *Run) Cancel() {
	r.cancelled.Store(true)
	r.bridge.Cancel()
}

// Done is closed when the run has finished and its event stream is closed.
func (r *Run) Done() <-chan struct{} { return r.done }

// Wait blocks until the run finishes. It returns nil for a completed run or
// one stopped by the turn limit, ErrCancelled for a cancelled run, and the
// failure otherwise.
func (r *Run) Wait() error {
	<-r.done
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Status returns the run's current status.
func (r *Run) Status() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *Run) finish(status string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status, r.err = status, err
}

// abort records the first fault and releases anything waiting on the
// bridge. The driver stops before its next step.
func (r *Run) abort(err error) {
	r.mu.Lock()
	if r.fault == nil {
		r.fault = err
	}
	r.mu.Unlock()
	r.bridge.Cancel()
}

func (r *Run) faulted() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fault
}

func (r *Run) gate() error {
	if err := r.faulted(); err != nil {
		return err
	}
	if r.cancelled.Load() {
		return ErrCancelled
	}
	return nil
}

// Start launches a run on its own goroutine and returns immediately. The
// caller must drain Events until it is closed.
func (o *Orchestrator) Start(ctx context.Context, task string) *Run {
	id := uuid.New().String()
	run := &Run{
		id:     id,
		task:   task,
		events: newEmitter(id, o.buffer, o.sinks, o.logger),
		bridge: NewBridge(),
		done:   make(chan struct{}),
		status: StatusRunning,
	}
	go o.drive(ctx, run)
	return run
}

// Run executes a task synchronously, answering human prompts with replies.
// Events reach the configured sinks. A replies error cancels the run.
func (o *Orchestrator) Run(ctx context.Context, task string, replies func(prompt string) (string, error)) error {
	run := o.Start(ctx, task)
	go func() {
		for prompt := range run.Prompts() {
			reply, err := replies(prompt)
			if err != nil {
				o.logger.Info("reply source ended", "run", run.ID(), "error", err)
				run.Cancel()
				return
			}
			if err := run.Reply(reply); err != nil {
				o.logger.Warn("reply rejected", "run", run.ID(), "error", err)
			}
		}
	}()
	for range run.Events() {
	}
	return run.Wait()
}

func (o *Orchestrator) buildTeams(run *Run, budget *TurnBudget) (*Team, error) {
	gate := WithStepGate(run.gate)
	logger := WithTeamLogger(o.logger.With("run", run.id))
	turns := WithTurnBudget(budget)

	inner, err := NewTeam("inner",
		[]Participant{NewLeafAgent(o.coderName, o.coder), NewLeafAgent(o.criticName, o.critic)},
		TextMention{Trigger: o.approve},
		gate, logger, turns)
	if err != nil {
		return nil, err
	}
	outer, err := NewTeam("outer",
		[]Participant{inner, NewHumanProxy(o.humanName, run.bridge)},
		TextMention{Trigger: o.exit, Senders: []string{o.humanName}},
		gate, logger, turns)
	if err != nil {
		return nil, err
	}
	inner.Reset()
	outer.Reset()
	return outer, nil
}

func (o *Orchestrator) drive(ctx context.Context, run *Run) {
	logger := o.logger.With("run", run.id)
	logger.Info("run started", "task", run.task)

	defer close(run.done)
	defer run.events.close()
	defer run.bridge.Cancel()

	status, runErr := StatusCompleted, error(nil)
	func() {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("driver panicked", "panic", rec)
				status, runErr = StatusFailed, fmt.Errorf("panic: %v", rec)
				run.events.emit(ctx, Event{Type: EventError, Payload: runErr.Error()})
			}
		}()
		status, runErr = o.converse(ctx, run)
	}()

	run.finish(status, runErr)
	run.events.emit(ctx, Event{Type: EventDone, Payload: DoneMessage, Status: status})
	logger.Info("run finished", "status", status)
}

func (o *Orchestrator) converse(ctx context.Context, run *Run) (string, error) {
	run.events.emit(ctx, Event{
		Type:    EventSystem,
		Payload: fmt.Sprintf("Received problem '%s'. Assembling agent team...", run.task),
		Task:    run.task,
	})

	budget := NewTurnBudget(o.maxTurns)
	outer, err := o.buildTeams(run, budget)
	if err != nil {
		run.events.emit(ctx, Event{Type: EventError, Payload: err.Error()})
		return StatusFailed, err
	}

	task := TaskMessage(fmt.Sprintf("You are tasked to solve the problem: '%s'.", run.task))
	run.events.emit(ctx, Event{Type: EventUser, Sender: task.Sender, Payload: task.Content, Message: &task})

	for msg, err := range outer.Run(ctx, task.Content) {
		if errors.Is(err, ErrTurnLimit) {
			run.events.emit(ctx, Event{Type: EventSystem, Payload: fmt.Sprintf("turn limit reached after %d turns", budget.Used())})
			return StatusTurnLimit, nil
		}
		if err != nil {
			return o.fail(ctx, run, err)
		}
		o.emitMessage(ctx, run, msg)
	}
	if fault := run.faulted(); fault != nil {
		return o.fail(ctx, run, fault)
	}
	return StatusCompleted, nil
}

func (o *Orchestrator) fail(ctx context.Context, run *Run, err error) (string, error) {
	if fault := run.faulted(); fault != nil {
		o.logger.Error("run aborted", "run", run.id, "error", fault)
		run.events.emit(ctx, Event{Type: EventError, Payload: fault.Error()})
		return StatusFailed, fault
	}
	if errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled) || run.cancelled.Load() {
		run.events.emit(ctx, Event{Type: EventCancelled, Payload: "run cancelled"})
		return StatusCancelled, ErrCancelled
	}
	o.logger.Error("run failed", "run", run.id, "error", err)
	ev := Event{Type: EventError, Payload: err.Error()}
	var pe *ParticipantError
	if errors.As(err, &pe) {
		ev.Sender = pe.Participant
	}
	run.events.emit(ctx, ev)
	return StatusFailed, err
}

func (o *Orchestrator) emitMessage(ctx context.Context, run *Run, msg Message) {
	for i := range msg.Tools {
		inv := msg.Tools[i]
		run.events.emit(ctx, Event{Type: EventToolResult, Sender: inv.Agent, Payload: inv.Output, Tool: &inv})
	}
	typ := EventAgent
	if msg.Role == RoleHuman {
		typ = EventUser
	}
	m := msg.clone()
	run.events.emit(ctx, Event{Type: typ, Sender: msg.Sender, Payload: msg.Content, Message: &m})
}
