package conversation

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// EventType identifies the kind of run event.
type EventType string

const (
	EventSystem     EventType = "system"
	EventAgent      EventType = "agent"
	EventUser       EventType = "user"
	EventToolResult EventType = "tool_result"
	EventError      EventType = "error"
	EventCancelled  EventType = "cancelled"
	EventDone       EventType = "done"
)

// Run statuses carried by the done event.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
	StatusTurnLimit = "turn_limit"
)

// Event is one entry of a run's output stream.
type Event struct {
	Type      EventType       `json:"type"`
	RunID     string          `json:"run_id"`
	Seq       int             `json:"seq"`
	Sender    string          `json:"sender,omitempty"`
	Task      string          `json:"task,omitempty"` // set on the first event
	Payload   string          `json:"payload,omitempty"`
	Message   *Message        `json:"message,omitempty"`
	Tool      *ToolInvocation `json:"tool,omitempty"`
	Status    string          `json:"status,omitempty"` // set on done
	Timestamp time.Time       `json:"timestamp"`
}

// EventSink observes every event of a run. Sinks run on the driver
// goroutine; a sink error is logged and never affects the run.
type EventSink interface {
	HandleEvent(ctx context.Context, ev Event) error
}

// SinkFunc adapts a function to EventSink.
type SinkFunc func(ctx context.Context, ev Event) error

func (f SinkFunc) HandleEvent(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

// emitter stamps events, fans them out to sinks, and delivers them on a
// channel in production order. Delivery blocks rather than drops, so the
// consumer must drain the channel until it is closed.
type emitter struct {
	runID  string
	ch     chan Event
	sinks  []EventSink
	logger *slog.Logger

	mu     sync.Mutex
	seq    int
	closed bool
}

func newEmitter(runID string, buffer int, sinks []EventSink, logger *slog.Logger) *emitter {
	if buffer < 0 {
		buffer = 0
	}
	return &emitter{
		runID:  runID,
		ch:     make(chan Event, buffer),
		sinks:  sinks,
		logger: logger,
	}
}

func (e *emitter) emit(ctx context.Context, ev Event) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.seq++
	ev.Seq = e.seq
	ev.RunID = e.runID
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	e.mu.Unlock()

	sinkCtx := context.WithoutCancel(ctx)
	for _, sink := range e.sinks {
		if err := sink.HandleEvent(sinkCtx, ev); err != nil {
			e.logger.Warn("event sink failed", "run", e.runID, "type", ev.Type, "error", err)
		}
	}
	e.ch <- ev
}

func (e *emitter) close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.ch)
	}
}
