package natsbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/martinemde/codepair/conversation"
	"github.com/nats-io/nats.go"
)

// EventPublisher is a conversation.EventSink that publishes each event as
// JSON on the run's events topic.
type EventPublisher struct {
	client *Client
}

func NewEventPublisher(client *Client) *EventPublisher {
	return &EventPublisher{client: client}
}

func (p *EventPublisher) HandleEvent(ctx context.Context, ev conversation.Event) error {
	if err := p.client.PublishJSON(TopicRunEvents(ev.RunID), ev); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// ReplyPayload is the body accepted on a run's reply topic.
type ReplyPayload struct {
	Content string `json:"content"`
}

// Replier is the part of a run that accepts human replies.
type Replier interface {
	ID() string
	Reply(text string) error
}

// SubscribeReplies forwards messages on the run's reply topic to run.Reply.
// When the message has a reply subject, the outcome is sent back as
// {"ok":bool,"error":string}.
func SubscribeReplies(client *Client, run Replier, logger *slog.Logger) (*nats.Subscription, error) {
	if logger == nil {
		logger = slog.Default()
	}
	return client.Subscribe(TopicRunReply(run.ID()), func(msg *nats.Msg) {
		var payload ReplyPayload
		err := json.Unmarshal(msg.Data, &payload)
		if err == nil {
			err = run.Reply(payload.Content)
		}
		switch {
		case err == nil:
		case errors.Is(err, conversation.ErrProtocolViolation):
			logger.Warn("reply rejected", "run", run.ID(), "error", err)
		default:
			logger.Info("reply not delivered", "run", run.ID(), "error", err)
		}

		if msg.Reply == "" {
			return
		}
		ack := map[string]any{"ok": err == nil}
		if err != nil {
			ack["error"] = err.Error()
		}
		data, _ := json.Marshal(ack)
		if rerr := msg.Respond(data); rerr != nil {
			logger.Warn("reply ack failed", "run", run.ID(), "error", rerr)
		}
	})
}
