package conversation

import (
	"context"
	"time"
)

// HumanProxy is the participant that speaks for the human. Its turn suspends
// on the bridge until a reply is supplied.
type HumanProxy struct {
	name   string
	bridge *Bridge
}

// NewHumanProxy returns a proxy named name that asks through bridge.
func NewHumanProxy(name string, bridge *Bridge) *HumanProxy {
	return &HumanProxy{name: name, bridge: bridge}
}

func (h *HumanProxy) Name() string { return h.name }

func (h *HumanProxy) Kind() Kind { return KindHumanProxy }

// ProduceNext uses the latest message as the prompt.
func (h *HumanProxy) ProduceNext(ctx context.Context, transcript []Message) (Message, error) {
	var prompt string
	if n := len(transcript); n > 0 {
		prompt = transcript[n-1].Content
	}
	reply, err := h.bridge.Request(ctx, prompt)
	if err != nil {
		return Message{}, err
	}
	return Message{Sender: h.name, Content: reply, Role: RoleHuman, Timestamp: time.Now()}, nil
}
