package conversation

import (
	"context"
	"time"
)

// Kind tags the participant variants.
type Kind string

const (
	KindLeafAgent  Kind = "leaf_agent"
	KindNestedTeam Kind = "nested_team"
	KindHumanProxy Kind = "human_proxy"
)

// Participant takes one turn in a Team. ProduceNext receives the full
// transcript so far and returns the next message; it may block.
type Participant interface {
	Name() string
	Kind() Kind
	ProduceNext(ctx context.Context, transcript []Message) (Message, error)
}

// Generator produces an agent reply from a transcript. Capabilities such as
// tools are bound to the generator when it is constructed.
type Generator interface {
	Generate(ctx context.Context, transcript []Message) (Message, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, transcript []Message) (Message, error)

func (f GeneratorFunc) Generate(ctx context.Context, transcript []Message) (Message, error) {
	return f(ctx, transcript)
}

// LeafAgent is a model-backed participant.
type LeafAgent struct {
	name string
	gen  Generator
}

// NewLeafAgent wraps gen as a participant named name.
func NewLeafAgent(name string, gen Generator) *LeafAgent {
	return &LeafAgent{name: name, gen: gen}
}

func (a *LeafAgent) Name() string { return a.name }

func (a *LeafAgent) Kind() Kind { return KindLeafAgent }

// ProduceNext asks the generator for a reply and stamps it with the agent's
// name so termination sender filters see the participant identity.
func (a *LeafAgent) ProduceNext(ctx context.Context, transcript []Message) (Message, error) {
	msg, err := a.gen.Generate(ctx, transcript)
	if err != nil {
		return Message{}, err
	}
	msg.Sender = a.name
	if msg.Role == "" {
		msg.Role = RoleAgent
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	return msg, nil
}
