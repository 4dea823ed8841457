package conversation

import (
	"slices"
	"strings"
)

// TerminationCondition decides, from the latest message alone, whether a
// Team should stop. Implementations are stateless.
type TerminationCondition interface {
	ShouldTerminate(latest Message) bool
}

// TextMention matches when the latest message contains Trigger verbatim and,
// if Senders is non-empty, was sent by one of them. The match is a plain
// substring test, so a trigger inside quoted text also matches. An empty
// Trigger never matches.
type TextMention struct {
	Trigger string
	Senders []string
}

func (c TextMention) ShouldTerminate(latest Message) bool {
	if c.Trigger == "" {
		return false
	}
	if len(c.Senders) > 0 && !slices.Contains(c.Senders, latest.Sender) {
		return false
	}
	return strings.Contains(latest.Content, c.Trigger)
}
