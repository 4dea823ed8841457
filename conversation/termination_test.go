package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTextMention(t *testing.T) {
	tests := []struct {
		name string
		cond TextMention
		msg  Message
		want bool
	}{
		{"match any sender", TextMention{Trigger: "Approved"}, Message{Sender: "Critic_Agent", Content: "All tests pass. Approved"}, true},
		{"no trigger", TextMention{Trigger: "Approved"}, Message{Sender: "Critic_Agent", Content: "needs work"}, false},
		{"case sensitive", TextMention{Trigger: "Approved"}, Message{Content: "approved"}, false},
		{"sender filter match", TextMention{Trigger: "exit", Senders: []string{"user_proxy"}}, Message{Sender: "user_proxy", Content: "exit"}, true},
		{"sender filter excludes", TextMention{Trigger: "exit", Senders: []string{"user_proxy"}}, Message{Sender: "Coding_Agent", Content: "System.exit(0)"}, false},
		{"quoted trigger still matches", TextMention{Trigger: "Approved"}, Message{Content: `I will say "Approved" once tests pass`}, true},
		{"empty trigger never matches", TextMention{}, Message{Content: "anything"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cond.ShouldTerminate(tt.msg))
		})
	}
}

func TestTextMentionOnlyLooksAtLatest(t *testing.T) {
	a, _ := leaf("a", "Approved", "later")
	team, err := NewTeam("t", []Participant{a}, TextMention{Trigger: "Approved", Senders: []string{"b"}})
	assert.NoError(t, err)

	tr := NewTranscript(TaskMessage("task"))
	_, _ = team.Step(t.Context(), tr)
	_, _ = team.Step(t.Context(), tr)
	assert.False(t, team.Terminated(), "an earlier match from another sender must not count")
}
