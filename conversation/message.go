package conversation

import (
	"slices"
	"time"

	"github.com/martinemde/codepair/sandbox"
)

// Role says who authored a message.
type Role string

const (
	RoleSystem     Role = "system"
	RoleAgent      Role = "agent"
	RoleHuman      Role = "human"
	RoleToolResult Role = "tool_result"
)

// TaskSender is the sender of the message that seeds every run.
const TaskSender = "user"

// ToolInvocation records one sandbox run made by an agent while producing a
// message.
type ToolInvocation struct {
	ID      string         `json:"id"`
	Agent   string         `json:"agent"`
	Tool    string         `json:"tool"`
	Program string         `json:"program"`
	Stdin   string         `json:"stdin,omitempty"`
	Output  string         `json:"output"` // flattened text handed back to the model
	Result  sandbox.Result `json:"result"`
}

// Message is one turn of a conversation. Messages are values; once appended
// to a Transcript they are never modified.
type Message struct {
	Sender    string           `json:"sender"`
	Content   string           `json:"content"`
	Role      Role             `json:"role"`
	Tools     []ToolInvocation `json:"tools,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// TaskMessage builds the message that seeds a run.
func TaskMessage(task string) Message {
	return Message{Sender: TaskSender, Content: task, Role: RoleHuman, Timestamp: time.Now()}
}

// AgentMessage builds an agent-authored message.
func AgentMessage(sender, content string, tools ...ToolInvocation) Message {
	return Message{Sender: sender, Content: content, Role: RoleAgent, Tools: tools, Timestamp: time.Now()}
}

func (m Message) clone() Message {
	m.Tools = slices.Clone(m.Tools)
	return m
}

// Transcript is an append-only message log. It is owned by the Team that is
// currently running and is not safe for concurrent use.
type Transcript struct {
	msgs []Message
}

// NewTranscript returns a transcript holding copies of msgs.
func NewTranscript(msgs ...Message) *Transcript {
	t := &Transcript{msgs: make([]Message, 0, len(msgs)+8)}
	for _, m := range msgs {
		t.Append(m)
	}
	return t
}

// Append adds a copy of m.
func (t *Transcript) Append(m Message) {
	t.msgs = append(t.msgs, m.clone())
}

// Len returns the number of messages.
func (t *Transcript) Len() int {
	return len(t.msgs)
}

// Last returns the most recent message.
func (t *Transcript) Last() (Message, bool) {
	if len(t.msgs) == 0 {
		return Message{}, false
	}
	return t.msgs[len(t.msgs)-1].clone(), true
}

// Messages returns a copy of the log.
func (t *Transcript) Messages() []Message {
	out := make([]Message, len(t.msgs))
	for i, m := range t.msgs {
		out[i] = m.clone()
	}
	return out
}
