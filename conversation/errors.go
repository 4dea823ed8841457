package conversation

import (
	"errors"
	"fmt"
)

var (
	// ErrProtocolViolation matches every *ProtocolViolationError.
	ErrProtocolViolation = errors.New("protocol violation")

	// ErrCancelled is returned once a run or bridge has been cancelled.
	ErrCancelled = errors.New("conversation cancelled")

	// ErrTeamNotReset is yielded when a Team is run twice without Reset.
	ErrTeamNotReset = errors.New("team must be reset before it can run again")

	// ErrTurnLimit is yielded once a team's turn budget is spent.
	ErrTurnLimit = errors.New("turn limit reached")
)

// ProtocolViolationError reports misuse of the human-input bridge: a second
// request while one is outstanding, or a reply nobody asked for.
type ProtocolViolationError struct {
	Op     string
	Reason string
}

func (e *ProtocolViolationError) Error() string {
	return fmt.Sprintf("protocol violation: %s: %s", e.Op, e.Reason)
}

func (e *ProtocolViolationError) Unwrap() error {
	return ErrProtocolViolation
}

// ParticipantError wraps a failure raised by a participant during its turn.
type ParticipantError struct {
	Participant string
	Err         error
}

func (e *ParticipantError) Error() string {
	return fmt.Sprintf("participant %s: %v", e.Participant, e.Err)
}

func (e *ParticipantError) Unwrap() error {
	return e.Err
}
