package conversation

import (
	"context"
	"sync"
)

// Bridge hands a blocking human-input request from the conversation driver
// to a foreground surface and carries exactly one reply back.
//
// The bridge holds at most one outstanding request. A second Request while
// one is pending, or a Supply with nothing pending, is a protocol violation
// and is reported rather than overwriting the slot.
type Bridge struct {
	mu       sync.Mutex
	awaiting bool
	prompt   string
	reply    chan string
	released bool
	done     chan struct{}
	prompts  chan string
}

// NewBridge returns an idle bridge.
func NewBridge() *Bridge {
	return &Bridge{
		done:    make(chan struct{}),
		prompts: make(chan string, 1),
	}
}

// Prompts delivers each new prompt. It holds at most one undelivered prompt;
// a newer prompt replaces a stale one. The channel is closed by Cancel.
func (b *Bridge) Prompts() <-chan string {
	return b.prompts
}

// Request publishes prompt and blocks until Supply, Cancel, or ctx ends.
func (b *Bridge) Request(ctx context.Context, prompt string) (string, error) {
	b.mu.Lock()
	if b.released {
		b.mu.Unlock()
		return "", ErrCancelled
	}
	if b.awaiting {
		b.mu.Unlock()
		return "", &ProtocolViolationError{Op: "request", Reason: "a human-input request is already outstanding"}
	}
	ch := make(chan string, 1)
	b.awaiting, b.prompt, b.reply = true, prompt, ch
	select {
	case <-b.prompts:
	default:
	}
	b.prompts <- prompt
	b.mu.Unlock()

	select {
	case r := <-ch:
		return r, nil
	case <-b.done:
		// A reply that raced with Cancel still wins.
		select {
		case r := <-ch:
			return r, nil
		default:
			return "", ErrCancelled
		}
	case <-ctx.Done():
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.reply == ch {
			b.clear()
			return "", ctx.Err()
		}
		select {
		case r := <-ch:
			return r, nil
		default:
			return "", ctx.Err()
		}
	}
}

// Supply delivers reply to the outstanding request exactly once.
func (b *Bridge) Supply(reply string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		return ErrCancelled
	}
	if !b.awaiting {
		return &ProtocolViolationError{Op: "supply", Reason: "no human-input request is outstanding"}
	}
	b.reply <- reply
	b.clear()
	return nil
}

// Pending returns the outstanding prompt, if any.
func (b *Bridge) Pending() (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.prompt, b.awaiting
}

// Cancel releases any waiter with ErrCancelled, makes later requests fail,
// and closes Prompts. Safe to call more than once.
func (b *Bridge) Cancel() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		return
	}
	b.released = true
	b.clear()
	close(b.done)
	close(b.prompts)
}

// clear empties the slot. Callers hold mu.
func (b *Bridge) clear() {
	b.awaiting, b.prompt, b.reply = false, "", nil
	select {
	case <-b.prompts:
	default:
	}
}
