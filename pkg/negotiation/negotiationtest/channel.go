package negotiationtest

import (
	"context"
	"sync"

	"github.com/stv0g/pion-perfect-negotation/pkg/negotiation"
)

// Compile-time interface check.
var _ negotiation.Channel = (*Recorder)(nil)

// Recorder is a channel that records every sent message instead of
// delivering it. Tests move messages between coordinators by hand, which
// makes interleavings explicit.
type Recorder struct {
	// Err, if set, fails every Send.
	Err error

	mu       sync.Mutex
	messages []negotiation.Message
	sent     []negotiation.Message
}

func (r *Recorder) Send(_ context.Context, msg negotiation.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Err != nil {
		return r.Err
	}

	r.messages = append(r.messages, msg)
	r.sent = append(r.sent, msg)

	return nil
}

// Take removes and returns the messages not yet taken.
func (r *Recorder) Take() []negotiation.Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	msgs := r.messages
	r.messages = nil

	return msgs
}

// Sent returns every message ever sent, taken or not.
func (r *Recorder) Sent() []negotiation.Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]negotiation.Message(nil), r.sent...)
}
