package signaling

import (
	"context"
	"math/rand"
	"sync"

	"github.com/stv0g/pion-perfect-negotation/pkg/negotiation"
)

// Compile-time interface check.
var _ negotiation.Channel = (*MemoryEndpoint)(nil)

type MemoryOption func(*MemoryEndpoint)

// Unordered makes released messages arrive in random order. Endpoints then
// stamp sequence numbers and reorder on receipt.
func Unordered(seed int64) MemoryOption {
	return func(e *MemoryEndpoint) {
		e.shuffle = rand.New(rand.NewSource(seed))
		e.reorder = NewReorderer()
	}
}

// MemoryEndpoint is one side of an in-process signaling channel. Sent
// messages are handed straight to the other side unless held.
type MemoryEndpoint struct {
	peer *MemoryEndpoint

	mu      sync.Mutex
	hold    bool
	held    []negotiation.Message
	shuffle *rand.Rand
	seq     Sequencer

	recvMu  sync.Mutex
	reorder *Reorderer
	handler func(negotiation.Message)
	count   int
}

// NewMemoryPair creates two connected endpoints.
func NewMemoryPair(opts ...MemoryOption) (*MemoryEndpoint, *MemoryEndpoint) {
	a, b := &MemoryEndpoint{}, &MemoryEndpoint{}
	a.peer, b.peer = b, a

	for _, opt := range opts {
		opt(a)
		opt(b)
	}

	return a, b
}

func (e *MemoryEndpoint) OnSignalingMessage(fn func(negotiation.Message)) {
	e.recvMu.Lock()
	defer e.recvMu.Unlock()

	e.handler = fn
}

func (e *MemoryEndpoint) Send(_ context.Context, m negotiation.Message) error {
	e.mu.Lock()
	if e.shuffle != nil {
		m = e.seq.Stamp(m)
	}
	if e.hold {
		e.held = append(e.held, m)
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	e.peer.receive(m)

	return nil
}

// Hold queues sent messages until Release.
func (e *MemoryEndpoint) Hold() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.hold = true
}

// Release delivers held messages, shuffled for unordered endpoints, and
// stops holding.
func (e *MemoryEndpoint) Release() {
	e.mu.Lock()
	held := e.held
	e.held = nil
	e.hold = false
	if e.shuffle != nil {
		e.shuffle.Shuffle(len(held), func(i, j int) { held[i], held[j] = held[j], held[i] })
	}
	e.mu.Unlock()

	for _, m := range held {
		e.peer.receive(m)
	}
}

// Received returns the number of messages handed to the handler.
func (e *MemoryEndpoint) Received() int {
	e.recvMu.Lock()
	defer e.recvMu.Unlock()

	return e.count
}

func (e *MemoryEndpoint) receive(m negotiation.Message) {
	e.recvMu.Lock()
	defer e.recvMu.Unlock()

	ready := []negotiation.Message{m}
	if e.reorder != nil {
		ready = e.reorder.Feed(m)
	}

	for _, m := range ready {
		e.count++
		if e.handler != nil {
			e.handler(m)
		}
	}
}
