// Package negotiationtest provides an in-memory connection engine that
// follows the JSEP signaling state machine, for testing coordinators
// without a real peer connection.
package negotiationtest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/stv0g/pion-perfect-negotation/pkg/negotiation"
)

// RestartMarker is appended to the payload of offers that restart ICE.
const RestartMarker = "ice-restart"

// Malformed is a payload the engine refuses to apply.
const Malformed = "malformed"

var (
	ErrInvalidState    = errors.New("invalid signaling state for operation")
	ErrNoRemote        = errors.New("no remote description")
	ErrClosed          = errors.New("engine closed")
	ErrMalformed       = errors.New("malformed description")
	ErrCandidateFailed = errors.New("candidate rejected")
)

// Compile-time interface check.
var _ negotiation.Engine = (*Engine)(nil)

// Engine is an in-memory negotiation.Engine. Descriptions are plain
// strings naming the engine, the kind, a counter and the ICE credential
// generation, e.g. "alice:offer:1:ufrag=0".
type Engine struct {
	Name string

	// CreateErr, if set, is returned by the next CreateAndSetDescription.
	CreateErr error

	// RejectCandidate, if set, decides whether a candidate fails to apply.
	RejectCandidate func(c negotiation.IceCandidate) bool

	mu         sync.Mutex
	state      negotiation.SignalingState
	local      negotiation.DescriptionSlot
	remote     negotiation.DescriptionSlot
	counter    int
	ufrag      int
	restart    bool
	config     negotiation.TransportConfiguration
	candidates []negotiation.IceCandidate
	rollbacks  int
	pathActive bool
}

func NewEngine(name string) *Engine {
	return &Engine{
		Name:       name,
		pathActive: true,
	}
}

func (e *Engine) CreateAndSetDescription(_ context.Context, state negotiation.SignalingState) (negotiation.SessionDescription, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.CreateErr; err != nil {
		e.CreateErr = nil
		return negotiation.SessionDescription{}, err
	}

	if e.state == negotiation.SignalingStateClosed {
		return negotiation.SessionDescription{}, ErrClosed
	}

	if state != e.state {
		return negotiation.SessionDescription{}, fmt.Errorf("%w: caller saw %s, engine is %s", ErrInvalidState, state, e.state)
	}

	e.counter++

	switch e.state {
	case negotiation.SignalingStateStable:
		if e.restart {
			e.ufrag++
		}

		payload := fmt.Sprintf("%s:offer:%d:ufrag=%d", e.Name, e.counter, e.ufrag)
		if e.restart {
			payload += ";" + RestartMarker
			e.restart = false
		}

		desc := negotiation.SessionDescription{Kind: negotiation.KindOffer, Payload: payload}
		e.local.Pending = &desc
		e.state = negotiation.SignalingStateHaveLocalOffer

		return desc, nil

	case negotiation.SignalingStateHaveRemoteOffer:
		if strings.Contains(e.remote.Pending.Payload, RestartMarker) {
			e.ufrag++
		}

		desc := negotiation.SessionDescription{
			Kind:    negotiation.KindAnswer,
			Payload: fmt.Sprintf("%s:answer:%d:ufrag=%d", e.Name, e.counter, e.ufrag),
		}
		e.local.Current, e.local.Pending = &desc, nil
		e.remote.Current, e.remote.Pending = e.remote.Pending, nil
		e.state = negotiation.SignalingStateStable

		return desc, nil

	default:
		return negotiation.SessionDescription{}, fmt.Errorf("%w: %s", ErrInvalidState, e.state)
	}
}

func (e *Engine) SetRemoteDescription(_ context.Context, desc negotiation.SessionDescription) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == negotiation.SignalingStateClosed {
		return ErrClosed
	}

	if desc.Payload == Malformed {
		return ErrMalformed
	}

	switch desc.Kind {
	case negotiation.KindOffer:
		if e.state != negotiation.SignalingStateStable {
			return fmt.Errorf("%w: remote offer in %s", ErrInvalidState, e.state)
		}
		e.remote.Pending = &desc
		e.state = negotiation.SignalingStateHaveRemoteOffer

	case negotiation.KindAnswer:
		if e.state != negotiation.SignalingStateHaveLocalOffer {
			return fmt.Errorf("%w: remote answer in %s", ErrInvalidState, e.state)
		}
		e.remote.Current, e.remote.Pending = &desc, nil
		e.local.Current, e.local.Pending = e.local.Pending, nil
		e.state = negotiation.SignalingStateStable

	case negotiation.KindRollback:
		e.rollback()
	}

	return nil
}

func (e *Engine) Rollback(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.rollback()

	return nil
}

func (e *Engine) rollback() {
	switch e.state {
	case negotiation.SignalingStateHaveLocalOffer:
		e.local.Pending = nil
	case negotiation.SignalingStateHaveRemoteOffer:
		e.remote.Pending = nil
	default:
		return
	}

	e.state = negotiation.SignalingStateStable
	e.rollbacks++
}

func (e *Engine) AddCandidate(_ context.Context, c negotiation.IceCandidate) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == negotiation.SignalingStateClosed {
		return ErrClosed
	}

	if e.remote.Effective() == nil {
		return ErrNoRemote
	}

	if e.RejectCandidate != nil && e.RejectCandidate(c) {
		return ErrCandidateFailed
	}

	e.candidates = append(e.candidates, c)

	return nil
}

func (e *Engine) SignalingState() negotiation.SignalingState {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.state
}

func (e *Engine) Slot(dir negotiation.Direction) negotiation.DescriptionSlot {
	e.mu.Lock()
	defer e.mu.Unlock()

	if dir == negotiation.DirectionLocal {
		return e.local
	}
	return e.remote
}

func (e *Engine) SetTransportConfiguration(cfg negotiation.TransportConfiguration) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == negotiation.SignalingStateClosed {
		return ErrClosed
	}

	e.config = cfg

	return nil
}

func (e *Engine) RequestRestart() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.restart = true
}

// Close moves the engine to the closed state and tears down its path.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.state = negotiation.SignalingStateClosed
	e.pathActive = false
}

// Candidates returns the applied remote candidates in order.
func (e *Engine) Candidates() []negotiation.IceCandidate {
	e.mu.Lock()
	defer e.mu.Unlock()

	return append([]negotiation.IceCandidate(nil), e.candidates...)
}

func (e *Engine) Rollbacks() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.rollbacks
}

func (e *Engine) Configuration() negotiation.TransportConfiguration {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.config
}

// PathActive reports whether the media/data path is still up. Only Close
// tears it down.
func (e *Engine) PathActive() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.pathActive
}
