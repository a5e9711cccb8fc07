package peer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/lainio/err2"
	"github.com/lainio/err2/try"
	"github.com/pion/webrtc/v3"
	"github.com/sirupsen/logrus"

	"github.com/stv0g/pion-perfect-negotation/pkg/negotiation"
)

var ErrStateMismatch = errors.New("signaling state changed")

// Compile-time interface check.
var _ negotiation.Engine = (*Engine)(nil)

// Engine drives a pion peer connection on behalf of a coordinator.
type Engine struct {
	pc *webrtc.PeerConnection

	mu      sync.Mutex
	restart bool

	logger *logrus.Entry
}

func NewEngine(pc *webrtc.PeerConnection, logger *logrus.Entry) *Engine {
	return &Engine{
		pc:     pc,
		logger: logger,
	}
}

func (e *Engine) CreateAndSetDescription(_ context.Context, state negotiation.SignalingState) (desc negotiation.SessionDescription, err error) {
	defer err2.Handle(&err)

	if got := e.SignalingState(); got != state {
		return desc, fmt.Errorf("%w: expected %s, got %s", ErrStateMismatch, state, got)
	}

	var sd webrtc.SessionDescription
	switch state {
	case negotiation.SignalingStateStable:
		e.mu.Lock()
		restart := e.restart
		e.restart = false
		e.mu.Unlock()

		sd = try.To1(e.pc.CreateOffer(&webrtc.OfferOptions{
			ICERestart: restart,
		}))

	case negotiation.SignalingStateHaveRemoteOffer:
		sd = try.To1(e.pc.CreateAnswer(nil))

	default:
		return desc, fmt.Errorf("%w: cannot create description in %s", ErrStateMismatch, state)
	}

	try.To(e.pc.SetLocalDescription(sd))

	if ld := e.pc.LocalDescription(); ld != nil {
		sd = *ld
	}

	e.logDescription("Set local description", sd)

	return fromSessionDescription(sd)
}

func (e *Engine) SetRemoteDescription(ctx context.Context, desc negotiation.SessionDescription) error {
	var typ webrtc.SDPType
	switch desc.Kind {
	case negotiation.KindOffer:
		typ = webrtc.SDPTypeOffer
	case negotiation.KindAnswer:
		typ = webrtc.SDPTypeAnswer
	case negotiation.KindRollback:
		return e.Rollback(ctx)
	}

	sd := webrtc.SessionDescription{
		Type: typ,
		SDP:  desc.Payload,
	}

	if err := e.pc.SetRemoteDescription(sd); err != nil {
		return err
	}

	e.logDescription("Set remote description", sd)

	return nil
}

// Rollback discards the pending description. Pion parses the SDP of
// rollbacks too, so the pending one is passed along.
func (e *Engine) Rollback(_ context.Context) error {
	switch e.pc.SignalingState() {
	case webrtc.SignalingStateHaveLocalOffer:
		pending := e.pc.PendingLocalDescription()
		return e.pc.SetLocalDescription(webrtc.SessionDescription{
			Type: webrtc.SDPTypeRollback,
			SDP:  pending.SDP,
		})

	case webrtc.SignalingStateHaveRemoteOffer:
		pending := e.pc.PendingRemoteDescription()
		return e.pc.SetRemoteDescription(webrtc.SessionDescription{
			Type: webrtc.SDPTypeRollback,
			SDP:  pending.SDP,
		})

	default:
		return nil
	}
}

func (e *Engine) AddCandidate(_ context.Context, c negotiation.IceCandidate) error {
	if c.EndOfCandidates {
		return e.pc.AddICECandidate(webrtc.ICECandidateInit{})
	}

	ci, err := decodeCandidate(c.Payload)
	if err != nil {
		return err
	}

	return e.pc.AddICECandidate(ci)
}

func (e *Engine) SignalingState() negotiation.SignalingState {
	switch e.pc.SignalingState() {
	case webrtc.SignalingStateHaveLocalOffer:
		return negotiation.SignalingStateHaveLocalOffer
	case webrtc.SignalingStateHaveRemoteOffer:
		return negotiation.SignalingStateHaveRemoteOffer
	case webrtc.SignalingStateHaveLocalPranswer:
		return negotiation.SignalingStateHaveLocalPrAnswer
	case webrtc.SignalingStateHaveRemotePranswer:
		return negotiation.SignalingStateHaveRemotePrAnswer
	case webrtc.SignalingStateClosed:
		return negotiation.SignalingStateClosed
	default:
		return negotiation.SignalingStateStable
	}
}

func (e *Engine) Slot(dir negotiation.Direction) negotiation.DescriptionSlot {
	if dir == negotiation.DirectionLocal {
		return newSlot(e.pc.CurrentLocalDescription(), e.pc.PendingLocalDescription())
	}

	return newSlot(e.pc.CurrentRemoteDescription(), e.pc.PendingRemoteDescription())
}

// SetTransportConfiguration replaces the ICE servers. All other settings
// are kept, as pion refuses changes to them.
func (e *Engine) SetTransportConfiguration(cfg negotiation.TransportConfiguration) error {
	config := e.pc.GetConfiguration()
	config.ICEServers = ICEServers(cfg)

	return e.pc.SetConfiguration(config)
}

func (e *Engine) RequestRestart() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.restart = true
}

func (e *Engine) logDescription(msg string, sd webrtc.SessionDescription) {
	logger := e.logger.WithField("type", sd.Type.String())

	if ufrag, err := ICEUfrag(sd.SDP); err == nil {
		logger = logger.WithField("ufrag", ufrag)
	}

	logger.Debug(msg)
}

// ICEServers converts a transport configuration to pion's representation.
func ICEServers(cfg negotiation.TransportConfiguration) []webrtc.ICEServer {
	servers := make([]webrtc.ICEServer, 0, len(cfg.ICEServers))
	for _, s := range cfg.ICEServers {
		server := webrtc.ICEServer{
			URLs:     s.URLs,
			Username: s.Username,
		}
		if s.Credential != "" {
			server.Credential = s.Credential
			server.CredentialType = webrtc.ICECredentialTypePassword
		}
		servers = append(servers, server)
	}
	return servers
}

// EncodeCandidate serializes a gathered candidate for the signaling channel.
func EncodeCandidate(c *webrtc.ICECandidate) (*negotiation.IceCandidate, error) {
	b, err := json.Marshal(c.ToJSON())
	if err != nil {
		return nil, err
	}

	return &negotiation.IceCandidate{
		Payload: string(b),
	}, nil
}

func decodeCandidate(payload string) (webrtc.ICECandidateInit, error) {
	var ci webrtc.ICECandidateInit
	if err := json.Unmarshal([]byte(payload), &ci); err != nil {
		return ci, fmt.Errorf("failed to decode candidate: %w", err)
	}
	return ci, nil
}

func newSlot(current, pending *webrtc.SessionDescription) negotiation.DescriptionSlot {
	var slot negotiation.DescriptionSlot

	if current != nil {
		if d, err := fromSessionDescription(*current); err == nil {
			slot.Current = &d
		}
	}

	if pending != nil {
		if d, err := fromSessionDescription(*pending); err == nil {
			slot.Pending = &d
		}
	}

	return slot
}

func fromSessionDescription(sd webrtc.SessionDescription) (negotiation.SessionDescription, error) {
	var kind negotiation.DescriptionKind

	switch sd.Type {
	case webrtc.SDPTypeOffer:
		kind = negotiation.KindOffer
	case webrtc.SDPTypeAnswer:
		kind = negotiation.KindAnswer
	case webrtc.SDPTypeRollback:
		kind = negotiation.KindRollback
	default:
		return negotiation.SessionDescription{}, fmt.Errorf("unsupported description type: %s", sd.Type)
	}

	return negotiation.SessionDescription{
		Kind:    kind,
		Payload: sd.SDP,
	}, nil
}
