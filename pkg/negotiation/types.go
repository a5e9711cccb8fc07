package negotiation

import "fmt"

// Role decides who gives way when both peers offer at the same time.
// It is fixed for the lifetime of a connection instance.
type Role int

const (
	RolePolite Role = iota
	RoleImpolite
)

func (r Role) String() string {
	switch r {
	case RolePolite:
		return "polite"
	case RoleImpolite:
		return "impolite"
	default:
		return fmt.Sprintf("Role(%d)", int(r))
	}
}

type DescriptionKind int

const (
	KindOffer DescriptionKind = iota
	KindAnswer
	KindRollback
)

func (k DescriptionKind) String() string {
	switch k {
	case KindOffer:
		return "offer"
	case KindAnswer:
		return "answer"
	case KindRollback:
		return "rollback"
	default:
		return fmt.Sprintf("DescriptionKind(%d)", int(k))
	}
}

// ParseDescriptionKind is the inverse of DescriptionKind.String.
func ParseDescriptionKind(s string) (DescriptionKind, error) {
	switch s {
	case "offer":
		return KindOffer, nil
	case "answer":
		return KindAnswer, nil
	case "rollback":
		return KindRollback, nil
	default:
		return 0, fmt.Errorf("unknown description kind: %q", s)
	}
}

// SessionDescription is an offer, answer or rollback. The payload is owned
// by the engine and never inspected here. Rollbacks carry no payload.
type SessionDescription struct {
	Kind    DescriptionKind
	Payload string
}

func (d SessionDescription) String() string {
	return fmt.Sprintf("%s(%d bytes)", d.Kind, len(d.Payload))
}

type Direction int

const (
	DirectionLocal Direction = iota
	DirectionRemote
)

func (d Direction) String() string {
	if d == DirectionLocal {
		return "local"
	}
	return "remote"
}

// DescriptionSlot holds the current and pending description of one direction.
type DescriptionSlot struct {
	Current *SessionDescription
	Pending *SessionDescription
}

// Effective returns the pending description if present, else the current one.
func (s DescriptionSlot) Effective() *SessionDescription {
	if s.Pending != nil {
		return s.Pending
	}
	return s.Current
}

type SignalingState int

const (
	SignalingStateStable SignalingState = iota
	SignalingStateHaveLocalOffer
	SignalingStateHaveRemoteOffer
	SignalingStateHaveLocalPrAnswer
	SignalingStateHaveRemotePrAnswer
	SignalingStateClosed
)

func (s SignalingState) String() string {
	switch s {
	case SignalingStateStable:
		return "stable"
	case SignalingStateHaveLocalOffer:
		return "have-local-offer"
	case SignalingStateHaveRemoteOffer:
		return "have-remote-offer"
	case SignalingStateHaveLocalPrAnswer:
		return "have-local-pranswer"
	case SignalingStateHaveRemotePrAnswer:
		return "have-remote-pranswer"
	case SignalingStateClosed:
		return "closed"
	default:
		return fmt.Sprintf("SignalingState(%d)", int(s))
	}
}

type ConnectionState int

const (
	ConnectionStateNew ConnectionState = iota
	ConnectionStateConnecting
	ConnectionStateConnected
	ConnectionStateDisconnected
	ConnectionStateFailed
	ConnectionStateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case ConnectionStateNew:
		return "new"
	case ConnectionStateConnecting:
		return "connecting"
	case ConnectionStateConnected:
		return "connected"
	case ConnectionStateDisconnected:
		return "disconnected"
	case ConnectionStateFailed:
		return "failed"
	case ConnectionStateClosed:
		return "closed"
	default:
		return fmt.Sprintf("ConnectionState(%d)", int(s))
	}
}

// IceCandidate is a trickled connectivity candidate. An empty payload with
// EndOfCandidates set marks the end of the current round and is forwarded
// like any other candidate. The informational "gathering complete" signal
// is a nil *IceCandidate and never leaves the local peer.
type IceCandidate struct {
	Payload         string
	EndOfCandidates bool

	// Generation is the ICE generation the candidate was gathered for.
	Generation uint64
}

// EndOfCandidates returns the forwarded end-of-candidates marker.
func EndOfCandidates() *IceCandidate {
	return &IceCandidate{EndOfCandidates: true}
}

func (c IceCandidate) String() string {
	if c.EndOfCandidates {
		return fmt.Sprintf("end-of-candidates(gen=%d)", c.Generation)
	}
	return fmt.Sprintf("%s(gen=%d)", c.Payload, c.Generation)
}

// Flags is the coordination state layered on top of the engine's signaling
// state. It belongs to exactly one connection instance.
type Flags struct {
	MakingOffer                  bool
	IgnoreOffer                  bool
	IsSettingRemoteAnswerPending bool
}

type ICEServer struct {
	URLs       []string `yaml:"urls"`
	Username   string   `yaml:"username,omitempty"`
	Credential string   `yaml:"credential,omitempty"`
}

// TransportConfiguration is the engine-level configuration replaced on restart.
type TransportConfiguration struct {
	ICEServers []ICEServer `yaml:"ice_servers"`
}

// Message is a negotiation message exchanged with the remote coordinator.
// Exactly one of Description and Candidate is set.
type Message struct {
	// Seq is stamped by channels that cannot guarantee ordering.
	Seq uint64

	// Generation is the sender's ICE generation at the time of sending.
	Generation uint64

	Description *SessionDescription
	Candidate   *IceCandidate
}

func (m Message) String() string {
	switch {
	case m.Description != nil:
		return fmt.Sprintf("description %s gen=%d", m.Description, m.Generation)
	case m.Candidate != nil:
		return fmt.Sprintf("candidate %s", m.Candidate)
	default:
		return "empty message"
	}
}
