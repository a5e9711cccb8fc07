package pkg

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/stv0g/pion-perfect-negotation/pkg/negotiation"
)

type Connection struct {
	ID   int       `json:"id"`
	UUID uuid.UUID `json:"uuid"`

	Remote    string    `json:"remote"`
	UserAgent string    `json:"user_agent"`
	Created   time.Time `json:"created"`
}

type ControlMessage struct {
	ConnectionID int          `json:"connection_id"`
	Connections  []Connection `json:"connections"`
}

// Members returns the ids of all session members.
func (c *ControlMessage) Members() []int {
	ids := make([]int, 0, len(c.Connections))
	for _, conn := range c.Connections {
		ids = append(ids, conn.ID)
	}
	return ids
}

// Role derives the local role from the join order reported by the relay.
func (c *ControlMessage) Role() (negotiation.Role, error) {
	return negotiation.RoleFromJoinOrder(c.ConnectionID, c.Members())
}

type Session struct {
	Name    string    `json:"name"`
	Created time.Time `json:"created"`

	Connections []Connection `json:"connections"`
}

type Description struct {
	Kind    string `json:"kind"`
	Payload string `json:"payload,omitempty"`
}

// SignalingMessage is the JSON envelope exchanged through the relay. A
// candidate of "" marks the end of candidates; a null candidate is never
// sent.
type SignalingMessage struct {
	Seq        uint64 `json:"seq,omitempty"`
	Generation uint64 `json:"generation,omitempty"`

	Description *Description    `json:"description,omitempty"`
	Candidate   *string         `json:"candidate,omitempty"`
	Control     *ControlMessage `json:"control,omitempty"`
}

func (msg SignalingMessage) String() string {
	b, _ := json.Marshal(msg)
	return string(b)
}

// NewSignalingMessage encodes a negotiation message for the wire.
func NewSignalingMessage(m negotiation.Message) (*SignalingMessage, error) {
	msg := &SignalingMessage{
		Seq:        m.Seq,
		Generation: m.Generation,
	}

	switch {
	case m.Description != nil:
		msg.Description = &Description{
			Kind:    m.Description.Kind.String(),
			Payload: m.Description.Payload,
		}

	case m.Candidate != nil:
		payload := m.Candidate.Payload
		if m.Candidate.EndOfCandidates {
			payload = ""
		}
		msg.Candidate = &payload

	default:
		return nil, fmt.Errorf("empty negotiation message")
	}

	return msg, nil
}

// Negotiation decodes the negotiation part of the envelope. It returns
// false for messages which carry none, like control messages.
func (msg *SignalingMessage) Negotiation() (negotiation.Message, bool, error) {
	m := negotiation.Message{
		Seq:        msg.Seq,
		Generation: msg.Generation,
	}

	switch {
	case msg.Description != nil:
		kind, err := negotiation.ParseDescriptionKind(msg.Description.Kind)
		if err != nil {
			return m, false, err
		}
		m.Description = &negotiation.SessionDescription{
			Kind:    kind,
			Payload: msg.Description.Payload,
		}

	case msg.Candidate != nil:
		m.Candidate = &negotiation.IceCandidate{
			Payload:         *msg.Candidate,
			EndOfCandidates: *msg.Candidate == "",
			Generation:      msg.Generation,
		}

	default:
		return m, false, nil
	}

	return m, true, nil
}
