package negotiation

import "context"

// Engine is the connection engine the coordinator drives. It owns the
// description slots and the signaling state; the coordinator only reads
// them. Implementations need not be safe for concurrent use by more than
// one coordinator.
type Engine interface {
	// CreateAndSetDescription produces the description appropriate for
	// the given signaling state and sets it as local description: an offer
	// in stable, an answer in have-remote-offer.
	CreateAndSetDescription(ctx context.Context, state SignalingState) (SessionDescription, error)

	// SetRemoteDescription applies an offer or answer from the remote peer.
	SetRemoteDescription(ctx context.Context, desc SessionDescription) error

	// Rollback discards any pending description and returns to stable.
	// It is a no-op in stable.
	Rollback(ctx context.Context) error

	AddCandidate(ctx context.Context, candidate IceCandidate) error

	SignalingState() SignalingState
	Slot(dir Direction) DescriptionSlot

	SetTransportConfiguration(cfg TransportConfiguration) error

	// RequestRestart marks the next offer produced as an ICE restart.
	RequestRestart()
}

// Channel delivers messages to the remote coordinator, in the order they
// were sent over this channel.
type Channel interface {
	Send(ctx context.Context, msg Message) error
}

// ChannelFunc adapts a function to a Channel.
type ChannelFunc func(ctx context.Context, msg Message) error

func (f ChannelFunc) Send(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}
