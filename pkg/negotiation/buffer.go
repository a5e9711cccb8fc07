package negotiation

import (
	"context"
	"errors"
)

// CandidateBuffer holds inbound candidates that arrived before their remote
// description, and outbound candidates gathered before the signaling
// channel was ready. Both queues keep arrival order and hand out every
// candidate at most once. It is owned by a single coordinator and is not
// safe for concurrent use.
type CandidateBuffer struct {
	inbound  []IceCandidate
	outbound []IceCandidate
}

func (b *CandidateBuffer) EnqueueInbound(c IceCandidate) {
	b.inbound = append(b.inbound, c)
}

func (b *CandidateBuffer) EnqueueOutbound(c IceCandidate) {
	b.outbound = append(b.outbound, c)
}

// Len returns the number of inbound and outbound candidates held.
func (b *CandidateBuffer) Len() (inbound, outbound int) {
	return len(b.inbound), len(b.outbound)
}

// DrainInboundIfReady applies buffered inbound candidates of the given
// generation once the engine has a remote description. Older generations
// are dropped, newer ones stay buffered. A failing candidate is consumed
// all the same; the failures are joined in the returned error.
func (b *CandidateBuffer) DrainInboundIfReady(ctx context.Context, engine Engine, generation uint64) (applied, dropped int, err error) {
	if engine.Slot(DirectionRemote).Effective() == nil {
		return 0, 0, nil
	}

	var errs []error
	kept := b.inbound[:0]
	for _, c := range b.inbound {
		switch {
		case c.Generation < generation:
			dropped++
		case c.Generation > generation:
			kept = append(kept, c)
		default:
			if aerr := engine.AddCandidate(ctx, c); aerr != nil {
				errs = append(errs, aerr)
			} else {
				applied++
			}
		}
	}
	clear(b.inbound[len(kept):])
	b.inbound = kept

	return applied, dropped, errors.Join(errs...)
}

// DrainOutboundTo sends buffered outbound candidates of the current
// generation in order and drops those of older generations. It stops at
// the first send failure; the failed candidate is consumed, the rest stay
// queued.
func (b *CandidateBuffer) DrainOutboundTo(ctx context.Context, ch Channel, generation uint64) (sent, dropped int, err error) {
	for len(b.outbound) > 0 {
		c := b.outbound[0]
		b.outbound[0] = IceCandidate{}
		b.outbound = b.outbound[1:]

		if c.Generation < generation {
			dropped++
			continue
		}

		if err := ch.Send(ctx, Message{Generation: c.Generation, Candidate: &c}); err != nil {
			return sent, dropped, err
		}
		sent++
	}

	b.outbound = nil

	return sent, dropped, nil
}

// DropInbound discards every buffered inbound candidate, for example when
// the instance closes.
func (b *CandidateBuffer) DropInbound() int {
	n := len(b.inbound)
	b.inbound = nil
	return n
}
