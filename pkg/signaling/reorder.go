package signaling

import (
	"container/heap"
	"sync/atomic"

	"github.com/stv0g/pion-perfect-negotation/pkg/negotiation"
)

// Sequencer stamps outgoing messages with a monotonic sequence number,
// starting at 1.
type Sequencer struct {
	val atomic.Uint64
}

func (s *Sequencer) Stamp(m negotiation.Message) negotiation.Message {
	m.Seq = s.val.Add(1)
	return m
}

// Reorderer restores send order for channels that may deliver out of
// order. Messages without a sequence number pass through unchanged. It is
// not safe for concurrent use.
type Reorderer struct {
	expected uint64
	buffer   messageHeap
}

func NewReorderer() *Reorderer {
	return &Reorderer{expected: 1}
}

// Feed takes one received message and returns every message that can now
// be delivered in order. Duplicates are dropped.
func (r *Reorderer) Feed(m negotiation.Message) []negotiation.Message {
	if m.Seq == 0 {
		return []negotiation.Message{m}
	}

	if m.Seq < r.expected {
		return nil
	}

	if m.Seq > r.expected {
		heap.Push(&r.buffer, m)
		return nil
	}

	result := []negotiation.Message{m}
	r.expected++

	for r.buffer.Len() > 0 && r.buffer[0].Seq <= r.expected {
		next := heap.Pop(&r.buffer).(negotiation.Message)
		if next.Seq < r.expected {
			continue
		}
		result = append(result, next)
		r.expected++
	}

	return result
}

// Pending returns the number of messages waiting for a gap to close.
func (r *Reorderer) Pending() int {
	return r.buffer.Len()
}

type messageHeap []negotiation.Message

func (h messageHeap) Len() int            { return len(h) }
func (h messageHeap) Less(i, j int) bool  { return h[i].Seq < h[j].Seq }
func (h messageHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *messageHeap) Push(x interface{}) { *h = append(*h, x.(negotiation.Message)) }

func (h *messageHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = negotiation.Message{}
	*h = old[:n-1]
	return item
}
