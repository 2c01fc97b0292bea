// Package scheduler implements the Scheduler/Simulation (C10): a priority
// queue of wire.Message keyed by (arrival, secondaryPriority, sequence),
// and a step loop that drains and delivers every message due by a cutoff
// time. Grounded in the teacher's container/heap-based BuyBook/SellBook
// (internal/order_book.go), whose Less/Swap/Push/Pop shape is reused here
// for a time-ordered message queue instead of a price-ordered order book.
package scheduler

import (
	"container/heap"

	"fenrirsim/internal/types"
	"fenrirsim/internal/wire"
)

// item is one scheduled delivery: a wire.Message plus the ordering keys
// that break ties among messages sharing the same arrival time (§4.6).
type item struct {
	msg               wire.Message
	secondaryPriority int64
	sequence          uint64
	index             int // heap.Interface bookkeeping
}

// queue is a min-heap ordered by (arrival, secondaryPriority, sequence) —
// the same Less/Swap/Push/Pop shape the teacher's BuyBook/SellBook use,
// generalized from price priority to delivery-time priority.
type queue []*item

func (q queue) Len() int { return len(q) }

func (q queue) Less(i, j int) bool {
	a, b := q[i], q[j]
	if a.msg.Arrival != b.msg.Arrival {
		return a.msg.Arrival < b.msg.Arrival
	}
	if a.secondaryPriority != b.secondaryPriority {
		return a.secondaryPriority < b.secondaryPriority
	}
	return a.sequence < b.sequence
}

func (q queue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *queue) Push(x any) {
	it := x.(*item)
	it.index = len(*q)
	*q = append(*q, it)
}

func (q *queue) Pop() any {
	old := *q
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*q = old[:n-1]
	return it
}

// Queue is the exported, sequence-stamping wrapper around the internal heap.
type Queue struct {
	h          queue
	nextSeqNum uint64
}

func NewQueue() *Queue {
	q := &Queue{}
	heap.Init(&q.h)
	return q
}

// Schedule enqueues msg for delivery at msg.Arrival, breaking ties on
// secondaryPriority (lower fires first) and then FIFO issuance order.
func (q *Queue) Schedule(msg wire.Message, secondaryPriority int64) {
	it := &item{msg: msg, secondaryPriority: secondaryPriority, sequence: q.nextSeqNum}
	q.nextSeqNum++
	heap.Push(&q.h, it)
}

// Len reports how many messages remain queued.
func (q *Queue) Len() int { return q.h.Len() }

// PeekArrival reports the arrival time of the next due message, and false
// if the queue is empty.
func (q *Queue) PeekArrival() (types.Timestamp, bool) {
	if q.h.Len() == 0 {
		return 0, false
	}
	return q.h[0].msg.Arrival, true
}

// PopBefore removes and returns every message with arrival < cutoff, in
// delivery order.
func (q *Queue) PopBefore(cutoff types.Timestamp) []wire.Message {
	var out []wire.Message
	for q.h.Len() > 0 && q.h[0].msg.Arrival < cutoff {
		it := heap.Pop(&q.h).(*item)
		out = append(out, it.msg)
	}
	return out
}

// RemoveIf drops every queued message for which drop returns true — used
// by RESET_AGENT to filter an agent's future queued messages (§5's
// cancellation rule).
func (q *Queue) RemoveIf(drop func(wire.Message) bool) {
	kept := q.h[:0]
	for _, it := range q.h {
		if drop(it.msg) {
			continue
		}
		it.index = len(kept)
		kept = append(kept, it)
	}
	q.h = kept
	heap.Init(&q.h)
}
