// Package handoff implements a single-producer/single-consumer hand-off
// queue whose producer side never blocks and never drops.
//
// The queue is a capacity-one slot backed by an unbounded overflow list.
// The producer tries the slot first; if the consumer has not drained it
// yet, the item goes to the overflow list instead. Whenever the slot
// frees up, overflow items are moved into it ahead of anything newer, so
// the consumer always observes strict arrival order.
package handoff

import "sync"

type Queue[T any] struct {
	mu       sync.Mutex
	slot     chan T
	overflow []T
}

func New[T any]() *Queue[T] {
	return &Queue[T]{
		slot: make(chan T, 1),
	}
}

// Push enqueues v without ever blocking the caller. Items spill to the
// overflow list while the slot is occupied.
func (q *Queue[T]) Push(v T) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.overflow) == 0 {
		select {
		case q.slot <- v:
			return
		default:
		}
	}
	q.overflow = append(q.overflow, v)
	q.refillLocked()
}

// Pop removes the oldest item. It never blocks; ok is false when the
// queue is empty.
func (q *Queue[T]) Pop() (v T, ok bool) {
	select {
	case v = <-q.slot:
		q.mu.Lock()
		q.refillLocked()
		q.mu.Unlock()
		return v, true
	default:
		return v, false
	}
}

// Drain pops until the queue is empty and returns the items in arrival
// order.
func (q *Queue[T]) Drain() []T {
	var out []T
	for {
		v, ok := q.Pop()
		if !ok {
			return out
		}
		out = append(out, v)
	}
}

// Len reports the number of items currently queued.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.slot) + len(q.overflow)
}

// refillLocked moves overflow items into the slot while it has room.
// Overflow order is older-first, so FIFO is preserved.
func (q *Queue[T]) refillLocked() {
	for len(q.overflow) > 0 {
		select {
		case q.slot <- q.overflow[0]:
			q.overflow = q.overflow[1:]
		default:
			return
		}
	}
}
