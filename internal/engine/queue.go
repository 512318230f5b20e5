package engine

import (
	"container/heap"

	"github.com/roach88/flowledger/internal/ir"
)

// queuedEvent pairs an event with its insertion sequence.
type queuedEvent struct {
	event ir.Event
	seq   int64
}

// eventHeap orders events by (timestamp asc, insertion seq asc).
type eventHeap []queuedEvent

func (h eventHeap) Len() int { return len(h) }

func (h eventHeap) Less(i, j int) bool {
	if h[i].event.Timestamp != h[j].event.Timestamp {
		return h[i].event.Timestamp < h[j].event.Timestamp
	}
	return h[i].seq < h[j].seq
}

func (h eventHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *eventHeap) Push(x any) { *h = append(*h, x.(queuedEvent)) }

func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	// Drop the reference so popped events can be collected.
	old[n-1] = queuedEvent{}
	*h = old[:n-1]
	return item
}

// EventQueue holds pending events in a stable total order: timestamp
// ascending, then insertion order ascending. Events with equal timestamps
// are never reordered, which is what makes replay deterministic.
//
// EventQueue is not safe for concurrent use; the Engine owns it.
type EventQueue struct {
	items eventHeap
	next  int64
}

// NewEventQueue creates an empty event queue.
func NewEventQueue() *EventQueue {
	return &EventQueue{items: make(eventHeap, 0, 64)}
}

// Push inserts an event.
func (q *EventQueue) Push(e ir.Event) {
	q.next++
	heap.Push(&q.items, queuedEvent{event: e, seq: q.next})
}

// Pop removes and returns the earliest event.
// Returns (ir.Event{}, false) if the queue is empty.
func (q *EventQueue) Pop() (ir.Event, bool) {
	if len(q.items) == 0 {
		return ir.Event{}, false
	}
	item := heap.Pop(&q.items).(queuedEvent)
	return item.event, true
}

// Peek returns the earliest event without removing it.
func (q *EventQueue) Peek() (ir.Event, bool) {
	if len(q.items) == 0 {
		return ir.Event{}, false
	}
	return q.items[0].event, true
}

// Len returns the number of pending events.
func (q *EventQueue) Len() int {
	return len(q.items)
}

// Snapshot returns the pending events in pop order without mutating the
// queue.
func (q *EventQueue) Snapshot() []ir.Event {
	tmp := make(eventHeap, len(q.items))
	copy(tmp, q.items)
	out := make([]ir.Event, 0, len(tmp))
	for len(tmp) > 0 {
		out = append(out, heap.Pop(&tmp).(queuedEvent).event)
	}
	return out
}
