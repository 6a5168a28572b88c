package renderloop

import "sync"

// EventQueue is a FIFO of events shared by the driver (producer) and one
// worker (consumer). There are no priorities; post order is the only
// scheduling policy.
type EventQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	events  []Event
	waiting bool
}

// NewEventQueue creates an empty queue.
func NewEventQueue() *EventQueue {
	q := &EventQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// AddEvent appends e and wakes a consumer blocked in TakeEvent.
func (q *EventQueue) AddEvent(e Event) {
	if e == nil {
		return
	}
	q.mu.Lock()
	q.events = append(q.events, e)
	if q.waiting {
		q.cond.Signal()
	}
	q.mu.Unlock()
}

// TakeEvent pops the oldest event. With wait set it blocks until one is
// available; otherwise it reports false when the queue is empty.
func (q *EventQueue) TakeEvent(wait bool) (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.events) == 0 {
		if !wait {
			return nil, false
		}
		q.waiting = true
		q.cond.Wait()
		q.waiting = false
	}
	e := q.events[0]
	q.events[0] = nil
	q.events = q.events[1:]
	if len(q.events) == 0 {
		q.events = nil
	}
	return e, true
}

// HasMoreEvents reports whether an event is queued. It never blocks on an
// empty queue.
func (q *EventQueue) HasMoreEvents() bool {
	q.mu.Lock()
	has := len(q.events) > 0
	q.mu.Unlock()
	return has
}

// Len returns the number of queued events.
func (q *EventQueue) Len() int {
	q.mu.Lock()
	n := len(q.events)
	q.mu.Unlock()
	return n
}
