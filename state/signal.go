// Package state provides the small notification primitives shared between
// the driver thread and render workers.
package state

import "sync"

// EqualFunc compares two values for equality.
type EqualFunc[T any] func(a, b T) bool

// EqualComparable compares comparable values with ==.
func EqualComparable[T comparable](a, b T) bool {
	return a == b
}

// Subscribable emits change notifications.
// The returned function removes the listener and is safe to call twice.
type Subscribable interface {
	Subscribe(fn func()) func()
}

// ScheduledSubscribable emits change notifications through a Scheduler.
type ScheduledSubscribable interface {
	SubscribeWithScheduler(scheduler Scheduler, fn func()) func()
}

type listener struct {
	fn        func()
	scheduler Scheduler
}

// listeners is the subscriber table shared by Signal and Trigger.
type listeners struct {
	mu   sync.Mutex
	subs map[uint64]listener
	next uint64
}

func (l *listeners) add(scheduler Scheduler, fn func()) func() {
	if fn == nil {
		return func() {}
	}
	l.mu.Lock()
	if l.subs == nil {
		l.subs = make(map[uint64]listener)
	}
	id := l.next
	l.next++
	l.subs[id] = listener{fn: fn, scheduler: scheduler}
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.subs, id)
			l.mu.Unlock()
		})
	}
}

func (l *listeners) snapshot() []listener {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.subs) == 0 {
		return nil
	}
	out := make([]listener, 0, len(l.subs))
	for _, sub := range l.subs {
		out = append(out, sub)
	}
	return out
}

func (l *listeners) count() int {
	l.mu.Lock()
	n := len(l.subs)
	l.mu.Unlock()
	return n
}

func notify(subs []listener) {
	for _, sub := range subs {
		if sub.scheduler == nil {
			sub.fn()
			continue
		}
		sub.scheduler.Schedule(sub.fn)
	}
}

// Signal holds a value and notifies subscribers when it changes.
// Listeners run on the goroutine that calls Set unless they were registered
// with a scheduler.
type Signal[T any] struct {
	mu    sync.Mutex
	value T
	equal EqualFunc[T]
	subs  listeners
}

// NewSignal creates a signal with an initial value.
func NewSignal[T any](initial T) *Signal[T] {
	return &Signal[T]{value: initial}
}

// SetEqualFunc configures the equality check used to suppress redundant sets.
func (s *Signal[T]) SetEqualFunc(fn EqualFunc[T]) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.equal = fn
	s.mu.Unlock()
}

// Get returns the current value.
func (s *Signal[T]) Get() T {
	if s == nil {
		var zero T
		return zero
	}
	s.mu.Lock()
	value := s.value
	s.mu.Unlock()
	return value
}

// Set stores value and notifies subscribers if it changed.
func (s *Signal[T]) Set(value T) bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	if s.equal != nil && s.equal(s.value, value) {
		s.mu.Unlock()
		return false
	}
	s.value = value
	s.mu.Unlock()

	notify(s.subs.snapshot())
	return true
}

// Subscribe registers a synchronous listener.
func (s *Signal[T]) Subscribe(fn func()) func() {
	return s.SubscribeWithScheduler(nil, fn)
}

// SubscribeWithScheduler registers a listener dispatched through scheduler.
// A nil scheduler runs the listener synchronously.
func (s *Signal[T]) SubscribeWithScheduler(scheduler Scheduler, fn func()) func() {
	if s == nil {
		return func() {}
	}
	return s.subs.add(scheduler, fn)
}
