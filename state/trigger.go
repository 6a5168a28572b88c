package state

import "sync/atomic"

// Trigger is a value-less notification, such as "the scene graph changed"
// or "time to incubate".
type Trigger struct {
	fired atomic.Uint64
	subs  listeners
}

// NewTrigger creates a trigger with no listeners.
func NewTrigger() *Trigger {
	return &Trigger{}
}

// Emit notifies every listener.
func (t *Trigger) Emit() {
	if t == nil {
		return
	}
	t.fired.Add(1)
	notify(t.subs.snapshot())
}

// Count returns how many times Emit has been called.
func (t *Trigger) Count() uint64 {
	if t == nil {
		return 0
	}
	return t.fired.Load()
}

// Listeners returns the number of registered listeners.
func (t *Trigger) Listeners() int {
	if t == nil {
		return 0
	}
	return t.subs.count()
}

// Subscribe registers a synchronous listener.
func (t *Trigger) Subscribe(fn func()) func() {
	return t.SubscribeWithScheduler(nil, fn)
}

// SubscribeWithScheduler registers a listener dispatched through scheduler.
func (t *Trigger) SubscribeWithScheduler(scheduler Scheduler, fn func()) func() {
	if t == nil {
		return func() {}
	}
	return t.subs.add(scheduler, fn)
}
