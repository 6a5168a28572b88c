// Package animation provides a time-based animation driver.
//
// A Driver runs while it has animations. Each Advance samples the clock and
// moves every animation forward; finished animations are dropped, and the
// driver reports stopped once none remain. Started and stopped transitions
// are published through Subscribe.
package animation

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/odvcencio/furry-sg/state"
)

// Animation interpolates from 0 to 1 over Duration.
type Animation struct {
	Duration time.Duration
	// Loop restarts the animation instead of finishing it.
	Loop bool
	// Update receives the progress in [0, 1].
	Update func(progress float64)
	// Finished runs once after the final Update of a non-looping animation.
	Finished func()

	started time.Time
}

// Driver advances animations. Advance and Start may be called from
// different goroutines.
type Driver struct {
	mu         sync.Mutex
	now        func() time.Time
	animations []*Animation
	// gen counts changes to animations.
	gen        uint64
	running    *state.Signal[bool]
	installed  atomic.Bool
	advances   atomic.Uint64
}

// NewDriver creates a stopped driver using the wall clock.
func NewDriver() *Driver {
	running := state.NewSignal(false)
	running.SetEqualFunc(state.EqualComparable[bool])
	return &Driver{now: time.Now, running: running}
}

// SetClock replaces the clock used to compute progress.
func (d *Driver) SetClock(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	d.mu.Lock()
	d.now = now
	d.mu.Unlock()
}

// Install marks the driver as the active one.
func (d *Driver) Install() {
	d.installed.Store(true)
}

// Installed reports whether Install was called.
func (d *Driver) Installed() bool {
	return d.installed.Load()
}

// IsRunning reports whether any animation is active.
func (d *Driver) IsRunning() bool {
	return d.running.Get()
}

// Subscribe registers fn for started and stopped transitions. Listeners run
// on the goroutine that caused the transition.
func (d *Driver) Subscribe(fn func()) func() {
	return d.running.Subscribe(fn)
}

// SubscribeWithScheduler registers fn for started and stopped transitions,
// dispatched through scheduler.
func (d *Driver) SubscribeWithScheduler(scheduler state.Scheduler, fn func()) func() {
	return d.running.SubscribeWithScheduler(scheduler, fn)
}

// Advances returns how many times Advance has run.
func (d *Driver) Advances() uint64 {
	return d.advances.Load()
}

// Len returns the number of active animations.
func (d *Driver) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.animations)
}

// Start adds a to the driver. Starting an already active animation restarts
// it.
func (d *Driver) Start(a *Animation) {
	if a == nil {
		return
	}
	d.mu.Lock()
	a.started = d.now()
	found := false
	for _, existing := range d.animations {
		if existing == a {
			found = true
			break
		}
	}
	if !found {
		d.animations = append(d.animations, a)
		d.gen++
	}
	d.mu.Unlock()
	d.publish()
}

// Stop removes a without calling Finished.
func (d *Driver) Stop(a *Animation) {
	d.mu.Lock()
	for i, existing := range d.animations {
		if existing == a {
			d.animations = append(d.animations[:i], d.animations[i+1:]...)
			d.gen++
			break
		}
	}
	d.mu.Unlock()
	d.publish()
}

// publish sets the running signal from the animation count, repeating until
// no Start or Stop slipped in while listeners ran.
func (d *Driver) publish() {
	for {
		d.mu.Lock()
		running := len(d.animations) > 0
		gen := d.gen
		d.mu.Unlock()

		d.running.Set(running)

		d.mu.Lock()
		stable := d.gen == gen
		d.mu.Unlock()
		if stable {
			return
		}
	}
}

type step struct {
	anim     *Animation
	progress float64
	finished bool
}

// Advance moves every animation to the current time.
func (d *Driver) Advance() {
	d.advances.Add(1)

	d.mu.Lock()
	now := d.now()
	steps := make([]step, 0, len(d.animations))
	kept := d.animations[:0]
	for _, a := range d.animations {
		s := step{anim: a, progress: progress(a, now)}
		if s.progress >= 1 && !a.Loop {
			s.progress = 1
			s.finished = true
		} else {
			kept = append(kept, a)
		}
		steps = append(steps, s)
	}
	for i := len(kept); i < len(d.animations); i++ {
		d.animations[i] = nil
	}
	if len(kept) != len(d.animations) {
		d.gen++
	}
	d.animations = kept
	d.mu.Unlock()

	for _, s := range steps {
		if s.anim.Update != nil {
			s.anim.Update(s.progress)
		}
		if s.finished && s.anim.Finished != nil {
			s.anim.Finished()
		}
	}
	d.publish()
}

func progress(a *Animation, now time.Time) float64 {
	if a.Duration <= 0 {
		return 1
	}
	elapsed := now.Sub(a.started)
	if elapsed < 0 {
		return 0
	}
	p := float64(elapsed) / float64(a.Duration)
	if a.Loop && p >= 1 {
		p -= float64(int(p))
	}
	return p
}
