package renderloop

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/odvcencio/furry-sg/state"
)

const fallbackRefreshRate = 60.0

// AnimationInterval returns the tick interval for screen: one refresh
// period rounded to whole milliseconds. Rates below 1 Hz are unreliable and
// replaced by 60 Hz.
func AnimationInterval(screen Screen) time.Duration {
	rate := fallbackRefreshRate
	if screen != nil {
		if r := screen.RefreshRate(); r >= 1 {
			rate = r
		}
	}
	return time.Duration(math.Round(1000/rate)) * time.Millisecond
}

// Arbiter decides how the shared animation driver is ticked.
//
// With exactly one window visible and exposed, the driver advances once per
// sync of that window and no timer runs. Otherwise, while animations run, a
// driver-thread timer advances it every interval.
type Arbiter struct {
	animation AnimationDriver
	host      Host
	interval  func() time.Duration
	windows   func() []Window
	incubate  *state.Trigger

	mu    sync.Mutex
	stop  func()
	ticks uint64
}

func newArbiter(animation AnimationDriver, host Host, interval func() time.Duration, windows func() []Window, incubate *state.Trigger) *Arbiter {
	return &Arbiter{
		animation: animation,
		host:      host,
		interval:  interval,
		windows:   windows,
		incubate:  incubate,
	}
}

// TimerActive reports whether the periodic animation timer runs.
func (a *Arbiter) TimerActive() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stop != nil
}

// Ticks returns how many times the timer has fired.
func (a *Arbiter) Ticks() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ticks
}

func (a *Arbiter) exposed() (int, Window) {
	count := 0
	var last Window
	for _, win := range a.windows() {
		if win.IsVisible() && win.IsExposed() {
			count++
			last = win
		}
	}
	return count, last
}

// Reevaluate starts or stops the timer after the set of exposed windows or
// the animation state changed.
func (a *Arbiter) Reevaluate(ctx context.Context) {
	exposed, theOne := a.exposed()
	running := a.animation.IsRunning()

	a.mu.Lock()
	active := a.stop != nil
	a.mu.Unlock()

	switch {
	case active && (exposed == 1 || !running):
		a.mu.Lock()
		stop := a.stop
		a.stop = nil
		a.mu.Unlock()
		stop()
		Logger().Debug("animation timer stopped", "exposed", exposed, "running", running)
		// Animations continue on the sync cadence of the remaining window.
		if running && theOne != nil {
			theOne.RequestUpdate()
		}
	case !active && exposed != 1 && running:
		interval := a.interval()
		stop := a.host.StartTimer(interval, a.tick)
		a.mu.Lock()
		a.stop = stop
		a.mu.Unlock()
		Logger().Debug("animation timer started", "interval", interval, "exposed", exposed)
	}
}

// AnimationStarted re-evaluates the timer and asks every tracked window
// for a new frame.
func (a *Arbiter) AnimationStarted(ctx context.Context) {
	Logger().Debug("- animationStarted()")
	a.Reevaluate(ctx)
	for _, win := range a.windows() {
		win.RequestUpdate()
	}
}

// AnimationStopped re-evaluates the timer.
func (a *Arbiter) AnimationStopped(ctx context.Context) {
	Logger().Debug("- animationStopped()")
	a.Reevaluate(ctx)
}

func (a *Arbiter) tick(ctx context.Context) {
	a.mu.Lock()
	if a.stop == nil {
		a.mu.Unlock()
		return
	}
	a.ticks++
	a.mu.Unlock()

	Logger().Debug("- ticking non-visual timer")
	a.animation.Advance()
	for _, win := range a.windows() {
		if win.IsVisible() && win.IsExposed() {
			win.RequestUpdate()
		}
	}
	a.incubate.Emit()
}

// shutdown stops the timer without touching windows.
func (a *Arbiter) shutdown() {
	a.mu.Lock()
	stop := a.stop
	a.stop = nil
	a.mu.Unlock()
	if stop != nil {
		stop()
	}
}
