package animation

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/odvcencio/furry-sg/state"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) add(d time.Duration) { c.now = c.now.Add(d) }

func newTestDriver() (*Driver, *fakeClock) {
	clock := &fakeClock{now: time.Unix(100, 0)}
	d := NewDriver()
	d.SetClock(clock.Now)
	return d, clock
}

func TestDriverStartsAndStops(t *testing.T) {
	d, clock := newTestDriver()
	var transitions []bool
	unsub := d.Subscribe(func() { transitions = append(transitions, d.IsRunning()) })
	defer unsub()

	if d.IsRunning() {
		t.Fatalf("new driver should be stopped")
	}

	var last float64
	finished := 0
	d.Start(&Animation{
		Duration: 100 * time.Millisecond,
		Update:   func(p float64) { last = p },
		Finished: func() { finished++ },
	})
	if !d.IsRunning() {
		t.Fatalf("expected running after Start")
	}

	clock.add(50 * time.Millisecond)
	d.Advance()
	if math.Abs(last-0.5) > 1e-9 {
		t.Fatalf("expected progress 0.5, got %v", last)
	}

	clock.add(80 * time.Millisecond)
	d.Advance()
	if last != 1 {
		t.Fatalf("expected progress clamped to 1, got %v", last)
	}
	if finished != 1 {
		t.Fatalf("expected Finished once, got %d", finished)
	}
	if d.IsRunning() || d.Len() != 0 {
		t.Fatalf("expected stopped driver after the last animation finished")
	}

	if len(transitions) != 2 || !transitions[0] || transitions[1] {
		t.Fatalf("expected started then stopped, got %v", transitions)
	}
	if d.Advances() != 2 {
		t.Fatalf("expected 2 advances, got %d", d.Advances())
	}
}

func TestDriverLoopingAnimation(t *testing.T) {
	d, clock := newTestDriver()
	var last float64
	a := &Animation{Duration: time.Second, Loop: true, Update: func(p float64) { last = p }}
	d.Start(a)

	clock.add(2500 * time.Millisecond)
	d.Advance()
	if math.Abs(last-0.5) > 1e-9 {
		t.Fatalf("expected wrapped progress 0.5, got %v", last)
	}
	if !d.IsRunning() {
		t.Fatalf("looping animation should keep the driver running")
	}

	d.Stop(a)
	if d.IsRunning() {
		t.Fatalf("expected stopped after Stop")
	}
}

func TestDriverRestartDoesNotDuplicate(t *testing.T) {
	d, _ := newTestDriver()
	a := &Animation{Duration: time.Second}
	d.Start(a)
	d.Start(a)
	if d.Len() != 1 {
		t.Fatalf("expected 1 animation, got %d", d.Len())
	}
}

func TestDriverZeroDurationFinishesImmediately(t *testing.T) {
	d, _ := newTestDriver()
	var got []float64
	d.Start(&Animation{Update: func(p float64) { got = append(got, p) }})
	d.Advance()
	if len(got) != 1 || got[0] != 1 {
		t.Fatalf("expected a single update at 1, got %v", got)
	}
	if d.IsRunning() {
		t.Fatalf("expected stopped driver")
	}
}

func TestDriverInstall(t *testing.T) {
	d := NewDriver()
	if d.Installed() {
		t.Fatalf("driver should not start installed")
	}
	d.Install()
	if !d.Installed() {
		t.Fatalf("expected installed driver")
	}
}

func TestAdvanceWithoutAnimationsStaysStopped(t *testing.T) {
	d, _ := newTestDriver()
	notified := 0
	d.Subscribe(func() { notified++ })
	d.Advance()
	if notified != 0 {
		t.Fatalf("expected no transition, got %d", notified)
	}
}

func TestDriverRunningMatchesAnimationsUnderConcurrentStartStop(t *testing.T) {
	d := NewDriver()
	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a := &Animation{Duration: time.Hour}
			for i := 0; i < 500; i++ {
				d.Start(a)
				d.Stop(a)
			}
		}()
	}
	keep := &Animation{Duration: time.Hour}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			d.Stop(keep)
			d.Start(keep)
		}
	}()
	wg.Wait()

	if d.Len() != 1 {
		t.Fatalf("expected 1 animation left, got %d", d.Len())
	}
	if !d.IsRunning() {
		t.Fatalf("driver reports stopped while an animation is active")
	}
}

func TestDriverSubscribeWithScheduler(t *testing.T) {
	d, _ := newTestDriver()
	queue := state.NewQueue()
	calls := 0
	d.SubscribeWithScheduler(queue, func() { calls++ })

	a := &Animation{Duration: time.Second}
	d.Start(a)
	d.Stop(a)
	if calls != 0 {
		t.Fatalf("listener ran before the scheduler flushed")
	}
	if ran := queue.Flush(); ran != 2 || calls != 2 {
		t.Fatalf("expected 2 scheduled transitions, got %d (%d calls)", ran, calls)
	}
}
