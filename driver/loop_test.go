package driver

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/odvcencio/furry-sg/affinity"
	"github.com/odvcencio/furry-sg/renderloop"
	"github.com/odvcencio/furry-sg/state"
)

type call struct {
	name     string
	window   renderloop.Window
	onDriver bool
}

// recordingLoop records every call and whether it arrived on the driver.
type recordingLoop struct {
	token     affinity.Token
	scheduler state.Scheduler

	mu       sync.Mutex
	calls    []call
	shutdown int
}

func (r *recordingLoop) record(ctx context.Context, name string, win renderloop.Window) {
	r.mu.Lock()
	r.calls = append(r.calls, call{name: name, window: win, onDriver: affinity.Holds(ctx, r.token)})
	r.mu.Unlock()
}

func (r *recordingLoop) snapshot() []call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]call(nil), r.calls...)
}

func (r *recordingLoop) Show(ctx context.Context, win renderloop.Window) { r.record(ctx, "show", win) }
func (r *recordingLoop) Hide(ctx context.Context, win renderloop.Window) error {
	r.record(ctx, "hide", win)
	return nil
}
func (r *recordingLoop) WindowDestroyed(ctx context.Context, win renderloop.Window) error {
	r.record(ctx, "destroyed", win)
	return nil
}
func (r *recordingLoop) ExposureChanged(ctx context.Context, win renderloop.Window) {
	r.record(ctx, "exposure", win)
}
func (r *recordingLoop) Update(ctx context.Context, win renderloop.Window) { r.record(ctx, "update", win) }
func (r *recordingLoop) MaybeUpdate(ctx context.Context, win renderloop.Window) {
	r.record(ctx, "maybeUpdate", win)
}
func (r *recordingLoop) HandleUpdateRequest(ctx context.Context, win renderloop.Window) {
	r.record(ctx, "updateRequest", win)
}
func (r *recordingLoop) ScheduleRepaint(ctx context.Context, win renderloop.Window, wake bool) {
	r.record(ctx, "repaint", win)
}
func (r *recordingLoop) Grab(ctx context.Context, win renderloop.Window) (*image.RGBA, error) {
	r.record(ctx, "grab", win)
	return image.NewRGBA(image.Rect(0, 0, 2, 2)), nil
}
func (r *recordingLoop) PostJob(ctx context.Context, win renderloop.Window, job renderloop.Job) {
	r.record(ctx, "job", win)
}
func (r *recordingLoop) ReleaseResources(ctx context.Context, win renderloop.Window) error {
	r.record(ctx, "release", win)
	return nil
}
func (r *recordingLoop) DeleteLater(fn func())                         {}
func (r *recordingLoop) AnimationDriver() renderloop.AnimationDriver   { return nil }
func (r *recordingLoop) InterleaveIncubation() bool                    { return false }
func (r *recordingLoop) Incubation() state.Subscribable                { return state.NewTrigger() }
func (r *recordingLoop) Surfaces() []renderloop.SurfaceInfo            { return nil }
func (r *recordingLoop) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.shutdown++
	r.mu.Unlock()
	return nil
}

// stubWindow only needs identity here.
type stubWindow struct {
	renderloop.Window
	name string
}

func newTestLoop(t *testing.T, cfg Config) (*Loop, *recordingLoop) {
	t.Helper()
	rec := &recordingLoop{}
	cfg.Strategy = func(rc renderloop.Config) renderloop.RenderLoop {
		rec.token = rc.DriverToken
		rec.scheduler = rc.Scheduler
		if rc.Host == nil {
			t.Fatalf("expected the loop to host the render loop")
		}
		return rec
	}
	return New(cfg), rec
}

func runLoop(t *testing.T, l *Loop) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- l.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-l.Done()
	})
	return cancel, errc
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestLoopDispatchesWindowMessagesOnDriver(t *testing.T) {
	l, rec := newTestLoop(t, Config{})
	win := &stubWindow{name: "a"}

	l.Show(win)
	l.ExposureChanged(win)
	l.Hide(win)
	runLoop(t, l)

	waitFor(t, func() bool { return len(rec.snapshot()) == 3 })
	want := []string{"show", "exposure", "hide"}
	for i, c := range rec.snapshot() {
		if c.name != want[i] {
			t.Fatalf("call %d: expected %s, got %s", i, want[i], c.name)
		}
		if c.window != win {
			t.Fatalf("call %d: wrong window", i)
		}
		if !c.onDriver {
			t.Fatalf("call %d: expected driver token in context", i)
		}
	}
}

func TestRequestUpdateCoalesces(t *testing.T) {
	l, rec := newTestLoop(t, Config{})
	a, b := &stubWindow{name: "a"}, &stubWindow{name: "b"}

	l.RequestUpdate(a)
	l.RequestUpdate(a)
	l.RequestUpdate(b)
	if got := len(l.messages); got != 2 {
		t.Fatalf("expected 2 queued update requests, got %d", got)
	}

	runLoop(t, l)
	waitFor(t, func() bool { return len(rec.snapshot()) == 2 })

	// Handled requests can be made again.
	l.RequestUpdate(a)
	waitFor(t, func() bool { return len(rec.snapshot()) == 3 })
	for _, c := range rec.snapshot() {
		if c.name != "updateRequest" {
			t.Fatalf("unexpected call %s", c.name)
		}
	}
}

func TestCallRunsOnDriver(t *testing.T) {
	l, _ := newTestLoop(t, Config{})
	runLoop(t, l)

	var onDriver bool
	err := l.Call(context.Background(), func(ctx context.Context) error {
		onDriver = affinity.Holds(ctx, l.Token())
		// Nested calls run inline.
		return l.Call(ctx, func(context.Context) error { return nil })
	})
	if err != nil {
		t.Fatalf("Call() = %v", err)
	}
	if !onDriver {
		t.Fatalf("expected fn to run with the driver token")
	}

	want := errors.New("boom")
	if err := l.Call(context.Background(), func(context.Context) error { return want }); !errors.Is(err, want) {
		t.Fatalf("expected fn error, got %v", err)
	}
}

func TestGrabAndDestroyGoThroughDriver(t *testing.T) {
	l, rec := newTestLoop(t, Config{})
	runLoop(t, l)
	win := &stubWindow{name: "a"}

	img, err := l.Grab(context.Background(), win)
	if err != nil || img == nil {
		t.Fatalf("Grab() = %v, %v", img, err)
	}
	if err := l.Destroy(context.Background(), win); err != nil {
		t.Fatalf("Destroy() = %v", err)
	}
	calls := rec.snapshot()
	if len(calls) != 2 || calls[0].name != "grab" || calls[1].name != "destroyed" || !calls[1].onDriver {
		t.Fatalf("unexpected calls %+v", calls)
	}
}

func TestStartTimerTicksOnDriver(t *testing.T) {
	l, _ := newTestLoop(t, Config{})
	runLoop(t, l)

	var mu sync.Mutex
	ticks := 0
	onDriver := true
	stop := l.StartTimer(time.Millisecond, func(ctx context.Context) {
		mu.Lock()
		ticks++
		onDriver = onDriver && affinity.Holds(ctx, l.Token())
		mu.Unlock()
	})
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return ticks >= 3
	})
	stop()
	if l.Timers() != 0 {
		t.Fatalf("expected no active timers after stop")
	}

	mu.Lock()
	stopped := ticks
	if !onDriver {
		t.Fatalf("timer callback ran without the driver token")
	}
	mu.Unlock()

	// Drain anything already queued, then make sure no more ticks arrive.
	_ = l.Call(context.Background(), func(context.Context) error { return nil })
	time.Sleep(10 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if ticks != stopped {
		t.Fatalf("timer kept ticking after stop: %d -> %d", stopped, ticks)
	}
}

func TestSchedulerRunsOnDriver(t *testing.T) {
	l, rec := newTestLoop(t, Config{})
	if rec.scheduler != l.Scheduler() {
		t.Fatalf("expected the render loop to be handed the driver scheduler")
	}
	runLoop(t, l)

	done := make(chan struct{})
	l.Scheduler().Schedule(func() { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduled callback did not run")
	}
}

type keyMsg struct{ r rune }

func (keyMsg) isMessage() {}

func TestUnknownMessagesGoToHandler(t *testing.T) {
	got := make(chan rune, 1)
	l, _ := newTestLoop(t, Config{Handler: func(ctx context.Context, loop *Loop, msg Message) {
		if k, ok := msg.(keyMsg); ok {
			got <- k.r
		}
	}})
	runLoop(t, l)

	if !l.TryPost(keyMsg{r: 'q'}) {
		t.Fatalf("TryPost failed")
	}
	select {
	case r := <-got:
		if r != 'q' {
			t.Fatalf("expected q, got %q", r)
		}
	case <-time.After(time.Second):
		t.Fatal("handler not called")
	}
}

func TestQuitShutsDownRenderLoop(t *testing.T) {
	l, rec := newTestLoop(t, Config{})
	_, errc := runLoop(t, l)

	l.Quit()
	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("Run() = %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("loop did not quit")
	}
	if rec.shutdown != 1 {
		t.Fatalf("expected render loop shutdown, got %d", rec.shutdown)
	}

	if err := l.Call(context.Background(), func(context.Context) error { return nil }); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped after quit, got %v", err)
	}
	if l.TryPost(QuitMsg{}) {
		t.Fatalf("TryPost should fail after stop")
	}
	if err := l.Run(context.Background()); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped on rerun, got %v", err)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	l, _ := newTestLoop(t, Config{})
	cancel, errc := runLoop(t, l)
	cancel()
	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run() = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("loop did not stop")
	}
}

func TestInvokeFallsBackWhenQueueIsFull(t *testing.T) {
	l, _ := newTestLoop(t, Config{MessageBuffer: 1})
	if !l.TryPost(ShowMsg{Window: &stubWindow{}}) {
		t.Fatalf("expected first post to fit")
	}
	ran := make(chan struct{})
	l.Invoke(func(context.Context) { close(ran) })

	runLoop(t, l)
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("invoke was lost when the queue was full")
	}
}

func TestRequestUpdateSurvivesFullQueue(t *testing.T) {
	l, rec := newTestLoop(t, Config{MessageBuffer: 1})
	win := &stubWindow{name: "a"}
	l.Show(&stubWindow{name: "other"})
	l.RequestUpdate(win)
	// Still in flight, so this one coalesces.
	l.RequestUpdate(win)

	runLoop(t, l)
	waitFor(t, func() bool {
		for _, c := range rec.snapshot() {
			if c.name == "updateRequest" && c.window == win {
				return true
			}
		}
		return false
	})
	_ = l.Call(context.Background(), func(context.Context) error { return nil })
	requests := 0
	for _, c := range rec.snapshot() {
		if c.name == "updateRequest" {
			requests++
		}
	}
	if requests != 1 {
		t.Fatalf("expected exactly 1 update request, got %d", requests)
	}
}

func TestSchedulerSurvivesFullQueue(t *testing.T) {
	l, _ := newTestLoop(t, Config{MessageBuffer: 1})
	l.Show(&stubWindow{})
	done := make(chan struct{})
	l.Scheduler().Schedule(func() { close(done) })

	runLoop(t, l)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduled callback was lost when the queue was full")
	}
}

func TestDefaultStrategyIsThreaded(t *testing.T) {
	l := New(Config{})
	if _, ok := l.RenderLoop().(*renderloop.Coordinator); !ok {
		t.Fatalf("expected the threaded render loop, got %T", l.RenderLoop())
	}
}
