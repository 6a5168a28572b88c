package renderloop

import (
	"context"
	"errors"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odvcencio/furry-sg/affinity"
	"github.com/odvcencio/furry-sg/state"
)

type fakeScreen struct {
	rate float64
	geo  image.Rectangle
}

func (s *fakeScreen) RefreshRate() float64              { return s.rate }
func (s *fakeScreen) AvailableGeometry() image.Rectangle { return s.geo }

type fakeOffscreen struct {
	released atomic.Bool
}

func (o *fakeOffscreen) Release() { o.released.Store(true) }

type fakePlatform struct {
	screen *fakeScreen
	err    error

	mu        sync.Mutex
	created   []*fakeOffscreen
	lastAsked Format
}

func (p *fakePlatform) PrimaryScreen() Screen { return p.screen }

func (p *fakePlatform) CreateOffscreen(format Format) (Offscreen, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastAsked = format
	if p.err != nil {
		return nil, p.err
	}
	off := &fakeOffscreen{}
	p.created = append(p.created, off)
	return off, nil
}

func (p *fakePlatform) offscreens() []*fakeOffscreen {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*fakeOffscreen(nil), p.created...)
}

type fakeAnimation struct {
	running   atomic.Bool
	advances  atomic.Int32
	installed atomic.Int32
}

func (a *fakeAnimation) Advance()        { a.advances.Add(1) }
func (a *fakeAnimation) IsRunning() bool { return a.running.Load() }
func (a *fakeAnimation) Install()        { a.installed.Add(1) }

// signalAnimation reports started/stopped through a signal.
type signalAnimation struct {
	fakeAnimation
	state *state.Signal[bool]
}

func newSignalAnimation() *signalAnimation {
	return &signalAnimation{state: state.NewSignal(false)}
}

func (a *signalAnimation) IsRunning() bool            { return a.state.Get() }
func (a *signalAnimation) Subscribe(fn func()) func() { return a.state.Subscribe(fn) }
func (a *signalAnimation) SubscribeWithScheduler(s state.Scheduler, fn func()) func() {
	return a.state.SubscribeWithScheduler(s, fn)
}

// plainSignalAnimation only offers synchronous subscriptions.
type plainSignalAnimation struct {
	fakeAnimation
	state *state.Signal[bool]
}

func (a *plainSignalAnimation) IsRunning() bool            { return a.state.Get() }
func (a *plainSignalAnimation) Subscribe(fn func()) func() { return a.state.Subscribe(fn) }

type fakeRenderer struct {
	changed *state.Trigger

	mu     sync.Mutex
	frame  *image.RGBA
	clears int
}

func newFakeRenderer() *fakeRenderer {
	return &fakeRenderer{changed: state.NewTrigger()}
}

func (r *fakeRenderer) ClearChangedFlag() {
	r.mu.Lock()
	r.clears++
	r.mu.Unlock()
}

func (r *fakeRenderer) Changed() state.Subscribable { return r.changed }

func (r *fakeRenderer) Snapshot() *image.RGBA {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frame == nil {
		return nil
	}
	out := image.NewRGBA(r.frame.Rect)
	copy(out.Pix, r.frame.Pix)
	return out
}

type fakeContext struct {
	initialized atomic.Int32
	animator    *fakeAnimation

	mu          sync.Mutex
	invalidated []Offscreen
}

func (c *fakeContext) InitializeIfNeeded() { c.initialized.Add(1) }

func (c *fakeContext) CreateAnimationDriver() AnimationDriver {
	c.animator = &fakeAnimation{}
	return c.animator
}

func (c *fakeContext) Invalidate(target Offscreen) {
	c.mu.Lock()
	c.invalidated = append(c.invalidated, target)
	c.mu.Unlock()
}

func (c *fakeContext) invalidations() []Offscreen {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Offscreen(nil), c.invalidated...)
}

type sceneCounts struct {
	polishes    int
	syncs       int
	renders     int
	swaps       int
	aboutToStop int
	cleanups    int
	lastSize    image.Point
}

type fakeScene struct {
	rc         RenderContext
	controller sync.Mutex

	mu       sync.Mutex
	renderer *fakeRenderer
	counts   sceneCounts
	dirty    bool
	onSync   func(ctx context.Context)
	onRender func(ctx context.Context)
}

func newFakeScene() *fakeScene {
	return &fakeScene{rc: &fakeContext{}}
}

func (s *fakeScene) PolishItems() {
	s.mu.Lock()
	s.counts.polishes++
	s.mu.Unlock()
}

func (s *fakeScene) AfterAnimating()                  {}
func (s *fakeScene) RenderContext() RenderContext     { return s.rc }
func (s *fakeScene) AnimationController() sync.Locker { return &s.controller }

func (s *fakeScene) Renderer() Renderer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.renderer == nil {
		return nil
	}
	return s.renderer
}

func (s *fakeScene) Synchronize(ctx context.Context) {
	s.mu.Lock()
	s.counts.syncs++
	var emit *state.Trigger
	if s.renderer == nil {
		s.renderer = newFakeRenderer()
	} else if s.dirty {
		emit = s.renderer.changed
	}
	s.dirty = false
	cb := s.onSync
	s.mu.Unlock()
	if emit != nil {
		emit.Emit()
	}
	if cb != nil {
		cb(ctx)
	}
}

func (s *fakeScene) Render(ctx context.Context, size image.Point) {
	s.mu.Lock()
	s.counts.renders++
	s.counts.lastSize = size
	r := s.renderer
	cb := s.onRender
	s.mu.Unlock()
	if r != nil {
		r.mu.Lock()
		r.frame = image.NewRGBA(image.Rectangle{Max: size})
		r.mu.Unlock()
	}
	if cb != nil {
		cb(ctx)
	}
}

func (s *fakeScene) AboutToStop() {
	s.mu.Lock()
	s.counts.aboutToStop++
	s.mu.Unlock()
}

func (s *fakeScene) FrameSwapped() {
	s.mu.Lock()
	s.counts.swaps++
	s.mu.Unlock()
}

func (s *fakeScene) CleanupOnShutdown() {
	s.mu.Lock()
	s.counts.cleanups++
	s.renderer = nil
	s.mu.Unlock()
}

func (s *fakeScene) markDirty() {
	s.mu.Lock()
	s.dirty = true
	s.mu.Unlock()
}

func (s *fakeScene) snapshot() sceneCounts {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts
}

func (s *fakeScene) setOnSync(fn func(ctx context.Context)) {
	s.mu.Lock()
	s.onSync = fn
	s.mu.Unlock()
}

func (s *fakeScene) setOnRender(fn func(ctx context.Context)) {
	s.mu.Lock()
	s.onRender = fn
	s.mu.Unlock()
}

func (s *fakeScene) context() *fakeContext {
	return s.rc.(*fakeContext)
}

type fakeWindow struct {
	scene  *fakeScene
	screen *fakeScreen

	mu        sync.Mutex
	size      image.Point
	origin    image.Point
	exposed   bool
	visible   bool
	handle    bool
	topLevel  bool
	createErr error
	creates   int

	requests atomic.Int32
}

func newFakeWindow(w, h int) *fakeWindow {
	return &fakeWindow{
		scene:   newFakeScene(),
		screen:  &fakeScreen{rate: 60, geo: image.Rect(0, 0, 1920, 1080)},
		size:    image.Pt(w, h),
		visible: true,
		handle:  true,
	}
}

func (w *fakeWindow) Size() image.Point {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.size
}

func (w *fakeWindow) Geometry() image.Rectangle {
	w.mu.Lock()
	defer w.mu.Unlock()
	return image.Rectangle{Min: w.origin, Max: w.origin.Add(w.size)}
}

func (w *fakeWindow) Screen() Screen { return w.screen }

func (w *fakeWindow) IsTopLevel() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.topLevel
}

func (w *fakeWindow) IsVisible() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.visible
}

func (w *fakeWindow) IsExposed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.exposed
}

func (w *fakeWindow) HasHandle() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.handle
}

func (w *fakeWindow) Create() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.creates++
	if w.createErr != nil {
		return w.createErr
	}
	w.handle = true
	return nil
}

func (w *fakeWindow) Format() Format { return Format{Alpha: true} }
func (w *fakeWindow) RequestUpdate() { w.requests.Add(1) }
func (w *fakeWindow) Scene() Scene   { return w.scene }

func (w *fakeWindow) setExposed(v bool) {
	w.mu.Lock()
	w.exposed = v
	w.mu.Unlock()
}

func (w *fakeWindow) setHandle(v bool) {
	w.mu.Lock()
	w.handle = v
	w.mu.Unlock()
}

type fakeTimer struct {
	interval time.Duration
	fn       func(ctx context.Context)
	stopped  atomic.Bool
}

// fakeHost runs everything on the calling goroutine. Timers fire only when
// the test fires them.
type fakeHost struct {
	token affinity.Token

	mu      sync.Mutex
	timers  []*fakeTimer
	invokes int
}

func (h *fakeHost) ctx() context.Context {
	return affinity.WithToken(context.Background(), h.token)
}

func (h *fakeHost) Invoke(fn func(ctx context.Context)) {
	h.mu.Lock()
	h.invokes++
	h.mu.Unlock()
	fn(h.ctx())
}

func (h *fakeHost) StartTimer(interval time.Duration, fn func(ctx context.Context)) func() {
	t := &fakeTimer{interval: interval, fn: fn}
	h.mu.Lock()
	h.timers = append(h.timers, t)
	h.mu.Unlock()
	return func() { t.stopped.Store(true) }
}

func (h *fakeHost) active() *fakeTimer {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, t := range h.timers {
		if !t.stopped.Load() {
			return t
		}
	}
	return nil
}

func (h *fakeHost) started() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.timers)
}

func (h *fakeHost) fire() bool {
	t := h.active()
	if t == nil {
		return false
	}
	t.fn(h.ctx())
	return true
}

type frameRecorder struct {
	mu     sync.Mutex
	syncs  []SyncStats
	frames []FrameStats
}

func (r *frameRecorder) ObserveSync(stats SyncStats) {
	r.mu.Lock()
	r.syncs = append(r.syncs, stats)
	r.mu.Unlock()
}

func (r *frameRecorder) ObserveFrame(stats FrameStats) {
	r.mu.Lock()
	r.frames = append(r.frames, stats)
	r.mu.Unlock()
}

func (r *frameRecorder) syncStats() []SyncStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]SyncStats(nil), r.syncs...)
}

func (r *frameRecorder) frameStats() []FrameStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]FrameStats(nil), r.frames...)
}

// recordHandler keeps every record at or above Warn.
type recordHandler struct {
	mu      *sync.Mutex
	records *[]slog.Record
}

func newRecordHandler() recordHandler {
	return recordHandler{mu: &sync.Mutex{}, records: &[]slog.Record{}}
}

func (h recordHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= slog.LevelWarn
}

func (h recordHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	*h.records = append(*h.records, r)
	h.mu.Unlock()
	return nil
}

func (h recordHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h recordHandler) WithGroup(string) slog.Handler      { return h }

func (h recordHandler) messages() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(*h.records))
	for _, r := range *h.records {
		out = append(out, r.Message)
	}
	return out
}

func captureWarnings(t *testing.T) recordHandler {
	t.Helper()
	orig := Logger()
	h := newRecordHandler()
	SetLogger(slog.New(h))
	t.Cleanup(func() { SetLogger(orig) })
	return h
}

type harness struct {
	t        *testing.T
	host     *fakeHost
	platform *fakePlatform
	anim     AnimationDriver
	frames   *frameRecorder
	loop     *Coordinator
	ctx      context.Context
}

func newHarness(t *testing.T) *harness {
	return newHarnessWith(t, &fakeAnimation{})
}

func newHarnessWith(t *testing.T, anim AnimationDriver) *harness {
	t.Helper()
	return newScheduledHarness(t, anim, nil)
}

func newScheduledHarness(t *testing.T, anim AnimationDriver, scheduler state.Scheduler) *harness {
	t.Helper()
	host := &fakeHost{token: affinity.NewToken("driver")}
	h := &harness{
		t:        t,
		host:     host,
		platform: &fakePlatform{screen: &fakeScreen{rate: 60, geo: image.Rect(0, 0, 1920, 1080)}},
		anim:     anim,
		frames:   &frameRecorder{},
		ctx:      host.ctx(),
	}
	h.loop = New(Config{
		Host:          host,
		DriverToken:   host.token,
		Platform:      h.platform,
		Animation:     anim,
		Scheduler:     scheduler,
		Observer:      h.frames,
		FrameInterval: time.Millisecond,
	})
	t.Cleanup(func() {
		require.NoError(t, h.loop.Shutdown(h.ctx))
		require.Zero(t, h.loop.RunningWorkers())
	})
	return h
}

func (h *harness) expose(win *fakeWindow) {
	win.setExposed(true)
	h.loop.ExposureChanged(h.ctx, win)
}

func (h *harness) obscure(win *fakeWindow) {
	win.setExposed(false)
	h.loop.ExposureChanged(h.ctx, win)
}

func (h *harness) waitSleeping(win *fakeWindow) {
	h.t.Helper()
	w := h.loop.Worker(win)
	require.NotNil(h.t, w)
	require.Eventually(h.t, w.Sleeping, time.Second, time.Millisecond)
}

var errBoom = errors.New("boom")
