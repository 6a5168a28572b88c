package renderloop

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/odvcencio/furry-sg/affinity"
	"github.com/odvcencio/furry-sg/state"
)

// Config configures a Coordinator.
type Config struct {
	// Host runs timers and deferred calls on the driver thread. When nil,
	// calls run inline and timers tick on their own goroutine.
	Host Host
	// DriverToken identifies the driver thread. Contexts passed to the
	// Coordinator from the driver must carry it. A fresh token is minted
	// when zero.
	DriverToken affinity.Token
	// Platform creates fallback surfaces and reports the primary screen.
	Platform Platform
	// Animation is the shared animation driver. A stopped driver is used
	// when nil. If it also implements state.ScheduledSubscribable or
	// state.Subscribable, started and stopped transitions are picked up
	// automatically and handled through Scheduler.
	Animation AnimationDriver
	// Scheduler runs callbacks on the driver thread. Defaults to one that
	// goes through Host.Invoke.
	Scheduler state.Scheduler
	// Observer receives sync and frame statistics.
	Observer FrameObserver
	// FrameInterval overrides the interval derived from the primary
	// screen's refresh rate.
	FrameInterval time.Duration
}

type surfaceRecord struct {
	id     SurfaceID
	window Window
	worker *Worker
	format Format
	seq    uint64

	updateDuringSync atomic.Bool
	forcedRepaint    atomic.Bool
}

// SurfaceInfo is a snapshot of one tracked window.
type SurfaceInfo struct {
	ID         SurfaceID
	Window     Window
	Running    bool
	Bound      bool
	Rendezvous Rendezvous
}

// Coordinator is the threaded render loop. It lives on the driver thread:
// every method except the ones documented otherwise must be called with a
// context carrying the driver token.
type Coordinator struct {
	host      Host
	token     affinity.Token
	platform  Platform
	animation AnimationDriver
	scheduler state.Scheduler
	observer  FrameObserver
	interval  time.Duration

	deferred *state.Queue
	incubate *state.Trigger
	arbiter  *Arbiter
	unsub    func()

	mu       sync.RWMutex
	surfaces []*surfaceRecord
}

// New creates a Coordinator and installs the shared animation driver.
func New(cfg Config) *Coordinator {
	c := &Coordinator{
		host:      cfg.Host,
		token:     cfg.DriverToken,
		platform:  cfg.Platform,
		animation: cfg.Animation,
		scheduler: cfg.Scheduler,
		observer:  cfg.Observer,
		interval:  cfg.FrameInterval,
		deferred:  state.NewQueue(),
		incubate:  state.NewTrigger(),
	}
	if c.token.IsZero() {
		c.token = affinity.NewToken("driver")
	}
	if c.host == nil {
		c.host = inlineHost{token: c.token}
	}
	if c.animation == nil {
		c.animation = stoppedAnimation{}
	}
	if c.scheduler == nil {
		host := c.host
		c.scheduler = state.SchedulerFunc(func(fn func()) {
			host.Invoke(func(context.Context) { fn() })
		})
	}
	c.arbiter = newArbiter(c.animation, c.host, c.frameInterval, c.windows, c.incubate)
	c.animation.Install()
	switch sub := c.animation.(type) {
	case state.ScheduledSubscribable:
		c.unsub = sub.SubscribeWithScheduler(c.scheduler, c.animationChanged)
	case state.Subscribable:
		c.unsub = sub.Subscribe(func() { c.scheduler.Schedule(c.animationChanged) })
	}
	return c
}

// animationChanged runs on the driver thread through the scheduler.
func (c *Coordinator) animationChanged() {
	ctx := affinity.WithToken(context.Background(), c.token)
	if c.animation.IsRunning() {
		c.arbiter.AnimationStarted(ctx)
	} else {
		c.arbiter.AnimationStopped(ctx)
	}
}

// DriverToken returns the token identifying the driver thread.
func (c *Coordinator) DriverToken() affinity.Token {
	return c.token
}

// AnimationDriver returns the shared animation driver.
func (c *Coordinator) AnimationDriver() AnimationDriver {
	return c.animation
}

// Arbiter returns the animation timer policy.
func (c *Coordinator) Arbiter() *Arbiter {
	return c.arbiter
}

// Incubation notifies after each animation advance, when idle work may be
// interleaved with rendering.
func (c *Coordinator) Incubation() state.Subscribable {
	return c.incubate
}

// InterleaveIncubation reports whether animations run and some window is
// showing.
func (c *Coordinator) InterleaveIncubation() bool {
	return c.animation.IsRunning() && c.anyoneShowing()
}

// DeleteLater queues fn until the next scene synchronization has finished,
// after which no render object can reference what fn destroys. fn runs on a
// worker. Safe for concurrent use.
func (c *Coordinator) DeleteLater(fn func()) {
	c.deferred.Schedule(fn)
}

func (c *Coordinator) frameInterval() time.Duration {
	if c.interval > 0 {
		return c.interval
	}
	var screen Screen
	if c.platform != nil {
		screen = c.platform.PrimaryScreen()
	}
	return AnimationInterval(screen)
}

func (c *Coordinator) windows() []Window {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Window, len(c.surfaces))
	for i, rec := range c.surfaces {
		out[i] = rec.window
	}
	return out
}

func (c *Coordinator) anyoneShowing() bool {
	for _, win := range c.windows() {
		if win.IsVisible() && win.IsExposed() {
			return true
		}
	}
	return false
}

func (c *Coordinator) lookup(win Window) *surfaceRecord {
	if win == nil {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, rec := range c.surfaces {
		if rec.window == win {
			return rec
		}
	}
	return nil
}

func (c *Coordinator) add(win Window) *surfaceRecord {
	id := ulid.Make()
	interval := c.interval
	if interval <= 0 {
		interval = AnimationInterval(win.Screen())
	}
	rec := &surfaceRecord{
		id:     id,
		window: win,
		format: win.Format(),
		worker: newWorker(workerConfig{
			id:       id,
			driver:   c.token,
			scene:    win.Scene(),
			interval: interval,
			deferred: c.deferred,
			observer: c.observer,
		}),
	}
	// Also covered by the expose sync, but a forced first pass is harmless.
	rec.forcedRepaint.Store(true)
	c.mu.Lock()
	c.surfaces = append(c.surfaces, rec)
	c.mu.Unlock()
	return rec
}

func (c *Coordinator) remove(rec *surfaceRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, r := range c.surfaces {
		if r == rec {
			c.surfaces = append(c.surfaces[:i], c.surfaces[i+1:]...)
			return
		}
	}
}

// Worker returns the worker of win, or nil if win is not tracked.
func (c *Coordinator) Worker(win Window) *Worker {
	if rec := c.lookup(win); rec != nil {
		return rec.worker
	}
	return nil
}

// SurfaceID returns the identity of win's surface record.
func (c *Coordinator) SurfaceID(win Window) (SurfaceID, bool) {
	if rec := c.lookup(win); rec != nil {
		return rec.id, true
	}
	return SurfaceID{}, false
}

// Surfaces returns a snapshot of all tracked windows in exposure order.
// Safe for concurrent use.
func (c *Coordinator) Surfaces() []SurfaceInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]SurfaceInfo, 0, len(c.surfaces))
	for _, rec := range c.surfaces {
		out = append(out, SurfaceInfo{
			ID:         rec.id,
			Window:     rec.window,
			Running:    rec.worker.Running(),
			Bound:      rec.worker.Window() != nil,
			Rendezvous: rec.worker.Rendezvous(),
		})
	}
	return out
}

// RunningWorkers counts live worker goroutines. Safe for concurrent use.
func (c *Coordinator) RunningWorkers() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, rec := range c.surfaces {
		if rec.worker.Running() {
			n++
		}
	}
	return n
}

// rendezvous posts e and blocks until the worker releases r. It reports
// false without posting when the worker is not running.
func (c *Coordinator) rendezvous(rec *surfaceRecord, kind Rendezvous, e Event, r reply) bool {
	w := rec.worker
	if !w.Running() {
		return false
	}
	log := Logger().With("surface", rec.id.String())
	log.Debug("- rendezvous", "kind", kind)
	w.beginRendezvous(kind)
	w.post(e)
	r.wait()
	log.Debug("- rendezvous done", "kind", kind)
	return true
}

// Show is called when win becomes visible. Rendering starts on exposure.
func (c *Coordinator) Show(ctx context.Context, win Window) {
	Logger().Debug("show()")
}

// Hide obscures win if it is exposed and releases its render resources.
func (c *Coordinator) Hide(ctx context.Context, win Window) error {
	Logger().Debug("hide()")
	rec := c.lookup(win)
	if rec == nil {
		return ErrUnknownWindow
	}
	if win.IsExposed() {
		c.handleObscurity(ctx, rec)
	}
	return c.releaseResources(ctx, rec, false)
}

// WindowDestroyed stops rendering win, joins its worker and forgets the
// window. Rendering for win is over when it returns.
func (c *Coordinator) WindowDestroyed(ctx context.Context, win Window) error {
	rec := c.lookup(win)
	if rec == nil {
		return ErrUnknownWindow
	}
	log := Logger().With("surface", rec.id.String())
	log.Debug("begin windowDestroyed()")

	c.handleObscurity(ctx, rec)
	err := c.releaseResources(ctx, rec, true)
	rec.worker.join()
	c.remove(rec)

	log.Info("window removed")
	return err
}

// ExposureChanged starts or stops rendering according to win.IsExposed.
func (c *Coordinator) ExposureChanged(ctx context.Context, win Window) {
	Logger().Debug("exposureChanged()", "exposed", win.IsExposed())
	if win.IsExposed() {
		c.handleExposure(ctx, win)
		return
	}
	if rec := c.lookup(win); rec != nil {
		c.handleObscurity(ctx, rec)
	}
}

func validGeometry(win Window) bool {
	size := win.Size()
	if size.X <= 0 || size.Y <= 0 {
		return false
	}
	if win.IsTopLevel() {
		if screen := win.Screen(); screen != nil && !win.Geometry().Overlaps(screen.AvailableGeometry()) {
			return false
		}
	}
	return true
}

func (c *Coordinator) handleExposure(ctx context.Context, win Window) {
	rec := c.lookup(win)
	if rec == nil {
		rec = c.add(win)
		Logger().Info("window added", "surface", rec.id.String())
	}
	log := Logger().With("surface", rec.id.String())
	log.Debug("handleExposure()")

	// Bound early: the expose sync below is about to render anyway.
	rec.worker.bind(win)

	if !validGeometry(win) {
		var screen image.Rectangle
		if s := win.Screen(); s != nil {
			screen = s.AvailableGeometry()
		}
		log.Warn("expose event received for window with invalid geometry",
			"geometry", win.Geometry(),
			"screen", screen,
		)
	}

	if !win.HasHandle() {
		if err := win.Create(); err != nil {
			log.Warn("native surface could not be created", "err", err)
		}
	}

	if !rec.worker.Running() {
		log.Debug("- starting render worker")
		if err := rec.worker.start(); err != nil {
			Fatal("render worker failed to start, aborting application", err)
			return
		}
	} else {
		log.Debug("- render worker already running")
	}

	c.polishAndSync(ctx, rec, true)
	log.Debug("- done with handleExposure()")

	c.arbiter.Reevaluate(ctx)
}

func (c *Coordinator) handleObscurity(ctx context.Context, rec *surfaceRecord) {
	Logger().Debug("handleObscurity()", "surface", rec.id.String())
	ev := &ObscureEvent{Window: rec.window, reply: newReply()}
	c.rendezvous(rec, RendezvousObscure, ev, ev.reply)
	c.arbiter.Reevaluate(ctx)
}

// HandleUpdateRequest runs a polish and sync for win. The platform calls it
// after win.RequestUpdate.
func (c *Coordinator) HandleUpdateRequest(ctx context.Context, win Window) {
	if rec := c.lookup(win); rec != nil {
		Logger().Debug("- polish and sync update request", "surface", rec.id.String())
		c.polishAndSync(ctx, rec, false)
	}
}

// MaybeUpdate schedules a polish and sync for win. It may be called from
// the driver, or from win's worker while it synchronizes; calls from
// anywhere else are dropped with a warning.
func (c *Coordinator) MaybeUpdate(ctx context.Context, win Window) {
	if rec := c.lookup(win); rec != nil {
		c.maybeUpdate(ctx, rec)
	}
}

func (c *Coordinator) maybeUpdate(ctx context.Context, rec *surfaceRecord) {
	w := rec.worker
	if !w.Running() {
		return
	}
	onWorker := affinity.Holds(ctx, w.Token())
	if !affinity.Holds(ctx, c.token) && !(onWorker && w.inRendezvous()) {
		tok, _ := affinity.FromContext(ctx)
		Logger().Warn("updates can only be scheduled from the driver thread or during scene synchronization",
			"surface", rec.id.String(),
			"caller", tok.Name(),
		)
		return
	}
	if onWorker {
		Logger().Debug("- update on render worker", "surface", rec.id.String())
		rec.updateDuringSync.Store(true)
		return
	}
	rec.window.RequestUpdate()
}

// Update forces a full render pass for win after the next sync. Called on
// win's own worker it only marks the next frame for repaint, which keeps
// render-thread animations going while the driver is busy.
func (c *Coordinator) Update(ctx context.Context, win Window) {
	rec := c.lookup(win)
	if rec == nil {
		return
	}
	if affinity.Holds(ctx, rec.worker.Token()) {
		Logger().Debug("update on window - on render worker", "surface", rec.id.String())
		rec.worker.requestRepaint()
		return
	}
	rec.forcedRepaint.Store(true)
	c.maybeUpdate(ctx, rec)
}

// ScheduleRepaint marks win's next frame for repaint without a sync. With
// wake set a sleeping worker renders right away.
func (c *Coordinator) ScheduleRepaint(ctx context.Context, win Window, wake bool) {
	rec := c.lookup(win)
	if rec == nil || !rec.worker.Running() {
		return
	}
	rec.worker.post(&RepaintEvent{Wake: wake})
}

// ReleaseResources asks win's worker to drop its render resources. The
// worker exits if no window is bound; ReleaseResources then returns only
// after it has.
func (c *Coordinator) ReleaseResources(ctx context.Context, win Window) error {
	rec := c.lookup(win)
	if rec == nil {
		return ErrUnknownWindow
	}
	return c.releaseResources(ctx, rec, false)
}

func (c *Coordinator) releaseResources(ctx context.Context, rec *surfaceRecord, inDestructor bool) error {
	w := rec.worker
	log := Logger().With("surface", rec.id.String())
	log.Debug("releaseResources()", "inDestructor", inDestructor)
	if !w.Running() || !w.Active() {
		return nil
	}

	// The native surface may already be gone; cleanup then runs against an
	// offscreen stand-in created here on the driver.
	var fallback Offscreen
	var err error
	if !rec.window.HasHandle() {
		log.Debug("- using fallback surface")
		fallback, err = c.createFallback(rec.format)
	}

	log.Debug("- posting release request to render worker")
	ev := &ReleaseEvent{
		Window:       rec.window,
		InDestructor: inDestructor,
		Fallback:     fallback,
		reply:        newReply(),
	}
	c.rendezvous(rec, RendezvousRelease, ev, ev.reply)
	if fallback != nil {
		fallback.Release()
	}

	if !w.Active() {
		log.Debug("- waiting for render worker to exit")
		w.join()
		log.Debug("- render worker finished")
	}
	return err
}

func (c *Coordinator) createFallback(format Format) (Offscreen, error) {
	if c.platform == nil {
		return nil, fmt.Errorf("%w: %w", ErrFallbackSurface, ErrNoPlatform)
	}
	off, err := c.platform.CreateOffscreen(format)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFallbackSurface, err)
	}
	return off, nil
}

func (c *Coordinator) polishAndSync(ctx context.Context, rec *surfaceRecord, inExpose bool) {
	log := Logger().With("surface", rec.id.String())
	log.Debug("polishAndSync", "inExpose", inExpose)

	w := rec.worker
	if w.Window() == nil {
		log.Debug("- not exposed, abort")
		return
	}
	win := rec.window
	scene := win.Scene()

	stats := SyncStats{Surface: rec.id, InExpose: inExpose, Started: time.Now()}
	scene.PolishItems()
	stats.Polish = time.Since(stats.Started)

	rec.updateDuringSync.Store(false)
	scene.AfterAnimating()

	log.Debug("- lock for sync")
	rec.seq++
	ev := &SyncEvent{
		Window:   win,
		Size:     win.Size(),
		InExpose: inExpose,
		Force:    rec.forcedRepaint.Swap(false),
		Seq:      rec.seq,
		reply:    newReply(),
	}
	stats.Seq = ev.Seq
	waitStart := time.Now()
	stats.Lock = waitStart.Sub(stats.Started) - stats.Polish
	c.rendezvous(rec, RendezvousSync, ev, ev.reply)
	log.Debug("- unlock after sync")
	syncDone := time.Now()
	stats.BlockedForSync = syncDone.Sub(waitStart)

	if !c.arbiter.TimerActive() && c.animation.IsRunning() {
		log.Debug("- advancing animations")
		c.animation.Advance()
		// Another sync keeps animations running.
		win.RequestUpdate()
		c.incubate.Emit()
	} else if rec.updateDuringSync.Load() {
		win.RequestUpdate()
	}
	stats.Animations = time.Since(syncDone)

	log.Debug("frame prepared",
		"polish", stats.Polish,
		"lock", stats.Lock,
		"blockedForSync", stats.BlockedForSync,
		"animations", stats.Animations,
	)
	if c.observer != nil {
		c.observer.ObserveSync(stats)
	}
}

// Grab polishes and synchronizes win, renders it and returns a copy of the
// frame. The image is nil when win's worker is not running.
func (c *Coordinator) Grab(ctx context.Context, win Window) (*image.RGBA, error) {
	rec := c.lookup(win)
	if rec == nil {
		return nil, ErrUnknownWindow
	}
	Logger().Debug("grab()", "surface", rec.id.String())
	if !rec.worker.Running() {
		return nil, nil
	}
	if !win.HasHandle() {
		if err := win.Create(); err != nil {
			return nil, err
		}
	}

	Logger().Debug("- polishing items")
	win.Scene().PolishItems()

	ev := &GrabEvent{Window: win, Size: win.Size(), reply: newReply()}
	c.rendezvous(rec, RendezvousGrab, ev, ev.reply)
	Logger().Debug("- grab complete")
	return ev.Image(), nil
}

// PostJob runs job on win's worker if win is currently bound to it.
// Otherwise job is dropped without running.
func (c *Coordinator) PostJob(ctx context.Context, win Window, job Job) {
	rec := c.lookup(win)
	if rec == nil || job == nil || !rec.worker.Running() || rec.worker.Window() != win {
		Logger().Debug("- job dropped")
		return
	}
	rec.worker.post(&JobEvent{Window: win, Job: job})
}

// Shutdown destroys every tracked window and stops the animation timer.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	if c.unsub != nil {
		c.unsub()
		c.unsub = nil
	}
	var errs []error
	for _, win := range c.windows() {
		if err := c.WindowDestroyed(ctx, win); err != nil {
			errs = append(errs, err)
		}
	}
	c.arbiter.shutdown()
	return errors.Join(errs...)
}

// inlineHost runs calls in place and timers on a ticker goroutine.
type inlineHost struct {
	token affinity.Token
}

func (h inlineHost) Invoke(fn func(ctx context.Context)) {
	fn(affinity.WithToken(context.Background(), h.token))
}

func (h inlineHost) StartTimer(interval time.Duration, fn func(ctx context.Context)) func() {
	ctx, cancel := context.WithCancel(affinity.WithToken(context.Background(), h.token))
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn(ctx)
			}
		}
	}()
	return cancel
}
