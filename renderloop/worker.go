package renderloop

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/odvcencio/furry-sg/affinity"
	"github.com/odvcencio/furry-sg/state"
)

type updateRequest uint8

const (
	syncRequest updateRequest = 1 << iota
	repaintRequest
	exposeBit

	exposeRequest = exposeBit | repaintRequest | syncRequest
)

// Worker renders one window on its own goroutine, locked to an OS thread.
//
// The driver may set the bound window and post events; everything else is
// touched only by the worker goroutine.
type Worker struct {
	id       SurfaceID
	token    affinity.Token
	driver   affinity.Token
	interval time.Duration
	deferred *state.Queue
	observer FrameObserver
	log      *slog.Logger

	context    *affinity.Owned[RenderContext]
	controller *affinity.Owned[sync.Locker]
	events     *EventQueue

	mu                  sync.Mutex
	pending             updateRequest
	window              Window
	size                image.Point
	active              bool
	sleeping            bool
	stopEventProcessing bool
	rendezvous          Rendezvous

	running atomic.Bool
	done    chan struct{}

	// Owned by the worker goroutine while it runs.
	ctx          context.Context
	rc           RenderContext
	lock         sync.Locker
	animator     AnimationDriver
	syncAck      *reply
	syncSeq      uint64
	changed      atomic.Bool
	rendererSubs *state.Subscriptions
}

type workerConfig struct {
	id       SurfaceID
	driver   affinity.Token
	scene    Scene
	interval time.Duration
	deferred *state.Queue
	observer FrameObserver
}

func newWorker(cfg workerConfig) *Worker {
	w := &Worker{
		id:           cfg.id,
		token:        affinity.NewToken("render:" + cfg.id.String()),
		driver:       cfg.driver,
		interval:     cfg.interval,
		deferred:     cfg.deferred,
		observer:     cfg.observer,
		events:       NewEventQueue(),
		rendererSubs: state.NewSubscriptions(),
	}
	var rc RenderContext
	var controller sync.Locker
	if cfg.scene != nil {
		rc = cfg.scene.RenderContext()
		controller = cfg.scene.AnimationController()
	}
	if controller == nil {
		controller = &sync.Mutex{}
	}
	w.context = affinity.Own(cfg.driver, rc)
	w.controller = affinity.Own(cfg.driver, controller)
	w.done = make(chan struct{})
	close(w.done)
	return w
}

// Token returns the affinity token carried by contexts passed to scene
// callbacks and jobs running on this worker.
func (w *Worker) Token() affinity.Token {
	return w.token
}

// Running reports whether the worker goroutine is alive.
func (w *Worker) Running() bool {
	return w.running.Load()
}

// Active reports whether the worker loop keeps going. It turns false when a
// release request is accepted.
func (w *Worker) Active() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.active
}

// Sleeping reports whether the worker is blocked waiting for events.
func (w *Worker) Sleeping() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sleeping
}

// Window returns the bound window, or nil while obscured.
func (w *Worker) Window() Window {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.window
}

// Rendezvous returns the handshake in flight, if any.
func (w *Worker) Rendezvous() Rendezvous {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rendezvous
}

func (w *Worker) bind(win Window) {
	w.mu.Lock()
	w.window = win
	w.mu.Unlock()
}

func (w *Worker) beginRendezvous(kind Rendezvous) {
	w.mu.Lock()
	w.rendezvous = kind
	w.mu.Unlock()
}

func (w *Worker) inRendezvous() bool {
	return w.Rendezvous() != Idle
}

func (w *Worker) post(e Event) {
	w.events.AddEvent(e)
}

// start hands the render resources to the worker and launches it. It
// returns once the worker has taken ownership, or with the reason it could
// not.
func (w *Worker) start() error {
	if err := w.context.Transfer(w.driver, w.token); err != nil {
		return fmt.Errorf("transfer render context: %w", err)
	}
	if err := w.controller.Transfer(w.driver, w.token); err != nil {
		_ = w.context.Transfer(w.token, w.driver)
		return fmt.Errorf("transfer animation controller: %w", err)
	}
	w.mu.Lock()
	w.active = true
	w.mu.Unlock()
	w.done = make(chan struct{})
	w.running.Store(true)

	ready := make(chan error, 1)
	go w.run(ready)
	if err := <-ready; err != nil {
		<-w.done
		return err
	}
	return nil
}

// join blocks until the worker goroutine has exited.
func (w *Worker) join() {
	<-w.done
}

func (w *Worker) run(ready chan<- error) {
	// Render resources may be bound to the thread. The thread is not
	// unlocked so that it is discarded when the goroutine ends.
	runtime.LockOSThread()

	w.log = Logger().With("surface", w.id.String(), "thread", "render")
	defer w.exit()

	rc, err := w.context.Get(w.token)
	if err != nil {
		ready <- err
		return
	}
	lock, err := w.controller.Get(w.token)
	if err != nil {
		ready <- err
		return
	}
	if rc == nil {
		ready <- fmt.Errorf("window has no render context")
		return
	}
	w.rc = rc
	w.lock = lock
	w.ctx = affinity.WithToken(context.Background(), w.token)
	w.animator = rc.CreateAnimationDriver()
	if w.animator == nil {
		w.animator = stoppedAnimation{}
	}
	w.animator.Install()
	ready <- nil

	w.log.Info("render worker started")
	for w.Active() {
		if win := w.Window(); win != nil {
			rc.InitializeIfNeeded()
			w.syncAndRender(win)
		}

		w.processEvents()
		if pump, ok := rc.(EventPump); ok {
			pump.ProcessEvents()
		}

		w.mu.Lock()
		idle := w.active && (w.pending == 0 || w.window == nil)
		if idle {
			w.sleeping = true
		}
		w.mu.Unlock()
		if idle {
			w.log.Debug("done drawing, sleep")
			w.processEventsAndWaitForMore()
			w.mu.Lock()
			w.sleeping = false
			w.mu.Unlock()
		}
	}
	w.log.Info("render worker finished")
}

func (w *Worker) exit() {
	w.animator = nil
	w.rc = nil
	w.lock = nil
	w.rendererSubs.Clear()
	if err := w.context.Transfer(w.token, w.driver); err != nil && w.log != nil {
		w.log.Debug("render context not returned", "err", err)
	}
	_ = w.controller.Transfer(w.token, w.driver)
	w.running.Store(false)
	close(w.done)
}

func (w *Worker) processEvents() {
	for {
		e, ok := w.events.TakeEvent(false)
		if !ok {
			return
		}
		w.handle(e)
	}
}

func (w *Worker) processEventsAndWaitForMore() {
	w.mu.Lock()
	w.stopEventProcessing = false
	w.mu.Unlock()
	for {
		w.mu.Lock()
		stop := w.stopEventProcessing
		w.mu.Unlock()
		if stop {
			return
		}
		e, _ := w.events.TakeEvent(true)
		w.handle(e)
	}
}

func (w *Worker) handle(e Event) {
	w.log.Debug(eventName(e))
	switch e := e.(type) {
	case *ObscureEvent:
		w.mu.Lock()
		win := w.window
		w.mu.Unlock()
		if win != nil {
			scene := win.Scene()
			scene.AboutToStop()
			scene.CleanupOnShutdown()
			w.rendererSubs.Clear()
			w.mu.Lock()
			w.window = nil
			w.mu.Unlock()
			w.log.Debug("- window removed")
		}
		w.release(e.reply)

	case *SyncEvent:
		w.mu.Lock()
		if w.sleeping {
			w.stopEventProcessing = true
		}
		w.window = e.Window
		w.size = e.Size
		w.pending |= syncRequest
		if e.InExpose {
			w.pending |= exposeRequest
		}
		if e.Force {
			w.pending |= repaintRequest
		}
		w.mu.Unlock()
		if w.syncAck != nil {
			// Only one rendezvous per surface can be in flight, so a stale
			// ack has no waiter left that depends on the rendezvous state.
			w.syncAck.release()
		}
		ack := e.reply
		w.syncAck = &ack
		w.syncSeq = e.Seq

	case *RepaintEvent:
		w.mu.Lock()
		w.pending |= repaintRequest
		if e.Wake && w.sleeping {
			w.stopEventProcessing = true
		}
		w.mu.Unlock()

	case *ReleaseEvent:
		w.mu.Lock()
		deactivate := w.window == nil || e.InDestructor
		if deactivate {
			w.active = false
			if w.sleeping {
				w.stopEventProcessing = true
			}
		}
		w.mu.Unlock()
		if deactivate {
			w.log.Debug("- setting exit flag and invalidating render context")
			w.rendererSubs.Clear()
			w.rc.Invalidate(e.Fallback)
		} else {
			w.log.Debug("- not releasing because window is still active")
		}
		w.release(e.reply)

	case *GrabEvent:
		w.mu.Lock()
		win := w.window
		if win != nil {
			w.size = e.Size
		}
		size := w.size
		w.mu.Unlock()
		if win != nil && size.X > 0 && size.Y > 0 {
			scene := win.Scene()
			w.log.Debug("- sync scene graph")
			w.synchronizeScene(scene)
			w.log.Debug("- rendering scene graph")
			scene.Render(w.ctx, size)
			if r := scene.Renderer(); r != nil {
				e.image = r.Snapshot()
			}
		}
		w.log.Debug("- waking driver to handle result")
		w.release(e.reply)

	case *JobEvent:
		if w.Window() != nil && e.Job != nil {
			e.Job(w.ctx)
			w.log.Debug("- job done")
		}
		e.Job = nil
	}
}

// release ends the rendezvous and unblocks the driver.
func (w *Worker) release(r reply) {
	w.mu.Lock()
	w.rendezvous = Idle
	w.mu.Unlock()
	r.release()
}

// wake releases the driver waiting on the current sync, if any.
func (w *Worker) wake() {
	ack := w.syncAck
	w.syncAck = nil
	if ack == nil {
		return
	}
	w.release(*ack)
}

// requestRepaint is called on the worker itself, typically by render-thread
// animations while the driver is busy elsewhere.
func (w *Worker) requestRepaint() {
	w.mu.Lock()
	if w.sleeping {
		w.stopEventProcessing = true
	}
	if w.window != nil {
		w.pending |= repaintRequest
	}
	w.mu.Unlock()
}

func (w *Worker) syncAndRender(win Window) {
	stats := FrameStats{Surface: w.id, Started: time.Now()}
	w.log.Debug("syncAndRender()")

	w.changed.Store(false)
	scene := win.Scene()

	w.mu.Lock()
	pending := w.pending
	w.pending = 0
	size := w.size
	w.mu.Unlock()

	repaintRequested := pending&repaintRequest != 0
	if stage, ok := scene.(CustomRenderStage); ok && stage.ForcesRepaint() {
		repaintRequested = true
	}
	syncRequested := pending&syncRequest != 0
	exposeRequested := pending&exposeRequest == exposeRequest
	stats.Expose = exposeRequested
	stats.Seq = w.syncSeq

	if syncRequested {
		w.log.Debug("- update pending, doing sync")
		w.sync(scene, size, exposeRequested)
		stats.Synced = true
	}
	stats.Sync = time.Since(stats.Started)

	if !w.changed.Load() && !repaintRequested {
		w.log.Debug("- no changes, render aborted")
		stats.Total = time.Since(stats.Started)
		w.observe(stats)
		if wait := w.interval - stats.Total; wait > 0 {
			time.Sleep(wait)
		}
		return
	}

	w.log.Debug("- rendering started")
	if w.animator.IsRunning() {
		w.lock.Lock()
		w.animator.Advance()
		w.lock.Unlock()
	}

	renderStart := time.Now()
	if scene.Renderer() != nil && size.X > 0 && size.Y > 0 {
		scene.Render(w.ctx, size)
		scene.FrameSwapped()
		stats.Rendered = true
	} else {
		stats.Skipped = true
		w.log.Debug("- window not ready, skipping render")
	}
	stats.Render = time.Since(renderStart)
	w.log.Debug("- rendering done")

	// Released here rather than after FrameSwapped so the driver is not held
	// when the first frame could not be rendered.
	if exposeRequested {
		w.log.Debug("- wake driver after initial expose")
		w.wake()
	}

	stats.Total = time.Since(stats.Started)
	w.log.Debug("frame rendered",
		"total", stats.Total,
		"sync", stats.Sync,
		"render", stats.Render,
	)
	w.observe(stats)
}

// sync copies the scene into the render objects while the driver is
// blocked. Except during an expose, the driver is released right after.
func (w *Worker) sync(scene Scene, size image.Point, inExpose bool) {
	w.log.Debug("sync()")
	if size.X > 0 && size.Y > 0 {
		w.synchronizeScene(scene)
		// Deletions requested by the driver are safe now that the scene no
		// longer references the objects.
		w.deferred.Flush()
	} else {
		w.log.Debug("- window has bad size, sync aborted")
	}

	if !inExpose {
		w.log.Debug("- sync complete, waking driver")
		w.wake()
	}
}

func (w *Worker) synchronizeScene(scene Scene) {
	r := scene.Renderer()
	hadRenderer := r != nil
	if hadRenderer {
		r.ClearChangedFlag()
	}
	scene.Synchronize(w.ctx)
	if hadRenderer {
		return
	}
	if r = scene.Renderer(); r != nil {
		w.log.Debug("- renderer was created")
		w.changed.Store(true)
		if changed := r.Changed(); changed != nil {
			w.rendererSubs.Subscribe(changed, func() {
				w.changed.Store(true)
			})
		}
	}
}

func (w *Worker) observe(stats FrameStats) {
	if w.observer != nil {
		w.observer.ObserveFrame(stats)
	}
}

type stoppedAnimation struct{}

func (stoppedAnimation) Advance()        {}
func (stoppedAnimation) IsRunning() bool { return false }
func (stoppedAnimation) Install()        {}
