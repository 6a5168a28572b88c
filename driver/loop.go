// Package driver runs the driver thread: the goroutine that owns every
// window and all declarative scene state, and feeds platform events into
// the selected render loop.
package driver

import (
	"context"
	"errors"
	"image"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/odvcencio/furry-sg/affinity"
	"github.com/odvcencio/furry-sg/renderloop"
	"github.com/odvcencio/furry-sg/state"
)

// ErrStopped is returned when the loop has exited.
var ErrStopped = errors.New("driver: loop stopped")

// Handler receives messages the loop does not handle itself, such as input
// posted by the platform layer.
type Handler func(ctx context.Context, loop *Loop, msg Message)

// Config configures a Loop.
type Config struct {
	// Strategy builds the render loop. Defaults to renderloop.Threaded.
	Strategy renderloop.Strategy
	// MessageBuffer sizes the message queue. Defaults to 128.
	MessageBuffer int
	Platform      renderloop.Platform
	Animation     renderloop.AnimationDriver
	Observer      renderloop.FrameObserver
	FrameInterval time.Duration
	Handler       Handler
}

type timer struct {
	fn     func(ctx context.Context)
	cancel context.CancelFunc
}

// Loop is the driver thread's message loop. It hosts the render loop's
// timers and deferred calls.
type Loop struct {
	token     affinity.Token
	render    renderloop.RenderLoop
	handler   Handler
	messages  chan Message
	scheduler *QueueScheduler

	taskCtx    context.Context
	taskCancel context.CancelFunc

	mu         sync.Mutex
	requesters map[renderloop.Window]*updateRequester
	timers     map[uint64]*timer
	nextTimer  uint64

	running  atomic.Bool
	done     chan struct{}
	stopOnce sync.Once
}

// New creates a loop and its render loop. Nothing runs until Run.
func New(cfg Config) *Loop {
	bufferSize := cfg.MessageBuffer
	if bufferSize <= 0 {
		bufferSize = 128
	}
	strategy := cfg.Strategy
	if strategy == nil {
		strategy = renderloop.Threaded
	}
	taskCtx, taskCancel := context.WithCancel(context.Background())
	l := &Loop{
		token:      affinity.NewToken("driver"),
		handler:    cfg.Handler,
		messages:   make(chan Message, bufferSize),
		taskCtx:    taskCtx,
		taskCancel: taskCancel,
		requesters: make(map[renderloop.Window]*updateRequester),
		timers:     make(map[uint64]*timer),
		done:       make(chan struct{}),
	}
	l.scheduler = NewQueueScheduler(nil, l.postAsync)
	l.render = strategy(renderloop.Config{
		Host:          l,
		DriverToken:   l.token,
		Platform:      cfg.Platform,
		Animation:     cfg.Animation,
		Scheduler:     l.scheduler,
		Observer:      cfg.Observer,
		FrameInterval: cfg.FrameInterval,
	})
	return l
}

// Token returns the driver thread's affinity token.
func (l *Loop) Token() affinity.Token {
	return l.token
}

// RenderLoop returns the render loop driven by l.
func (l *Loop) RenderLoop() renderloop.RenderLoop {
	return l.render
}

// Scheduler returns a scheduler that runs callbacks on the driver thread.
func (l *Loop) Scheduler() state.Scheduler {
	return l.scheduler
}

// Done is closed when Run has returned.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// TryPost sends a message without blocking. It reports false when the queue
// is full or the loop has stopped.
func (l *Loop) TryPost(msg Message) bool {
	return l.tryPost(msg)
}

func (l *Loop) tryPost(msg Message) bool {
	if l == nil || msg == nil {
		return false
	}
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.messages <- msg:
		return true
	default:
		return false
	}
}

// Post sends a message, blocking while the queue is full. It must not be
// called on the driver thread.
func (l *Loop) Post(ctx context.Context, msg Message) error {
	select {
	case <-l.done:
		return ErrStopped
	default:
	}
	select {
	case l.messages <- msg:
		return nil
	case <-l.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// postAsync never blocks the caller, which may be the driver thread itself.
func (l *Loop) postAsync(msg Message) {
	if l.tryPost(msg) {
		return
	}
	go func() {
		_ = l.Post(l.taskCtx, msg)
	}()
}

// Spawn starts an effect bound to the loop's lifetime.
func (l *Loop) Spawn(effect Effect) {
	if l == nil || effect.Run == nil {
		return
	}
	go effect.Run(l.taskCtx, l.tryPost)
}

// Invoke queues fn to run on the driver thread.
func (l *Loop) Invoke(fn func(ctx context.Context)) {
	if fn == nil {
		return
	}
	l.postAsync(InvokeMsg{Fn: fn})
}

// StartTimer calls fn on the driver thread every interval until the
// returned stop function is called. Ticks are dropped while the queue is
// full.
func (l *Loop) StartTimer(interval time.Duration, fn func(ctx context.Context)) func() {
	ctx, cancel := context.WithCancel(l.taskCtx)
	l.mu.Lock()
	l.nextTimer++
	id := l.nextTimer
	l.timers[id] = &timer{fn: fn, cancel: cancel}
	l.mu.Unlock()

	Logger().Debug("timer started", "id", id, "interval", interval)
	effect := Every(interval, func(now time.Time) Message {
		return TimerMsg{ID: id, Time: now}
	})
	go effect.Run(ctx, l.tryPost)

	return func() {
		l.mu.Lock()
		delete(l.timers, id)
		l.mu.Unlock()
		cancel()
		Logger().Debug("timer stopped", "id", id)
	}
}

// Timers returns the number of active timers.
func (l *Loop) Timers() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.timers)
}

// RequestUpdate asks for an update request to be delivered for win.
// Requests coalesce until the driver handles the pending one. Safe for
// concurrent use.
func (l *Loop) RequestUpdate(win renderloop.Window) {
	l.requester(win).request()
}

func (l *Loop) requester(win renderloop.Window) *updateRequester {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.requesters[win]
	if !ok {
		r = newUpdateRequester(win, l.postAsync)
		l.requesters[win] = r
	}
	return r
}

func (l *Loop) forget(win renderloop.Window) {
	l.mu.Lock()
	delete(l.requesters, win)
	l.mu.Unlock()
}

// Call runs fn on the driver thread and returns its error. Called on the
// driver thread it runs fn directly.
func (l *Loop) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	if affinity.Holds(ctx, l.token) {
		return fn(ctx)
	}
	result := make(chan error, 1)
	msg := InvokeMsg{Fn: func(ctx context.Context) { result <- fn(ctx) }}
	if err := l.Post(ctx, msg); err != nil {
		return err
	}
	select {
	case err := <-result:
		return err
	case <-l.done:
		select {
		case err := <-result:
			return err
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Show posts a ShowMsg for win.
func (l *Loop) Show(win renderloop.Window) {
	l.postAsync(ShowMsg{Window: win})
}

// Hide posts a HideMsg for win.
func (l *Loop) Hide(win renderloop.Window) {
	l.postAsync(HideMsg{Window: win})
}

// ExposureChanged posts an ExposeMsg for win.
func (l *Loop) ExposureChanged(win renderloop.Window) {
	l.postAsync(ExposeMsg{Window: win})
}

// Destroy stops rendering win and waits until its worker is gone.
func (l *Loop) Destroy(ctx context.Context, win renderloop.Window) error {
	return l.Call(ctx, func(ctx context.Context) error {
		return l.destroy(ctx, win)
	})
}

func (l *Loop) destroy(ctx context.Context, win renderloop.Window) error {
	l.forget(win)
	err := l.render.WindowDestroyed(ctx, win)
	if errors.Is(err, renderloop.ErrUnknownWindow) {
		return nil
	}
	return err
}

// Grab renders win and returns a copy of the frame.
func (l *Loop) Grab(ctx context.Context, win renderloop.Window) (*image.RGBA, error) {
	var img *image.RGBA
	err := l.Call(ctx, func(ctx context.Context) error {
		var err error
		img, err = l.render.Grab(ctx, win)
		return err
	})
	return img, err
}

// Quit asks the loop to exit.
func (l *Loop) Quit() {
	l.postAsync(QuitMsg{})
}

// Run processes messages on the calling goroutine, locked to its OS thread,
// until Quit or ctx is done. On exit every window is destroyed.
func (l *Loop) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-l.done:
		return ErrStopped
	default:
	}
	if !l.running.CompareAndSwap(false, true) {
		return errors.New("driver: loop already running")
	}
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	ctx = affinity.WithToken(ctx, l.token)
	Logger().Info("driver loop started")
	defer l.finish(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-l.messages:
			if _, ok := msg.(QuitMsg); ok {
				return nil
			}
			l.dispatch(ctx, msg)
		}
	}
}

func (l *Loop) finish(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	if err := l.render.Shutdown(ctx); err != nil {
		Logger().Warn("render loop shutdown failed", "err", err)
	}
	l.taskCancel()
	l.mu.Lock()
	l.timers = make(map[uint64]*timer)
	l.mu.Unlock()
	l.stopOnce.Do(func() { close(l.done) })
	l.running.Store(false)
	Logger().Info("driver loop finished")
}

func (l *Loop) dispatch(ctx context.Context, msg Message) {
	switch m := msg.(type) {
	case ShowMsg:
		l.render.Show(ctx, m.Window)
	case HideMsg:
		if err := l.render.Hide(ctx, m.Window); err != nil && !errors.Is(err, renderloop.ErrUnknownWindow) {
			Logger().Warn("hide failed", "err", err)
		}
	case ExposeMsg:
		l.render.ExposureChanged(ctx, m.Window)
	case UpdateRequestMsg:
		// Reset first so requests made during the sync post a new message.
		l.requester(m.Window).resetPending()
		l.render.HandleUpdateRequest(ctx, m.Window)
	case InvokeMsg:
		if m.Fn != nil {
			m.Fn(ctx)
		}
	case TimerMsg:
		l.mu.Lock()
		t := l.timers[m.ID]
		l.mu.Unlock()
		if t != nil && t.fn != nil {
			t.fn(ctx)
		}
	case QueueFlushMsg:
		l.scheduler.flush()
	default:
		if l.handler != nil {
			l.handler(ctx, l, msg)
		}
	}
}

var _ renderloop.Host = (*Loop)(nil)
