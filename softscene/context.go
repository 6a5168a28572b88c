package softscene

import (
	"sync"
	"sync/atomic"

	"github.com/odvcencio/furry-sg/animation"
	"github.com/odvcencio/furry-sg/renderloop"
)

// Context is the render context of a software scene. The worker owns it
// between start and exit.
type Context struct {
	initialized   atomic.Bool
	inits         atomic.Int32
	invalidations atomic.Int32
	fallbacks     atomic.Int32

	mu       sync.Mutex
	animator *animation.Driver
	events   []func()
}

// NewContext creates an uninitialised context.
func NewContext() *Context {
	return &Context{}
}

// InitializeIfNeeded marks the context ready for rendering.
func (c *Context) InitializeIfNeeded() {
	if c.initialized.CompareAndSwap(false, true) {
		c.inits.Add(1)
	}
}

// Initialized reports whether the context holds live resources.
func (c *Context) Initialized() bool {
	return c.initialized.Load()
}

// Inits returns how many times resources were set up.
func (c *Context) Inits() int {
	return int(c.inits.Load())
}

// CreateAnimationDriver makes the worker's render-thread animation driver.
func (c *Context) CreateAnimationDriver() renderloop.AnimationDriver {
	d := animation.NewDriver()
	c.mu.Lock()
	c.animator = d
	c.mu.Unlock()
	return d
}

// Animator returns the driver made by CreateAnimationDriver, or nil.
// Start render-thread animations from a job posted to the worker, holding
// the scene's animation controller.
func (c *Context) Animator() *animation.Driver {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.animator
}

// Invalidate drops render resources. A non-nil target means the window
// surface is gone and the context was made current on a fallback.
func (c *Context) Invalidate(target renderloop.Offscreen) {
	c.initialized.Store(false)
	c.invalidations.Add(1)
	if target != nil {
		c.fallbacks.Add(1)
	}
}

// Invalidations returns how many times resources were dropped.
func (c *Context) Invalidations() int {
	return int(c.invalidations.Load())
}

// FallbackInvalidations counts invalidations made against a fallback
// surface.
func (c *Context) FallbackInvalidations() int {
	return int(c.fallbacks.Load())
}

// Post queues fn to run on the worker from its event pump.
func (c *Context) Post(fn func()) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	c.events = append(c.events, fn)
	c.mu.Unlock()
}

// ProcessEvents runs queued worker callbacks.
func (c *Context) ProcessEvents() {
	c.mu.Lock()
	events := c.events
	c.events = nil
	c.mu.Unlock()
	for _, fn := range events {
		fn()
	}
}

var (
	_ renderloop.RenderContext = (*Context)(nil)
	_ renderloop.EventPump     = (*Context)(nil)
)
