package renderloop

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/odvcencio/furry-sg/state"
)

// Format describes the surface format negotiated for a window. It is reused
// when a fallback offscreen target has to stand in for a destroyed window.
type Format struct {
	Alpha       bool
	SampleCount int
}

// Screen is the display a window lives on.
type Screen interface {
	// RefreshRate reports the refresh rate in Hz. Values below 1 are treated
	// as unreliable.
	RefreshRate() float64
	AvailableGeometry() image.Rectangle
}

// Offscreen is a render target that is not backed by a window.
type Offscreen interface {
	Release()
}

// Platform provides what the loop needs from the windowing system beyond
// individual windows.
type Platform interface {
	PrimaryScreen() Screen
	CreateOffscreen(format Format) (Offscreen, error)
}

// Window is a display surface. Windows are owned by the driver thread; the
// loop only reads their geometry and state there.
type Window interface {
	Size() image.Point
	Geometry() image.Rectangle
	Screen() Screen
	IsTopLevel() bool
	IsVisible() bool
	IsExposed() bool
	// HasHandle reports whether the native surface exists.
	HasHandle() bool
	// Create makes the native surface.
	Create() error
	Format() Format
	// RequestUpdate asks the platform to deliver an update request for this
	// window later, which reaches the loop as HandleUpdateRequest.
	RequestUpdate()
	Scene() Scene
}

// Scene is the scene adaptation layer for a single window.
//
// PolishItems and AfterAnimating run on the driver thread. Synchronize,
// Render, AboutToStop, FrameSwapped and CleanupOnShutdown run on the
// window's worker. Synchronize is the only point where both sides touch
// shared scene state, and the driver is blocked while it runs.
type Scene interface {
	PolishItems()
	// AfterAnimating fires right before the driver blocks for sync.
	AfterAnimating()
	RenderContext() RenderContext
	// AnimationController guards render-thread animators; the worker holds it
	// while advancing its own animation driver.
	AnimationController() sync.Locker
	// Renderer returns the renderer created by the first Synchronize, or nil.
	Renderer() Renderer
	Synchronize(ctx context.Context)
	Render(ctx context.Context, size image.Point)
	AboutToStop()
	FrameSwapped()
	CleanupOnShutdown()
}

// CustomRenderStage is implemented by scenes that need every frame drawn
// even when the sync produced no changes.
type CustomRenderStage interface {
	ForcesRepaint() bool
}

// Renderer holds the worker-side render objects of a scene.
type Renderer interface {
	// ClearChangedFlag resets change tracking before a sync so that changes
	// made by the sync are reported through Changed.
	ClearChangedFlag()
	Changed() state.Subscribable
	// Snapshot copies the last rendered frame.
	Snapshot() *image.RGBA
}

// RenderContext holds per-window render resources. It belongs to the
// driver until the worker starts and to the worker until it exits.
type RenderContext interface {
	InitializeIfNeeded()
	CreateAnimationDriver() AnimationDriver
	// Invalidate releases render resources. target is non-nil when the
	// window's native surface is gone and an offscreen target stands in.
	Invalidate(target Offscreen)
}

// EventPump is implemented by render contexts that have platform work to
// process on the worker between frames.
type EventPump interface {
	ProcessEvents()
}

// AnimationDriver advances animations.
type AnimationDriver interface {
	Advance()
	IsRunning() bool
	Install()
}

// Host runs work on the driver thread.
type Host interface {
	// Invoke queues fn to run on the driver thread.
	Invoke(fn func(ctx context.Context))
	// StartTimer calls fn on the driver thread every interval until stop is
	// called.
	StartTimer(interval time.Duration, fn func(ctx context.Context)) (stop func())
}

// Job is work posted to run on a window's worker.
type Job func(ctx context.Context)
