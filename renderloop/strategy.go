package renderloop

import (
	"context"
	"image"

	"github.com/odvcencio/furry-sg/state"
)

// RenderLoop is what the platform layer drives. Methods take a context that
// carries the caller's affinity token.
type RenderLoop interface {
	Show(ctx context.Context, win Window)
	Hide(ctx context.Context, win Window) error
	WindowDestroyed(ctx context.Context, win Window) error
	ExposureChanged(ctx context.Context, win Window)
	Update(ctx context.Context, win Window)
	MaybeUpdate(ctx context.Context, win Window)
	HandleUpdateRequest(ctx context.Context, win Window)
	ScheduleRepaint(ctx context.Context, win Window, wake bool)
	Grab(ctx context.Context, win Window) (*image.RGBA, error)
	PostJob(ctx context.Context, win Window, job Job)
	ReleaseResources(ctx context.Context, win Window) error
	DeleteLater(fn func())

	AnimationDriver() AnimationDriver
	InterleaveIncubation() bool
	Incubation() state.Subscribable
	Surfaces() []SurfaceInfo

	Shutdown(ctx context.Context) error
}

// Strategy builds the render loop used by a driver.
type Strategy func(cfg Config) RenderLoop

// Threaded is the strategy that renders every window on its own worker.
func Threaded(cfg Config) RenderLoop {
	return New(cfg)
}

var _ RenderLoop = (*Coordinator)(nil)
