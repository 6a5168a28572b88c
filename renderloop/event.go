package renderloop

import "image"

// Event is a message posted from the driver to a worker. The set of events
// is closed.
type Event interface {
	isEvent()
}

// reply carries the acknowledgment of a rendezvous event. The worker
// releases it exactly once; the driver blocks on it.
type reply struct {
	done chan struct{}
}

func newReply() reply {
	return reply{done: make(chan struct{})}
}

func (r reply) release() {
	close(r.done)
}

func (r reply) wait() {
	<-r.done
}

// ObscureEvent detaches the window from its worker. Rendezvous.
type ObscureEvent struct {
	Window Window
	reply
}

// SyncEvent asks the worker to synchronize the scene. Rendezvous: the
// driver is released after synchronize, or after the render started when
// InExpose is set.
type SyncEvent struct {
	Window   Window
	Size     image.Point
	InExpose bool
	Force    bool
	// Seq increases by one for every sync posted to a surface.
	Seq uint64
	reply
}

// RepaintEvent marks the next frame as needing a render pass. It does not
// wake a sleeping worker unless Wake is set. Fire-and-forget.
type RepaintEvent struct {
	Wake bool
}

// ReleaseEvent asks the worker to stop if it has no window bound or the
// window is being destroyed. Rendezvous.
type ReleaseEvent struct {
	Window       Window
	InDestructor bool
	// Fallback stands in for the native surface when it no longer exists.
	Fallback Offscreen
	reply
}

// GrabEvent synchronizes and renders the window, then copies the frame.
// Rendezvous.
type GrabEvent struct {
	Window Window
	Size   image.Point
	image  *image.RGBA
	reply
}

// Image returns the grabbed frame. Valid once the rendezvous completed.
func (e *GrabEvent) Image() *image.RGBA {
	return e.image
}

// JobEvent runs Job on the worker if a window is still bound.
// Fire-and-forget.
type JobEvent struct {
	Window Window
	Job    Job
}

func (*ObscureEvent) isEvent() {}
func (*SyncEvent) isEvent()    {}
func (*RepaintEvent) isEvent() {}
func (*ReleaseEvent) isEvent() {}
func (*GrabEvent) isEvent()    {}
func (*JobEvent) isEvent()     {}

func eventName(e Event) string {
	switch e.(type) {
	case *ObscureEvent:
		return "Obscure"
	case *SyncEvent:
		return "RequestSync"
	case *RepaintEvent:
		return "RequestRepaint"
	case *ReleaseEvent:
		return "TryRelease"
	case *GrabEvent:
		return "Grab"
	case *JobEvent:
		return "PostJob"
	default:
		return "unknown"
	}
}
