package driver

import (
	"context"
	"time"

	"github.com/odvcencio/furry-sg/renderloop"
)

// Message is an event handled on the driver thread. Messages come from the
// platform layer, timers, or other goroutines.
type Message interface {
	isMessage()
}

// ShowMsg reports that a window became visible.
type ShowMsg struct {
	Window renderloop.Window
}

func (ShowMsg) isMessage() {}

// HideMsg reports that a window was hidden.
type HideMsg struct {
	Window renderloop.Window
}

func (HideMsg) isMessage() {}

// ExposeMsg reports that a window's exposure changed. The window's
// IsExposed tells which way.
type ExposeMsg struct {
	Window renderloop.Window
}

func (ExposeMsg) isMessage() {}

// UpdateRequestMsg delivers a coalesced update request for a window.
type UpdateRequestMsg struct {
	Window renderloop.Window
}

func (UpdateRequestMsg) isMessage() {}

// InvokeMsg runs Fn on the driver thread.
type InvokeMsg struct {
	Fn func(ctx context.Context)
}

func (InvokeMsg) isMessage() {}

// TimerMsg is a tick of a timer started with StartTimer.
type TimerMsg struct {
	ID   uint64
	Time time.Time
}

func (TimerMsg) isMessage() {}

// InputMsg carries a platform input event to the loop's Handler.
type InputMsg struct {
	Event any
}

func (InputMsg) isMessage() {}

// QueueFlushMsg flushes callbacks scheduled through Scheduler.
type QueueFlushMsg struct{}

func (QueueFlushMsg) isMessage() {}

// QuitMsg stops the loop.
type QuitMsg struct{}

func (QuitMsg) isMessage() {}
