// Package termwin is terminal platform glue for the render loop. A Terminal
// wraps a tcell screen and hosts Windows, each a cell region that shows its
// scene's swapped frames as half-block characters.
package termwin

import (
	"context"
	"errors"
	"image"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gdamore/tcell/v2"
	"golang.org/x/image/draw"

	"github.com/odvcencio/furry-sg/driver"
	"github.com/odvcencio/furry-sg/renderloop"
)

// ErrClosed is returned once the terminal has been closed.
var ErrClosed = errors.New("termwin: terminal closed")

// Config configures a Terminal.
type Config struct {
	// RefreshRate is reported by the screen. Zero means 60 Hz; values below
	// 1 are passed through so the loop falls back to its default interval.
	RefreshRate float64
	// Scale is the number of scene pixels per presented pixel. Defaults to 1.
	Scale int
	// Filter picks the scaler: "nearest", "bilinear" (default) or
	// "catmullrom".
	Filter string
}

// Terminal is a tcell screen acting as the render loop's platform.
type Terminal struct {
	screen tcell.Screen
	rate   float64
	scale  int
	scaler draw.Interpolator

	mu      sync.Mutex
	loop    *driver.Loop
	windows []*Window
	closed  atomic.Bool
	stop    chan struct{}
}

// New initialises screen and wraps it.
func New(screen tcell.Screen, cfg Config) (*Terminal, error) {
	if screen == nil {
		return nil, errors.New("termwin: nil screen")
	}
	if err := screen.Init(); err != nil {
		return nil, err
	}
	screen.HideCursor()
	screen.Clear()

	rate := cfg.RefreshRate
	if rate == 0 {
		rate = 60
	}
	scale := cfg.Scale
	if scale < 1 {
		scale = 1
	}
	return &Terminal{
		screen: screen,
		rate:   rate,
		scale:  scale,
		scaler: interpolator(cfg.Filter),
		stop:   make(chan struct{}),
	}, nil
}

func interpolator(name string) draw.Interpolator {
	switch strings.ToLower(name) {
	case "nearest":
		return draw.NearestNeighbor
	case "catmullrom":
		return draw.CatmullRom
	default:
		return draw.ApproxBiLinear
	}
}

// Screen returns the wrapped tcell screen.
func (t *Terminal) Screen() tcell.Screen {
	return t.screen
}

// Attach routes window update requests and lifecycle messages through loop.
func (t *Terminal) Attach(loop *driver.Loop) {
	t.mu.Lock()
	t.loop = loop
	t.mu.Unlock()
}

func (t *Terminal) driverLoop() *driver.Loop {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loop
}

// PumpEvents forwards tcell events to the attached loop as InputMsg until
// ctx is done or the terminal closes.
func (t *Terminal) PumpEvents(ctx context.Context) {
	events := make(chan tcell.Event, 16)
	quit := make(chan struct{})
	go t.screen.ChannelEvents(events, quit)
	defer close(quit)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if loop := t.driverLoop(); loop != nil {
				_ = loop.Post(ctx, driver.InputMsg{Event: ev})
			}
		}
	}
}

// Cells returns the terminal size in cells.
func (t *Terminal) Cells() (cols, rows int) {
	return t.screen.Size()
}

// RefreshRate implements renderloop.Screen.
func (t *Terminal) RefreshRate() float64 {
	return t.rate
}

// AvailableGeometry is the whole terminal in presented pixels.
func (t *Terminal) AvailableGeometry() image.Rectangle {
	cols, rows := t.screen.Size()
	return image.Rect(0, 0, cols*t.scale, rows*2*t.scale)
}

// PrimaryScreen implements renderloop.Platform.
func (t *Terminal) PrimaryScreen() renderloop.Screen {
	return t
}

// CreateOffscreen returns an in-memory target standing in for a window
// whose surface is gone.
func (t *Terminal) CreateOffscreen(format renderloop.Format) (renderloop.Offscreen, error) {
	if t.closed.Load() {
		return nil, ErrClosed
	}
	return &Offscreen{Format: format, Image: image.NewRGBA(image.Rect(0, 0, 1, 1))}, nil
}

// Windows returns the windows created on t.
func (t *Terminal) Windows() []*Window {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*Window(nil), t.windows...)
}

func (t *Terminal) addWindow(w *Window) {
	t.mu.Lock()
	t.windows = append(t.windows, w)
	t.mu.Unlock()
}

func (t *Terminal) removeWindow(w *Window) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, existing := range t.windows {
		if existing == w {
			t.windows = append(t.windows[:i], t.windows[i+1:]...)
			return
		}
	}
}

// Resized syncs the screen after a terminal resize and forces every window
// to redraw its cells.
func (t *Terminal) Resized() {
	t.screen.Sync()
	t.screen.Clear()
	for _, w := range t.Windows() {
		w.invalidateCells()
	}
}

// Close restores the terminal.
func (t *Terminal) Close() {
	if !t.closed.CompareAndSwap(false, true) {
		return
	}
	close(t.stop)
	t.screen.Fini()
}

// Offscreen is a fallback render target.
type Offscreen struct {
	Format   renderloop.Format
	Image    *image.RGBA
	released atomic.Bool
}

// Release implements renderloop.Offscreen.
func (o *Offscreen) Release() {
	o.released.Store(true)
}

// Released reports whether Release was called.
func (o *Offscreen) Released() bool {
	return o.released.Load()
}

var (
	_ renderloop.Platform = (*Terminal)(nil)
	_ renderloop.Screen   = (*Terminal)(nil)
)
