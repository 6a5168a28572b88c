package termwin

import (
	"context"
	"image"
	"image/color"
	"sync"
	"sync/atomic"

	"github.com/gdamore/tcell/v2"
	"github.com/mattn/go-runewidth"
	"golang.org/x/image/draw"

	"github.com/odvcencio/furry-sg/renderloop"
)

const halfBlock = '▀'

// WindowConfig describes a window.
type WindowConfig struct {
	Title string
	// Cells is the window's region in terminal cells. The first row is the
	// title bar; the rest shows the scene.
	Cells  image.Rectangle
	Scene  renderloop.Scene
	Format renderloop.Format
}

type frameNotifier interface {
	OnFrameSwapped(fn func()) func()
}

type resizer interface {
	Resize(size image.Point)
}

// Window is a terminal region rendered by the render loop. Lifecycle
// methods must be called on the driver thread.
type Window struct {
	term   *Terminal
	scene  renderloop.Scene
	format renderloop.Format

	mu      sync.RWMutex
	title   string
	cells   image.Rectangle
	visible bool
	exposed bool
	handle  bool

	unsub    func()
	redraw   atomic.Bool
	presents atomic.Uint64

	// Guarded by presentMu; touched by whichever worker presents.
	presentMu  sync.Mutex
	buf        *cellBuffer
	scaled     *image.RGBA
	drawnTitle string
}

// NewWindow creates a hidden window on t.
func NewWindow(t *Terminal, cfg WindowConfig) *Window {
	w := &Window{
		term:   t,
		scene:  cfg.Scene,
		format: cfg.Format,
		title:  cfg.Title,
		cells:  cfg.Cells.Canon(),
	}
	if n, ok := cfg.Scene.(frameNotifier); ok {
		w.unsub = n.OnFrameSwapped(w.presentScene)
	}
	w.resizeScene()
	t.addWindow(w)
	return w
}

func (w *Window) resizeScene() {
	if r, ok := w.scene.(resizer); ok {
		r.Resize(w.Size())
	}
}

// Title returns the title bar text.
func (w *Window) Title() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.title
}

// SetTitle changes the title bar text. It is drawn with the next frame.
func (w *Window) SetTitle(title string) {
	w.mu.Lock()
	w.title = title
	w.mu.Unlock()
	w.RequestUpdate()
}

// Cells returns the window's region in terminal cells.
func (w *Window) Cells() image.Rectangle {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cells
}

// SetCells moves or resizes the window and resizes its scene.
func (w *Window) SetCells(r image.Rectangle) {
	w.mu.Lock()
	old := w.cells
	w.cells = r.Canon()
	w.mu.Unlock()
	if old != r.Canon() {
		w.clearRegion(old)
		w.invalidateCells()
		w.resizeScene()
	}
}

func (w *Window) invalidateCells() {
	w.redraw.Store(true)
}

// Size is the scene size in pixels: each cell below the title bar holds
// two pixels stacked vertically.
func (w *Window) Size() image.Point {
	w.mu.RLock()
	defer w.mu.RUnlock()
	rows := max(w.cells.Dy()-1, 0)
	return image.Pt(w.cells.Dx()*w.term.scale, rows*2*w.term.scale)
}

// Geometry is the scene area in pixels relative to the terminal.
func (w *Window) Geometry() image.Rectangle {
	w.mu.RLock()
	origin := image.Pt(w.cells.Min.X*w.term.scale, (w.cells.Min.Y+1)*2*w.term.scale)
	w.mu.RUnlock()
	return image.Rectangle{Min: origin, Max: origin.Add(w.Size())}
}

func (w *Window) Screen() renderloop.Screen { return w.term }
func (w *Window) IsTopLevel() bool          { return true }
func (w *Window) Format() renderloop.Format { return w.format }
func (w *Window) Scene() renderloop.Scene   { return w.scene }

func (w *Window) IsVisible() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.visible
}

func (w *Window) IsExposed() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.exposed
}

func (w *Window) HasHandle() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.handle
}

// Create claims the window's native surface.
func (w *Window) Create() error {
	if w.term.closed.Load() {
		return ErrClosed
	}
	w.mu.Lock()
	w.handle = true
	w.mu.Unlock()
	w.invalidateCells()
	return nil
}

// DestroyHandle drops the native surface while keeping the window. Render
// resources released afterwards go through a fallback target.
func (w *Window) DestroyHandle() {
	w.mu.Lock()
	w.handle = false
	w.mu.Unlock()
}

// RequestUpdate asks the attached loop for an update request.
func (w *Window) RequestUpdate() {
	if loop := w.term.driverLoop(); loop != nil {
		loop.RequestUpdate(w)
	}
}

// Show makes the window visible and exposed.
func (w *Window) Show() {
	w.mu.Lock()
	w.visible = true
	w.exposed = !w.cells.Empty()
	w.mu.Unlock()
	w.invalidateCells()
	if loop := w.term.driverLoop(); loop != nil {
		loop.Show(w)
		loop.ExposureChanged(w)
	}
}

// Obscure stops rendering while keeping the window visible.
func (w *Window) Obscure() {
	w.mu.Lock()
	w.exposed = false
	w.mu.Unlock()
	if loop := w.term.driverLoop(); loop != nil {
		loop.ExposureChanged(w)
	}
}

// Hide obscures the window and releases its render resources.
func (w *Window) Hide() {
	w.mu.Lock()
	w.visible = false
	w.exposed = false
	region := w.cells
	w.mu.Unlock()
	if loop := w.term.driverLoop(); loop != nil {
		loop.ExposureChanged(w)
		loop.Hide(w)
	}
	w.clearRegion(region)
}

// Destroy stops rendering, waits for the worker to let go of the window and
// removes it from the terminal.
func (w *Window) Destroy(ctx context.Context) error {
	var err error
	if loop := w.term.driverLoop(); loop != nil {
		err = loop.Destroy(ctx, w)
	}
	if w.unsub != nil {
		w.unsub()
		w.unsub = nil
	}
	w.mu.Lock()
	w.visible = false
	w.exposed = false
	w.handle = false
	region := w.cells
	w.mu.Unlock()
	w.term.removeWindow(w)
	w.clearRegion(region)
	return err
}

// Presents returns how many frames reached the terminal.
func (w *Window) Presents() uint64 {
	return w.presents.Load()
}

func (w *Window) presentScene() {
	r := w.scene.Renderer()
	if r == nil {
		return
	}
	w.Present(r.Snapshot())
}

// Present scales frame onto the window's cells and flushes the cells that
// changed. Safe to call from a worker.
func (w *Window) Present(frame *image.RGBA) {
	if frame == nil || w.term.closed.Load() {
		return
	}
	w.mu.RLock()
	region, title, exposed := w.cells, w.title, w.exposed
	w.mu.RUnlock()
	if !exposed || region.Empty() {
		return
	}

	w.presentMu.Lock()
	defer w.presentMu.Unlock()

	cols, rows := region.Dx(), max(region.Dy()-1, 0)
	if w.buf == nil {
		w.buf = newCellBuffer(cols, rows)
	} else {
		w.buf.resize(cols, rows)
	}
	full := w.redraw.Swap(false)
	if full {
		w.buf.markAllDirty()
	}

	if rows > 0 && cols > 0 {
		bounds := image.Rect(0, 0, cols, rows*2)
		if w.scaled == nil || w.scaled.Rect != bounds {
			w.scaled = image.NewRGBA(bounds)
		}
		w.term.scaler.Scale(w.scaled, bounds, frame, frame.Bounds(), draw.Src, nil)
		for y := 0; y < rows; y++ {
			for x := 0; x < cols; x++ {
				w.buf.set(x, y, cell{
					top:    w.scaled.RGBAAt(x, 2*y),
					bottom: w.scaled.RGBAAt(x, 2*y+1),
				})
			}
		}
	}

	screen := w.term.screen
	w.buf.forEachDirty(func(x, y int, c cell) {
		screen.SetContent(region.Min.X+x, region.Min.Y+1+y, halfBlock, nil, cellStyle(c))
	})
	if full || title != w.drawnTitle {
		drawTitle(screen, region, title)
		w.drawnTitle = title
	}
	w.buf.clearDirty()
	screen.Show()
	w.presents.Add(1)
}

func rgb(c color.RGBA) tcell.Color {
	return tcell.NewRGBColor(int32(c.R), int32(c.G), int32(c.B))
}

func cellStyle(c cell) tcell.Style {
	return tcell.StyleDefault.Foreground(rgb(c.top)).Background(rgb(c.bottom))
}

func drawTitle(screen tcell.Screen, region image.Rectangle, title string) {
	cols := region.Dx()
	text := runewidth.FillRight(runewidth.Truncate(title, cols, "…"), cols)
	style := tcell.StyleDefault.Reverse(true)
	x := region.Min.X
	for _, r := range text {
		width := runewidth.RuneWidth(r)
		if width == 0 {
			continue
		}
		screen.SetContent(x, region.Min.Y, r, nil, style)
		x += width
	}
}

func (w *Window) clearRegion(r image.Rectangle) {
	if r.Empty() || w.term.closed.Load() {
		return
	}
	screen := w.term.screen
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			screen.SetContent(x, y, ' ', nil, tcell.StyleDefault)
		}
	}
	screen.Show()
}

var _ renderloop.Window = (*Window)(nil)
