package main

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/mattn/go-runewidth"

	"github.com/odvcencio/furry-sg/animation"
	"github.com/odvcencio/furry-sg/driver"
	"github.com/odvcencio/furry-sg/renderloop"
	"github.com/odvcencio/furry-sg/softscene"
	"github.com/odvcencio/furry-sg/termwin"
)

type demoWindow struct {
	cfg      WindowConfig
	win      *termwin.Window
	scene    *softscene.Scene
	anim     *animation.Animation
	obscured bool
}

// app owns the demo's windows. Everything except construction runs on the
// driver thread.
type app struct {
	cfg     Config
	term    *termwin.Terminal
	loop    *driver.Loop
	anim    *animation.Driver
	stats   *statsRecorder
	log     *slog.Logger
	grabDir string

	windows     []*demoWindow
	focus       int
	incubations int
	status      string
}

func (a *app) render() renderloop.RenderLoop {
	return a.loop.RenderLoop()
}

func (a *app) start(ctx context.Context) {
	a.render().Incubation().Subscribe(func() { a.incubations++ })
	for _, wc := range a.cfg.Windows {
		a.windows = append(a.windows, a.newWindow(wc))
	}
	a.layout()
	for _, dw := range a.windows {
		dw.win.Show()
	}
	// Runs after the expose messages queued by Show.
	a.loop.Invoke(func(ctx context.Context) {
		for _, info := range a.render().Surfaces() {
			if dw := a.byWindow(info.Window); dw != nil {
				a.stats.Name(info.ID, dw.cfg.Title)
			}
		}
		a.drawStatus()
	})
}

func (a *app) newWindow(wc WindowConfig) *demoWindow {
	bg, _ := parseColor(wc.Background)
	fg, _ := parseColor(wc.Color)
	scene := softscene.New(softscene.Config{
		Background:  bg,
		DeleteLater: a.render().DeleteLater,
	})
	spinner := scene.AddRect(softscene.Rect{}, fg)
	spinner.SetRadius(2)
	spinner.SetLayout(softscene.Fill(0.35, 0.3, 0.3, 0.4))
	ball := scene.AddEllipse(softscene.Rect{}, invert(fg))

	win := termwin.NewWindow(a.term, termwin.WindowConfig{
		Title: wc.Title,
		Scene: scene,
	})
	scene.SetOnChange(win.RequestUpdate)

	dw := &demoWindow{cfg: wc, win: win, scene: scene}
	dw.anim = &animation.Animation{
		Duration: time.Duration(wc.PeriodMS) * time.Millisecond,
		Loop:     true,
		Update: func(p float64) {
			spinner.SetRotation(2 * math.Pi * p)
			size := scene.Size()
			d := float64(min(size.X, size.Y)) / 4
			if d <= 0 {
				return
			}
			// Triangle wave back and forth across the window.
			t := 1 - math.Abs(2*p-1)
			x := t * (float64(size.X) - d)
			y := float64(size.Y) - d - 1
			ball.SetRect(softscene.Rect{X: x, Y: y, W: d, H: d})
		},
	}
	a.anim.Start(dw.anim)
	return dw
}

func invert(c color.RGBA) color.RGBA {
	return color.RGBA{R: 255 - c.R, G: 255 - c.G, B: 255 - c.B, A: 255}
}

func (a *app) byWindow(win renderloop.Window) *demoWindow {
	for _, dw := range a.windows {
		if renderloop.Window(dw.win) == win {
			return dw
		}
	}
	return nil
}

// layout tiles the windows side by side above the status row.
func (a *app) layout() {
	cols, rows := a.term.Cells()
	n := len(a.windows)
	if n == 0 {
		return
	}
	width := cols / n
	for i, dw := range a.windows {
		r := image.Rect(i*width, 0, (i+1)*width, max(rows-1, 0))
		if i == n-1 {
			r.Max.X = cols
		}
		dw.win.SetCells(r)
	}
}

func (a *app) focused() *demoWindow {
	if len(a.windows) == 0 {
		return nil
	}
	return a.windows[a.focus%len(a.windows)]
}

func (a *app) handle(ctx context.Context, loop *driver.Loop, msg driver.Message) {
	in, ok := msg.(driver.InputMsg)
	if !ok {
		return
	}
	switch ev := in.Event.(type) {
	case *tcell.EventResize:
		a.term.Resized()
		a.layout()
		a.drawStatus()
	case *tcell.EventKey:
		a.key(ctx, ev)
	}
}

func (a *app) key(ctx context.Context, ev *tcell.EventKey) {
	switch ev.Key() {
	case tcell.KeyEscape, tcell.KeyCtrlC:
		a.loop.Quit()
		return
	case tcell.KeyTab:
		if len(a.windows) > 0 {
			a.focus = (a.focus + 1) % len(a.windows)
		}
		a.drawStatus()
		return
	case tcell.KeyRune:
	default:
		return
	}

	if ev.Rune() == 'q' {
		a.loop.Quit()
		return
	}
	dw := a.focused()
	if dw == nil {
		return
	}
	switch ev.Rune() {
	case 'o':
		a.toggleObscured(dw)
	case 'g':
		a.grab(ctx, dw)
	case 'u':
		a.render().Update(ctx, dw.win)
	case 'r':
		if err := a.render().ReleaseResources(ctx, dw.win); err != nil {
			a.status = err.Error()
		}
	case 'd':
		a.destroy(ctx, dw)
	}
	a.drawStatus()
}

func (a *app) toggleObscured(dw *demoWindow) {
	if dw.obscured {
		dw.win.Show()
	} else {
		dw.win.Obscure()
	}
	dw.obscured = !dw.obscured
}

func (a *app) grab(ctx context.Context, dw *demoWindow) {
	img, err := a.render().Grab(ctx, dw.win)
	if err != nil {
		a.status = "grab failed: " + err.Error()
		return
	}
	if img == nil {
		a.status = "grab: window not rendering"
		return
	}
	name := fmt.Sprintf("grab-%d.png", time.Now().UnixNano())
	for _, info := range a.render().Surfaces() {
		if info.Window == renderloop.Window(dw.win) {
			name = fmt.Sprintf("grab-%s.png", info.ID)
		}
	}
	path := filepath.Join(a.grabDir, name)
	if err := writePNG(path, img); err != nil {
		a.status = "grab failed: " + err.Error()
		return
	}
	a.log.Info("frame grabbed", "path", path, "size", img.Rect.Size())
	a.status = "saved " + path
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (a *app) destroy(ctx context.Context, dw *demoWindow) {
	a.anim.Stop(dw.anim)
	if err := dw.win.Destroy(ctx); err != nil {
		a.log.Warn("destroy failed", "title", dw.cfg.Title, "err", err)
	}
	for i, existing := range a.windows {
		if existing == dw {
			a.windows = append(a.windows[:i], a.windows[i+1:]...)
			break
		}
	}
	a.status = "destroyed " + dw.cfg.Title
	a.layout()
}

func (a *app) drawStatus() {
	cols, rows := a.term.Cells()
	if rows == 0 {
		return
	}
	title := "-"
	if dw := a.focused(); dw != nil {
		title = dw.cfg.Title
	}
	text := fmt.Sprintf(" [%s] tab focus  o obscure  g grab  u update  r release  d destroy  q quit  |  incubations %d  %s",
		title, a.incubations, a.status)
	text = runewidth.FillRight(runewidth.Truncate(text, cols, "…"), cols)

	screen := a.term.Screen()
	style := tcell.StyleDefault.Reverse(true)
	x := 0
	for _, r := range text {
		w := runewidth.RuneWidth(r)
		if w == 0 {
			continue
		}
		screen.SetContent(x, rows-1, r, nil, style)
		x += w
	}
	screen.Show()
}
