// Package softscene is a small software scene graph for the render loop.
//
// The driver builds and mutates Items. During synchronize the worker copies
// changed items into its Renderer, which rasterises them with gogpu/gg.
// After synchronize the driver is free to mutate items again while the
// worker draws from its own copies.
package softscene

import (
	"context"
	"image"
	"image/color"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/odvcencio/furry-sg/renderloop"
	"github.com/odvcencio/furry-sg/state"
)

// Config configures a Scene.
type Config struct {
	Background color.Color
	// OnChange is called on the driver whenever an item changes, typically
	// to request an update for the window.
	OnChange func()
	// DeleteLater defers destruction of render resources until after the
	// next synchronize. Destruction runs inline when nil.
	DeleteLater func(fn func())
	// Context is the render context; one is created when nil.
	Context *Context
}

// Scene implements renderloop.Scene.
type Scene struct {
	ctx         *Context
	controller  sync.Mutex
	onChange    func()
	deleteLater func(fn func())

	// Driver-owned.
	size       image.Point
	background color.Color
	bgDirty    bool
	items      []*Item
	removed    []int
	orderDirty bool
	nextID     int
	polishes   int

	renderer     atomic.Pointer[Renderer]
	swapped      *state.Trigger
	forceRepaint atomic.Bool
	stopped      atomic.Int32
	cleanups     atomic.Int32
}

// New creates an empty scene.
func New(cfg Config) *Scene {
	bg := cfg.Background
	if bg == nil {
		bg = color.Black
	}
	rc := cfg.Context
	if rc == nil {
		rc = NewContext()
	}
	return &Scene{
		ctx:         rc,
		onChange:    cfg.OnChange,
		deleteLater: cfg.DeleteLater,
		background:  bg,
		bgDirty:     true,
		swapped:     state.NewTrigger(),
	}
}

// SetOnChange replaces the change hook.
func (s *Scene) SetOnChange(fn func()) {
	s.onChange = fn
}

// SetDeleteLater replaces the deferred deletion hook.
func (s *Scene) SetDeleteLater(fn func(fn func())) {
	s.deleteLater = fn
}

func (s *Scene) itemChanged() {
	if s.onChange != nil {
		s.onChange()
	}
}

func (s *Scene) add(kind Kind, r Rect, c color.Color) *Item {
	s.nextID++
	it := &Item{
		scene:   s,
		id:      s.nextID,
		kind:    kind,
		rect:    r,
		color:   c,
		visible: true,
		dirty:   true,
		z:       len(s.items),
	}
	s.items = append(s.items, it)
	s.itemChanged()
	return it
}

// AddRect adds a filled rectangle.
func (s *Scene) AddRect(r Rect, c color.Color) *Item {
	return s.add(KindRect, r, c)
}

// AddEllipse adds a filled ellipse inscribed in r.
func (s *Scene) AddEllipse(r Rect, c color.Color) *Item {
	return s.add(KindEllipse, r, c)
}

// AddImage adds an image drawn at the origin of r.
func (s *Scene) AddImage(r Rect, img image.Image) *Item {
	it := s.add(KindImage, r, nil)
	it.image = img
	return it
}

// Remove detaches it from the scene. Its render copy is dropped on the next
// synchronize.
func (s *Scene) Remove(it *Item) {
	for i, existing := range s.items {
		if existing != it {
			continue
		}
		s.items = append(s.items[:i], s.items[i+1:]...)
		s.removed = append(s.removed, it.id)
		it.scene = nil
		release := func() { it.image = nil }
		if s.deleteLater != nil {
			s.deleteLater(release)
		} else {
			release()
		}
		s.itemChanged()
		return
	}
}

// Items returns the items in stacking order.
func (s *Scene) Items() []*Item {
	s.sortItems()
	return append([]*Item(nil), s.items...)
}

func (s *Scene) sortItems() {
	if !s.orderDirty {
		return
	}
	sort.SliceStable(s.items, func(i, j int) bool { return s.items[i].z < s.items[j].z })
	s.orderDirty = false
}

// SetBackground changes the clear color.
func (s *Scene) SetBackground(c color.Color) {
	s.background = c
	s.bgDirty = true
	s.itemChanged()
}

// Resize sets the scene size used by layouts and marks them for polish.
func (s *Scene) Resize(size image.Point) {
	if s.size == size {
		return
	}
	s.size = size
	for _, it := range s.items {
		if it.layout != nil {
			it.needsPolish = true
		}
	}
	s.itemChanged()
}

// Size returns the size set by Resize.
func (s *Scene) Size() image.Point {
	return s.size
}

// SetForceRepaint makes every frame render even without changes.
func (s *Scene) SetForceRepaint(v bool) {
	s.forceRepaint.Store(v)
}

// ForcesRepaint implements renderloop.CustomRenderStage.
func (s *Scene) ForcesRepaint() bool {
	return s.forceRepaint.Load()
}

// OnFrameSwapped registers fn to run on the worker after each presented
// frame.
func (s *Scene) OnFrameSwapped(fn func()) func() {
	return s.swapped.Subscribe(fn)
}

// FramesSwapped returns how many frames were presented.
func (s *Scene) FramesSwapped() uint64 {
	return s.swapped.Count()
}

// Polishes returns how many polish passes ran.
func (s *Scene) Polishes() int {
	return s.polishes
}

// PolishItems runs pending layouts.
func (s *Scene) PolishItems() {
	s.polishes++
	for _, it := range s.items {
		if !it.needsPolish || it.layout == nil {
			continue
		}
		it.needsPolish = false
		if r := it.layout(s.size); r != it.rect {
			it.rect = r
			it.dirty = true
		}
	}
}

// AfterAnimating is a no-op; layouts already ran during polish.
func (s *Scene) AfterAnimating() {}

// RenderContext returns the scene's render context.
func (s *Scene) RenderContext() renderloop.RenderContext {
	return s.ctx
}

// Context returns the concrete render context.
func (s *Scene) Context() *Context {
	return s.ctx
}

// AnimationController guards the worker's animation driver.
func (s *Scene) AnimationController() sync.Locker {
	return &s.controller
}

// Renderer returns the worker-side renderer, or nil before the first
// synchronize and after cleanup.
func (s *Scene) Renderer() renderloop.Renderer {
	if r := s.renderer.Load(); r != nil {
		return r
	}
	return nil
}

// Synchronize copies driver-side changes into the renderer. The driver is
// blocked while it runs.
func (s *Scene) Synchronize(ctx context.Context) {
	r := s.renderer.Load()
	fresh := r == nil
	if fresh {
		r = newRenderer()
		s.renderer.Store(r)
	}

	s.sortItems()
	changed := false
	if s.bgDirty || fresh {
		r.background = toRGBA(s.background)
		s.bgDirty = false
		changed = true
	}
	for _, id := range s.removed {
		if r.remove(id) {
			changed = true
		}
	}
	s.removed = s.removed[:0]

	order := make([]int, len(s.items))
	for i, it := range s.items {
		order[i] = it.id
		if it.dirty || fresh || !r.has(it.id) {
			r.update(it)
			it.dirty = false
			changed = true
		}
	}
	if r.reorder(order) {
		changed = true
	}
	if changed {
		r.markChanged()
	}
}

// Render draws the renderer's nodes at size.
func (s *Scene) Render(ctx context.Context, size image.Point) {
	if r := s.renderer.Load(); r != nil {
		r.render(size)
	}
}

// AboutToStop is called before the window is detached from its worker.
func (s *Scene) AboutToStop() {
	s.stopped.Add(1)
}

// FrameSwapped notifies frame listeners.
func (s *Scene) FrameSwapped() {
	s.swapped.Emit()
}

// CleanupOnShutdown drops the renderer. The next synchronize rebuilds it
// from the items.
func (s *Scene) CleanupOnShutdown() {
	if r := s.renderer.Swap(nil); r != nil {
		r.release()
	}
	s.cleanups.Add(1)
}

// Cleanups returns how many times the renderer was dropped.
func (s *Scene) Cleanups() int {
	return int(s.cleanups.Load())
}

var (
	_ renderloop.Scene             = (*Scene)(nil)
	_ renderloop.CustomRenderStage = (*Scene)(nil)
)
