package softscene

import (
	"image"
	"image/color"
	"image/draw"
	"sync"

	"github.com/gogpu/gg"

	"github.com/odvcencio/furry-sg/state"
)

// node is the worker's copy of an Item.
type node struct {
	kind     Kind
	rect     Rect
	color    gg.RGBA
	radius   float64
	rotation float64
	visible  bool
	image    *gg.ImageBuf
}

// Renderer holds the worker-side nodes of a Scene and rasterises them.
type Renderer struct {
	background gg.RGBA
	nodes      map[int]*node
	order      []int
	dc         *gg.Context

	changed     *state.Trigger
	changedFlag bool

	mu     sync.Mutex
	frame  *image.RGBA
	frames uint64
}

func newRenderer() *Renderer {
	return &Renderer{
		nodes:   make(map[int]*node),
		changed: state.NewTrigger(),
	}
}

func toRGBA(c color.Color) gg.RGBA {
	if c == nil {
		return gg.Transparent
	}
	return gg.FromColor(c)
}

func (r *Renderer) has(id int) bool {
	_, ok := r.nodes[id]
	return ok
}

func (r *Renderer) update(it *Item) {
	n := r.nodes[it.id]
	if n == nil {
		n = &node{}
		r.nodes[it.id] = n
	}
	n.kind = it.kind
	n.rect = it.rect
	n.color = toRGBA(it.color)
	n.radius = it.radius
	n.rotation = it.rotation
	n.visible = it.visible
	n.image = nil
	if it.kind == KindImage && it.image != nil {
		n.image = gg.ImageBufFromImage(it.image)
	}
}

func (r *Renderer) remove(id int) bool {
	if _, ok := r.nodes[id]; !ok {
		return false
	}
	delete(r.nodes, id)
	return true
}

func (r *Renderer) reorder(order []int) bool {
	if len(order) == len(r.order) {
		same := true
		for i := range order {
			if order[i] != r.order[i] {
				same = false
				break
			}
		}
		if same {
			return false
		}
	}
	r.order = order
	return true
}

// ClearChangedFlag implements renderloop.Renderer.
func (r *Renderer) ClearChangedFlag() {
	r.changedFlag = false
}

func (r *Renderer) markChanged() {
	if r.changedFlag {
		return
	}
	r.changedFlag = true
	r.changed.Emit()
}

// Changed fires once per sync that modified the node tree.
func (r *Renderer) Changed() state.Subscribable {
	return r.changed
}

// Nodes returns the number of render nodes.
func (r *Renderer) Nodes() int {
	return len(r.nodes)
}

// Frames returns how many frames were rendered.
func (r *Renderer) Frames() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}

func (r *Renderer) render(size image.Point) {
	if size.X <= 0 || size.Y <= 0 {
		return
	}
	if r.dc == nil || r.dc.Width() != size.X || r.dc.Height() != size.Y {
		if r.dc != nil {
			_ = r.dc.Close()
		}
		r.dc = gg.NewContext(size.X, size.Y)
	}
	dc := r.dc
	dc.ClearWithColor(r.background)
	for _, id := range r.order {
		n := r.nodes[id]
		if n == nil || !n.visible {
			continue
		}
		drawNode(dc, n)
	}

	frame := toFrame(dc.Image())
	r.mu.Lock()
	r.frame = frame
	r.frames++
	r.mu.Unlock()
}

func drawNode(dc *gg.Context, n *node) {
	x, y, w, h := n.rect.X, n.rect.Y, n.rect.W, n.rect.H
	dc.Push()
	defer dc.Pop()
	if n.rotation != 0 {
		dc.RotateAbout(n.rotation, x+w/2, y+h/2)
	}
	switch n.kind {
	case KindRect:
		if n.radius > 0 {
			dc.DrawRoundedRectangle(x, y, w, h, n.radius)
		} else {
			dc.DrawRectangle(x, y, w, h)
		}
		dc.SetColor(n.color.Color())
		_ = dc.Fill()
	case KindEllipse:
		dc.DrawEllipse(x+w/2, y+h/2, w/2, h/2)
		dc.SetColor(n.color.Color())
		_ = dc.Fill()
	case KindImage:
		if n.image != nil {
			dc.DrawImage(n.image, x, y)
		}
	}
}

func toFrame(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		out := image.NewRGBA(rgba.Rect)
		copy(out.Pix, rgba.Pix)
		return out
	}
	out := image.NewRGBA(img.Bounds())
	draw.Draw(out, out.Rect, img, img.Bounds().Min, draw.Src)
	return out
}

// Snapshot returns a copy of the last rendered frame, or nil.
func (r *Renderer) Snapshot() *image.RGBA {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frame == nil {
		return nil
	}
	out := image.NewRGBA(r.frame.Rect)
	copy(out.Pix, r.frame.Pix)
	return out
}

func (r *Renderer) release() {
	if r.dc != nil {
		_ = r.dc.Close()
		r.dc = nil
	}
	r.nodes = make(map[int]*node)
	r.order = nil
}
