package softscene

import (
	"image"
	"image/color"
)

// Kind selects how an item is drawn.
type Kind uint8

const (
	KindRect Kind = iota
	KindEllipse
	KindImage
)

func (k Kind) String() string {
	switch k {
	case KindRect:
		return "rect"
	case KindEllipse:
		return "ellipse"
	case KindImage:
		return "image"
	default:
		return "unknown"
	}
}

// Rect is an item's geometry in pixels.
type Rect struct {
	X, Y, W, H float64
}

// LayoutFunc places an item inside a scene of the given size. It runs on the
// driver during polish.
type LayoutFunc func(size image.Point) Rect

// Item is a driver-owned scene node. Setters must be called on the driver
// thread; the worker only reads items during synchronize.
type Item struct {
	scene *Scene
	id    int
	kind  Kind

	rect     Rect
	color    color.Color
	radius   float64
	rotation float64
	image    image.Image
	visible  bool
	z        int

	layout      LayoutFunc
	needsPolish bool
	dirty       bool
}

// ID returns the item's scene-unique identifier.
func (it *Item) ID() int { return it.id }

// Kind returns the item's kind.
func (it *Item) Kind() Kind { return it.kind }

// Rect returns the item's geometry.
func (it *Item) Rect() Rect { return it.rect }

// Rotation returns the rotation in radians.
func (it *Item) Rotation() float64 { return it.rotation }

// Visible reports whether the item is drawn.
func (it *Item) Visible() bool { return it.visible }

func (it *Item) changed() {
	it.dirty = true
	if it.scene != nil {
		it.scene.itemChanged()
	}
}

// SetRect moves and resizes the item.
func (it *Item) SetRect(r Rect) {
	if it.rect == r {
		return
	}
	it.rect = r
	it.changed()
}

// SetColor sets the fill color.
func (it *Item) SetColor(c color.Color) {
	it.color = c
	it.changed()
}

// SetRadius rounds the corners of a rect item.
func (it *Item) SetRadius(r float64) {
	if it.radius == r {
		return
	}
	it.radius = r
	it.changed()
}

// SetRotation rotates the item about its center.
func (it *Item) SetRotation(radians float64) {
	if it.rotation == radians {
		return
	}
	it.rotation = radians
	it.changed()
}

// SetVisible shows or hides the item.
func (it *Item) SetVisible(v bool) {
	if it.visible == v {
		return
	}
	it.visible = v
	it.changed()
}

// SetZ changes the stacking order. Higher values draw later.
func (it *Item) SetZ(z int) {
	if it.z == z {
		return
	}
	it.z = z
	if it.scene != nil {
		it.scene.orderDirty = true
	}
	it.changed()
}

// SetImage replaces the image of an image item.
func (it *Item) SetImage(img image.Image) {
	it.image = img
	it.changed()
}

// SetLayout installs a layout function evaluated on the next polish.
func (it *Item) SetLayout(fn LayoutFunc) {
	it.layout = fn
	it.needsPolish = fn != nil
	if it.scene != nil {
		it.scene.itemChanged()
	}
}

// Fill lays out an item over a fraction of the scene. Values are in [0, 1].
func Fill(x, y, w, h float64) LayoutFunc {
	return func(size image.Point) Rect {
		sw, sh := float64(size.X), float64(size.Y)
		return Rect{X: x * sw, Y: y * sh, W: w * sw, H: h * sh}
	}
}
