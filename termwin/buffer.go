package termwin

import (
	"image"
	"image/color"
)

// cell is one terminal cell showing two stacked pixels with a half block.
type cell struct {
	top    color.RGBA
	bottom color.RGBA
}

// cellBuffer holds the last presented cells of a window and tracks which
// ones changed since the previous flush.
type cellBuffer struct {
	cells  []cell
	width  int
	height int

	dirtyStamp   []uint32
	dirtyGen     uint32
	dirtyAll     bool
	dirtyCount   int
	dirtyRect    image.Rectangle
	dirtyIndices []int
}

func newCellBuffer(w, h int) *cellBuffer {
	b := &cellBuffer{}
	b.resize(w, h)
	return b
}

func (b *cellBuffer) size() (w, h int) {
	return b.width, b.height
}

// resize drops the content and marks everything dirty.
func (b *cellBuffer) resize(w, h int) {
	w, h = max(w, 0), max(h, 0)
	if w == b.width && h == b.height && b.cells != nil {
		return
	}
	b.cells = make([]cell, w*h)
	b.dirtyStamp = make([]uint32, w*h)
	b.dirtyGen = 1
	b.width = w
	b.height = h
	b.dirtyIndices = b.dirtyIndices[:0]
	b.markAllDirty()
}

func (b *cellBuffer) get(x, y int) cell {
	if x < 0 || x >= b.width || y < 0 || y >= b.height {
		return cell{}
	}
	return b.cells[y*b.width+x]
}

// set stores c and marks the cell dirty if it changed.
func (b *cellBuffer) set(x, y int, c cell) {
	if x < 0 || x >= b.width || y < 0 || y >= b.height {
		return
	}
	idx := y*b.width + x
	if b.cells[idx] == c {
		return
	}
	b.cells[idx] = c
	b.markCellDirty(x, y, idx)
}

func (b *cellBuffer) markCellDirty(x, y, idx int) {
	if b.dirtyAll || b.dirtyStamp[idx] == b.dirtyGen {
		return
	}
	b.dirtyStamp[idx] = b.dirtyGen
	b.dirtyCount++
	pt := image.Rect(x, y, x+1, y+1)
	if b.dirtyCount == 1 {
		b.dirtyRect = pt
	} else {
		b.dirtyRect = b.dirtyRect.Union(pt)
	}
	b.dirtyIndices = append(b.dirtyIndices, idx)
}

func (b *cellBuffer) markAllDirty() {
	b.dirtyAll = true
	b.dirtyCount = b.width * b.height
	b.dirtyRect = image.Rect(0, 0, b.width, b.height)
	b.dirtyIndices = b.dirtyIndices[:0]
}

func (b *cellBuffer) clearDirty() {
	b.dirtyAll = false
	b.dirtyCount = 0
	b.dirtyRect = image.Rectangle{}
	b.dirtyIndices = b.dirtyIndices[:0]
	b.dirtyGen++
	if b.dirtyGen == 0 {
		clear(b.dirtyStamp)
		b.dirtyGen = 1
	}
}

func (b *cellBuffer) isDirty() bool {
	return b.dirtyAll || b.dirtyCount > 0
}

// forEachDirty calls fn for every changed cell.
func (b *cellBuffer) forEachDirty(fn func(x, y int, c cell)) {
	if b.dirtyAll {
		for y := 0; y < b.height; y++ {
			for x := 0; x < b.width; x++ {
				fn(x, y, b.cells[y*b.width+x])
			}
		}
		return
	}
	for _, idx := range b.dirtyIndices {
		fn(idx%b.width, idx/b.width, b.cells[idx])
	}
}
