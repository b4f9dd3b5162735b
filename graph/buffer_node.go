// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package graph

import (
	"fmt"
	"image/color"

	"github.com/gogpu/shaderflow/resource"
)

// pointEditSize is the side length in pixels of the block painted by one
// point edit.
const pointEditSize = 3

// BufferNode is the persistent image store of the graph: a fixed-size
// RGBA8 image written by manual edits or an upstream program and read by
// downstream nodes. Its sanitized name is the uniform identifier
// downstream programs declare.
type BufferNode struct {
	baseNode
	width  int
	height int
	img    *resource.Image
}

// NewBufferNode allocates a buffer node and its backing image. The name
// is sanitized to a valid identifier.
func NewBufferNode(id, name string, width, height int, mgr *resource.Manager) (*BufferNode, error) {
	n := &BufferNode{
		baseNode: baseNode{
			id:      id,
			name:    SanitizeIdentifier(name),
			inputs:  []string{"in"},
			outputs: []string{"out"},
		},
		width:  width,
		height: height,
	}
	img, err := mgr.CreateImage(width, height, n.name)
	if err != nil {
		return nil, fmt.Errorf("buffer %q: %w", id, err)
	}
	n.img = img
	return n, nil
}

// Kind returns KindBuffer.
func (b *BufferNode) Kind() Kind { return KindBuffer }

// SetName renames the buffer. The stored name is always sanitized;
// downstream programs pick the new identifier up when their headers
// regenerate on the next tick.
func (b *BufferNode) SetName(name string) {
	b.name = SanitizeIdentifier(name)
}

// Width returns the image width in pixels.
func (b *BufferNode) Width() int { return b.width }

// Height returns the image height in pixels.
func (b *BufferNode) Height() int { return b.height }

// CurrentImage returns the owned image: the read source for downstream
// nodes and the write target for an upstream program.
func (b *BufferNode) CurrentImage() *resource.Image { return b.img }

// Resize reallocates the image at the new dimensions. Content is lost.
// On allocation failure the previous image is kept intact.
func (b *BufferNode) Resize(mgr *resource.Manager, width, height int) error {
	img, err := mgr.CreateImage(width, height, b.name)
	if err != nil {
		return fmt.Errorf("resize buffer %q: %w", b.id, err)
	}
	if b.img != nil {
		b.img.Release()
	}
	b.img = img
	b.width = width
	b.height = height
	return nil
}

// Clear fills the image with transparent zero.
func (b *BufferNode) Clear() {
	if b.img != nil {
		b.img.Clear()
	}
}

// ApplyPointEdit paints a small block of opaque white centered on the
// normalized coordinate, clamped to the image bounds. The edit surface
// uses a top-left origin while rendered content presents bottom-left, so
// the vertical coordinate flips here.
func (b *BufferNode) ApplyPointEdit(nx, ny float64) {
	if b.img == nil {
		return
	}
	px := clamp(int(nx*float64(b.width)), 0, b.width-1)
	py := clamp(int((1-ny)*float64(b.height)), 0, b.height-1)
	half := pointEditSize / 2
	white := color.RGBA{R: 255, G: 255, B: 255, A: 255}
	for dy := -half; dy <= half; dy++ {
		for dx := -half; dx <= half; dx++ {
			b.img.Set(px+dx, py+dy, white)
		}
	}
}

// ReceiveFrom copies another image into this buffer through the
// resampling copy pass, so mismatched resolutions stretch rather than
// fail.
func (b *BufferNode) ReceiveFrom(mgr *resource.Manager, src *resource.Image) error {
	if src == nil || b.img == nil {
		return nil
	}
	return mgr.CopyImage(b.img, src)
}

// Evaluate pulls content from the first inbound edge whose source is
// another buffer. Inbound program edges need no work here: the program
// writes directly into this buffer during its own evaluation.
func (b *BufferNode) Evaluate(g *Graph, mgr *resource.Manager) error {
	for _, e := range g.EdgesTo(b) {
		src, ok := e.Src.(*BufferNode)
		if !ok {
			continue
		}
		if err := b.ReceiveFrom(mgr, src.CurrentImage()); err != nil {
			return fmt.Errorf("buffer %q receive: %w", b.id, err)
		}
		break
	}
	return nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Release frees the backing image.
func (b *BufferNode) Release(_ *resource.Manager) {
	if b.img != nil {
		b.img.Release()
		b.img = nil
	}
}
