// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package resource

import (
	"fmt"
	"image"
	"image/color"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// Image is a 2D RGBA8 pixel store, the only pixel format the engine
// supports. Every Image keeps a CPU-side pixel mirror; when the owning
// Manager has a GPU device the Image additionally owns a HAL texture and a
// lazily-created default view used both for sampling and as a render
// attachment (the view is cached per image identity, so repeated render
// passes into the same image reallocate nothing).
//
// Pixel rows are stored bottom-up in GPU convention terms only at the
// interface boundary: in memory row 0 is the top row, and callers that
// expose a bottom-left origin (buffer point edits, previews) perform the
// flip themselves.
type Image struct {
	mu sync.Mutex

	width  int
	height int
	label  string
	pix    []byte // RGBA8, len = width*height*4

	// cpuDirty means the pixel mirror is newer than the GPU texture.
	// gpuAhead means the GPU texture is newer than the mirror.
	cpuDirty bool
	gpuAhead bool

	tex      hal.Texture
	viewOnce sync.Once
	view     hal.TextureView
	viewErr  error

	mgr      *Manager
	released atomic.Bool
}

// Width returns the image width in pixels.
func (img *Image) Width() int { return img.width }

// Height returns the image height in pixels.
func (img *Image) Height() int { return img.height }

// Label returns the debug label.
func (img *Image) Label() string { return img.label }

// IsReleased reports whether the image has been released.
func (img *Image) IsReleased() bool { return img.released.Load() }

// Clear resets every pixel to transparent zero.
func (img *Image) Clear() {
	if img.released.Load() {
		return
	}
	img.mu.Lock()
	defer img.mu.Unlock()
	clear(img.pix)
	img.cpuDirty = true
	img.gpuAhead = false
}

// Set writes one pixel. Coordinates outside the image are ignored.
// The caller is responsible for any origin flip; (0,0) is the first
// stored row.
func (img *Image) Set(x, y int, c color.RGBA) {
	if img.released.Load() || x < 0 || y < 0 || x >= img.width || y >= img.height {
		return
	}
	img.mu.Lock()
	defer img.mu.Unlock()
	i := (y*img.width + x) * 4
	img.pix[i+0] = c.R
	img.pix[i+1] = c.G
	img.pix[i+2] = c.B
	img.pix[i+3] = c.A
	img.cpuDirty = true
}

// SetPixels replaces the full pixel content with RGBA8 data. The slice
// must hold exactly width*height*4 bytes.
func (img *Image) SetPixels(data []byte) error {
	if img.released.Load() {
		return ErrImageReleased
	}
	img.mu.Lock()
	defer img.mu.Unlock()
	if len(data) != len(img.pix) {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidDimensions, len(data), len(img.pix))
	}
	copy(img.pix, data)
	img.cpuDirty = true
	img.gpuAhead = false
	return nil
}

// At reads one pixel from the CPU mirror. Out-of-bounds reads return zero.
// When the GPU holds newer content the caller should go through
// Manager.ReadPixels first.
func (img *Image) At(x, y int) color.RGBA {
	if img.released.Load() || x < 0 || y < 0 || x >= img.width || y >= img.height {
		return color.RGBA{}
	}
	img.mu.Lock()
	defer img.mu.Unlock()
	i := (y*img.width + x) * 4
	return color.RGBA{R: img.pix[i], G: img.pix[i+1], B: img.pix[i+2], A: img.pix[i+3]}
}

// rgbaView wraps the pixel mirror as an image.RGBA sharing the backing
// slice. Caller holds img.mu or has exclusive access.
func (img *Image) rgbaView() *image.RGBA {
	return &image.RGBA{
		Pix:    img.pix,
		Stride: img.width * 4,
		Rect:   image.Rect(0, 0, img.width, img.height),
	}
}

// renderView returns the default texture view, creating it on first use.
// Returns nil in logical mode.
func (img *Image) renderView() (hal.TextureView, error) {
	if img.tex == nil {
		return nil, nil
	}
	img.viewOnce.Do(func() {
		img.view, img.viewErr = img.mgr.device.CreateTextureView(img.tex, &hal.TextureViewDescriptor{
			Label:         img.label + " view",
			Format:        gputypes.TextureFormatRGBA8Unorm,
			Dimension:     gputypes.TextureViewDimension2D,
			Aspect:        gputypes.TextureAspectAll,
			MipLevelCount: 1,
		})
	})
	return img.view, img.viewErr
}

// Release destroys the image's GPU resources and detaches it from the
// manager. Release is idempotent.
func (img *Image) Release() {
	if img.released.Swap(true) {
		return
	}
	img.mgr.releaseImage(img)
}
