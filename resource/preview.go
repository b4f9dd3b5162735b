// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package resource

import (
	"fmt"
	"image"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"golang.org/x/image/draw"
)

// ReadPixels synchronizes the CPU mirror with the GPU texture when the
// GPU holds newer content, then returns the mirror as a freshly
// allocated RGBA image. Row 0 of the result is the top row.
func (m *Manager) ReadPixels(img *Image) (*image.RGBA, error) {
	if img == nil {
		return nil, ErrNilImage
	}
	if img.IsReleased() {
		return nil, ErrImageReleased
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrManagerClosed
	}
	m.mu.Unlock()

	img.mu.Lock()
	needReadback := img.gpuAhead && img.tex != nil
	img.mu.Unlock()

	if needReadback {
		if err := m.readback(img); err != nil {
			return nil, err
		}
	}

	img.mu.Lock()
	defer img.mu.Unlock()
	out := image.NewRGBA(image.Rect(0, 0, img.width, img.height))
	copy(out.Pix, img.pix)
	return out, nil
}

// DrawPreview scales the image into dst, flipping vertically so the
// bottom-left origin of rendered content lands at the bottom of the
// preview. dst keeps its own dimensions; aspect is not preserved.
func (m *Manager) DrawPreview(img *Image, dst *image.RGBA) error {
	if dst == nil {
		return ErrNilTarget
	}
	src, err := m.ReadPixels(img)
	if err != nil {
		return err
	}

	// Flip in place: previews present GL-style bottom-left origin.
	flipVertical(src)

	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return nil
}

// readback copies the texture into a staging buffer and refreshes the
// CPU mirror. BytesPerRow must be 256-byte aligned for the copy, so rows
// are padded in the staging buffer and tightened on the way out.
func (m *Manager) readback(img *Image) error {
	encoder, err := m.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{
		Label: img.label + " readback",
	})
	if err != nil {
		return fmt.Errorf("create encoder: %w", err)
	}
	if err := encoder.BeginEncoding(img.label + " readback"); err != nil {
		return fmt.Errorf("begin encoding: %w", err)
	}

	w := uint32(img.width)
	h := uint32(img.height)
	bytesPerRow := w * 4
	alignedBytesPerRow := (bytesPerRow + 255) &^ 255
	stagingSize := uint64(alignedBytesPerRow) * uint64(h)

	stagingBuf, err := m.device.CreateBuffer(&hal.BufferDescriptor{
		Label: img.label + " staging",
		Size:  stagingSize,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		encoder.DiscardEncoding()
		return fmt.Errorf("create staging buffer: %w", err)
	}
	defer m.device.DestroyBuffer(stagingBuf)

	encoder.TransitionTextures([]hal.TextureBarrier{{
		Texture: img.tex,
		Usage: hal.TextureUsageTransition{
			OldUsage: gputypes.TextureUsageRenderAttachment,
			NewUsage: gputypes.TextureUsageCopySrc,
		},
	}})
	encoder.CopyTextureToBuffer(img.tex, stagingBuf, []hal.BufferTextureCopy{{
		BufferLayout: hal.ImageDataLayout{Offset: 0, BytesPerRow: alignedBytesPerRow, RowsPerImage: h},
		TextureBase:  hal.ImageCopyTexture{Texture: img.tex, MipLevel: 0},
		Size:         hal.Extent3D{Width: w, Height: h, DepthOrArrayLayers: 1},
	}})
	encoder.TransitionTextures([]hal.TextureBarrier{{
		Texture: img.tex,
		Usage: hal.TextureUsageTransition{
			OldUsage: gputypes.TextureUsageCopySrc,
			NewUsage: gputypes.TextureUsageRenderAttachment,
		},
	}})

	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		encoder.DiscardEncoding()
		return fmt.Errorf("end encoding: %w", err)
	}
	defer m.device.FreeCommandBuffer(cmdBuf)

	if err := m.submitAndWait(cmdBuf); err != nil {
		return err
	}

	readbackData := make([]byte, stagingSize)
	if err := m.queue.ReadBuffer(stagingBuf, 0, readbackData); err != nil {
		return fmt.Errorf("readback: %w", err)
	}

	img.mu.Lock()
	defer img.mu.Unlock()
	if alignedBytesPerRow == bytesPerRow {
		copy(img.pix, readbackData[:len(img.pix)])
	} else {
		for row := uint32(0); row < h; row++ {
			src := readbackData[row*alignedBytesPerRow : row*alignedBytesPerRow+bytesPerRow]
			copy(img.pix[row*bytesPerRow:], src)
		}
	}
	img.gpuAhead = false
	img.cpuDirty = false
	m.stats.readbacks.Add(1)
	return nil
}

func flipVertical(img *image.RGBA) {
	w := img.Rect.Dx()
	h := img.Rect.Dy()
	stride := img.Stride
	tmp := make([]byte, w*4)
	for y := 0; y < h/2; y++ {
		top := img.Pix[y*stride : y*stride+w*4]
		bot := img.Pix[(h-1-y)*stride : (h-1-y)*stride+w*4]
		copy(tmp, top)
		copy(top, bot)
		copy(bot, tmp)
	}
}
