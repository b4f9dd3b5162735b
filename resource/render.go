// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package resource

import (
	"encoding/binary"
	"fmt"
	"image"
	"log/slog"
	"math"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"golang.org/x/image/draw"
)

// copyFragmentWGSL is the fragment stage of the built-in copy program.
// It resamples its single input across the full destination, which makes
// it the GPU path for size-changing image copies.
const copyFragmentWGSL = `@group(0) @binding(0) var src_sampler: sampler;
@group(0) @binding(1) var src_tex: texture_2d<f32>;

@fragment
fn fs_main(in: VertexOutput) -> @location(0) vec4<f32> {
    return textureSample(src_tex, src_sampler, in.uv);
}
`

// renderTimeout bounds the fence wait after a submit.
const renderTimeout = 5 * time.Second

// RenderInto executes one full-target pass of prog into dst. The target
// is cleared to transparent before the fragment stage runs, so the pass
// fully determines dst's contents.
//
// inputs maps texture uniform names to source images; names the program
// does not declare are ignored, and declared uniforms with no live input
// sample the 1x1 placeholder. scalars maps scalar uniform names to their
// component values, zero-filled when absent or short.
//
// In logical mode the pass is counted but no pixels change; orchestration
// (which program ran against which target, with which bindings) is still
// fully observable through errors and Stats.
func (m *Manager) RenderInto(dst *Image, prog *Program, inputs map[string]*Image, scalars map[string][]float32) error {
	if dst == nil {
		return ErrNilTarget
	}
	if prog == nil {
		return ErrNilProgram
	}
	if dst.IsReleased() {
		return fmt.Errorf("render target %q: %w", dst.label, ErrImageReleased)
	}
	if prog.IsReleased() {
		return fmt.Errorf("program %q: %w", prog.label, ErrProgramReleased)
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	device := m.device
	m.mu.Unlock()

	if device == nil {
		m.stats.renders.Add(1)
		return nil
	}

	// A program may read its own target through a feedback edge. The
	// pass clears dst first, so snapshot dst and sample the copy.
	var feedback *Image
	for name, src := range inputs {
		if src != dst {
			continue
		}
		snap, err := m.snapshotImage(dst)
		if err != nil {
			return fmt.Errorf("snapshot feedback input %q: %w", name, err)
		}
		feedback = snap
		break
	}
	if feedback != nil {
		defer feedback.Release()
		rebound := make(map[string]*Image, len(inputs))
		for name, src := range inputs {
			if src == dst {
				rebound[name] = feedback
			} else {
				rebound[name] = src
			}
		}
		inputs = rebound
	}

	if err := m.renderPass(dst, prog, inputs, scalars); err != nil {
		return err
	}
	m.stats.renders.Add(1)
	logger().Debug("render pass",
		slog.String("program", prog.label),
		slog.String("target", dst.label),
		slog.Int("inputs", len(inputs)))
	return nil
}

func (m *Manager) renderPass(dst *Image, prog *Program, inputs map[string]*Image, scalars map[string][]float32) error {
	dstView, err := dst.renderView()
	if err != nil {
		return fmt.Errorf("target view %q: %w", dst.label, err)
	}

	// Resolve one view per declared texture uniform, uploading stale
	// CPU mirrors on the way.
	views := make([]hal.TextureView, len(prog.textures))
	for i, name := range prog.textures {
		src := inputs[name]
		if src == nil || src.IsReleased() {
			src = m.placeholder
		}
		if err := m.uploadIfDirty(src); err != nil {
			return fmt.Errorf("upload input %q: %w", name, err)
		}
		view, err := src.renderView()
		if err != nil {
			return fmt.Errorf("input view %q: %w", name, err)
		}
		views[i] = view
	}

	entries := make([]gputypes.BindGroupEntry, 0, len(views)+1)
	entries = append(entries, gputypes.BindGroupEntry{
		Binding:  0,
		Resource: gputypes.SamplerBinding{Sampler: m.sampler.NativeHandle()},
	})
	for i, view := range views {
		entries = append(entries, gputypes.BindGroupEntry{
			Binding:  uint32(i) + 1,
			Resource: gputypes.TextureViewBinding{TextureView: view.NativeHandle()},
		})
	}
	textureBind, err := m.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:   prog.label + " textures",
		Layout:  prog.textureLayout,
		Entries: entries,
	})
	if err != nil {
		return fmt.Errorf("create texture bind group: %w", err)
	}
	defer m.device.DestroyBindGroup(textureBind)

	var scalarBind hal.BindGroup
	if size := prog.scalarBufferSize(); size > 0 {
		data := packScalars(prog.scalars, scalars)
		uniformBuf, err := m.createAndUploadBuffer(prog.label+" scalars", data,
			gputypes.BufferUsageUniform|gputypes.BufferUsageCopyDst)
		if err != nil {
			return err
		}
		defer m.device.DestroyBuffer(uniformBuf)

		scalarBind, err = m.device.CreateBindGroup(&hal.BindGroupDescriptor{
			Label:  prog.label + " scalar bind",
			Layout: prog.scalarLayout,
			Entries: []gputypes.BindGroupEntry{
				{Binding: 0, Resource: gputypes.BufferBinding{
					Buffer: uniformBuf.NativeHandle(), Offset: 0, Size: uint64(size),
				}},
			},
		})
		if err != nil {
			return fmt.Errorf("create scalar bind group: %w", err)
		}
		defer m.device.DestroyBindGroup(scalarBind)
	}

	encoder, err := m.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{
		Label: prog.label + " encoder",
	})
	if err != nil {
		return fmt.Errorf("create encoder: %w", err)
	}
	if err := encoder.BeginEncoding(prog.label); err != nil {
		return fmt.Errorf("begin encoding: %w", err)
	}

	rp := encoder.BeginRenderPass(&hal.RenderPassDescriptor{
		Label: prog.label,
		ColorAttachments: []hal.RenderPassColorAttachment{{
			View:       dstView,
			LoadOp:     gputypes.LoadOpClear,
			StoreOp:    gputypes.StoreOpStore,
			ClearValue: gputypes.Color{R: 0, G: 0, B: 0, A: 0},
		}},
	})
	rp.SetPipeline(prog.pipeline)
	rp.SetBindGroup(0, textureBind, nil)
	if scalarBind != nil {
		rp.SetBindGroup(1, scalarBind, nil)
	}
	rp.Draw(3, 1, 0, 0)
	rp.End()

	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		encoder.DiscardEncoding()
		return fmt.Errorf("end encoding: %w", err)
	}
	defer m.device.FreeCommandBuffer(cmdBuf)

	if err := m.submitAndWait(cmdBuf); err != nil {
		return err
	}

	dst.mu.Lock()
	dst.gpuAhead = true
	dst.cpuDirty = false
	dst.mu.Unlock()
	return nil
}

// CopyImage copies src into dst, resampling when the dimensions differ.
// On the GPU this runs the built-in copy program; in logical mode it is
// a CPU resample of the pixel mirrors, so copies remain exact in both
// modes.
func (m *Manager) CopyImage(dst, src *Image) error {
	if dst == nil || src == nil {
		return ErrNilImage
	}
	if dst.IsReleased() || src.IsReleased() {
		return ErrImageReleased
	}
	if dst == src {
		return nil
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	device := m.device
	m.mu.Unlock()

	if device == nil {
		src.mu.Lock()
		srcView := *src.rgbaView()
		srcView.Pix = append([]byte(nil), srcView.Pix...)
		src.mu.Unlock()

		dst.mu.Lock()
		defer dst.mu.Unlock()
		if dst.width == src.width && dst.height == src.height {
			copy(dst.pix, srcView.Pix)
		} else {
			draw.ApproxBiLinear.Scale(dst.rgbaView(), image.Rect(0, 0, dst.width, dst.height),
				&srcView, srcView.Rect, draw.Src, nil)
		}
		dst.cpuDirty = true
		dst.gpuAhead = false
		return nil
	}

	prog, err := m.copyProgram()
	if err != nil {
		return err
	}
	return m.RenderInto(dst, prog, map[string]*Image{"src_tex": src}, nil)
}

// copyProgram returns the built-in resampling copy program, compiled on
// first use and then served from the program cache.
func (m *Manager) copyProgram() (*Program, error) {
	return m.CompileProgram(&ProgramSpec{
		Label:           "copy",
		FragmentWGSL:    copyFragmentWGSL,
		TextureUniforms: []string{"src_tex"},
	})
}

// snapshotImage clones an image at its current size and contents.
func (m *Manager) snapshotImage(src *Image) (*Image, error) {
	snap, err := m.CreateImage(src.width, src.height, src.label+" snapshot")
	if err != nil {
		return nil, err
	}
	if err := m.CopyImage(snap, src); err != nil {
		snap.Release()
		return nil, err
	}
	return snap, nil
}

// uploadIfDirty pushes the CPU mirror to the texture when the mirror is
// the newer side. No-op in logical mode.
func (m *Manager) uploadIfDirty(img *Image) error {
	if img.tex == nil {
		return nil
	}
	img.mu.Lock()
	defer img.mu.Unlock()
	if !img.cpuDirty {
		return nil
	}
	m.queue.WriteTexture(
		&hal.ImageCopyTexture{Texture: img.tex, MipLevel: 0},
		img.pix,
		&hal.ImageDataLayout{
			Offset:       0,
			BytesPerRow:  uint32(img.width * 4),
			RowsPerImage: uint32(img.height),
		},
		&hal.Extent3D{Width: uint32(img.width), Height: uint32(img.height), DepthOrArrayLayers: 1},
	)
	img.cpuDirty = false
	m.stats.uploads.Add(1)
	return nil
}

func (m *Manager) createAndUploadBuffer(label string, data []byte, usage gputypes.BufferUsage) (hal.Buffer, error) {
	buf, err := m.device.CreateBuffer(&hal.BufferDescriptor{
		Label: label,
		Size:  uint64(len(data)),
		Usage: usage,
	})
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", label, err)
	}
	m.queue.WriteBuffer(buf, 0, data)
	return buf, nil
}

func (m *Manager) submitAndWait(cmdBuf hal.CommandBuffer) error {
	fence, err := m.device.CreateFence()
	if err != nil {
		return fmt.Errorf("create fence: %w", err)
	}
	defer m.device.DestroyFence(fence)

	if err := m.queue.Submit([]hal.CommandBuffer{cmdBuf}, fence, 1); err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	return waitError(m.device.Wait(fence, 1, renderTimeout))
}

// waitError folds a fence wait result into one error. A signaled fence
// is success; a nil error with an unsignaled fence means the wait timed
// out.
func waitError(fenceOK bool, err error) error {
	if err != nil {
		return fmt.Errorf("wait for GPU: %w", err)
	}
	if !fenceOK {
		return fmt.Errorf("wait for GPU: timed out after %v", renderTimeout)
	}
	return nil
}

// packScalars lays out scalar uniforms into 16-byte slots in declaration
// order. Missing or short values zero-fill; extra components are dropped.
func packScalars(decls []ScalarUniform, values map[string][]float32) []byte {
	buf := make([]byte, len(decls)*16)
	for i, decl := range decls {
		vals := values[decl.Name]
		n := decl.Components
		if n > 4 {
			n = 4
		}
		for c := 0; c < n && c < len(vals); c++ {
			off := i*16 + c*4
			binary.LittleEndian.PutUint32(buf[off:off+4], math.Float32bits(vals[c]))
		}
	}
	return buf
}
