// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package resource

import (
	"fmt"
	"hash/fnv"
	"sync/atomic"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga"
	"github.com/gogpu/wgpu/hal"
)

// FullscreenVertexWGSL is the fixed vertex stage shared by every program
// the engine compiles. It emits a single clip-space triangle covering the
// viewport and a [0,1]x[0,1] uv interpolant; fragment stages receive the
// VertexOutput struct it declares.
const FullscreenVertexWGSL = `struct VertexOutput {
    @builtin(position) position: vec4<f32>,
    @location(0) uv: vec2<f32>,
}

@vertex
fn vs_main(@builtin(vertex_index) index: u32) -> VertexOutput {
    var out: VertexOutput;
    let x = f32(i32(index) / 2) * 4.0 - 1.0;
    let y = f32(i32(index) % 2) * 4.0 - 1.0;
    out.position = vec4<f32>(x, y, 0.0, 1.0);
    out.uv = vec2<f32>((x + 1.0) * 0.5, (y + 1.0) * 0.5);
    return out;
}
`

// SamplerBindingName is the uniform name of the shared filtering sampler,
// bound at group 0 binding 0 of every program.
const SamplerBindingName = "src_sampler"

// ScalarUniform declares one scalar uniform of a program. Components is
// the vector arity (1 through 4); each scalar occupies one 16-byte slot of
// the packed uniform buffer at group 1 binding 0, in declaration order.
type ScalarUniform struct {
	Name       string
	Components int
}

// ProgramSpec describes a program to compile. The fragment source must
// declare an `fs_main` entry point and may reference the sampler, the
// texture uniforms, and the scalar uniforms named here. Texture uniforms
// occupy group 0 bindings 1..N in slice order.
type ProgramSpec struct {
	// Label is an optional debug name, also used in diagnostics.
	Label string

	// VertexWGSL is the vertex stage source. Leave empty to use
	// FullscreenVertexWGSL, which is what every graph-driven program does.
	VertexWGSL string

	// FragmentWGSL is the fragment stage source including all uniform
	// declarations and the fs_main entry point.
	FragmentWGSL string

	// TextureUniforms lists the sampled-texture uniform names in binding
	// order. Binding index = slice index + 1 (binding 0 is the sampler).
	TextureUniforms []string

	// ScalarUniforms lists scalar uniforms packed into the group 1
	// uniform buffer, in order.
	ScalarUniforms []ScalarUniform
}

// moduleSource returns the complete WGSL module: vertex stage (default
// fullscreen triangle when unset) followed by the fragment stage.
func (s *ProgramSpec) moduleSource() string {
	vs := s.VertexWGSL
	if vs == "" {
		vs = FullscreenVertexWGSL
	}
	return vs + "\n" + s.FragmentWGSL
}

// sourceKey returns the program's cache key: an FNV-1a hash of the
// full module source. Texture and scalar declarations are part of the
// fragment source, so they are covered by the hash.
func (s *ProgramSpec) sourceKey() string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s.moduleSource()))
	return fmt.Sprintf("%016x", h.Sum64())
}

// Program is a compiled WGSL module plus, when a device is present, its
// render pipeline. Programs are owned by the Manager's cache; callers
// hold them across ticks and must treat them as immutable.
type Program struct {
	label    string
	source   string
	key      string
	textures []string
	scalars  []ScalarUniform

	spirv []uint32

	module        hal.ShaderModule
	textureLayout hal.BindGroupLayout
	scalarLayout  hal.BindGroupLayout
	pipeLayout    hal.PipelineLayout
	pipeline      hal.RenderPipeline

	mgr      *Manager
	released atomic.Bool
}

// Label returns the debug label.
func (p *Program) Label() string { return p.label }

// Source returns the full WGSL module source the program was built from.
func (p *Program) Source() string { return p.source }

// IsReleased reports whether the program's GPU objects have been destroyed.
func (p *Program) IsReleased() bool { return p.released.Load() }

// TextureBinding returns the group-0 binding index for a texture uniform
// name. The second result is false for names the program does not declare;
// RenderInto skips those silently.
func (p *Program) TextureBinding(name string) (uint32, bool) {
	for i, n := range p.textures {
		if n == name {
			return uint32(i) + 1, true
		}
	}
	return 0, false
}

// scalarOffset returns the byte offset of a scalar uniform in the packed
// group-1 buffer, or false if the program does not declare it.
func (p *Program) scalarOffset(name string) (int, bool) {
	for i, s := range p.scalars {
		if s.Name == name {
			return i * 16, true
		}
	}
	return 0, false
}

// scalarBufferSize returns the packed uniform buffer size in bytes.
func (p *Program) scalarBufferSize() int {
	return len(p.scalars) * 16
}

// release destroys GPU objects in reverse creation order. Called by the
// manager's program cache on eviction and on Close.
func (p *Program) release(device hal.Device) {
	if p.released.Swap(true) {
		return
	}
	if device == nil {
		return
	}
	if p.pipeline != nil {
		device.DestroyRenderPipeline(p.pipeline)
		p.pipeline = nil
	}
	if p.pipeLayout != nil {
		device.DestroyPipelineLayout(p.pipeLayout)
		p.pipeLayout = nil
	}
	if p.scalarLayout != nil {
		device.DestroyBindGroupLayout(p.scalarLayout)
		p.scalarLayout = nil
	}
	if p.textureLayout != nil {
		device.DestroyBindGroupLayout(p.textureLayout)
		p.textureLayout = nil
	}
	if p.module != nil {
		device.DestroyShaderModule(p.module)
		p.module = nil
	}
}

// compile runs the WGSL compiler and, when a device is present, builds the
// shader module, layouts, and render pipeline. Called under the manager's
// program cache so each distinct source compiles once.
func (m *Manager) compile(spec *ProgramSpec) (*Program, error) {
	source := spec.moduleSource()

	spirvBytes, err := naga.Compile(source)
	if err != nil {
		m.stats.compileFailures.Add(1)
		return nil, &CompileError{Label: spec.Label, Diagnostic: err.Error(), Err: err}
	}
	m.stats.compiles.Add(1)

	// SPIR-V is little-endian 32-bit words.
	spirv := make([]uint32, len(spirvBytes)/4)
	for i := range spirv {
		spirv[i] = uint32(spirvBytes[i*4]) |
			uint32(spirvBytes[i*4+1])<<8 |
			uint32(spirvBytes[i*4+2])<<16 |
			uint32(spirvBytes[i*4+3])<<24
	}

	p := &Program{
		label:    spec.Label,
		source:   source,
		key:      spec.sourceKey(),
		textures: append([]string(nil), spec.TextureUniforms...),
		scalars:  append([]ScalarUniform(nil), spec.ScalarUniforms...),
		spirv:    spirv,
		mgr:      m,
	}

	if m.device == nil {
		return p, nil
	}
	if err := m.buildPipeline(p); err != nil {
		p.release(m.device)
		return nil, err
	}
	return p, nil
}

// buildPipeline creates the HAL objects for a compiled program.
func (m *Manager) buildPipeline(p *Program) error {
	module, err := m.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  p.label,
		Source: hal.ShaderSource{SPIRV: p.spirv},
	})
	if err != nil {
		return &CompileError{Label: p.label, Diagnostic: err.Error(), Err: err}
	}
	p.module = module

	entries := make([]gputypes.BindGroupLayoutEntry, 0, len(p.textures)+1)
	entries = append(entries, gputypes.BindGroupLayoutEntry{
		Binding:    0,
		Visibility: gputypes.ShaderStageFragment,
		Sampler:    &gputypes.SamplerBindingLayout{Type: gputypes.SamplerBindingTypeFiltering},
	})
	for i := range p.textures {
		entries = append(entries, gputypes.BindGroupLayoutEntry{
			Binding:    uint32(i) + 1,
			Visibility: gputypes.ShaderStageFragment,
			Texture: &gputypes.TextureBindingLayout{
				SampleType:    gputypes.TextureSampleTypeFloat,
				ViewDimension: gputypes.TextureViewDimension2D,
			},
		})
	}
	textureLayout, err := m.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label:   p.label + " textures",
		Entries: entries,
	})
	if err != nil {
		return fmt.Errorf("create texture bind layout: %w", err)
	}
	p.textureLayout = textureLayout

	groupLayouts := []hal.BindGroupLayout{p.textureLayout}
	if len(p.scalars) > 0 {
		scalarLayout, err := m.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
			Label: p.label + " scalars",
			Entries: []gputypes.BindGroupLayoutEntry{{
				Binding:    0,
				Visibility: gputypes.ShaderStageFragment,
				Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform},
			}},
		})
		if err != nil {
			return fmt.Errorf("create scalar bind layout: %w", err)
		}
		p.scalarLayout = scalarLayout
		groupLayouts = append(groupLayouts, scalarLayout)
	}

	pipeLayout, err := m.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            p.label + " layout",
		BindGroupLayouts: groupLayouts,
	})
	if err != nil {
		return fmt.Errorf("create pipeline layout: %w", err)
	}
	p.pipeLayout = pipeLayout

	premulBlend := gputypes.BlendStatePremultiplied()
	pipeline, err := m.device.CreateRenderPipeline(&hal.RenderPipelineDescriptor{
		Label:  p.label,
		Layout: p.pipeLayout,
		Vertex: hal.VertexState{
			Module:     p.module,
			EntryPoint: "vs_main",
		},
		Fragment: &hal.FragmentState{
			Module:     p.module,
			EntryPoint: "fs_main",
			Targets: []gputypes.ColorTargetState{{
				Format:    gputypes.TextureFormatRGBA8Unorm,
				Blend:     &premulBlend,
				WriteMask: gputypes.ColorWriteMaskAll,
			}},
		},
		Primitive: gputypes.PrimitiveState{
			Topology: gputypes.PrimitiveTopologyTriangleList,
			CullMode: gputypes.CullModeNone,
		},
		Multisample: gputypes.MultisampleState{
			Count: 1,
			Mask:  0xFFFFFFFF,
		},
	})
	if err != nil {
		return &CompileError{Label: p.label, Diagnostic: err.Error(), Err: err}
	}
	p.pipeline = pipeline

	return nil
}
