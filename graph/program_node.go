// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package graph

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/gogpu/shaderflow/resource"
)

// DefaultOutputSize is the side length of a program's internal output
// image when it has no downstream buffer to write into.
const DefaultOutputSize = 256

// DefaultProgramBody is the body a fresh program node starts with: a
// plain uv gradient, so a newly created node renders something visible.
const DefaultProgramBody = `fn run(uv: vec2<f32>) -> vec4<f32> {
    return vec4<f32>(uv, 0.0, 1.0);
}
`

// programTrailer invokes the user entry point and writes its color.
const programTrailer = `@fragment
fn fs_main(in: VertexOutput) -> @location(0) vec4<f32> {
    return run(in.uv);
}
`

// TextSurface is the narrow interface of the external text-editing
// widget. The node pushes its body into the surface on attach; the
// editor pushes user edits back through SetSourceText.
type TextSurface interface {
	SetText(text string)
}

// InputBinding is one entry of a program's derived interface: the
// destination port it binds and the uniform name it declares.
type InputBinding struct {
	Port int
	Name string

	edge *Edge
}

// ProgramNode is a user-authored WGSL fragment transform. Its uniform
// interface is never declared by the user; it is derived from the node's
// inbound edges every tick, and the program recompiles only when the
// fully assembled source changes.
type ProgramNode struct {
	baseNode
	body string

	// lastSource is the most recently attempted assembled source;
	// lastOK records whether that attempt compiled. Together they gate
	// recompilation on the full source, not the body alone.
	lastSource string
	lastOK     bool
	lastErr    error

	prog       *resource.Program
	compileErr string

	output  *resource.Image
	outputW int
	outputH int

	surface TextSurface
}

// NewProgramNode creates a program node. An empty body starts as
// DefaultProgramBody; non-positive output dimensions default to
// DefaultOutputSize. The node allocates no GPU resources until its
// first evaluation.
func NewProgramNode(id, name, body string, outputW, outputH int) *ProgramNode {
	if body == "" {
		body = DefaultProgramBody
	}
	if outputW <= 0 {
		outputW = DefaultOutputSize
	}
	if outputH <= 0 {
		outputH = DefaultOutputSize
	}
	return &ProgramNode{
		baseNode: baseNode{
			id:      id,
			name:    name,
			outputs: []string{"out"},
		},
		body:    body,
		outputW: outputW,
		outputH: outputH,
	}
}

// Kind returns KindProgram.
func (p *ProgramNode) Kind() Kind { return KindProgram }

// SourceText returns the user body text.
func (p *ProgramNode) SourceText() string { return p.body }

// SetSourceText replaces the user body. The change takes effect on the
// next evaluation; recompilation happens there, not here.
func (p *ProgramNode) SetSourceText(text string) {
	p.body = text
}

// AttachSurface connects the external editor widget once it is ready and
// seeds it with the current body. Part of the two-phase lifecycle:
// construct first, attach when the surface exists.
func (p *ProgramNode) AttachSurface(s TextSurface) {
	p.surface = s
	if s != nil {
		s.SetText(p.body)
	}
}

// Err returns the current compile diagnostic, empty when the last
// compile and execution succeeded.
func (p *ProgramNode) Err() string { return p.compileErr }

// ensureInputSlot extends the input list with default-named slots so the
// given port index exists. Called by the graph's port-advance logic.
func (p *ProgramNode) ensureInputSlot(port int) {
	for len(p.inputs) <= port {
		p.inputs = append(p.inputs, fmt.Sprintf("input_%d", len(p.inputs)))
	}
}

// RegenerateInterface derives the uniform interface from the node's
// current inbound edges: one binding per connected destination port,
// sorted by port ascending, named after the source buffer's sanitized
// name or positionally when the source is not a buffer. Pure function of
// the graph; no node state changes.
func (p *ProgramNode) RegenerateInterface(g *Graph) []InputBinding {
	byPort := make(map[int]*Edge)
	ports := make([]int, 0, 4)
	for _, e := range g.EdgesTo(p) {
		if _, ok := byPort[e.DstPort]; ok {
			continue
		}
		byPort[e.DstPort] = e
		ports = append(ports, e.DstPort)
	}
	sort.Ints(ports)

	bindings := make([]InputBinding, 0, len(ports))
	for _, port := range ports {
		e := byPort[port]
		name := fmt.Sprintf("input_%d", port)
		if buf, ok := e.Src.(*BufferNode); ok {
			name = buf.Name()
		}
		bindings = append(bindings, InputBinding{Port: port, Name: name, edge: e})
	}
	return bindings
}

// AssembleSource concatenates the derived header, the user body, and the
// fixed trailer. Deterministic and idempotent: identical graph state and
// body always yield byte-identical source.
func (p *ProgramNode) AssembleSource(g *Graph) (string, []InputBinding) {
	bindings := p.RegenerateInterface(g)
	var b strings.Builder
	b.WriteString("@group(0) @binding(0) var ")
	b.WriteString(resource.SamplerBindingName)
	b.WriteString(": sampler;\n")
	for i, in := range bindings {
		fmt.Fprintf(&b, "@group(0) @binding(%d) var %s: texture_2d<f32>;\n", i+1, in.Name)
	}
	b.WriteString("\n")
	b.WriteString(p.body)
	b.WriteString("\n")
	b.WriteString(programTrailer)
	return b.String(), bindings
}

// CompileIfNeeded recompiles when the assembled source differs from the
// last attempt. On failure the diagnostic becomes the node's error
// state, the previous program stays intact, and the returned error tells
// the evaluation pass to skip execution this tick. An unchanged failing
// source is not re-fed to the compiler; the stored failure is returned
// until an edit changes the source.
//
// An unchanged good source still goes through the manager's cache: a hit
// returns the same program (no compile) and marks the entry recently
// used, so live programs are not the coldest eviction candidates. A node
// whose program was evicted anyway gets a fresh compile here instead of
// holding a released program forever.
func (p *ProgramNode) CompileIfNeeded(g *Graph, mgr *resource.Manager) error {
	source, bindings := p.AssembleSource(g)
	if source == p.lastSource && !p.lastOK {
		return p.lastErr
	}

	names := make([]string, len(bindings))
	for i, in := range bindings {
		names[i] = in.Name
	}
	prog, err := mgr.CompileProgram(&resource.ProgramSpec{
		Label:           p.displayLabel(),
		FragmentWGSL:    source,
		TextureUniforms: names,
	})

	p.lastSource = source
	if err != nil {
		p.lastOK = false
		p.lastErr = fmt.Errorf("program %q: %w", p.id, err)
		var ce *resource.CompileError
		if errors.As(err, &ce) {
			p.compileErr = ce.Diagnostic
		} else {
			p.compileErr = err.Error()
		}
		return p.lastErr
	}

	p.lastOK = true
	p.lastErr = nil
	p.prog = prog
	p.compileErr = ""
	return nil
}

// Execute resolves each bound input to its source image, picks the
// destination (first downstream buffer's image, else the internal output
// image), and issues one full-screen draw. Success clears the error
// state.
func (p *ProgramNode) Execute(g *Graph, mgr *resource.Manager) error {
	if p.prog == nil {
		return fmt.Errorf("program %q: never compiled", p.id)
	}

	bindings := p.RegenerateInterface(g)
	inputs := make(map[string]*resource.Image, len(bindings))
	for _, in := range bindings {
		if img := sourceImage(in.edge.Src, g, mgr); img != nil {
			inputs[in.Name] = img
		}
	}

	dst, err := p.destination(g, mgr)
	if err != nil {
		return err
	}
	if err := mgr.RenderInto(dst, p.prog, inputs, nil); err != nil {
		return fmt.Errorf("program %q: %w", p.id, err)
	}
	p.compileErr = ""
	return nil
}

// Evaluate is the per-tick entry point: regenerate, compile if the
// source moved, execute.
func (p *ProgramNode) Evaluate(g *Graph, mgr *resource.Manager) error {
	if err := p.CompileIfNeeded(g, mgr); err != nil {
		return err
	}
	return p.Execute(g, mgr)
}

// OutputImage returns the image downstream consumers read from this
// program: the first downstream buffer's image when one is connected,
// else the internal output image.
func (p *ProgramNode) OutputImage(g *Graph, mgr *resource.Manager) *resource.Image {
	img, err := p.destination(g, mgr)
	if err != nil {
		return nil
	}
	return img
}

func (p *ProgramNode) destination(g *Graph, mgr *resource.Manager) (*resource.Image, error) {
	for _, e := range g.EdgesFrom(p) {
		if buf, ok := e.Dst.(*BufferNode); ok && buf.CurrentImage() != nil {
			return buf.CurrentImage(), nil
		}
	}
	return p.ensureOutput(mgr)
}

func (p *ProgramNode) ensureOutput(mgr *resource.Manager) (*resource.Image, error) {
	if p.output != nil && !p.output.IsReleased() {
		return p.output, nil
	}
	img, err := mgr.CreateImage(p.outputW, p.outputH, p.displayLabel()+" output")
	if err != nil {
		return nil, fmt.Errorf("program %q output: %w", p.id, err)
	}
	p.output = img
	return img, nil
}

// sourceImage resolves the image a node currently exposes to consumers,
// recursing one level for programs.
func sourceImage(n Node, g *Graph, mgr *resource.Manager) *resource.Image {
	switch src := n.(type) {
	case *BufferNode:
		return src.CurrentImage()
	case *ProgramNode:
		return src.OutputImage(g, mgr)
	default:
		return nil
	}
}

func (p *ProgramNode) displayLabel() string {
	if p.name != "" {
		return p.name
	}
	return p.id
}

// Release frees the internal output image. The compiled program belongs
// to the manager's cache and is not destroyed here.
func (p *ProgramNode) Release(_ *resource.Manager) {
	if p.output != nil {
		p.output.Release()
		p.output = nil
	}
	p.prog = nil
}
