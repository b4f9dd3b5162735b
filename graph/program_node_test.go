// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package graph

import (
	"fmt"
	"strings"
	"testing"

	"github.com/gogpu/shaderflow/resource"
)

func TestRegenerateInterfaceSortedPorts(t *testing.T) {
	mgr := newTestGraphManager(t)
	g := New()

	bufA, err := NewBufferNode("a", "alpha", 4, 4, mgr)
	if err != nil {
		t.Fatalf("NewBufferNode() error = %v", err)
	}
	bufB, err := NewBufferNode("b", "beta", 4, 4, mgr)
	if err != nil {
		t.Fatalf("NewBufferNode() error = %v", err)
	}
	p := NewProgramNode("p", "p", "", 0, 0)
	g.AddNode(bufA)
	g.AddNode(bufB)
	g.AddNode(p)

	// Ports 0 and 2 connected, port 1 left open. Insertion order is
	// deliberately reversed to prove the sort is by port, not by age.
	g.AddEdge(bufB, 0, p, 2)
	g.AddEdge(bufA, 0, p, 0)

	bindings := p.RegenerateInterface(g)
	if len(bindings) != 2 {
		t.Fatalf("len(bindings) = %d, want 2", len(bindings))
	}
	if bindings[0].Port != 0 || bindings[0].Name != "alpha" {
		t.Errorf("bindings[0] = %+v, want port 0 name alpha", bindings[0])
	}
	if bindings[1].Port != 2 || bindings[1].Name != "beta" {
		t.Errorf("bindings[1] = %+v, want port 2 name beta", bindings[1])
	}
}

func TestRegenerateInterfacePositionalFallback(t *testing.T) {
	g := New()

	upstream := NewProgramNode("up", "up", "", 0, 0)
	p := NewProgramNode("p", "p", "", 0, 0)
	g.AddNode(upstream)
	g.AddNode(p)
	g.AddEdge(upstream, 0, p, 0)

	bindings := p.RegenerateInterface(g)
	if len(bindings) != 1 || bindings[0].Name != "input_0" {
		t.Errorf("bindings = %+v, want one positional binding input_0", bindings)
	}
}

func TestAssembleSourceDeterministic(t *testing.T) {
	mgr := newTestGraphManager(t)
	g := New()

	buf, err := NewBufferNode("b", "state", 4, 4, mgr)
	if err != nil {
		t.Fatalf("NewBufferNode() error = %v", err)
	}
	p := NewProgramNode("p", "p", "", 0, 0)
	g.AddNode(buf)
	g.AddNode(p)
	g.AddEdge(buf, 0, p, 0)

	src1, _ := p.AssembleSource(g)
	src2, _ := p.AssembleSource(g)
	if src1 != src2 {
		t.Error("AssembleSource must be idempotent for unchanged state")
	}
	if !strings.Contains(src1, "var state: texture_2d<f32>;") {
		t.Errorf("source missing uniform declaration:\n%s", src1)
	}
	if !strings.Contains(src1, "src_sampler: sampler") {
		t.Error("source missing shared sampler declaration")
	}
	if !strings.Contains(src1, "fn fs_main") || !strings.Contains(src1, "run(in.uv)") {
		t.Error("source missing trailer")
	}
}

func TestCompileIfNeededGatedOnSource(t *testing.T) {
	mgr := newTestGraphManager(t)
	g := New()
	p := NewProgramNode("p", "p", "", 0, 0)
	g.AddNode(p)

	if err := p.CompileIfNeeded(g, mgr); err != nil {
		t.Fatalf("CompileIfNeeded() error = %v", err)
	}
	first := p.prog
	if first == nil {
		t.Fatal("no program after successful compile")
	}

	// Unchanged source: identity preserved, no compiler run.
	if err := p.CompileIfNeeded(g, mgr); err != nil {
		t.Fatalf("CompileIfNeeded() second call error = %v", err)
	}
	if p.prog != first {
		t.Error("program identity changed for unchanged source")
	}
	if got := mgr.Stats().Compiles; got != 1 {
		t.Errorf("Stats().Compiles = %d, want 1", got)
	}

	// Body edit: exactly one recompilation on the next call.
	p.SetSourceText(`fn run(uv: vec2<f32>) -> vec4<f32> {
    return vec4<f32>(0.0, uv, 1.0);
}
`)
	if err := p.CompileIfNeeded(g, mgr); err != nil {
		t.Fatalf("CompileIfNeeded() after edit error = %v", err)
	}
	if got := mgr.Stats().Compiles; got != 2 {
		t.Errorf("Stats().Compiles = %d, want 2", got)
	}
}

func TestCompileIfNeededHeaderChangeRecompiles(t *testing.T) {
	mgr := newTestGraphManager(t)
	g := New()

	buf, err := NewBufferNode("b", "state", 4, 4, mgr)
	if err != nil {
		t.Fatalf("NewBufferNode() error = %v", err)
	}
	p := NewProgramNode("p", "p", "", 0, 0)
	g.AddNode(buf)
	g.AddNode(p)

	if err := p.CompileIfNeeded(g, mgr); err != nil {
		t.Fatalf("CompileIfNeeded() error = %v", err)
	}

	// A new connection changes the header, which changes the source.
	g.AddEdge(buf, 0, p, 0)
	if err := p.CompileIfNeeded(g, mgr); err != nil {
		t.Fatalf("CompileIfNeeded() after connect error = %v", err)
	}
	if got := mgr.Stats().Compiles; got != 2 {
		t.Errorf("Stats().Compiles = %d, want 2 (header change must recompile)", got)
	}
}

func TestCompileErrorIsLocal(t *testing.T) {
	mgr := newTestGraphManager(t)
	g := New()

	good := NewProgramNode("good", "good", "", 0, 0)
	bad := NewProgramNode("bad", "bad", "this is not wgsl", 0, 0)
	g.AddNode(good)
	g.AddNode(bad)

	stats := g.Evaluate(mgr)
	if stats.Failures != 1 {
		t.Errorf("Failures = %d, want 1", stats.Failures)
	}
	if bad.Err() == "" {
		t.Error("failing node should surface its diagnostic")
	}
	if good.Err() != "" {
		t.Errorf("healthy node has error %q", good.Err())
	}
	if bad.prog != nil {
		t.Error("never-compiled node should hold no program")
	}

	// Same broken source next tick: failure is remembered, the compiler
	// does not run again.
	failures := mgr.Stats().CompileFailures
	g.Evaluate(mgr)
	if got := mgr.Stats().CompileFailures; got != failures {
		t.Errorf("CompileFailures = %d, want %d (unchanged source must not recompile)", got, failures)
	}
	if bad.Err() == "" {
		t.Error("diagnostic should persist until the source changes")
	}
}

func TestCompileErrorKeepsPreviousProgram(t *testing.T) {
	mgr := newTestGraphManager(t)
	g := New()
	p := NewProgramNode("p", "p", "", 0, 0)
	g.AddNode(p)

	if err := p.CompileIfNeeded(g, mgr); err != nil {
		t.Fatalf("CompileIfNeeded() error = %v", err)
	}
	prev := p.prog

	p.SetSourceText("broken {{{")
	if err := p.CompileIfNeeded(g, mgr); err == nil {
		t.Fatal("CompileIfNeeded() should fail for broken source")
	}
	if p.prog != prev {
		t.Error("previous program must stay intact after a failed compile")
	}
	if p.Err() == "" {
		t.Error("Err() should carry the diagnostic")
	}

	// Fixing the source clears the error.
	p.SetSourceText(DefaultProgramBody)
	if err := p.Evaluate(g, mgr); err != nil {
		t.Fatalf("Evaluate() after fix error = %v", err)
	}
	if p.Err() != "" {
		t.Errorf("Err() = %q, want empty after recovery", p.Err())
	}
}

func TestExecuteWritesDownstreamBuffer(t *testing.T) {
	mgr := newTestGraphManager(t)
	g := New()

	p := NewProgramNode("p", "p", "", 0, 0)
	out, err := NewBufferNode("out", "out", 8, 8, mgr)
	if err != nil {
		t.Fatalf("NewBufferNode() error = %v", err)
	}
	g.AddNode(p)
	g.AddNode(out)
	g.AddEdge(p, 0, out, 0)

	if err := p.Evaluate(g, mgr); err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if got := mgr.Stats().Renders; got != 1 {
		t.Errorf("Stats().Renders = %d, want 1", got)
	}
	// With a downstream buffer connected, no internal output is needed.
	if p.output != nil {
		t.Error("internal output image should not exist when a buffer is connected")
	}
}

func TestExecuteUsesInternalOutput(t *testing.T) {
	mgr := newTestGraphManager(t)
	g := New()
	p := NewProgramNode("p", "p", "", 32, 16)
	g.AddNode(p)

	if err := p.Evaluate(g, mgr); err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	img := p.OutputImage(g, mgr)
	if img == nil {
		t.Fatal("OutputImage() = nil")
	}
	if img.Width() != 32 || img.Height() != 16 {
		t.Errorf("output = %dx%d, want 32x16", img.Width(), img.Height())
	}
}

func TestProgramNodeSourceTextAndSurface(t *testing.T) {
	p := NewProgramNode("p", "p", "", 0, 0)
	if p.SourceText() != DefaultProgramBody {
		t.Errorf("SourceText() = %q, want the default body", p.SourceText())
	}

	var pushed string
	p.AttachSurface(surfaceFunc(func(text string) { pushed = text }))
	if pushed != DefaultProgramBody {
		t.Error("AttachSurface should seed the surface with the current body")
	}

	p.SetSourceText("edited")
	if p.SourceText() != "edited" {
		t.Errorf("SourceText() = %q, want %q", p.SourceText(), "edited")
	}
}

func TestProgramNodeRelease(t *testing.T) {
	mgr := newTestGraphManager(t)
	g := New()
	p := NewProgramNode("p", "p", "", 0, 0)
	g.AddNode(p)
	if err := p.Evaluate(g, mgr); err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	img := p.output
	if img == nil {
		t.Fatal("expected internal output after evaluation")
	}
	p.Release(mgr)
	if !img.IsReleased() {
		t.Error("Release should free the internal output image")
	}
}

type surfaceFunc func(string)

func (f surfaceFunc) SetText(text string) { f(text) }

// fillerBody returns a distinct valid body per index, for churning the
// program cache.
func fillerBody(i int) string {
	return fmt.Sprintf(`fn run(uv: vec2<f32>) -> vec4<f32> {
    return vec4<f32>(uv, 0.%d, 1.0);
}
`, i)
}

// A node whose source never changes must not be wedged by cache
// eviction: if unrelated compiles push its program out, the next
// evaluation recompiles instead of holding the released program forever.
func TestEvictedProgramRecovers(t *testing.T) {
	mgr, err := resource.NewManager(resource.ManagerConfig{ProgramCacheSize: 2})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	t.Cleanup(mgr.Close)

	g := New()
	p := NewProgramNode("p", "p", "", 8, 8)
	g.AddNode(p)
	if err := p.Evaluate(g, mgr); err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	first := p.prog

	// Two distinct compiles fill the capacity-2 cache and evict p.
	for i := 0; i < 2; i++ {
		q := NewProgramNode(fmt.Sprintf("q%d", i), "", fillerBody(i), 8, 8)
		g.AddNode(q)
		if err := q.Evaluate(g, mgr); err != nil {
			t.Fatalf("filler %d Evaluate() error = %v", i, err)
		}
	}
	if !first.IsReleased() {
		t.Fatal("idle program should have been evicted")
	}

	if err := p.Evaluate(g, mgr); err != nil {
		t.Fatalf("Evaluate() after eviction error = %v", err)
	}
	if p.prog == nil || p.prog == first || p.prog.IsReleased() {
		t.Error("node should hold a freshly compiled program after eviction")
	}
	if p.Err() != "" {
		t.Errorf("Err() = %q, want empty", p.Err())
	}
}

// A program evaluated every tick stays recently used in the cache and
// survives a steady stream of unrelated compiles.
func TestLiveProgramStaysCached(t *testing.T) {
	mgr, err := resource.NewManager(resource.ManagerConfig{ProgramCacheSize: 2})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	t.Cleanup(mgr.Close)

	g := New()
	p := NewProgramNode("p", "p", "", 8, 8)
	g.AddNode(p)
	if err := p.Evaluate(g, mgr); err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	first := p.prog

	for i := 0; i < 4; i++ {
		q := NewProgramNode(fmt.Sprintf("q%d", i), "", fillerBody(i), 8, 8)
		g.AddNode(q)
		if err := q.Evaluate(g, mgr); err != nil {
			t.Fatalf("filler %d Evaluate() error = %v", i, err)
		}
		if err := p.Evaluate(g, mgr); err != nil {
			t.Fatalf("tick %d Evaluate() error = %v", i, err)
		}
		if p.prog != first || first.IsReleased() {
			t.Fatalf("tick %d: live program lost its cache slot", i)
		}
	}
	if got := mgr.Stats().Compiles; got != 5 {
		t.Errorf("Stats().Compiles = %d, want 5 (p once + 4 fillers)", got)
	}
}
