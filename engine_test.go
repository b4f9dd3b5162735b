// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package shaderflow

import (
	"errors"
	"image"
	"strings"
	"testing"

	"github.com/gogpu/shaderflow/graph"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(Config{})
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	t.Cleanup(e.Close)
	return e
}

func TestNewEngineDefaults(t *testing.T) {
	e := newTestEngine(t)
	if e.Manager().HasDevice() {
		t.Error("zero config should run in logical mode")
	}
	if e.Tick() != 0 {
		t.Errorf("Tick() = %d, want 0", e.Tick())
	}
	if e.Graph().Len() != 0 {
		t.Errorf("Graph().Len() = %d, want 0", e.Graph().Len())
	}
	if e.outputW != DefaultOutputWidth || e.outputH != DefaultOutputHeight {
		t.Errorf("output dims = %dx%d, want %dx%d",
			e.outputW, e.outputH, DefaultOutputWidth, DefaultOutputHeight)
	}
}

func TestAddBuffer(t *testing.T) {
	e := newTestEngine(t)
	b, err := e.AddBuffer("my canvas", 16, 16)
	if err != nil {
		t.Fatalf("AddBuffer() error = %v", err)
	}
	if b.Name() != "my_canvas" {
		t.Errorf("Name() = %q, want %q", b.Name(), "my_canvas")
	}
	if e.Graph().Node(b.ID()) != b {
		t.Error("buffer not registered in graph")
	}
	if !strings.HasPrefix(b.ID(), "buffer-") {
		t.Errorf("ID() = %q, want buffer- prefix", b.ID())
	}

	if _, err := e.AddBuffer("bad", 0, 16); err == nil {
		t.Error("AddBuffer(0, 16) should fail")
	}
}

func TestAddProgram(t *testing.T) {
	e := newTestEngine(t)
	p, err := e.AddProgram("fx", "")
	if err != nil {
		t.Fatalf("AddProgram() error = %v", err)
	}
	if p.SourceText() != graph.DefaultProgramBody {
		t.Error("empty body should select the default program")
	}
	if e.Graph().Node(p.ID()) != p {
		t.Error("program not registered in graph")
	}

	q, err := e.AddProgram("fx2", "")
	if err != nil {
		t.Fatalf("AddProgram() error = %v", err)
	}
	if q.ID() == p.ID() {
		t.Errorf("duplicate node ID %q", q.ID())
	}
}

func TestEvaluateTickCounter(t *testing.T) {
	e := newTestEngine(t)
	if _, err := e.AddBuffer("a", 8, 8); err != nil {
		t.Fatal(err)
	}
	if _, err := e.AddProgram("p", ""); err != nil {
		t.Fatal(err)
	}

	s := e.Evaluate()
	if s.Tick != 1 {
		t.Errorf("first tick = %d, want 1", s.Tick)
	}
	if s.Evaluated != 2 {
		t.Errorf("Evaluated = %d, want 2", s.Evaluated)
	}
	if s.Failures != 0 {
		t.Errorf("Failures = %d, want 0", s.Failures)
	}

	s = e.Evaluate()
	if s.Tick != 2 || e.Tick() != 2 {
		t.Errorf("second tick = %d (Tick() = %d), want 2", s.Tick, e.Tick())
	}
}

func TestEvaluateFeedbackLoop(t *testing.T) {
	e := newTestEngine(t)
	buf, err := e.AddBuffer("state", 8, 8)
	if err != nil {
		t.Fatal(err)
	}
	prog, err := e.AddProgram("step", "")
	if err != nil {
		t.Fatal(err)
	}
	if e.Connect(buf, 0, prog, 0) == nil {
		t.Fatal("Connect(buf, prog) returned nil")
	}
	if e.Connect(prog, 0, buf, 0) == nil {
		t.Fatal("Connect(prog, buf) returned nil")
	}

	s := e.Evaluate()
	if s.Failures != 0 {
		t.Fatalf("Failures = %d, want 0", s.Failures)
	}
	if s.CycleReruns != 2 {
		t.Errorf("CycleReruns = %d, want 2", s.CycleReruns)
	}
	if s.Evaluated != 4 {
		t.Errorf("Evaluated = %d, want 4", s.Evaluated)
	}
}

func TestDisconnectAndRemoveNode(t *testing.T) {
	e := newTestEngine(t)
	buf, _ := e.AddBuffer("a", 8, 8)
	prog, _ := e.AddProgram("p", "")
	edge := e.Connect(buf, 0, prog, 0)

	e.Disconnect(edge)
	if got := len(e.Graph().Edges()); got != 0 {
		t.Fatalf("edges after Disconnect = %d, want 0", got)
	}

	e.RemoveNode(buf)
	if e.Graph().Node(buf.ID()) != nil {
		t.Error("node still in graph after RemoveNode")
	}
	if !buf.CurrentImage().IsReleased() {
		t.Error("buffer image not released by RemoveNode")
	}
}

func TestDrawPreview(t *testing.T) {
	e := newTestEngine(t)
	buf, err := e.AddBuffer("a", 4, 4)
	if err != nil {
		t.Fatal(err)
	}
	dst := image.NewRGBA(image.Rect(0, 0, 8, 8))
	if err := e.DrawPreview(buf, dst); err != nil {
		t.Fatalf("DrawPreview(buffer) error = %v", err)
	}

	prog, err := e.AddProgram("p", "")
	if err != nil {
		t.Fatal(err)
	}
	if err := e.DrawPreview(prog, dst); err != nil {
		t.Fatalf("DrawPreview(program) error = %v", err)
	}

	if err := e.DrawPreview(nil, dst); !errors.Is(err, ErrUnknownNode) {
		t.Errorf("DrawPreview(nil) error = %v, want ErrUnknownNode", err)
	}
	stray := graph.NewProgramNode("stray", "", "", 8, 8)
	if err := e.DrawPreview(stray, dst); !errors.Is(err, ErrUnknownNode) {
		t.Errorf("DrawPreview(stray) error = %v, want ErrUnknownNode", err)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	e := newTestEngine(t)
	buf, _ := e.AddBuffer("state", 8, 8)
	prog, _ := e.AddProgram("step", "")
	e.Connect(buf, 0, prog, 0)
	e.Connect(prog, 0, buf, 0)

	snap := e.Snapshot()
	if len(snap.Nodes) != 2 || len(snap.Edges) != 2 {
		t.Fatalf("snapshot = %d nodes %d edges, want 2 and 2", len(snap.Nodes), len(snap.Edges))
	}

	if err := e.LoadSnapshot(snap); err != nil {
		t.Fatalf("LoadSnapshot() error = %v", err)
	}
	g := e.Graph()
	if g.Len() != 2 {
		t.Fatalf("restored graph has %d nodes, want 2", g.Len())
	}
	restored := g.Node(buf.ID())
	if restored == nil {
		t.Fatalf("buffer %q missing after restore", buf.ID())
	}
	if restored == graph.Node(buf) {
		t.Error("restore should build fresh nodes")
	}
	if len(g.Edges()) != 2 {
		t.Errorf("restored graph has %d edges, want 2", len(g.Edges()))
	}
	if !buf.CurrentImage().IsReleased() {
		t.Error("old graph's buffer image should be released by LoadSnapshot")
	}
}

func TestNewIDSkipsRestoredIDs(t *testing.T) {
	e := newTestEngine(t)
	snap := graph.Snapshot{
		Nodes: []graph.NodeRecord{
			{ID: "buffer-1", Kind: "buffer", Name: "a", Width: 4, Height: 4},
		},
	}
	if err := e.LoadSnapshot(snap); err != nil {
		t.Fatalf("LoadSnapshot() error = %v", err)
	}
	b, err := e.AddBuffer("b", 4, 4)
	if err != nil {
		t.Fatal(err)
	}
	if b.ID() == "buffer-1" {
		t.Errorf("AddBuffer reused restored ID %q", b.ID())
	}
	if e.Graph().Len() != 2 {
		t.Errorf("graph has %d nodes, want 2", e.Graph().Len())
	}
}

func TestCloseIdempotent(t *testing.T) {
	e, err := NewEngine(Config{})
	if err != nil {
		t.Fatal(err)
	}
	buf, _ := e.AddBuffer("a", 4, 4)

	e.Close()
	e.Close()

	if !buf.CurrentImage().IsReleased() {
		t.Error("buffer image not released by Close")
	}
	if _, err := e.AddBuffer("b", 4, 4); !errors.Is(err, ErrEngineClosed) {
		t.Errorf("AddBuffer after Close error = %v, want ErrEngineClosed", err)
	}
	if _, err := e.AddProgram("p", ""); !errors.Is(err, ErrEngineClosed) {
		t.Errorf("AddProgram after Close error = %v, want ErrEngineClosed", err)
	}
	if s := e.Evaluate(); s.Tick != 0 || s.Evaluated != 0 {
		t.Errorf("Evaluate after Close = %+v, want zero stats", s)
	}
	if err := e.LoadSnapshot(graph.Snapshot{}); !errors.Is(err, ErrEngineClosed) {
		t.Errorf("LoadSnapshot after Close error = %v, want ErrEngineClosed", err)
	}
}

func TestConfigOutputDims(t *testing.T) {
	e, err := NewEngine(Config{DefaultOutputWidth: 32, DefaultOutputHeight: 64})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(e.Close)

	prog, err := e.AddProgram("p", "")
	if err != nil {
		t.Fatal(err)
	}
	e.Evaluate()
	img := prog.OutputImage(e.Graph(), e.Manager())
	if img == nil {
		t.Fatal("OutputImage() = nil")
	}
	if img.Width() != 32 || img.Height() != 64 {
		t.Errorf("output = %dx%d, want 32x64", img.Width(), img.Height())
	}
}

// A graph restored through the engine keeps the engine's configured
// output dimensions for program nodes.
func TestLoadSnapshotOutputDims(t *testing.T) {
	e, err := NewEngine(Config{DefaultOutputWidth: 32, DefaultOutputHeight: 64})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(e.Close)

	prog, err := e.AddProgram("p", "")
	if err != nil {
		t.Fatal(err)
	}
	if err := e.LoadSnapshot(e.Snapshot()); err != nil {
		t.Fatalf("LoadSnapshot() error = %v", err)
	}

	restored, ok := e.Graph().Node(prog.ID()).(*graph.ProgramNode)
	if !ok {
		t.Fatalf("node %q missing after restore", prog.ID())
	}
	img := restored.OutputImage(e.Graph(), e.Manager())
	if img == nil {
		t.Fatal("OutputImage() = nil")
	}
	if img.Width() != 32 || img.Height() != 64 {
		t.Errorf("restored output = %dx%d, want 32x64", img.Width(), img.Height())
	}
}
