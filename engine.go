// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package shaderflow

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"

	"github.com/gogpu/shaderflow/graph"
	"github.com/gogpu/shaderflow/resource"
)

// Default output dimensions for program nodes with no downstream buffer.
const (
	DefaultOutputWidth  = 256
	DefaultOutputHeight = 256
)

// Engine errors.
var (
	ErrEngineClosed = errors.New("shaderflow: engine closed")
	ErrUnknownNode  = errors.New("shaderflow: node not in graph")
	ErrNoImage      = errors.New("shaderflow: node has no image")
)

// Config configures an Engine. The zero value gives a logical (no-GPU)
// engine with default sizing.
type Config struct {
	// Devices supplies the GPU device from the host application.
	// Nil selects logical mode unless OpenDevice is set.
	Devices resource.DeviceHandle

	// OpenDevice makes the engine open its own Vulkan device when
	// Devices supplies none.
	OpenDevice bool

	// DefaultOutputWidth and DefaultOutputHeight size the internal
	// output image of program nodes with no downstream buffer.
	// Zero means DefaultOutputWidth / DefaultOutputHeight.
	DefaultOutputWidth  int
	DefaultOutputHeight int

	// ProgramCacheSize bounds the compiled-program cache.
	// Zero means resource.DefaultProgramCacheSize.
	ProgramCacheSize int
}

// TickStats summarizes one Evaluate call.
type TickStats struct {
	// Tick is the tick counter after this evaluation, starting at 1.
	Tick uint64

	graph.EvalStats
}

// Engine is the façade over one graph and one resource manager. It is
// what host applications hold: node construction, wiring, the tick and
// preview cadences, and persistence all go through it.
//
// Engine methods are safe for concurrent use. The graph returned by
// [Engine.Graph] is not: manipulate it from the goroutine that drives
// Evaluate, or go through the Engine's own methods.
type Engine struct {
	mu     sync.Mutex
	closed bool

	g   *graph.Graph
	mgr *resource.Manager

	outputW int
	outputH int

	tick   uint64
	nextID uint64
}

// NewEngine builds an Engine for the given config.
func NewEngine(cfg Config) (*Engine, error) {
	mgr, err := resource.NewManager(resource.ManagerConfig{
		Devices:          cfg.Devices,
		OpenDevice:       cfg.OpenDevice,
		ProgramCacheSize: cfg.ProgramCacheSize,
	})
	if err != nil {
		return nil, fmt.Errorf("shaderflow: %w", err)
	}

	outputW := cfg.DefaultOutputWidth
	if outputW <= 0 {
		outputW = DefaultOutputWidth
	}
	outputH := cfg.DefaultOutputHeight
	if outputH <= 0 {
		outputH = DefaultOutputHeight
	}

	e := &Engine{
		g:       graph.New(),
		mgr:     mgr,
		outputW: outputW,
		outputH: outputH,
	}
	Logger().Info("engine created",
		slog.Bool("gpu", mgr.HasDevice()),
		slog.Int("outputW", outputW),
		slog.Int("outputH", outputH))
	return e, nil
}

// Graph returns the engine's graph for direct manipulation.
func (e *Engine) Graph() *graph.Graph { return e.g }

// Manager returns the engine's resource manager.
func (e *Engine) Manager() *resource.Manager { return e.mgr }

// Tick returns the number of completed Evaluate calls.
func (e *Engine) Tick() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tick
}

// Stats returns the resource manager's counters.
func (e *Engine) Stats() resource.Stats { return e.mgr.Stats() }

// newID returns a fresh node ID with the given prefix, skipping IDs
// already present in the graph (snapshots restore arbitrary IDs).
func (e *Engine) newID(prefix string) string {
	for {
		e.nextID++
		id := fmt.Sprintf("%s-%d", prefix, e.nextID)
		if e.g.Node(id) == nil {
			return id
		}
	}
}

// AddBuffer creates a buffer node with a fresh ID and adds it to the
// graph. The name is sanitized to a WGSL identifier.
func (e *Engine) AddBuffer(name string, width, height int) (*graph.BufferNode, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrEngineClosed
	}
	b, err := graph.NewBufferNode(e.newID("buffer"), name, width, height, e.mgr)
	if err != nil {
		return nil, err
	}
	e.g.AddNode(b)
	return b, nil
}

// AddProgram creates a program node with a fresh ID and adds it to the
// graph. An empty body selects the default gradient program. The node's
// internal output image, used when no downstream buffer is connected,
// takes the engine's default output dimensions.
func (e *Engine) AddProgram(name, body string) (*graph.ProgramNode, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrEngineClosed
	}
	p := graph.NewProgramNode(e.newID("program"), name, body, e.outputW, e.outputH)
	e.g.AddNode(p)
	return p, nil
}

// Connect wires src's output port to dst's input port. See
// [graph.Graph.AddEdge] for the occupied-port and duplicate rules.
func (e *Engine) Connect(src graph.Node, srcPort int, dst graph.Node, dstPort int) *graph.Edge {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	return e.g.AddEdge(src, srcPort, dst, dstPort)
}

// Disconnect removes an edge. Stale handles are a no-op.
func (e *Engine) Disconnect(edge *graph.Edge) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.g.RemoveEdge(edge)
}

// RemoveNode removes a node with its edges and releases its resources.
func (e *Engine) RemoveNode(n graph.Node) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.g.RemoveNode(n, e.mgr)
}

// Evaluate runs one tick over the whole graph and returns its stats.
// Node failures (compile errors) are recorded, not returned: the tick
// always completes.
func (e *Engine) Evaluate() TickStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return TickStats{Tick: e.tick}
	}
	s := e.g.Evaluate(e.mgr)
	e.tick++
	Logger().Debug("tick",
		slog.Uint64("tick", e.tick),
		slog.Int("evaluated", s.Evaluated),
		slog.Int("failures", s.Failures))
	return TickStats{Tick: e.tick, EvalStats: s}
}

// DrawPreview renders a node's current image into dst, scaled to dst's
// bounds and flipped to display orientation. Runs on the display
// refresh cadence, independently of Evaluate.
func (e *Engine) DrawPreview(n graph.Node, dst *image.RGBA) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineClosed
	}
	if n == nil || e.g.Node(n.ID()) != n {
		return ErrUnknownNode
	}
	img := e.previewImage(n)
	if img == nil {
		return fmt.Errorf("%w: %s", ErrNoImage, n.ID())
	}
	return e.mgr.DrawPreview(img, dst)
}

func (e *Engine) previewImage(n graph.Node) *resource.Image {
	switch src := n.(type) {
	case *graph.BufferNode:
		return src.CurrentImage()
	case *graph.ProgramNode:
		return src.OutputImage(e.g, e.mgr)
	default:
		return nil
	}
}

// Snapshot captures the graph's structure for persistence.
func (e *Engine) Snapshot() graph.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.g.Snapshot()
}

// LoadSnapshot replaces the current graph with one restored from snap.
// The old graph's nodes are released first. Restore ends with one
// evaluation pass, so programs come back compiled and buffers fed.
func (e *Engine) LoadSnapshot(snap graph.Snapshot) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineClosed
	}
	g, err := graph.Restore(snap, e.mgr, e.outputW, e.outputH)
	if err != nil {
		return err
	}
	e.releaseGraph()
	e.g = g
	Logger().Info("snapshot loaded", slog.Int("nodes", g.Len()))
	return nil
}

// Close releases every node and shuts down the resource manager.
// Close is idempotent; other methods fail after it.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	e.releaseGraph()
	e.mgr.Close()
	Logger().Info("engine closed", slog.Uint64("ticks", e.tick))
}

func (e *Engine) releaseGraph() {
	for _, n := range e.g.Nodes() {
		e.g.RemoveNode(n, e.mgr)
	}
}
