// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package graph

import (
	"log/slog"

	"github.com/gogpu/shaderflow/resource"
)

// Graph is the directed multigraph of buffer and program nodes. It owns
// node membership and every edge; nodes own only their GPU resources.
//
// The graph is mutated from UI-driven code paths, so structural
// operations on stale handles (an edge already removed, a node never
// added) are defensive no-ops rather than errors.
type Graph struct {
	nodes map[string]Node
	// order preserves insertion order so traversals are deterministic
	// across runs regardless of map iteration.
	order []Node
	edges []*Edge
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{nodes: make(map[string]Node)}
}

// AddNode inserts a node. Nil nodes and duplicate IDs are ignored.
func (g *Graph) AddNode(n Node) {
	if n == nil || n.ID() == "" {
		return
	}
	if _, ok := g.nodes[n.ID()]; ok {
		return
	}
	g.nodes[n.ID()] = n
	g.order = append(g.order, n)
	logger().Debug("node added", slog.String("id", n.ID()), slog.String("kind", string(n.Kind())))
}

// Node returns the node with the given ID, or nil.
func (g *Graph) Node(id string) Node {
	return g.nodes[id]
}

// Nodes returns all nodes in insertion order.
func (g *Graph) Nodes() []Node {
	return append([]Node(nil), g.order...)
}

// Len returns the node count.
func (g *Graph) Len() int { return len(g.order) }

// RemoveNode removes a node, deletes every edge touching it, and
// releases the node's GPU resources. Unknown nodes are a no-op.
func (g *Graph) RemoveNode(n Node, mgr *resource.Manager) {
	if n == nil {
		return
	}
	if cur, ok := g.nodes[n.ID()]; !ok || cur != n {
		return
	}

	for i := len(g.edges) - 1; i >= 0; i-- {
		e := g.edges[i]
		if e.Src == n || e.Dst == n {
			g.RemoveEdge(e)
		}
	}

	delete(g.nodes, n.ID())
	for i, cur := range g.order {
		if cur == n {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
	n.Release(mgr)
	logger().Debug("node removed", slog.String("id", n.ID()))
}

// AddEdge connects src's output port to dst's input port and returns the
// resulting edge.
//
// When the requested (dst, dstPort) slot on a program node is already
// occupied, the destination port advances to the lowest free port at or
// above the request, synthesizing default-named input slots as needed so
// the slot exists. An exact duplicate of an existing edge returns that
// edge unchanged. Nodes outside the graph yield nil.
func (g *Graph) AddEdge(src Node, srcPort int, dst Node, dstPort int) *Edge {
	if src == nil || dst == nil || srcPort < 0 || dstPort < 0 {
		return nil
	}
	if g.nodes[src.ID()] != src || g.nodes[dst.ID()] != dst {
		return nil
	}

	for _, e := range g.edges {
		if e.Src == src && e.SrcPort == srcPort && e.Dst == dst && e.DstPort == dstPort {
			return e
		}
	}

	if pn, ok := dst.(*ProgramNode); ok {
		for g.portOccupied(dst, dstPort) {
			dstPort++
		}
		pn.ensureInputSlot(dstPort)
	}

	e := &Edge{Src: src, SrcPort: srcPort, Dst: dst, DstPort: dstPort, index: len(g.edges)}
	g.edges = append(g.edges, e)
	logger().Debug("edge added",
		slog.String("src", src.ID()), slog.Int("srcPort", srcPort),
		slog.String("dst", dst.ID()), slog.Int("dstPort", dstPort))
	return e
}

func (g *Graph) portOccupied(dst Node, port int) bool {
	for _, e := range g.edges {
		if e.Dst == dst && e.DstPort == port {
			return true
		}
	}
	return false
}

// RemoveEdge detaches an edge in O(1). Stale handles are a no-op.
func (g *Graph) RemoveEdge(e *Edge) {
	if e == nil || e.index < 0 || e.index >= len(g.edges) || g.edges[e.index] != e {
		return
	}
	last := len(g.edges) - 1
	moved := g.edges[last]
	g.edges[e.index] = moved
	moved.index = e.index
	g.edges = g.edges[:last]
	e.index = -1
}

// Edges returns every edge. The slice is a copy; the edges are live.
func (g *Graph) Edges() []*Edge {
	return append([]*Edge(nil), g.edges...)
}

// EdgesFrom returns all edges whose source is n.
func (g *Graph) EdgesFrom(n Node) []*Edge {
	var out []*Edge
	for _, e := range g.edges {
		if e.Src == n {
			out = append(out, e)
		}
	}
	return out
}

// EdgesFromPort returns all edges leaving n at one source port.
func (g *Graph) EdgesFromPort(n Node, port int) []*Edge {
	var out []*Edge
	for _, e := range g.edges {
		if e.Src == n && e.SrcPort == port {
			out = append(out, e)
		}
	}
	return out
}

// EdgesTo returns all edges whose destination is n.
func (g *Graph) EdgesTo(n Node) []*Edge {
	var out []*Edge
	for _, e := range g.edges {
		if e.Dst == n {
			out = append(out, e)
		}
	}
	return out
}

// EdgesToPort returns all edges entering n at one destination port.
func (g *Graph) EdgesToPort(n Node, port int) []*Edge {
	var out []*Edge
	for _, e := range g.edges {
		if e.Dst == n && e.DstPort == port {
			out = append(out, e)
		}
	}
	return out
}
