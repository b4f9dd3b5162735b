// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package graph

import (
	"fmt"

	"github.com/gogpu/shaderflow/resource"
)

// NodeRecord is the persistable form of one node. Pixel content is never
// part of a snapshot; rerunning an evaluation regenerates it.
type NodeRecord struct {
	ID   string   `json:"id"`
	Kind Kind     `json:"kind"`
	Name string   `json:"name"`
	Geom Geometry `json:"geom"`

	// Program fields.
	Body   string   `json:"body,omitempty"`
	Inputs []string `json:"inputs,omitempty"`

	// Buffer fields.
	Width  int `json:"width,omitempty"`
	Height int `json:"height,omitempty"`
}

// EdgeRecord is the persistable form of one edge.
type EdgeRecord struct {
	SrcID   string `json:"src"`
	SrcPort int    `json:"srcPort"`
	DstID   string `json:"dst"`
	DstPort int    `json:"dstPort"`
}

// Snapshot is an enumerable view of the graph's structure, suitable for
// the external persistence layer.
type Snapshot struct {
	Nodes []NodeRecord `json:"nodes"`
	Edges []EdgeRecord `json:"edges"`
}

// Snapshot captures the graph's nodes (insertion order) and edges.
func (g *Graph) Snapshot() Snapshot {
	var snap Snapshot
	for _, n := range g.order {
		rec := NodeRecord{
			ID:   n.ID(),
			Kind: n.Kind(),
			Name: n.Name(),
			Geom: *n.Geom(),
		}
		switch node := n.(type) {
		case *BufferNode:
			rec.Width = node.Width()
			rec.Height = node.Height()
		case *ProgramNode:
			rec.Body = node.SourceText()
			rec.Inputs = node.InputPorts()
		}
		snap.Nodes = append(snap.Nodes, rec)
	}
	for _, e := range g.edges {
		snap.Edges = append(snap.Edges, EdgeRecord{
			SrcID:   e.Src.ID(),
			SrcPort: e.SrcPort,
			DstID:   e.Dst.ID(),
			DstPort: e.DstPort,
		})
	}
	return snap
}

// Restore rebuilds a graph from a snapshot: all nodes first, then all
// edges, then one evaluation pass to regenerate derived image content.
// Edge records referring to unknown nodes are skipped. Restored program
// nodes size their internal output image to outputW x outputH; zero or
// negative dimensions fall back to DefaultOutputSize.
func Restore(snap Snapshot, mgr *resource.Manager, outputW, outputH int) (*Graph, error) {
	g := New()
	for _, rec := range snap.Nodes {
		var n Node
		switch rec.Kind {
		case KindBuffer:
			buf, err := NewBufferNode(rec.ID, rec.Name, rec.Width, rec.Height, mgr)
			if err != nil {
				return nil, fmt.Errorf("restore node %q: %w", rec.ID, err)
			}
			n = buf
		case KindProgram:
			prog := NewProgramNode(rec.ID, rec.Name, rec.Body, outputW, outputH)
			if len(rec.Inputs) > 0 {
				prog.ensureInputSlot(len(rec.Inputs) - 1)
			}
			n = prog
		default:
			return nil, fmt.Errorf("restore node %q: unknown kind %q", rec.ID, rec.Kind)
		}
		*n.Geom() = rec.Geom
		g.AddNode(n)
	}

	for _, rec := range snap.Edges {
		src := g.Node(rec.SrcID)
		dst := g.Node(rec.DstID)
		if src == nil || dst == nil {
			continue
		}
		g.AddEdge(src, rec.SrcPort, dst, rec.DstPort)
	}

	g.Evaluate(mgr)
	return g, nil
}
