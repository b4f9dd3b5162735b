// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package graph

// Edge is a directed connection from a source node's output port to a
// destination node's input port. The Graph is the sole owner: edges are
// created through AddEdge, removed through RemoveEdge or as a side effect
// of node removal, and never shared between graphs.
type Edge struct {
	Src     Node
	SrcPort int
	Dst     Node
	DstPort int

	// index is the edge's slot in Graph.edges, kept current by the
	// graph so removal is O(1). -1 after removal.
	index int
}
