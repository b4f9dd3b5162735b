// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package graph

// OrderResult is the outcome of one ordering pass: the dependency order
// over all nodes plus the cycle structure discovered along the way.
type OrderResult struct {
	// Order contains every node exactly once. For any node with no path
	// back to itself, all transitive dependencies appear before it.
	Order []Node

	// CycleEntries lists the nodes at which a feedback loop was entered,
	// in discovery order, each at most once.
	CycleEntries []Node

	// cycleEdges flags the edges lying on a detected cycle; the
	// evaluation pass expands cycle components by traversing only these.
	cycleEdges map[*Edge]bool
}

const (
	markUnvisited = iota
	markInProgress
	markDone
)

type orderWalker struct {
	g      *Graph
	marks  map[Node]int
	result OrderResult
	// path mirrors the recursion stack: the node at each depth and the
	// edge that led to it (nil for roots).
	path []pathEntry
}

type pathEntry struct {
	node Node
	via  *Edge
}

// ComputeOrder runs a depth-first traversal over all nodes, visiting
// each node's upstream dependencies (incoming edges) before the node
// itself. Revisiting a node that is still on the recursion path marks a
// cycle: the entry node is recorded and every edge along the looping
// path segment is flagged, but the traversal carries on. Runs in O(V+E)
// and never loops.
func (g *Graph) ComputeOrder() OrderResult {
	w := &orderWalker{
		g:     g,
		marks: make(map[Node]int, len(g.order)),
		result: OrderResult{
			cycleEdges: make(map[*Edge]bool),
		},
	}
	for _, n := range g.order {
		if w.marks[n] == markUnvisited {
			w.visit(n, nil)
		}
	}
	return w.result
}

func (w *orderWalker) visit(n Node, via *Edge) {
	w.marks[n] = markInProgress
	w.path = append(w.path, pathEntry{node: n, via: via})

	for _, e := range w.g.EdgesTo(n) {
		switch w.marks[e.Src] {
		case markUnvisited:
			w.visit(e.Src, e)
		case markInProgress:
			w.recordCycle(e)
		}
	}

	w.path = w.path[:len(w.path)-1]
	w.marks[n] = markDone
	w.result.Order = append(w.result.Order, n)
}

// recordCycle flags the back edge plus the path segment from the cycle
// entry down to the current node, and records the entry once.
func (w *orderWalker) recordCycle(back *Edge) {
	w.result.cycleEdges[back] = true

	entry := back.Src
	start := -1
	for i := len(w.path) - 1; i >= 0; i-- {
		if w.path[i].node == entry {
			start = i
			break
		}
	}
	if start >= 0 {
		for i := start + 1; i < len(w.path); i++ {
			if w.path[i].via != nil {
				w.result.cycleEdges[w.path[i].via] = true
			}
		}
	}

	for _, seen := range w.result.CycleEntries {
		if seen == entry {
			return
		}
	}
	w.result.CycleEntries = append(w.result.CycleEntries, entry)
}
