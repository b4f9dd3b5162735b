// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package graph

import (
	"log/slog"

	"github.com/gogpu/shaderflow/resource"
)

// EvalStats summarizes one evaluation pass.
type EvalStats struct {
	// Evaluated counts node evaluations, including cycle reruns.
	Evaluated int

	// Failures counts nodes whose evaluation returned an error and was
	// skipped. Failures never abort the pass.
	Failures int

	// CycleReruns counts the extra evaluations of cycle members.
	CycleReruns int
}

// Evaluate runs one tick: every node once in dependency order, then each
// feedback cycle's members exactly once more so loops progress. A failing
// node (typically a compile error) is logged and skipped; the rest of
// the pass is unaffected.
func (g *Graph) Evaluate(mgr *resource.Manager) EvalStats {
	var stats EvalStats
	res := g.ComputeOrder()

	for _, n := range res.Order {
		stats.Evaluated++
		if err := n.Evaluate(g, mgr); err != nil {
			stats.Failures++
			logger().Warn("node evaluation failed",
				slog.String("id", n.ID()), slog.Any("error", err))
		}
	}

	if len(res.CycleEntries) == 0 {
		return stats
	}

	rerun := make(map[Node]bool)
	for _, entry := range res.CycleEntries {
		for _, n := range g.cycleComponent(entry, res.cycleEdges) {
			if rerun[n] {
				continue
			}
			rerun[n] = true
			stats.Evaluated++
			stats.CycleReruns++
			if err := n.Evaluate(g, mgr); err != nil {
				stats.Failures++
				logger().Warn("cycle re-evaluation failed",
					slog.String("id", n.ID()), slog.Any("error", err))
			}
		}
	}
	return stats
}

// cycleComponent collects, in discovery order, every node reachable from
// entry by walking cycle-flagged edges in either direction. The
// traversal is bounded by the visited set, so mutual and nested cycles
// terminate.
func (g *Graph) cycleComponent(entry Node, cycleEdges map[*Edge]bool) []Node {
	visited := map[Node]bool{entry: true}
	component := []Node{entry}
	queue := []Node{entry}

	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		for _, e := range g.edges {
			if !cycleEdges[e] {
				continue
			}
			var next Node
			switch n {
			case e.Src:
				next = e.Dst
			case e.Dst:
				next = e.Src
			default:
				continue
			}
			if !visited[next] {
				visited[next] = true
				component = append(component, next)
				queue = append(queue, next)
			}
		}
	}
	return component
}
