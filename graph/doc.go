// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package graph implements the dataflow core of shaderflow: a directed
// multigraph of buffer nodes (persistent RGBA8 images) and program nodes
// (user-authored WGSL fragment transforms), re-evaluated every tick.
//
// The graph may be cyclic by intent; feedback loops are how ping-pong
// effects and cellular automata are built. Evaluation therefore runs in
// two phases: a depth-first pass that orders the acyclic part fully and
// records where cycles enter, then one extra pass over each cycle's
// members so feedback makes one step of forward progress per tick.
//
// Program interfaces are never declared by the user. Each program's
// uniform block is derived from its live inbound edges on every tick, and
// recompilation happens only when the fully assembled source changes.
//
// All node logic receives the Graph and the resource.Manager as explicit
// arguments; the package keeps no global state beyond its logger.
package graph
