// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package graph

import "github.com/gogpu/shaderflow/resource"

// Kind discriminates the two node types of the dataflow graph.
type Kind string

const (
	// KindBuffer is a persistent image store.
	KindBuffer Kind = "buffer"

	// KindProgram is a user-authored fragment transform.
	KindProgram Kind = "program"
)

// Geometry holds a node's position and extent on the editor canvas. The
// layout collaborator mutates it freely; evaluation never reads it.
type Geometry struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Node is one unit of the dataflow graph. The Graph owns a node's
// membership; the node exclusively owns its GPU resources, released
// through Release when the node leaves the graph.
type Node interface {
	// ID returns the node's unique identifier.
	ID() string

	// Kind reports the node type.
	Kind() Kind

	// Name returns the display name. For buffer nodes this doubles as
	// the uniform identifier downstream programs see.
	Name() string

	// SetName updates the display name.
	SetName(name string)

	// InputPorts returns the ordered named input ports.
	InputPorts() []string

	// OutputPorts returns the ordered named output ports.
	OutputPorts() []string

	// Geom returns the mutable editor geometry.
	Geom() *Geometry

	// Evaluate runs the node's per-tick work.
	Evaluate(g *Graph, mgr *resource.Manager) error

	// Release frees the node's owned GPU resources.
	Release(mgr *resource.Manager)
}

type baseNode struct {
	id      string
	name    string
	inputs  []string
	outputs []string
	geom    Geometry
}

func (n *baseNode) ID() string            { return n.id }
func (n *baseNode) Name() string          { return n.name }
func (n *baseNode) SetName(name string)   { n.name = name }
func (n *baseNode) Geom() *Geometry       { return &n.geom }
func (n *baseNode) InputPorts() []string  { return append([]string(nil), n.inputs...) }
func (n *baseNode) OutputPorts() []string { return append([]string(nil), n.outputs...) }
