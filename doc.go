// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package shaderflow is a visual dataflow engine for GPU image
// processing. Image buffers and user-authored WGSL fragment programs
// form a directed multigraph, re-evaluated every tick; feedback cycles
// are permitted and make loops progress by one step per tick.
//
// The Engine façade owns one graph and one resource manager and exposes
// the two external cadences: Evaluate (the simulation tick) and
// DrawPreview (the display refresh). Hosts hand in a GPU device through
// [Config.Devices]; without one the engine runs in logical mode, where
// programs still compile (naga runs on the CPU) but render passes are
// skipped. Logical mode is what the tests use.
//
// Typical use:
//
//	eng, err := shaderflow.NewEngine(shaderflow.Config{Devices: provider})
//	if err != nil { ... }
//	defer eng.Close()
//
//	buf, _ := eng.AddBuffer("canvas", 512, 512)
//	prog, _ := eng.AddProgram("blur", blurWGSL)
//	eng.Connect(buf, 0, prog, 0)
//	eng.Connect(prog, 0, buf, 0)
//
//	for running {
//		eng.Evaluate()
//		eng.DrawPreview(buf, frame)
//	}
//
// shaderflow produces no log output by default. Call [SetLogger] to
// enable structured logging across all subpackages.
package shaderflow
