// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package resource owns the GPU-facing primitives of the shaderflow engine:
// RGBA8 images, compiled WGSL programs, and the full-screen render pass that
// executes a program into an image.
//
// The package has no knowledge of the node graph. The graph package drives
// it through four operations: CreateImage, CompileProgram, RenderInto, and
// CopyImage.
//
// # Device model
//
// A Manager never creates its own GPU device by default. The host hands one
// in through a [DeviceHandle] (the gpucontext.DeviceProvider integration
// point used across the gogpu stack). Without a device the Manager runs in
// logical mode: images keep only their CPU pixel store, program compilation
// still runs the real WGSL compiler (naga is pure Go), and RenderInto
// records the execution without touching a GPU. Logical mode is what tests
// run against.
package resource
