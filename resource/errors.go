// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package resource

import (
	"errors"
	"fmt"
)

// Resource manager errors.
var (
	// ErrManagerClosed is returned when operating on a closed manager.
	ErrManagerClosed = errors.New("resource: manager closed")

	// ErrInvalidDimensions is returned when image dimensions are not positive.
	ErrInvalidDimensions = errors.New("resource: invalid dimensions")

	// ErrImageReleased is returned when operating on a released image.
	ErrImageReleased = errors.New("resource: image has been released")

	// ErrProgramReleased is returned when executing a released program.
	ErrProgramReleased = errors.New("resource: program has been released")

	// ErrNilImage is returned when a required image argument is nil.
	ErrNilImage = errors.New("resource: image is nil")

	// ErrNilProgram is returned when a required program argument is nil.
	ErrNilProgram = errors.New("resource: program is nil")

	// ErrNilTarget is returned when a preview target is nil or empty.
	ErrNilTarget = errors.New("resource: preview target is nil")
)

// CompileError reports a WGSL compile or link failure. The diagnostic text
// comes from the compiler and is meant to be shown next to the failing
// node; the tick that triggered the compile carries on.
type CompileError struct {
	// Label identifies the program that failed to build.
	Label string

	// Diagnostic is the compiler-reported message.
	Diagnostic string

	// Err is the underlying compiler error.
	Err error
}

// Error implements the error interface.
func (e *CompileError) Error() string {
	if e.Label != "" {
		return fmt.Sprintf("resource: compile %q: %s", e.Label, e.Diagnostic)
	}
	return "resource: compile: " + e.Diagnostic
}

// Unwrap returns the underlying compiler error.
func (e *CompileError) Unwrap() error { return e.Err }
