// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package graph

import "strings"

// DefaultBufferName replaces names that sanitize to nothing usable.
const DefaultBufferName = "buffer"

// SanitizeIdentifier maps an arbitrary display name to a valid WGSL
// identifier: characters outside [A-Za-z0-9_] become '_', a leading digit
// gains a '_' prefix, and names that end up empty or all underscores fall
// back to DefaultBufferName.
func SanitizeIdentifier(name string) string {
	var b strings.Builder
	b.Grow(len(name) + 1)
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	s := b.String()
	if strings.Trim(s, "_") == "" {
		return DefaultBufferName
	}
	return s
}
