// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation checks untrusted inputs before they are used as file
// paths, storage keys or object names.
//
// Snapshot file paths come from imported bundles and from model replies.
// They end up in badger keys, archive object names and preview URLs, so a
// path like "../../etc/passwd" must never be accepted.
package validation

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// MaxPathLength bounds a snapshot file path in bytes.
const MaxPathLength = 255

// ErrUnsafePath is wrapped by every path rejection.
var ErrUnsafePath = errors.New("unsafe file path")

// ValidateFilePath validates a project-relative file path.
//
// Valid paths:
//   - 1-255 bytes
//   - relative, using forward slashes
//   - no "." or ".." segments and no empty segments
//   - no control characters
//
// Example:
//
//	if err := validation.ValidateFilePath(block.Path); err != nil {
//	    continue // drop the block
//	}
func ValidateFilePath(p string) error {
	switch {
	case p == "":
		return fmt.Errorf("%w: empty", ErrUnsafePath)
	case len(p) > MaxPathLength:
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrUnsafePath, len(p), MaxPathLength)
	case strings.HasPrefix(p, "/"):
		return fmt.Errorf("%w: %q is absolute", ErrUnsafePath, p)
	case strings.Contains(p, `\`):
		return fmt.Errorf("%w: %q contains a backslash", ErrUnsafePath, p)
	}
	if strings.IndexFunc(p, unicode.IsControl) >= 0 {
		return fmt.Errorf("%w: %q contains control characters", ErrUnsafePath, p)
	}
	for _, seg := range strings.Split(p, "/") {
		switch seg {
		case "":
			return fmt.Errorf("%w: %q has an empty segment", ErrUnsafePath, p)
		case ".", "..":
			return fmt.Errorf("%w: %q has a relative segment", ErrUnsafePath, p)
		}
	}
	return nil
}

// ValidateFilePaths validates several paths.
// Returns an error listing all invalid paths if any fail validation.
func ValidateFilePaths(paths []string) error {
	var invalid []string
	for _, p := range paths {
		if err := ValidateFilePath(p); err != nil {
			invalid = append(invalid, fmt.Sprintf("%q", p))
		}
	}
	if len(invalid) > 0 {
		return fmt.Errorf("%w: %s", ErrUnsafePath, strings.Join(invalid, ", "))
	}
	return nil
}
