// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package diff compares two snapshots of a project.
//
// Compute classifies paths into created, updated and deleted sets and is
// used by the orchestrator, the routine audit trail and the diff endpoint.
// Unified renders a text diff for display in the CLI.
package diff

import (
	"github.com/AleutianAI/AleutianForge/services/forge/datatypes"
)

// ExcerptLength is the number of characters kept for each side of an
// updated file.
const ExcerptLength = 240

// UpdatedFile is a path whose content differs between base and target.
type UpdatedFile struct {
	Path          string `json:"path"`
	BeforeExcerpt string `json:"beforeExcerpt"`
	AfterExcerpt  string `json:"afterExcerpt"`
}

// Diff is the path-level difference between two snapshots.
type Diff struct {
	Created []string      `json:"created"`
	Updated []UpdatedFile `json:"updated"`
	Deleted []string      `json:"deleted"`
}

// Empty reports whether the two snapshots had identical file sets.
func (d Diff) Empty() bool {
	return len(d.Created) == 0 && len(d.Updated) == 0 && len(d.Deleted) == 0
}

// UpdatedPaths returns the paths of Updated in order.
func (d Diff) UpdatedPaths() []string {
	out := make([]string, 0, len(d.Updated))
	for _, u := range d.Updated {
		out = append(out, u.Path)
	}
	return out
}

// Compute returns the difference from base to target.
//
// # Description
//
// Every target path is either created (absent from base), updated
// (present with different content) or unchanged (omitted). Deleted holds
// the base paths missing from target. A nil base, or a base with no files,
// classifies every target path as created.
//
// # Inputs
//
//   - base: Older snapshot. May be nil.
//   - target: Newer snapshot. May be nil, which deletes every base path.
//
// # Outputs
//
//   - Diff: Created and Updated follow target file order; Deleted follows
//     base file order. Slices are never nil.
//
// # Thread Safety
//
// Pure function; safe for concurrent use.
func Compute(base, target *datatypes.Snapshot) Diff {
	var baseFiles, targetFiles []datatypes.FileRecord
	if base != nil {
		baseFiles = base.Files
	}
	if target != nil {
		targetFiles = target.Files
	}
	return Files(baseFiles, targetFiles)
}

// Files is Compute over bare file lists. A path listed twice keeps its
// first position and its last content on both sides, as NormalizeFiles
// does for stored snapshots.
func Files(base, target []datatypes.FileRecord) Diff {
	d := Diff{
		Created: []string{},
		Updated: []UpdatedFile{},
		Deleted: []string{},
	}
	base = datatypes.NormalizeFiles(base)
	target = datatypes.NormalizeFiles(target)

	before := make(map[string]string, len(base))
	for _, f := range base {
		before[f.Path] = f.Content
	}

	seen := make(map[string]struct{}, len(target))
	for _, f := range target {
		seen[f.Path] = struct{}{}
		old, ok := before[f.Path]
		switch {
		case !ok:
			d.Created = append(d.Created, f.Path)
		case old != f.Content:
			d.Updated = append(d.Updated, UpdatedFile{
				Path:          f.Path,
				BeforeExcerpt: datatypes.Excerpt(old, ExcerptLength),
				AfterExcerpt:  datatypes.Excerpt(f.Content, ExcerptLength),
			})
		}
	}

	for _, f := range base {
		if _, ok := seen[f.Path]; !ok {
			d.Deleted = append(d.Deleted, f.Path)
		}
	}
	return d
}
