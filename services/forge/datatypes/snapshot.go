// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"time"
)

// PreviewPath is the single human-viewable artifact every snapshot carries.
const PreviewPath = "preview.html"

// PagePath is the entry page of a generated project.
const PagePath = "app/page.tsx"

// PreviewStrategy records how the preview artifact of a snapshot was made.
type PreviewStrategy string

const (
	PreviewModelDraft      PreviewStrategy = "model-draft"
	PreviewSiteMock        PreviewStrategy = "site-mock"
	PreviewPlanReport      PreviewStrategy = "plan-report"
	PreviewModelBlock      PreviewStrategy = "model-block"
	PreviewCorePlaceholder PreviewStrategy = "core-placeholder"
	PreviewImported        PreviewStrategy = "imported"
)

// FileRecord is one (path, content) pair of a snapshot.
type FileRecord struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// PlanMeta is the parsed narrative of a plan or code reply.
type PlanMeta struct {
	PlanLines []string `json:"planLines"`
	Summary   string   `json:"summary"`
	Proposed  []string `json:"proposed"`
	Pitfalls  []string `json:"pitfalls"`
	Todos     []string `json:"todos"`
}

// Snapshot is an immutable, ordered file set of a project.
//
// # Description
//
// Snapshots form a linear per-project history ordered by CreatedAt. They
// are never modified after they are written: every change, including a
// deployment patch, produces a new Snapshot.
//
// # Limitations
//
//   - Files keep their insertion order; duplicate paths are not allowed
//     and are collapsed by the writers before persisting.
type Snapshot struct {
	ID              string          `json:"id"`
	ProjectID       string          `json:"projectId"`
	Files           []FileRecord    `json:"files"`
	Meta            *PlanMeta       `json:"meta,omitempty"`
	PreviewStrategy PreviewStrategy `json:"previewStrategy,omitempty"`
	Summary         string          `json:"summary,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
}

// SnapshotInfo is the list view of a snapshot without file bodies.
type SnapshotInfo struct {
	ID              string          `json:"id"`
	FileCount       int             `json:"fileCount"`
	PreviewStrategy PreviewStrategy `json:"previewStrategy,omitempty"`
	Summary         string          `json:"summary,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
}

// Info returns the list view of s.
func (s *Snapshot) Info() SnapshotInfo {
	summary := s.Summary
	if summary == "" && s.Meta != nil {
		summary = s.Meta.Summary
	}
	return SnapshotInfo{
		ID:              s.ID,
		FileCount:       len(s.Files),
		PreviewStrategy: s.PreviewStrategy,
		Summary:         summary,
		CreatedAt:       s.CreatedAt,
	}
}

// File returns the content at path and whether it exists.
func (s *Snapshot) File(path string) (string, bool) {
	if s == nil {
		return "", false
	}
	for _, f := range s.Files {
		if f.Path == path {
			return f.Content, true
		}
	}
	return "", false
}

// CloneFiles returns a copy of the snapshot's files safe to mutate.
func (s *Snapshot) CloneFiles() []FileRecord {
	if s == nil {
		return nil
	}
	return CloneFiles(s.Files)
}

// CloneFiles copies a file slice.
func CloneFiles(files []FileRecord) []FileRecord {
	out := make([]FileRecord, len(files))
	copy(out, files)
	return out
}

// NormalizeFiles drops empty paths and collapses duplicate paths, keeping
// the position of the first occurrence and the content of the last one.
func NormalizeFiles(files []FileRecord) []FileRecord {
	index := make(map[string]int, len(files))
	out := make([]FileRecord, 0, len(files))
	for _, f := range files {
		if f.Path == "" {
			continue
		}
		if i, ok := index[f.Path]; ok {
			out[i].Content = f.Content
			continue
		}
		index[f.Path] = len(out)
		out = append(out, f)
	}
	return out
}

// TotalBytes returns the summed content length of files.
func TotalBytes(files []FileRecord) int {
	n := 0
	for _, f := range files {
		n += len(f.Content)
	}
	return n
}
