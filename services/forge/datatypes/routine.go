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

import "time"

// RoutineKind names the orchestration run a Routine audits.
type RoutineKind string

const (
	RoutineGeneration     RoutineKind = "GENERATION"
	RoutineBackgroundCode RoutineKind = "BACKGROUND_CODE"
	RoutineDeployment     RoutineKind = "DEPLOYMENT"
	RoutineRollback       RoutineKind = "ROLLBACK"
)

// RoutineStatus is RUNNING until the routine is closed.
type RoutineStatus string

const (
	RoutineRunning RoutineStatus = "RUNNING"
	RoutineSuccess RoutineStatus = "SUCCESS"
	RoutineError   RoutineStatus = "ERROR"
)

// Step is one timestamped event on a routine.
type Step struct {
	Type   string         `json:"type"`
	At     time.Time      `json:"ts"`
	Fields map[string]any `json:"fields,omitempty"`
}

// Routine is the audit record of one orchestration run.
type Routine struct {
	ID         string        `json:"id"`
	OwnerID    string        `json:"ownerId"`
	ProjectID  string        `json:"projectId"`
	Kind       RoutineKind   `json:"kind"`
	Status     RoutineStatus `json:"status"`
	Steps      []Step        `json:"steps"`
	StartedAt  time.Time     `json:"startedAt"`
	FinishedAt *time.Time    `json:"finishedAt,omitempty"`

	// Paths the run created or updated, used to tag the files listing.
	CreatedFiles []string `json:"createdFiles,omitempty"`
	UpdatedFiles []string `json:"updatedFiles,omitempty"`
}

// Terminal reports whether the routine has been closed.
func (r *Routine) Terminal() bool {
	return r.Status == RoutineSuccess || r.Status == RoutineError
}

// HasFileChanges reports whether the routine recorded any file change.
func (r *Routine) HasFileChanges() bool {
	return len(r.CreatedFiles) > 0 || len(r.UpdatedFiles) > 0
}
