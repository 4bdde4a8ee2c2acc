// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package enrich holds the deterministic heuristics that shape a
// generation: plan limits, suggested follow-up files, project naming and
// the core files every snapshot must carry.
package enrich

import (
	"github.com/AleutianAI/AleutianForge/services/forge/datatypes"
	"github.com/AleutianAI/AleutianForge/services/forge/parser"
)

// DefaultCreateLimit is the number of CREATE entries kept per plan.
const DefaultCreateLimit = 3

// ApplyCreateLimit keeps the first limit CREATE entries and drops the
// rest. preview.html never counts toward the limit and entries of other
// actions are untouched.
//
// # Outputs
//
//   - []parser.PlanEntry: Plan with order preserved.
//   - []string: Paths of the dropped CREATE entries, in plan order.
func ApplyCreateLimit(plan []parser.PlanEntry, limit int) ([]parser.PlanEntry, []string) {
	if limit < 0 {
		limit = 0
	}
	kept := make([]parser.PlanEntry, 0, len(plan))
	var removed []string
	creates := 0
	for _, e := range plan {
		if e.Action == parser.ActionCreate && e.Path != datatypes.PreviewPath {
			creates++
			if creates > limit {
				removed = append(removed, e.Path)
				continue
			}
		}
		kept = append(kept, e)
	}
	return kept, removed
}
