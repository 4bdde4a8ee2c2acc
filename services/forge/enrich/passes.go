// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package enrich

import (
	"fmt"
	"strings"
)

// Mode is the enrichment aggressiveness.
type Mode string

const (
	ModeLight      Mode = "light"
	ModeBalanced   Mode = "balanced"
	ModeAggressive Mode = "aggressive"
)

// passCeiling is the hard cap on passes regardless of mode or override.
const passCeiling = 4

// PassConfig is the resolved enrichment budget of one code phase.
type PassConfig struct {
	Mode      Mode   `json:"mode"`
	MaxPasses int    `json:"maxPasses"`
	Rationale string `json:"rationale"`
}

// String summarizes the config for routine steps and logs.
func (c PassConfig) String() string {
	return fmt.Sprintf("%s mode: maxPasses=%d (%s)", c.Mode, c.MaxPasses, c.Rationale)
}

// ResolvePassConfig decides how many enrichment passes a project gets.
//
// # Description
//
// An override (ENRICH_MAX_PASSES) wins when positive. It is capped at the
// ceiling and drops to one pass for projects with ten or more files.
// Otherwise the mode decides: light always runs one pass, aggressive
// tapers from four passes as the project grows, and balanced (the
// default, also used for unknown modes) runs three, two or one.
func ResolvePassConfig(fileCount int, requested string, override int) PassConfig {
	mode := Mode(strings.ToLower(strings.TrimSpace(requested)))
	if mode == "" {
		mode = ModeBalanced
	}

	if override > 0 {
		limit := min(override, passCeiling)
		if fileCount >= 10 {
			limit = min(limit, 1)
		}
		return PassConfig{
			Mode:      mode,
			MaxPasses: limit,
			Rationale: fmt.Sprintf("env override ENRICH_MAX_PASSES=%d -> %d (fileCount=%d)", override, limit, fileCount),
		}
	}

	switch mode {
	case ModeLight:
		return PassConfig{Mode: ModeLight, MaxPasses: 1, Rationale: "light mode: minimal background cost"}
	case ModeAggressive:
		var limit int
		switch {
		case fileCount <= 4:
			limit = 4
		case fileCount <= 7:
			limit = 3
		case fileCount <= 10:
			limit = 2
		default:
			limit = 1
		}
		limit = min(limit, passCeiling)
		return PassConfig{
			Mode:      ModeAggressive,
			MaxPasses: limit,
			Rationale: fmt.Sprintf("aggressive mode adaptive (files=%d) => %d", fileCount, limit),
		}
	default:
		limit := 2
		if fileCount <= 5 {
			limit = 3
		} else if fileCount >= 10 {
			limit = 1
		}
		return PassConfig{
			Mode:      ModeBalanced,
			MaxPasses: limit,
			Rationale: fmt.Sprintf("balanced mode adaptive (files=%d) => %d", fileCount, limit),
		}
	}
}
