// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package preview renders the human-viewable preview.html artifact.
//
// PlanReport lays out the parsed plan narrative. SiteMock approximates
// the finished site (hero, feature cards, focus areas) so a user sees an
// end state before the code phase runs.
package preview

import (
	"bytes"
	"fmt"
	"html/template"
	"regexp"
	"strings"
)

// Phase selects the badge of a plan report.
type Phase string

const (
	PhasePlan Phase = "plan"
	PhaseCode Phase = "code"
)

const (
	maxFeatures   = 6
	maxFocusAreas = 4
	promptSeedLen = 160

	// minDraftLength is the shortest model HTML draft accepted as a preview.
	minDraftLength = 400
)

// Sections is the data both renderers draw from.
type Sections struct {
	ProjectName string
	Prompt      string
	PlanLines   []string
	Summary     string
	Proposed    []string
	Pitfalls    []string
	Todos       []string
	// Features overrides the feature cards of SiteMock. Empty derives them
	// from PlanLines.
	Features []string
}

var (
	actionPrefixRe = regexp.MustCompile(`(?i)^(CREATE|UPDATE|DELETE)\s+`)
	unsafeTitleRe  = regexp.MustCompile("[`<>]")
	pathSepRe      = regexp.MustCompile(`[._/]`)
)

// IsCompleteDraft reports whether a model-written HTML draft is complete
// enough to use as the preview.
func IsCompleteDraft(draft string) bool {
	return len(draft) >= minDraftLength && strings.Contains(strings.ToLower(draft), "<html")
}

func seed(prompt string) string {
	if r := []rune(prompt); len(r) > promptSeedLen {
		return string(r[:promptSeedLen])
	}
	return prompt
}

// PlanReport renders the plan narrative with a PLAN DRAFT or IMPLEMENTED
// badge depending on phase.
func PlanReport(s Sections, phase Phase) string {
	if phase != PhaseCode {
		phase = PhasePlan
	}
	summary := s.Summary
	if summary == "" {
		summary = "No summary"
	}
	return render(planReportTmpl, map[string]any{
		"Name":     s.ProjectName,
		"Summary":  summary,
		"Seed":     seed(s.Prompt),
		"Plan":     s.PlanLines,
		"Proposed": s.Proposed,
		"Pitfalls": s.Pitfalls,
		"Todos":    s.Todos,
		"IsPlan":   phase == PhasePlan,
		"Phase":    string(phase),
	})
}

type card struct {
	Title       string
	Description string
}

// SiteMock renders a static approximation of the finished site.
func SiteMock(s Sections) string {
	features := s.Features
	if len(features) == 0 {
		for _, line := range s.PlanLines {
			fields := strings.Fields(actionPrefixRe.ReplaceAllString(line, ""))
			if len(fields) > 0 {
				features = append(features, fields[0])
			}
		}
	}
	if len(features) > maxFeatures {
		features = features[:maxFeatures]
	}

	cards := make([]card, 0, len(features))
	for _, f := range features {
		cards = append(cards, card{
			Title:       unsafeTitleRe.ReplaceAllString(f, ""),
			Description: "Implements " + pathSepRe.ReplaceAllString(f, " ") + " functionality.",
		})
	}

	todos := s.Todos
	if len(todos) > maxFocusAreas {
		todos = todos[:maxFocusAreas]
	}
	lead := s.Summary
	if lead == "" {
		lead = seed(s.Prompt)
	}
	return render(siteMockTmpl, map[string]any{
		"Name":  s.ProjectName,
		"Lead":  lead,
		"Cards": cards,
		"Todos": todos,
	})
}

func render(t *template.Template, data any) string {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		// Templates are static and data is plain strings; an error here is
		// a programming mistake.
		panic(fmt.Sprintf("preview: render %s: %v", t.Name(), err))
	}
	return buf.String()
}
