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
	"regexp"
	"strings"

	"github.com/AleutianAI/AleutianForge/services/forge/datatypes"
	"github.com/AleutianAI/AleutianForge/services/forge/parser"
)

// maxTargets caps DeriveTargets.
const maxTargets = 4

var (
	contactRe = regexp.MustCompile(`contact us|support|email us|reach out`)
	pricingRe = regexp.MustCompile(`pricing|price plan|pricing plan|plans? starts|subscription`)
	aboutRe   = regexp.MustCompile(`about us|our mission|our team|who we are`)
)

// DeriveTargets suggests up to four files to create next, based on the
// size and copy of the entry page and on which components exist.
func DeriveTargets(files []datatypes.FileRecord) []parser.PlanEntry {
	paths := make(map[string]bool, len(files))
	for _, f := range files {
		paths[f.Path] = true
	}

	var out []parser.PlanEntry
	suggest := func(path, reason string) {
		if !paths[path] {
			out = append(out, parser.PlanEntry{Action: parser.ActionCreate, Path: path, Reason: reason})
		}
	}

	if page, ok := find(files, datatypes.PagePath); ok {
		lines := strings.Count(page, "\n") + 1
		if lines > 120 {
			suggest("components/Hero.tsx", "Extract hero section from large page for modularity")
		}
		if lines > 160 {
			suggest("components/FeatureGrid.tsx", "Grid of feature cards separated for reuse")
		}

		lower := strings.ToLower(page)
		if contactRe.MatchString(lower) {
			suggest("app/contact/page.tsx", "Contact page derived from landing copy keywords")
		}
		if pricingRe.MatchString(lower) {
			suggest("app/pricing/page.tsx", "Pricing page suggested by monetization language")
		}
		if aboutRe.MatchString(lower) {
			suggest("app/about/page.tsx", "About page suggested by company/mission language")
		}
	}

	components := 0
	for _, f := range files {
		if strings.HasPrefix(f.Path, "components/") && strings.HasSuffix(f.Path, ".tsx") {
			components++
		}
	}
	if components >= 2 {
		suggest("components/Layout.tsx", "Shared layout (header/footer) wrapper")
	}
	suggest("app/globals.css", "Global stylesheet for base variables and resets")
	if components >= 3 {
		suggest("lib/store.ts", "Lightweight reactive store (prototype)")
	}

	if len(out) > maxTargets {
		out = out[:maxTargets]
	}
	return out
}

func find(files []datatypes.FileRecord, path string) (string, bool) {
	for _, f := range files {
		if f.Path == path {
			return f.Content, true
		}
	}
	return "", false
}
