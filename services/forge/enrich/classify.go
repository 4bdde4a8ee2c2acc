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
	"unicode"
)

// Classification is the project type guessed from a prompt.
type Classification struct {
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

type category struct {
	tag      string
	keywords []string
}

// categories are checked in order; the first with any hit wins.
var categories = []category{
	{"Internal tools", []string{"internal", "dashboard", "admin", "ops", "backoffice"}},
	{"Website", []string{"landing", "marketing", "website", "portfolio"}},
	{"Personal", []string{"personal", "journal", "diary", "habit"}},
	{"Consumer App", []string{"social", "mobile", "chat", "consumer", "feed"}},
	{"B2B App", []string{"saas", "crm", "b2b", "enterprise", "invoice", "billing"}},
	{"Prototype", []string{"prototype", "mvp", "test", "demo", "experiment"}},
}

// ClassifyPrompt tags a prompt by keyword. Confidence grows by 0.1 per
// keyword hit from 0.5, capped at 0.95. Prompts without a hit are
// Prototype at 0.4.
func ClassifyPrompt(prompt string) Classification {
	lower := strings.ToLower(prompt)
	for _, c := range categories {
		hits := 0
		for _, k := range c.keywords {
			if strings.Contains(lower, k) {
				hits++
			}
		}
		if hits > 0 {
			return Classification{Type: c.tag, Confidence: min(0.5+float64(hits)*0.1, 0.95)}
		}
	}
	return Classification{Type: "Prototype", Confidence: 0.4}
}

var (
	sentenceEndRe = regexp.MustCompile(`[.!?\n]`)
	nonWordRe     = regexp.MustCompile(`[^a-zA-Z0-9]+`)
	slugRe        = regexp.MustCompile(`[^a-z0-9]+`)
)

// DeriveAppName builds a title-cased name from the first sentence of the
// prompt, limited to 40 characters. It falls back to "App".
func DeriveAppName(prompt string) string {
	first := sentenceEndRe.Split(prompt, 2)[0]
	if r := []rune(first); len(r) > 40 {
		first = string(r[:40])
	}

	var words []string
	for _, w := range nonWordRe.Split(strings.TrimSpace(first), -1) {
		if w == "" {
			continue
		}
		r := []rune(strings.ToLower(w))
		r[0] = unicode.ToUpper(r[0])
		words = append(words, string(r))
	}
	if len(words) == 0 {
		return "App"
	}
	return strings.Join(words, " ")
}

// Slug turns a name into a lowercase hyphenated identifier of at most 50
// characters, used for hosting project names.
func Slug(name string) string {
	s := strings.Trim(slugRe.ReplaceAllString(strings.ToLower(name), "-"), "-")
	if len(s) > 50 {
		s = strings.TrimRight(s[:50], "-")
	}
	if s == "" {
		return "app"
	}
	return s
}
