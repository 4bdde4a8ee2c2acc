// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package parser

import (
	"context"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/css"
	"github.com/smacker/go-tree-sitter/html"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

const (
	maxLengthPoints    = 20
	runesPerPoint      = 50
	markerPoints       = 3
	maxMarkerPoints    = 18
	placeholderPenalty = 10
	syntaxBonus        = 10
)

var (
	structuralMarkers = []string{"export", "import", "function", "return", "=>", "class", "const"}
	tagRe             = regexp.MustCompile(`<[A-Za-z][A-Za-z0-9.]*[\s/>]`)

	placeholderMarkers = []string{"todo", "...", "placeholder", "lorem ipsum", "rest of", "your code here"}
)

// Scorer ranks candidate blocks for the same path.
//
// # Description
//
// A block earns points for length (up to 20), for each structural marker
// it contains (3 each, up to 18) and a 10 point bonus when tree-sitter
// parses it without error nodes. Each placeholder marker costs 10 points.
//
// # Thread Safety
//
// Safe for concurrent use. Each syntax check uses its own parser.
type Scorer struct {
	syntax bool
}

// NewScorer creates a Scorer. syntax enables the tree-sitter bonus.
func NewScorer(syntax bool) *Scorer {
	return &Scorer{syntax: syntax}
}

// Score returns the quality score of content written to path.
func (s *Scorer) Score(ctx context.Context, path, content string) int {
	score := min(maxLengthPoints, utf8.RuneCountInString(content)/runesPerPoint)

	markers := 0
	for _, m := range structuralMarkers {
		if strings.Contains(content, m) {
			markers += markerPoints
		}
	}
	if tagRe.MatchString(content) {
		markers += markerPoints
	}
	score += min(maxMarkerPoints, markers)

	lower := strings.ToLower(content)
	for _, m := range placeholderMarkers {
		if strings.Contains(lower, m) {
			score -= placeholderPenalty
		}
	}

	if s.syntax && ParsesCleanly(ctx, path, content) {
		score += syntaxBonus
	}
	return score
}

// Select keeps the highest scoring block per path. Ties keep the earlier
// block. The result preserves first-seen path order.
func (s *Scorer) Select(ctx context.Context, blocks []Block) ([]Block, int) {
	type candidate struct {
		block Block
		score int
	}
	order := make([]string, 0, len(blocks))
	best := make(map[string]candidate, len(blocks))
	discarded := 0

	for _, b := range blocks {
		cur, seen := best[b.Path]
		if !seen {
			order = append(order, b.Path)
			best[b.Path] = candidate{block: b, score: s.Score(ctx, b.Path, b.Content)}
			continue
		}
		discarded++
		if score := s.Score(ctx, b.Path, b.Content); score > cur.score {
			best[b.Path] = candidate{block: b, score: score}
		}
	}

	out := make([]Block, 0, len(order))
	for _, p := range order {
		out = append(out, best[p].block)
	}
	return out, discarded
}

// languageFor maps a file extension to its tree-sitter grammar.
func languageFor(path string) *sitter.Language {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ts":
		return typescript.GetLanguage()
	case ".tsx", ".jsx":
		return tsx.GetLanguage()
	case ".js", ".mjs", ".cjs":
		return javascript.GetLanguage()
	case ".css":
		return css.GetLanguage()
	case ".html", ".htm":
		return html.GetLanguage()
	default:
		return nil
	}
}

// ParsesCleanly reports whether content parses without error nodes in the
// grammar chosen by the path extension. Unknown extensions return false.
func ParsesCleanly(ctx context.Context, path, content string) bool {
	lang := languageFor(path)
	if lang == nil || strings.TrimSpace(content) == "" {
		return false
	}

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(lang)

	tree, err := parser.ParseCtx(ctx, nil, []byte(content))
	if err != nil || tree == nil {
		return false
	}
	defer tree.Close()
	return !tree.RootNode().HasError()
}
