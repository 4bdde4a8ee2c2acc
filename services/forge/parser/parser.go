// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package parser turns completion replies into plans and file blocks.
//
// # Reply Grammar
//
// A plan reply carries a File Plan followed by four numbered sections:
//
//	File Plan:
//	CREATE components/Hero.tsx – hero section
//	UPDATE app/page.tsx – mount the hero
//
//	1) Summary of intent
//	2) Proposed changes
//	3) Potential pitfalls
//	4) Next TODO bullets
//
// A code reply additionally carries full file bodies:
//
//	<file path="app/page.tsx">
//	...content...
//	</file>
package parser

import (
	"context"
	"regexp"
	"strings"

	"github.com/AleutianAI/AleutianForge/pkg/validation"
	"github.com/AleutianAI/AleutianForge/services/forge/datatypes"
)

// Action is the verb of a plan line.
type Action string

const (
	ActionCreate Action = "CREATE"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
)

// maxBullets bounds every bulletized section.
const maxBullets = 40

// PlanEntry is one parsed File Plan line.
type PlanEntry struct {
	Action Action `json:"action"`
	Path   string `json:"path"`
	Reason string `json:"reason,omitempty"`
}

// Block is one <file> body of a code reply.
type Block struct {
	Path    string
	Content string
}

// Plan is a parsed plan reply.
type Plan struct {
	Meta datatypes.PlanMeta
	// Entries are the plan lines that matched the CREATE|UPDATE|DELETE grammar.
	Entries []PlanEntry
	// Unparsed are plan lines that did not.
	Unparsed []string
}

// Code is a parsed code reply.
type Code struct {
	Plan
	// Blocks holds one winning block per path, in first-seen order.
	Blocks []Block
	// Discarded counts duplicate blocks that lost to a higher score.
	Discarded int
}

// BlockFor returns the block for path.
func (c *Code) BlockFor(path string) (Block, bool) {
	for _, b := range c.Blocks {
		if b.Path == path {
			return b, true
		}
	}
	return Block{}, false
}

// ReplyParser is the contract between the completion service and the
// orchestrator.
type ReplyParser interface {
	ParsePlan(text string) *Plan
	ParseCode(ctx context.Context, text string) *Code
}

// Parser is the default ReplyParser.
type Parser struct {
	scorer *Scorer
}

// New creates a Parser that resolves duplicate blocks with scorer. A nil
// scorer uses NewScorer(true).
func New(scorer *Scorer) *Parser {
	if scorer == nil {
		scorer = NewScorer(true)
	}
	return &Parser{scorer: scorer}
}

// ParsePlan implements ReplyParser.
func (p *Parser) ParsePlan(text string) *Plan {
	meta := ParseSections(text)
	plan := &Plan{Meta: meta}
	for _, line := range meta.PlanLines {
		if entry, ok := ParsePlanLine(line); ok {
			plan.Entries = append(plan.Entries, entry)
		} else {
			plan.Unparsed = append(plan.Unparsed, line)
		}
	}
	return plan
}

// ParseCode implements ReplyParser.
func (p *Parser) ParseCode(ctx context.Context, text string) *Code {
	// Sections are read with the file bodies removed so a trailing block
	// does not leak into the TODO bullets.
	code := &Code{Plan: *p.ParsePlan(blockRe.ReplaceAllString(text, ""))}
	code.Blocks, code.Discarded = p.scorer.Select(ctx, ParseBlocks(text))
	return code
}

// =============================================================================
// Grammar
// =============================================================================

var (
	planLineRe = regexp.MustCompile(`(?i)^(?:[-*+]\s*)?(CREATE|UPDATE|DELETE)\s+` + "`?" + `([^\s` + "`" + `]+)` + "`?" + `\s*(?:[–—:-]+\s*(.*))?$`)
	planHeadRe = regexp.MustCompile(`(?i)File Plan:\n`)
	summaryRe  = regexp.MustCompile(`(?i)\n1\)\s*Summary`)
	sectionRe  = regexp.MustCompile(`(?i)\n[1-4]\)\s*(?:Summary of intent|Proposed changes|Potential pitfalls|Next TODO bullets)`)
	bulletRe   = regexp.MustCompile(`^(?:[-*+]|\d{1,2}[.)])\s*`)
	blockRe    = regexp.MustCompile(`(?s)<file path="([^"]+)">\n?(.*?)\n?</file>`)

	sectionHeads = map[byte]*regexp.Regexp{
		'1': regexp.MustCompile(`(?i)^1\)\s*Summary of intent\s*`),
		'2': regexp.MustCompile(`(?i)^2\)\s*Proposed changes.*\n?`),
		'3': regexp.MustCompile(`(?i)^3\)\s*Potential pitfalls\s*`),
		'4': regexp.MustCompile(`(?i)^4\)\s*Next TODO bullets\s*`),
	}
)

// ParsePlanLine parses "CREATE|UPDATE|DELETE <path> – <reason>".
func ParsePlanLine(line string) (PlanEntry, bool) {
	m := planLineRe.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return PlanEntry{}, false
	}
	return PlanEntry{
		Action: Action(strings.ToUpper(m[1])),
		Path:   strings.TrimRight(m[2], ":,"),
		Reason: strings.TrimSpace(m[3]),
	}, true
}

// FormatPlanLine is the inverse of ParsePlanLine.
func FormatPlanLine(e PlanEntry) string {
	if e.Reason == "" {
		return string(e.Action) + " " + e.Path
	}
	return string(e.Action) + " " + e.Path + " – " + e.Reason
}

// ParseSections extracts the File Plan lines and the four numbered
// sections. Missing parts are left empty.
func ParseSections(text string) datatypes.PlanMeta {
	text = "\n" + strings.ReplaceAll(text, "\r\n", "\n")
	var meta datatypes.PlanMeta

	if loc := planHeadRe.FindStringIndex(text); loc != nil {
		body := text[loc[1]:]
		if loc := sectionRe.FindStringIndex("\n" + body); loc != nil {
			body = body[:max(loc[0]-1, 0)]
		}
		for _, line := range strings.Split(body, "\n") {
			if line = strings.TrimSpace(line); line != "" {
				meta.PlanLines = append(meta.PlanLines, line)
			}
		}
	}

	if !summaryRe.MatchString(text) {
		return meta
	}
	var proposed, pitfalls, todos string
	for _, block := range splitSections(text) {
		head, ok := sectionHeads[block[0]]
		if !ok {
			continue
		}
		body := strings.TrimSpace(head.ReplaceAllString(block, ""))
		switch block[0] {
		case '1':
			meta.Summary = body
		case '2':
			proposed = body
		case '3':
			pitfalls = body
		case '4':
			todos = body
		}
	}
	meta.Proposed = bulletize(proposed)
	meta.Pitfalls = bulletize(pitfalls)
	meta.Todos = bulletize(todos)
	return meta
}

// splitSections cuts text before every section heading and returns the
// pieces after the first cut. Numbered list items inside a section are
// not headings.
func splitSections(text string) []string {
	locs := sectionRe.FindAllStringIndex(text, -1)
	blocks := make([]string, 0, len(locs))
	for i, loc := range locs {
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		blocks = append(blocks, text[loc[0]+1:end])
	}
	return blocks
}

func bulletize(raw string) []string {
	var out []string
	for _, line := range strings.FieldsFunc(raw, func(r rune) bool { return r == '\n' || r == '\r' }) {
		line = strings.TrimSpace(bulletRe.ReplaceAllString(line, ""))
		if line == "" {
			continue
		}
		out = append(out, line)
		if len(out) == maxBullets {
			break
		}
	}
	return out
}

// ParseBlocks returns every <file> block in reply order, duplicates included.
// Blocks whose path is empty or escapes the project root are dropped.
func ParseBlocks(text string) []Block {
	matches := blockRe.FindAllStringSubmatch(text, -1)
	blocks := make([]Block, 0, len(matches))
	for _, m := range matches {
		path := strings.TrimSpace(m[1])
		if validation.ValidateFilePath(path) != nil {
			continue
		}
		blocks = append(blocks, Block{Path: path, Content: m[2]})
	}
	return blocks
}

var _ ReplyParser = (*Parser)(nil)
