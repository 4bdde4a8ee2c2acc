// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package prompt assembles the bounded context sent to the completion
// service for the plan phase, the code phase and their stricter retries.
package prompt

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/AleutianAI/AleutianForge/services/forge/datatypes"
	"github.com/AleutianAI/AleutianForge/services/forge/diff"
	"github.com/AleutianAI/AleutianForge/services/forge/parser"
	"github.com/AleutianAI/AleutianForge/services/llm"
	"github.com/tmc/langchaingo/textsplitter"
)

const (
	// DefaultHistoryTokenBudget bounds the conversation tail.
	DefaultHistoryTokenBudget = 1500

	excerptChunkSize = 400
	maxKeyFiles      = 4
	maxListedPaths   = 40
)

// Phase selects the reply format requested from the model.
type Phase string

const (
	PhasePlan Phase = "plan"
	PhaseCode Phase = "code"
)

var codeSeparators = []string{"\nexport ", "\nfunction ", "\nconst ", "\n\n", "\n", " ", ""}

// Input is everything the builder may draw on. Nil fields are skipped.
type Input struct {
	Instruction  string
	Project      *datatypes.Project
	Current      *datatypes.Snapshot
	Previous     *datatypes.Snapshot
	Conversation *datatypes.ConversationState

	// History is the project's messages in Seq order. Messages already
	// folded into Conversation are skipped.
	History []datatypes.Message

	// Plan is the stored plan the code phase implements.
	Plan []string

	// Targets are enrichment hints appended to the context.
	Targets []parser.PlanEntry
}

// Builder renders requests.
//
// # Thread Safety
//
// Safe for concurrent use after construction.
type Builder struct {
	historyBudget int
	splitter      textsplitter.TextSplitter
}

// NewBuilder returns a Builder. budget <= 0 uses DefaultHistoryTokenBudget.
func NewBuilder(budget int) *Builder {
	if budget <= 0 {
		budget = DefaultHistoryTokenBudget
	}
	return &Builder{
		historyBudget: budget,
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(excerptChunkSize),
			textsplitter.WithChunkOverlap(0),
			textsplitter.WithSeparators(codeSeparators),
		),
	}
}

// HistoryBudget returns the token budget of the conversation tail.
func (b *Builder) HistoryBudget() int { return b.historyBudget }

// Build renders the request for phase. strict adds the retry instruction
// used after an unusable first reply.
func (b *Builder) Build(phase Phase, in Input, strict bool) llm.Request {
	var sb strings.Builder
	sb.WriteString(b.Context(in))
	sb.WriteString("\n\n")
	switch phase {
	case PhaseCode:
		sb.WriteString(codeInstructions)
		if strict {
			sb.WriteString("\n\n")
			sb.WriteString(strictCodeInstructions)
		}
	default:
		sb.WriteString(planInstructions)
		if strict {
			sb.WriteString("\n\n")
			sb.WriteString(strictPlanInstructions)
		}
	}
	sb.WriteString("\n\nUser instruction:\n")
	sb.WriteString(in.Instruction)

	params := llm.GenerationParams{Temperature: llm.Float32(0.3), MaxTokens: llm.Int(1200)}
	if phase == PhaseCode {
		params = llm.GenerationParams{Temperature: llm.Float32(0.2), MaxTokens: llm.Int(6000)}
	}
	if strict {
		params.Temperature = llm.Float32(0.1)
	}
	return llm.Prompt(SystemInstructions, sb.String(), params)
}

// Context renders the bounded context block shared by both phases.
func (b *Builder) Context(in Input) string {
	var parts []string
	if in.Project != nil {
		parts = append(parts, fmt.Sprintf("Project: %s (%s)", in.Project.Name, in.Project.Type))
	}
	if todos := openTodos(in.Current); len(todos) > 0 {
		parts = append(parts, "Open TODOs:\n"+bullets(todos))
	}
	if in.Current != nil {
		parts = append(parts, "Current files:\n"+b.SnapshotSummary(in.Current))
	}
	if in.Current != nil && in.Previous != nil {
		if d := diff.Compute(in.Previous, in.Current); !d.Empty() {
			parts = append(parts, "Last change:\n"+DiffSummary(d))
		}
	}
	if len(in.Plan) > 0 {
		parts = append(parts, "Approved file plan:\n"+strings.Join(in.Plan, "\n"))
	}
	if len(in.Targets) > 0 {
		lines := make([]string, 0, len(in.Targets))
		for _, t := range in.Targets {
			lines = append(lines, parser.FormatPlanLine(t))
		}
		parts = append(parts, "Suggested enrichments:\n"+strings.Join(lines, "\n"))
	}
	if in.Conversation != nil && strings.TrimSpace(in.Conversation.Summary) != "" {
		parts = append(parts, "Conversation summary:\n"+in.Conversation.Summary)
	}
	if tail := b.HistoryTail(in); len(tail) > 0 {
		lines := make([]string, 0, len(tail))
		for _, m := range tail {
			lines = append(lines, m.Role+": "+m.Content)
		}
		parts = append(parts, "Recent conversation:\n"+strings.Join(lines, "\n"))
	}
	if len(parts) == 0 {
		return "New project. No files yet."
	}
	return strings.Join(parts, "\n\n")
}

// HistoryTail returns the unfolded messages that fit the token budget.
// The trailing message is dropped when it repeats the instruction.
func (b *Builder) HistoryTail(in Input) []datatypes.Message {
	var folded int64
	if in.Conversation != nil {
		folded = in.Conversation.LastMessageSeq
	}
	msgs := make([]datatypes.Message, 0, len(in.History))
	for _, m := range in.History {
		if m.Seq > folded {
			msgs = append(msgs, m)
		}
	}
	if n := len(msgs); n > 0 && msgs[n-1].Role == datatypes.RoleUser && msgs[n-1].Content == in.Instruction {
		msgs = msgs[:n-1]
	}
	return TrimHistory(msgs, b.historyBudget)
}

// EstimateTokens approximates the token count as ceil(runes/4).
func EstimateTokens(s string) int {
	return (utf8.RuneCountInString(s) + 3) / 4
}

// TrimHistory keeps the newest messages whose estimated tokens fit budget,
// dropping the oldest first. Order is preserved.
func TrimHistory(msgs []datatypes.Message, budget int) []datatypes.Message {
	used := 0
	start := len(msgs)
	for i := len(msgs) - 1; i >= 0; i-- {
		cost := EstimateTokens(msgs[i].Role + ": " + msgs[i].Content)
		if used+cost > budget {
			break
		}
		used += cost
		start = i
	}
	out := make([]datatypes.Message, len(msgs)-start)
	copy(out, msgs[start:])
	return out
}

// SnapshotSummary lists the paths of s and short excerpts of its key
// files.
func (b *Builder) SnapshotSummary(s *datatypes.Snapshot) string {
	if s == nil || len(s.Files) == 0 {
		return "(none)"
	}
	var sb strings.Builder
	for i, f := range s.Files {
		if i == maxListedPaths {
			fmt.Fprintf(&sb, "- ... %d more\n", len(s.Files)-maxListedPaths)
			break
		}
		fmt.Fprintf(&sb, "- %s (%d bytes)\n", f.Path, len(f.Content))
	}
	for _, f := range keyFiles(s) {
		fmt.Fprintf(&sb, "\n%s:\n%s\n", f.Path, b.excerpt(f.Content))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (b *Builder) excerpt(content string) string {
	chunks, err := b.splitter.SplitText(content)
	if err != nil || len(chunks) == 0 {
		return datatypes.Excerpt(content, excerptChunkSize)
	}
	return chunks[0]
}

// keyFiles picks the entry page first, then other source files, skipping
// the preview artifact.
func keyFiles(s *datatypes.Snapshot) []datatypes.FileRecord {
	var out []datatypes.FileRecord
	if content, ok := s.File(datatypes.PagePath); ok {
		out = append(out, datatypes.FileRecord{Path: datatypes.PagePath, Content: content})
	}
	for _, f := range s.Files {
		if len(out) == maxKeyFiles {
			break
		}
		if f.Path == datatypes.PagePath || f.Path == datatypes.PreviewPath || strings.TrimSpace(f.Content) == "" {
			continue
		}
		out = append(out, f)
	}
	return out
}

// DiffSummary renders d as one line per category.
func DiffSummary(d diff.Diff) string {
	return fmt.Sprintf("Created: %s\nUpdated: %s\nDeleted: %s",
		listOrNone(d.Created), listOrNone(d.UpdatedPaths()), listOrNone(d.Deleted))
}

func openTodos(s *datatypes.Snapshot) []string {
	if s == nil || s.Meta == nil {
		return nil
	}
	return s.Meta.Todos
}

func bullets(items []string) string {
	return "- " + strings.Join(items, "\n- ")
}

func listOrNone(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, ", ")
}
