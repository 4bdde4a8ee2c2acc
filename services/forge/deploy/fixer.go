// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package deploy

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/AleutianAI/AleutianForge/pkg/validation"
	"github.com/AleutianAI/AleutianForge/services/forge/datatypes"
	"github.com/AleutianAI/AleutianForge/services/llm"
)

// Fixer limits.
const (
	MaxAddedFiles    = 4
	MaxMutations     = 6
	maxCriticalFiles = 6
	criticalExcerpt  = 600
	maxNoteChars     = 400
)

// Fix sources reported in metrics and routine steps.
const (
	FixSourceModel     = "model"
	FixSourceHeuristic = "heuristic"
)

var (
	errorLineRe    = regexp.MustCompile(`(?i)error|failed|exception`)
	criticalFileRe = regexp.MustCompile(`(?i)app/page\.tsx|next\.config|package\.json`)
	nextConfigRe   = regexp.MustCompile(`(?i)next/config|next\.config`)
	moduleMissRe   = regexp.MustCompile(`(?i)module not found`)
)

// Mutation appends text to an existing file.
type Mutation struct {
	Path   string `json:"path"`
	Append string `json:"append"`
}

// FixSuggestion is a small additive patch for a failed build.
type FixSuggestion struct {
	Note       string                 `json:"note"`
	AddedFiles []datatypes.FileRecord `json:"addedFiles"`
	Mutations  []Mutation             `json:"mutations"`
	Source     string                 `json:"source"`
}

// Empty reports whether the suggestion changes nothing.
func (s FixSuggestion) Empty() bool {
	return len(s.AddedFiles) == 0 && len(s.Mutations) == 0
}

// FirstErrorLine returns the first log line mentioning an error, failure
// or exception, or "".
func FirstErrorLine(log string) string {
	for _, line := range strings.Split(strings.ReplaceAll(log, "\r\n", "\n"), "\n") {
		if errorLineRe.MatchString(line) {
			return line
		}
	}
	return ""
}

// Fixer proposes patches for failed builds.
type Fixer struct {
	client llm.Client
	logger *slog.Logger
}

// NewFixer creates a Fixer. A nil client always uses the heuristic.
func NewFixer(client llm.Client, logger *slog.Logger) *Fixer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fixer{client: client, logger: logger}
}

// Suggest asks the model for a patch and falls back to the heuristic when
// the model is unavailable, returns malformed JSON, omits the note, or
// proposes no change.
func (f *Fixer) Suggest(ctx context.Context, projectName, errorLine string, files []datatypes.FileRecord) FixSuggestion {
	if f != nil && f.client != nil {
		s, err := f.fromModel(ctx, projectName, errorLine, files)
		if err == nil && !s.Empty() {
			return s
		}
		if err != nil {
			f.logger.Debug("fixer model suggestion rejected", slog.String("error", err.Error()))
		}
	}
	return Heuristic(projectName, errorLine, files)
}

func (f *Fixer) fromModel(ctx context.Context, projectName, errorLine string, files []datatypes.FileRecord) (FixSuggestion, error) {
	c, err := f.client.Complete(ctx, FixRequest(projectName, errorLine, files))
	if err != nil {
		return FixSuggestion{}, err
	}
	text := llm.VisibleText(c)
	if !strings.HasPrefix(text, "{") {
		return FixSuggestion{}, fmt.Errorf("reply is not a JSON object")
	}
	var raw FixSuggestion
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return FixSuggestion{}, fmt.Errorf("decode fix: %w", err)
	}
	if strings.TrimSpace(raw.Note) == "" {
		return FixSuggestion{}, fmt.Errorf("fix has no note")
	}

	out := FixSuggestion{Note: datatypes.Excerpt(raw.Note, maxNoteChars), Source: FixSourceModel}
	for _, a := range raw.AddedFiles {
		if validation.ValidateFilePath(a.Path) == nil && a.Content != "" && len(out.AddedFiles) < MaxAddedFiles {
			out.AddedFiles = append(out.AddedFiles, a)
		}
	}
	for _, m := range raw.Mutations {
		if validation.ValidateFilePath(m.Path) == nil && m.Append != "" && len(out.Mutations) < MaxMutations {
			out.Mutations = append(out.Mutations, m)
		}
	}
	return out, nil
}

// FixRequest builds the fixer prompt from the critical files only.
func FixRequest(projectName, errorLine string, files []datatypes.FileRecord) llm.Request {
	if errorLine == "" {
		errorLine = "unknown"
	}
	parts := []string{
		"You are a senior build fixer. Given a Next.js project failing to build, propose a minimal safe patch.",
		"Return JSON ONLY with shape {note:string, addedFiles:[{path,content}], mutations:[{path,append}]}.",
		"Constraints: keep changes small, do not delete existing code, prefer appending comments or adding missing config files.",
		"Project: " + projectName,
		"Error: " + errorLine,
		"Existing critical files (truncated):",
	}
	n := 0
	for _, file := range files {
		if n == maxCriticalFiles {
			break
		}
		if !criticalFileRe.MatchString(file.Path) {
			continue
		}
		parts = append(parts, fmt.Sprintf("--- %s ---\n%s", file.Path, datatypes.Excerpt(file.Content, criticalExcerpt)))
		n++
	}
	return llm.Prompt("", strings.Join(parts, "\n\n"), llm.GenerationParams{
		Temperature: llm.Float32(0.2),
		MaxTokens:   llm.Int(480),
	})
}

// Heuristic is the deterministic fixer.
//
//   - A next/config error adds next.config.js when absent.
//   - "module not found" appends a hint to app/page.tsx.
//   - Otherwise a generic diagnostic is appended to app/page.tsx.
//   - Without app/page.tsx a placeholder page is created instead.
func Heuristic(projectName, errorLine string, files []datatypes.FileRecord) FixSuggestion {
	s := FixSuggestion{Source: FixSourceHeuristic}
	var notes []string
	_, hasPage := find(files, datatypes.PagePath)

	if nextConfigRe.MatchString(errorLine) {
		if _, ok := find(files, "next.config.js"); !ok {
			s.AddedFiles = append(s.AddedFiles, datatypes.FileRecord{
				Path:    "next.config.js",
				Content: fmt.Sprintf("// Auto-added by fixer heuristic for %s\nmodule.exports = { reactStrictMode: true };\n", projectName),
			})
			notes = append(notes, "Added next.config.js")
		}
	}
	if moduleMissRe.MatchString(errorLine) {
		if hasPage {
			s.Mutations = append(s.Mutations, Mutation{
				Path:   datatypes.PagePath,
				Append: "\n// Fixer note: ensure missing module polyfill (attempt) for " + datatypes.Excerpt(errorLine, 80),
			})
		}
		notes = append(notes, "Annotated app/page.tsx with missing module hint")
	}
	if len(notes) == 0 {
		notes = append(notes, "General diagnostic annotation appended.")
	}
	if len(s.Mutations) == 0 {
		reason := errorLine
		if reason == "" {
			reason = "unknown error"
		}
		if hasPage {
			s.Mutations = append(s.Mutations, Mutation{
				Path:   datatypes.PagePath,
				Append: "\n// Fixer diagnostic: build failed (" + reason + ")",
			})
		} else {
			s.AddedFiles = append(s.AddedFiles, datatypes.FileRecord{Path: datatypes.PagePath, Content: placeholderPage(projectName)})
			notes = append(notes, "Created placeholder app/page.tsx")
		}
	}
	s.Note = strings.Join(notes, "; ")
	return s
}

func placeholderPage(projectName string) string {
	return fmt.Sprintf(`export default function Page() {
  return (
    <main style={{ padding: 32, fontFamily: 'system-ui' }}>
      <h1>%s</h1>
      <p>This page was restored after a failed build.</p>
    </main>
  );
}
`, strings.ReplaceAll(projectName, "<", ""))
}

// ApplyFix applies s to a copy of files. Mutations append to existing
// paths only. Added files are inserted only when absent.
func ApplyFix(files []datatypes.FileRecord, s FixSuggestion) []datatypes.FileRecord {
	out := datatypes.CloneFiles(files)
	for _, m := range s.Mutations {
		for i := range out {
			if out[i].Path == m.Path {
				out[i].Content += m.Append
				break
			}
		}
	}
	for _, a := range s.AddedFiles {
		if _, ok := find(out, a.Path); !ok {
			out = append(out, a)
		}
	}
	return out
}

func find(files []datatypes.FileRecord, path string) (int, bool) {
	for i, f := range files {
		if f.Path == path {
			return i, true
		}
	}
	return -1, false
}
