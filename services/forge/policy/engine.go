// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package policy scans snapshot files for credentials.
//
// Generated and imported apps are published to public hosting, so a key
// pasted into a prompt or bundle would leak. The engine loads credential
// patterns from an embedded YAML file and reports every match by path and
// line. The import pipeline rejects High confidence findings; the code
// phase records all findings as a routine step.
package policy

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianForge/services/forge/datatypes"
	"gopkg.in/yaml.v3"
)

//go:embed patterns.yaml
var embeddedPatterns []byte

// Public is the classification of data with no match.
const Public = "public"

// Engine holds compiled classifications, highest priority first.
//
// # Thread Safety
//
// Immutable after construction and safe for concurrent use.
type Engine struct {
	classifications []Classification
}

// NewEngine loads the embedded credential patterns.
func NewEngine() (*Engine, error) {
	return NewEngineFromYAML(embeddedPatterns)
}

// NewEngineFromYAML loads patterns from a PatternFile document.
func NewEngineFromYAML(data []byte) (*Engine, error) {
	var file PatternFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to unmarshal policy patterns: %w", err)
	}
	if err := file.compile(); err != nil {
		return nil, fmt.Errorf("failed to compile policy patterns: %w", err)
	}
	file.sortByPriority()
	return &Engine{classifications: file.Classifications}, nil
}

// Classify returns the name of the highest priority classification that
// matches data, or Public.
func (e *Engine) Classify(data []byte) string {
	for _, c := range e.classifications {
		for _, p := range c.Patterns {
			if p.re.Match(data) {
				return c.Name
			}
		}
	}
	return Public
}

// ScanFile reports every line of content matching a pattern. A line that
// matches several patterns yields one finding per pattern.
func (e *Engine) ScanFile(path, content string) []Finding {
	var findings []Finding
	for i, line := range strings.Split(content, "\n") {
		for _, c := range e.classifications {
			for _, p := range c.Patterns {
				if !p.re.MatchString(line) {
					continue
				}
				findings = append(findings, Finding{
					Path:           path,
					Line:           i + 1,
					Classification: c.Name,
					PatternID:      p.ID,
					Description:    p.Description,
					Confidence:     p.Confidence,
				})
			}
		}
	}
	return findings
}

// ScanFiles scans every file in order.
func (e *Engine) ScanFiles(files []datatypes.FileRecord) []Finding {
	var findings []Finding
	for _, f := range files {
		findings = append(findings, e.ScanFile(f.Path, f.Content)...)
	}
	return findings
}

// AtLeast filters findings to those with confidence min or higher.
func AtLeast(findings []Finding, min Confidence) []Finding {
	var out []Finding
	for _, f := range findings {
		if rank(f.Confidence) >= rank(min) {
			out = append(out, f)
		}
	}
	return out
}

func rank(c Confidence) int {
	switch c {
	case High:
		return 3
	case Medium:
		return 2
	case Low:
		return 1
	default:
		return 0
	}
}
