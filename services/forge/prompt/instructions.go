// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package prompt

import (
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianForge/services/forge/datatypes"
	"github.com/AleutianAI/AleutianForge/services/llm"
)

// SystemInstructions frame every generation request.
const SystemInstructions = `You are a senior web engineer building a Next.js project incrementally.
Keep changes small and consistent with the existing files. Never invent files
that the plan does not mention. Answer in plain text without markdown fences.`

const planInstructions = `Reply with ONLY a file plan and four sections, in this exact format:

File Plan:
CREATE <path> – <reason>
UPDATE <path> – <reason>
DELETE <path> – <reason>

1) Summary of intent
2) Proposed changes
3) Potential pitfalls
4) Next TODO bullets

Do not write any file contents.`

const strictPlanInstructions = `Your previous reply was empty or contained only reasoning. Start your
reply with the line "File Plan:" and include at least one plan line. Do not
think out loud.`

const codeInstructions = `Implement the approved file plan. For every file you create or update,
emit its full content as:

<file path="app/page.tsx">
...complete file content...
</file>

After the files, repeat the File Plan and the four sections:
1) Summary of intent
2) Proposed changes
3) Potential pitfalls
4) Next TODO bullets

Never elide code. Every block must contain the complete file.`

const strictCodeInstructions = `Your previous reply was empty or contained only reasoning. Reply
immediately with <file path="..."> blocks. No commentary before the first block.`

// previewSystem frames the preview draft request.
const previewSystem = `You design single-page marketing previews. Reply with one complete,
self-contained HTML document using inline CSS only. No scripts, no markdown.`

// PreviewRequest asks for a complete HTML draft of the project.
func PreviewRequest(projectName, instruction string, planLines []string) llm.Request {
	user := fmt.Sprintf("Project: %s\nRequest: %s\n\nPlanned files:\n%s\n\nReturn the full HTML document starting with <!DOCTYPE html>.",
		projectName, instruction, strings.Join(planLines, "\n"))
	return llm.Prompt(previewSystem, user, llm.GenerationParams{
		Temperature: llm.Float32(0.4),
		MaxTokens:   llm.Int(2400),
	})
}

// CompactionTarget is the summary length requested from the model.
const CompactionTarget = 1200

// CompactionRequest asks the model to merge msgs into previous.
func CompactionRequest(previous string, msgs []datatypes.Message) llm.Request {
	var sb strings.Builder
	if strings.TrimSpace(previous) != "" {
		sb.WriteString("Existing summary:\n")
		sb.WriteString(previous)
		sb.WriteString("\n\n")
	}
	sb.WriteString("New conversation turns:\n")
	for _, m := range msgs {
		fmt.Fprintf(&sb, "%s: %s\n", m.Role, m.Content)
	}
	fmt.Fprintf(&sb, `
Merge everything into one summary under these headings:
Goals
Decisions
Features
Pending TODOs
Deferred ideas

Use short bullets. Stay under %d characters.`, CompactionTarget)
	return llm.Prompt("You maintain the running memory of a software project conversation.", sb.String(),
		llm.GenerationParams{Temperature: llm.Float32(0.2), MaxTokens: llm.Int(600)})
}
