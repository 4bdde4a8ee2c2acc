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
	"strings"
	"testing"

	"github.com/AleutianAI/AleutianForge/services/forge/datatypes"
	"github.com/AleutianAI/AleutianForge/services/forge/parser"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func msg(seq int64, role, content string) datatypes.Message {
	return datatypes.Message{Seq: seq, Role: role, Content: content}
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("abc"))
	assert.Equal(t, 1, EstimateTokens("abcd"))
	assert.Equal(t, 2, EstimateTokens("abcde"))
	assert.Equal(t, 1, EstimateTokens("héé"))
}

func TestTrimHistory(t *testing.T) {
	msgs := []datatypes.Message{
		msg(1, "user", strings.Repeat("a", 40)),
		msg(2, "assistant", strings.Repeat("b", 40)),
		msg(3, "user", strings.Repeat("c", 40)),
	}
	// "user: " + 40 runes = 46 runes = 12 tokens; assistant = 51 runes = 13 tokens.

	t.Run("fits", func(t *testing.T) {
		assert.Len(t, TrimHistory(msgs, 100), 3)
	})

	t.Run("drops oldest first", func(t *testing.T) {
		got := TrimHistory(msgs, 25)
		require.Len(t, got, 2)
		assert.Equal(t, int64(2), got[0].Seq)
		assert.Equal(t, int64(3), got[1].Seq)
	})

	t.Run("nothing fits", func(t *testing.T) {
		assert.Empty(t, TrimHistory(msgs, 5))
	})
}

func TestBuilder_HistoryTail(t *testing.T) {
	b := NewBuilder(1000)
	in := Input{
		Instruction:  "add pricing",
		Conversation: &datatypes.ConversationState{LastMessageSeq: 2, Summary: "Goals: landing page"},
		History: []datatypes.Message{
			msg(1, "user", "old"),
			msg(2, "assistant", "older reply"),
			msg(3, "user", "make it blue"),
			msg(4, "assistant", "done"),
			msg(5, "user", "add pricing"),
		},
	}
	tail := b.HistoryTail(in)
	require.Len(t, tail, 2)
	assert.Equal(t, int64(3), tail[0].Seq)
	assert.Equal(t, int64(4), tail[1].Seq)
}

func TestBuilder_Build(t *testing.T) {
	b := NewBuilder(0)
	assert.Equal(t, DefaultHistoryTokenBudget, b.HistoryBudget())

	prev := &datatypes.Snapshot{Files: []datatypes.FileRecord{
		{Path: "app/page.tsx", Content: "export default function Page() { return <main/> }"},
	}}
	cur := &datatypes.Snapshot{
		Files: []datatypes.FileRecord{
			{Path: "app/page.tsx", Content: "export default function Page() { return <main>Hi</main> }"},
			{Path: "app/pricing/page.tsx", Content: "export default function Pricing() {}"},
			{Path: "preview.html", Content: "<html></html>"},
		},
		Meta: &datatypes.PlanMeta{Todos: []string{"Wire the contact form"}},
	}
	in := Input{
		Instruction: "add a testimonials block",
		Project:     &datatypes.Project{Name: "Acme Landing", Type: "Website"},
		Current:     cur,
		Previous:    prev,
		Plan:        []string{"UPDATE app/page.tsx – add testimonials"},
		Targets:     []parser.PlanEntry{{Action: parser.ActionCreate, Path: "components/Hero.tsx", Reason: "extract hero"}},
	}

	t.Run("plan phase", func(t *testing.T) {
		req := b.Build(PhasePlan, in, false)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		user := req.Messages[1].Content
		assert.Contains(t, user, "Project: Acme Landing (Website)")
		assert.Contains(t, user, "- Wire the contact form")
		assert.Contains(t, user, "- app/pricing/page.tsx")
		assert.Contains(t, user, "Created: app/pricing/page.tsx, preview.html")
		assert.Contains(t, user, "Updated: app/page.tsx")
		assert.Contains(t, user, "CREATE components/Hero.tsx – extract hero")
		assert.Contains(t, user, "File Plan:")
		assert.NotContains(t, user, "previous reply was empty")
		assert.True(t, strings.HasSuffix(user, "add a testimonials block"))
		assert.InDelta(t, 0.3, *req.Params.Temperature, 0.001)
	})

	t.Run("strict code phase", func(t *testing.T) {
		req := b.Build(PhaseCode, in, true)
		user := req.Messages[1].Content
		assert.Contains(t, user, `<file path="app/page.tsx">`)
		assert.Contains(t, user, "previous reply was empty")
		assert.Contains(t, user, "Approved file plan:\nUPDATE app/page.tsx – add testimonials")
		assert.InDelta(t, 0.1, *req.Params.Temperature, 0.001)
	})

	t.Run("empty project", func(t *testing.T) {
		assert.Equal(t, "New project. No files yet.", b.Context(Input{Instruction: "x"}))
	})
}

func TestSnapshotSummary_ExcerptsKeyFiles(t *testing.T) {
	b := NewBuilder(0)
	long := strings.Repeat("const x = 1;\n", 100)
	s := &datatypes.Snapshot{Files: []datatypes.FileRecord{
		{Path: "package.json", Content: `{"name":"acme"}`},
		{Path: "preview.html", Content: "<html>big</html>"},
		{Path: "app/page.tsx", Content: long},
	}}
	out := b.SnapshotSummary(s)

	assert.True(t, strings.HasPrefix(out, "- package.json"))
	assert.Contains(t, out, "\napp/page.tsx:\n")
	assert.Contains(t, out, "\npackage.json:\n")
	assert.NotContains(t, out, "<html>big</html>")
	assert.Less(t, len(out), len(long))
	assert.Equal(t, "(none)", b.SnapshotSummary(nil))
}

func TestCompactionRequest(t *testing.T) {
	req := CompactionRequest("Goals: a shop", []datatypes.Message{msg(1, "user", "add a cart")})
	user := req.Messages[1].Content
	assert.Contains(t, user, "Existing summary:\nGoals: a shop")
	assert.Contains(t, user, "user: add a cart")
	for _, h := range []string{"Goals", "Decisions", "Features", "Pending TODOs", "Deferred ideas"} {
		assert.Contains(t, user, h)
	}
}

func TestPreviewRequest(t *testing.T) {
	req := PreviewRequest("Acme", "landing page", []string{"CREATE app/page.tsx – page"})
	assert.Contains(t, req.Messages[1].Content, "CREATE app/page.tsx – page")
	assert.Equal(t, 2400, *req.Params.MaxTokens)
}
