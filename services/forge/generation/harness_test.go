// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package generation

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianForge/services/forge/datatypes"
	"github.com/AleutianAI/AleutianForge/services/forge/history"
	"github.com/AleutianAI/AleutianForge/services/forge/routines"
	"github.com/AleutianAI/AleutianForge/services/forge/store"
	"github.com/AleutianAI/AleutianForge/services/llm"
)

const planReply = `File Plan:
CREATE components/Hero.tsx – hero section
UPDATE app/page.tsx – render the hero

1) Summary of intent
Add a hero to the landing page.
2) Proposed changes
- Hero component
3) Potential pitfalls
- Image sizes
4) Next TODO bullets
- Add pricing`

const codeReply = `<file path="components/Hero.tsx">
export default function Hero() {
  return <section className="hero"><h1>Fresh bread daily</h1></section>
}
</file>
<file path="app/page.tsx">
import Hero from '../components/Hero'
export default function Page() {
  return <main><Hero /></main>
}
</file>
File Plan:
CREATE components/Hero.tsx – hero section
UPDATE app/page.tsx – render the hero

1) Summary of intent
Hero implemented.
4) Next TODO bullets
- Add pricing`

var previewDraft = "<!DOCTYPE html><html><head><title>Bakery</title></head><body>" +
	strings.Repeat("<p>Fresh bread</p>", 30) + "</body></html>"

// routedFake answers by request kind so concurrent phases stay predictable.
type routedFake struct {
	mu      sync.Mutex
	plan    []string
	code    []string
	preview string
	summary string
	calls   map[string]int
	prompts map[string][]string
}

func newRoutedFake() *routedFake {
	return &routedFake{
		plan:    []string{planReply},
		code:    []string{codeReply},
		preview: previewDraft,
		summary: "Goals\n- bakery site",
		calls:   map[string]int{},
		prompts: map[string][]string{},
	}
}

func kindOf(req llm.Request) string {
	system := req.Messages[0].Content
	user := req.Messages[len(req.Messages)-1].Content
	switch {
	case strings.Contains(system, "previews"):
		return "preview"
	case strings.Contains(system, "running memory"):
		return "compaction"
	case strings.Contains(user, "Implement the approved file plan"):
		return "code"
	default:
		return "plan"
	}
}

func (f *routedFake) Name() string { return "routed" }

func (f *routedFake) Complete(ctx context.Context, req llm.Request) (*llm.Completion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	kind := kindOf(req)
	f.calls[kind]++
	f.prompts[kind] = append(f.prompts[kind], req.Messages[len(req.Messages)-1].Content)
	next := func(q *[]string) string {
		if len(*q) == 0 {
			return ""
		}
		v := (*q)[0]
		*q = (*q)[1:]
		return v
	}
	switch kind {
	case "preview":
		return &llm.Completion{Text: f.preview}, nil
	case "compaction":
		return &llm.Completion{Text: f.summary}, nil
	case "code":
		return &llm.Completion{Text: next(&f.code)}, nil
	default:
		return &llm.Completion{Text: next(&f.plan)}, nil
	}
}

func (f *routedFake) count(kind string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[kind]
}

func (f *routedFake) prompt(kind string, i int) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i >= len(f.prompts[kind]) {
		return ""
	}
	return f.prompts[kind][i]
}

var _ llm.Client = (*routedFake)(nil)

type recordingDeployer struct {
	mu    sync.Mutex
	calls []string
}

func (d *recordingDeployer) AutoDeploy(_ context.Context, projectID, ownerID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, projectID+"/"+ownerID)
}

func (d *recordingDeployer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

type harness struct {
	o     *Orchestrator
	store *store.BadgerStore
}

func newHarness(t *testing.T, client llm.Client, configure func(*Config, *Deps)) *harness {
	t.Helper()
	st, err := store.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	cfg := Config{Queue: QueueConfig{Workers: 1, TaskTimeout: 10 * time.Second}}
	deps := Deps{
		Store:    st,
		History:  history.NewRecorder(st, nil, nil, nil),
		Routines: routines.NewRecorder(st, nil),
		Client:   client,
	}
	if configure != nil {
		configure(&cfg, &deps)
	}
	o := New(cfg, deps)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = o.Stop(ctx)
	})
	return &harness{o: o, store: st}
}

// waitForCode blocks until a BACKGROUND_CODE routine of the project is
// closed and returns it.
func (h *harness) waitForCode(t *testing.T, projectID string) *datatypes.Routine {
	t.Helper()
	var found *datatypes.Routine
	require.Eventually(t, func() bool {
		list, err := h.store.ListRoutines(context.Background(), store.RoutineFilter{ProjectID: projectID}, 20)
		if err != nil {
			return false
		}
		for i := range list {
			if list[i].Kind == datatypes.RoutineBackgroundCode && list[i].Terminal() {
				found = &list[i]
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)
	return found
}

func stepTypes(steps []datatypes.Step) []string {
	out := make([]string, 0, len(steps))
	for _, s := range steps {
		out = append(out, s.Type)
	}
	return out
}

func countSteps(steps []datatypes.Step, stepType string) int {
	n := 0
	for _, s := range steps {
		if s.Type == stepType {
			n++
		}
	}
	return n
}
