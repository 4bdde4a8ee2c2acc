// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llmtest provides a scripted completion client for tests.
package llmtest

import (
	"context"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianForge/services/llm"
)

// Reply is one scripted answer.
type Reply struct {
	Text      string
	Reasoning string
	Err       error

	// Delay blocks the call until it elapses or the context ends.
	Delay time.Duration
}

// Fake returns scripted replies in order. Once the script is exhausted
// it returns empty completions.
type Fake struct {
	mu      sync.Mutex
	replies []Reply
	calls   []llm.Request

	// Respond, when set, takes precedence over the script.
	Respond func(ctx context.Context, req llm.Request) (*llm.Completion, error)
}

// NewFake returns a Fake with the given script.
func NewFake(replies ...Reply) *Fake {
	return &Fake{replies: replies}
}

// Name implements llm.Client.
func (f *Fake) Name() string { return "fake" }

// Complete implements llm.Client.
func (f *Fake) Complete(ctx context.Context, req llm.Request) (*llm.Completion, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	respond := f.Respond
	var r Reply
	if len(f.replies) > 0 {
		r = f.replies[0]
		f.replies = f.replies[1:]
	}
	f.mu.Unlock()

	if respond != nil {
		return respond(ctx, req)
	}
	if r.Delay > 0 {
		select {
		case <-time.After(r.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if r.Err != nil {
		return nil, r.Err
	}
	return &llm.Completion{Text: r.Text, Reasoning: r.Reasoning, Model: "fake"}, nil
}

// Calls returns a copy of the requests received so far.
func (f *Fake) Calls() []llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]llm.Request, len(f.calls))
	copy(out, f.calls)
	return out
}

// LastUserPrompt returns the final user message of call i.
func (f *Fake) LastUserPrompt(i int) string {
	calls := f.Calls()
	if i < 0 || i >= len(calls) {
		return ""
	}
	msgs := calls[i].Messages
	for j := len(msgs) - 1; j >= 0; j-- {
		if msgs[j].Role == "user" {
			return msgs[j].Content
		}
	}
	return ""
}
