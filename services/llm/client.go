// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm wraps the completion backends used by the forge pipeline.
//
// Every backend returns a Completion that separates the visible text from
// any reasoning the model emitted, so callers can tell a real answer from
// a reply that only contains thinking.
package llm

import (
	"context"
	"errors"
	"regexp"
	"strings"
)

// ErrTimeout is returned when a completion exceeds its per-call budget.
var ErrTimeout = errors.New("completion timed out")

// GenerationParams tunes one completion. Nil fields use backend defaults.
type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// Message is one chat turn sent to a backend.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a chat completion request.
type Request struct {
	Messages []Message
	Params   GenerationParams

	// EnableThinking asks backends that support it for a separate
	// reasoning channel with ThinkingBudget tokens.
	EnableThinking bool
	ThinkingBudget int
}

// Completion is a backend reply. Text is what the model answered;
// Reasoning is the thinking channel, if any.
type Completion struct {
	Text      string
	Reasoning string
	Model     string
}

// Client is a completion backend.
//
// # Description
//
// Complete returns the model's reply to the conversation in req. An empty
// Completion is a valid result; callers check it with Usable.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Client interface {
	Complete(ctx context.Context, req Request) (*Completion, error)
	Name() string
}

var thinkRe = regexp.MustCompile(`(?is)<think>.*?(</think>|$)`)

// StripReasoning removes inline <think> regions. An unterminated region
// runs to the end of the text.
func StripReasoning(text string) string {
	return strings.TrimSpace(thinkRe.ReplaceAllString(text, ""))
}

// Usable reports whether c carries visible text after reasoning is removed.
func Usable(c *Completion) bool {
	return c != nil && StripReasoning(c.Text) != ""
}

// VisibleText returns the reply with reasoning removed.
func VisibleText(c *Completion) string {
	if c == nil {
		return ""
	}
	return StripReasoning(c.Text)
}

// Prompt builds a two-message request.
func Prompt(system, user string, params GenerationParams) Request {
	var msgs []Message
	if system != "" {
		msgs = append(msgs, Message{Role: "system", Content: system})
	}
	msgs = append(msgs, Message{Role: "user", Content: user})
	return Request{Messages: msgs, Params: params}
}

// Float32 and Int return pointers for GenerationParams literals.
func Float32(v float32) *float32 { return &v }

// Int returns a pointer to v.
func Int(v int) *int { return &v }

// splitSystem separates the system prompt from the chat turns.
func splitSystem(msgs []Message) (string, []Message) {
	var system []string
	turns := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if strings.EqualFold(m.Role, "system") {
			system = append(system, m.Content)
			continue
		}
		turns = append(turns, m)
	}
	return strings.Join(system, "\n\n"), turns
}
