// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianForge/pkg/secrets"
	"github.com/AleutianAI/AleutianForge/services/llm"
	"github.com/AleutianAI/AleutianForge/services/llm/llmtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUsable(t *testing.T) {
	tests := []struct {
		name string
		c    *llm.Completion
		want bool
	}{
		{"nil", nil, false},
		{"empty", &llm.Completion{}, false},
		{"blank", &llm.Completion{Text: "  \n "}, false},
		{"reasoning only", &llm.Completion{Reasoning: "thinking hard"}, false},
		{"inline think only", &llm.Completion{Text: "<think>plan the page</think>\n"}, false},
		{"unterminated think", &llm.Completion{Text: "<THINK>still going"}, false},
		{"visible text", &llm.Completion{Text: "<think>x</think>File Plan:"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, llm.Usable(tt.c))
		})
	}
	assert.Equal(t, "File Plan:", llm.VisibleText(&llm.Completion{Text: "<think>x</think>File Plan:"}))
}

func TestWithTimeout(t *testing.T) {
	t.Run("slow call becomes ErrTimeout", func(t *testing.T) {
		fake := llmtest.NewFake(llmtest.Reply{Text: "late", Delay: time.Second})
		c := llm.WithTimeout(fake, 20*time.Millisecond)
		_, err := c.Complete(context.Background(), llm.Prompt("", "hi", llm.GenerationParams{}))
		assert.ErrorIs(t, err, llm.ErrTimeout)
	})

	t.Run("fast call passes through", func(t *testing.T) {
		fake := llmtest.NewFake(llmtest.Reply{Text: "ok"})
		c := llm.WithTimeout(fake, time.Second)
		got, err := c.Complete(context.Background(), llm.Prompt("sys", "hi", llm.GenerationParams{}))
		require.NoError(t, err)
		assert.Equal(t, "ok", got.Text)
		assert.Equal(t, "fake", c.Name())
		require.Len(t, fake.Calls(), 1)
		assert.Equal(t, "hi", fake.LastUserPrompt(0))
	})

	t.Run("backend errors are returned", func(t *testing.T) {
		boom := errors.New("boom")
		c := llm.WithTimeout(llmtest.NewFake(llmtest.Reply{Err: boom}), time.Second)
		_, err := c.Complete(context.Background(), llm.Request{})
		assert.ErrorIs(t, err, boom)
		assert.NotErrorIs(t, err, llm.ErrTimeout)
	})
}

func TestNew(t *testing.T) {
	t.Run("none backend", func(t *testing.T) {
		c, err := llm.New(llm.Config{Backend: "none"})
		require.NoError(t, err)
		got, err := c.Complete(context.Background(), llm.Request{})
		require.NoError(t, err)
		assert.False(t, llm.Usable(got))
	})

	t.Run("unknown backend", func(t *testing.T) {
		_, err := llm.New(llm.Config{Backend: "mystery"})
		assert.Error(t, err)
	})

	t.Run("missing key", func(t *testing.T) {
		t.Setenv("ANTHROPIC_API_KEY", "")
		_, err := llm.New(llm.Config{Backend: "anthropic", SecretsDir: t.TempDir()})
		assert.ErrorIs(t, err, secrets.ErrMissing)
	})
}

func TestAnthropicClient_Complete(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "sk-test", r.Header.Get("x-api-key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"model":"claude","content":[
			{"type":"thinking","thinking":"consider layout"},
			{"type":"text","text":"File Plan:\nCREATE app/page.tsx"}]}`))
	}))
	defer srv.Close()

	c, err := llm.NewAnthropicClient(llm.AnthropicConfig{
		BaseURL: srv.URL,
		APIKey:  secrets.FromString("anthropic", "sk-test"),
	})
	require.NoError(t, err)

	req := llm.Prompt("be terse", "plan it", llm.GenerationParams{Temperature: llm.Float32(0.3)})
	req.EnableThinking = true
	req.ThinkingBudget = 1024
	out, err := c.Complete(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "File Plan:\nCREATE app/page.tsx", out.Text)
	assert.Equal(t, "consider layout", out.Reasoning)
	assert.NotContains(t, got, "temperature")
	assert.Equal(t, float64(4096), got["max_tokens"])
	system := got["system"].([]any)
	assert.Equal(t, "be terse", system[0].(map[string]any)["text"])
	assert.Len(t, got["messages"], 1)
}

func TestAnthropicClient_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"type":"overloaded"}}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c, err := llm.NewAnthropicClient(llm.AnthropicConfig{BaseURL: srv.URL, APIKey: secrets.FromString("k", "v")})
	require.NoError(t, err)
	_, err = c.Complete(context.Background(), llm.Prompt("", "x", llm.GenerationParams{}))
	assert.ErrorContains(t, err, "503")
}

func TestOllamaClient_Complete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, true, body["think"])
		opts := body["options"].(map[string]any)
		assert.Equal(t, float64(480), opts["num_predict"])
		_, _ = w.Write([]byte(`{"model":"qwen3","message":{"role":"assistant","content":"","thinking":"hmm"},"done":true}`))
	}))
	defer srv.Close()

	c, err := llm.NewOllamaClient(srv.URL+"/", "qwen3")
	require.NoError(t, err)
	req := llm.Prompt("", "x", llm.GenerationParams{MaxTokens: llm.Int(480)})
	req.EnableThinking = true
	out, err := c.Complete(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "hmm", out.Reasoning)
	assert.False(t, llm.Usable(out))
}

func TestOllamaClient_ModelNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model 'x' not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	c, err := llm.NewOllamaClient(srv.URL, "x")
	require.NoError(t, err)
	_, err = c.Complete(context.Background(), llm.Request{})
	assert.ErrorContains(t, err, "ollama pull x")
}

func TestOpenAIClient_Complete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-openai", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","model":"gpt-4o-mini","choices":[
			{"index":0,"message":{"role":"assistant","content":"hello","reasoning_content":"why"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	c, err := llm.NewOpenAIClient(llm.OpenAIConfig{
		BaseURL: srv.URL + "/v1",
		APIKey:  secrets.FromString("openai", "sk-openai"),
	})
	require.NoError(t, err)
	out, err := c.Complete(context.Background(), llm.Prompt("sys", "hi", llm.GenerationParams{}))
	require.NoError(t, err)
	assert.Equal(t, "hello", out.Text)
	assert.Equal(t, "why", out.Reasoning)
}
