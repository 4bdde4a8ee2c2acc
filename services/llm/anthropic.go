// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianForge/pkg/secrets"
)

const (
	anthropicAPIVersion   = "2023-06-01"
	anthropicMessagesURL  = "https://api.anthropic.com/v1/messages"
	anthropicDefaultModel = "claude-3-5-sonnet-20240620"
	anthropicMaxTokens    = 4096
)

type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	System      []systemBlock      `json:"system,omitempty"`
	MaxTokens   int                `json:"max_tokens"`
	Thinking    *thinkingParams    `json:"thinking,omitempty"`
	Temperature *float32           `json:"temperature,omitempty"`
	TopP        *float32           `json:"top_p,omitempty"`
	TopK        *int               `json:"top_k,omitempty"`
	StopSeqs    []string           `json:"stop_sequences,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type systemBlock struct {
	Type         string        `json:"type"`
	Text         string        `json:"text"`
	CacheControl *cacheControl `json:"cache_control,omitempty"`
}

type cacheControl struct {
	Type string `json:"type"`
}

type thinkingParams struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens"`
}

type anthropicResponse struct {
	Model   string             `json:"model"`
	Content []anthropicContent `json:"content"`
	Error   *anthropicError    `json:"error,omitempty"`
}

type anthropicContent struct {
	Type     string `json:"type"`
	Text     string `json:"text"`
	Thinking string `json:"thinking,omitempty"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// AnthropicConfig configures AnthropicClient.
type AnthropicConfig struct {
	Model   string
	BaseURL string
	APIKey  *secrets.Secret
}

// AnthropicClient calls the Messages REST API directly.
//
// # Thread Safety
//
// Safe for concurrent use. The key is opened per request.
type AnthropicClient struct {
	httpClient *http.Client
	url        string
	model      string
	key        *secrets.Secret
}

// NewAnthropicClient builds a client.
func NewAnthropicClient(cfg AnthropicConfig) (*AnthropicClient, error) {
	if cfg.APIKey.Empty() {
		return nil, fmt.Errorf("anthropic api key: %w", secrets.ErrMissing)
	}
	if cfg.Model == "" {
		cfg.Model = anthropicDefaultModel
		slog.Info("Anthropic model not set, defaulting", "model", cfg.Model)
	}
	url := cfg.BaseURL
	if url == "" {
		url = anthropicMessagesURL
	}
	return &AnthropicClient{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		url:        url,
		model:      cfg.Model,
		key:        cfg.APIKey,
	}, nil
}

// Name implements Client.
func (a *AnthropicClient) Name() string { return "anthropic" }

// Complete implements Client. Thinking blocks are returned as Reasoning.
func (a *AnthropicClient) Complete(ctx context.Context, req Request) (*Completion, error) {
	system, turns := splitSystem(req.Messages)
	payload := anthropicRequest{
		Model:       a.model,
		MaxTokens:   anthropicMaxTokens,
		Temperature: req.Params.Temperature,
		TopP:        req.Params.TopP,
		TopK:        req.Params.TopK,
		StopSeqs:    req.Params.Stop,
	}
	if req.Params.MaxTokens != nil {
		payload.MaxTokens = *req.Params.MaxTokens
	}
	for _, m := range turns {
		payload.Messages = append(payload.Messages, anthropicMessage{Role: strings.ToLower(m.Role), Content: m.Content})
	}
	if system != "" {
		block := systemBlock{Type: "text", Text: system}
		if len(system) > 1024 {
			block.CacheControl = &cacheControl{Type: "ephemeral"}
		}
		payload.System = []systemBlock{block}
	}
	if req.EnableThinking && req.ThinkingBudget > 0 {
		payload.Thinking = &thinkingParams{Type: "enabled", BudgetTokens: req.ThinkingBudget}
		if minRequired := req.ThinkingBudget + 2048; payload.MaxTokens < minRequired {
			payload.MaxTokens = minRequired
		}
		// The API rejects sampling overrides while thinking.
		payload.Temperature, payload.TopK, payload.TopP = nil, nil, nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal anthropic request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create anthropic request: %w", err)
	}
	if err := a.key.Use(func(v []byte) error {
		httpReq.Header.Set("x-api-key", string(v))
		return nil
	}); err != nil {
		return nil, err
	}
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)
	httpReq.Header.Set("content-type", "application/json")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic request: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read anthropic response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("anthropic API returned status %d: %s", resp.StatusCode, Truncate(string(raw), 300))
	}

	var apiResp anthropicResponse
	if err := json.Unmarshal(raw, &apiResp); err != nil {
		return nil, fmt.Errorf("parse anthropic response: %w", err)
	}
	if apiResp.Error != nil {
		return nil, fmt.Errorf("anthropic API error: %s - %s", apiResp.Error.Type, apiResp.Error.Message)
	}

	var text, thinking strings.Builder
	for _, block := range apiResp.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "thinking":
			thinking.WriteString(block.Thinking)
		}
	}
	return &Completion{Text: text.String(), Reasoning: thinking.String(), Model: apiResp.Model}, nil
}

// Truncate cuts s to n bytes for log and error messages.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
