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

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type ollamaChatRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Think    bool           `json:"think,omitempty"`
	Options  map[string]any `json:"options,omitempty"`
}

type ollamaChatMessage struct {
	Role     string `json:"role"`
	Content  string `json:"content"`
	Thinking string `json:"thinking,omitempty"`
}

type ollamaChatResponse struct {
	Model   string            `json:"model"`
	Message ollamaChatMessage `json:"message"`
	Done    bool              `json:"done"`
}

// OllamaClient calls a local Ollama server.
type OllamaClient struct {
	httpClient *http.Client
	baseURL    string
	model      string
}

// NewOllamaClient builds a client for baseURL, e.g. http://localhost:11434.
func NewOllamaClient(baseURL, model string) (*OllamaClient, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("ollama base url not set")
	}
	if model == "" {
		model = "gpt-oss"
		slog.Warn("Ollama model not set, defaulting", "model", model)
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	slog.Info("Initializing Ollama client", "base_url", baseURL, "model", model)
	return &OllamaClient{
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		baseURL:    baseURL,
		model:      model,
	}, nil
}

// Name implements Client.
func (o *OllamaClient) Name() string { return "ollama" }

func ollamaOptions(p GenerationParams) map[string]any {
	options := map[string]any{
		"temperature": float32(0.2),
		"top_k":       20,
		"top_p":       float32(0.9),
		"num_predict": 8192,
	}
	if p.Temperature != nil {
		options["temperature"] = *p.Temperature
	}
	if p.TopK != nil {
		options["top_k"] = *p.TopK
	}
	if p.TopP != nil {
		options["top_p"] = *p.TopP
	}
	if p.MaxTokens != nil {
		options["num_predict"] = *p.MaxTokens
	}
	if len(p.Stop) > 0 {
		options["stop"] = p.Stop
	}
	return options
}

// Complete implements Client using /api/chat. Thinking models report
// reasoning in message.thinking when think is set.
func (o *OllamaClient) Complete(ctx context.Context, req Request) (*Completion, error) {
	ctx, span := tracer.Start(ctx, "OllamaClient.Complete")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", o.model))

	fail := func(err error) (*Completion, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	chatURL := o.baseURL + "/api/chat"
	body, err := json.Marshal(ollamaChatRequest{
		Model:    o.model,
		Messages: req.Messages,
		Think:    req.EnableThinking,
		Options:  ollamaOptions(req.Params),
	})
	if err != nil {
		return fail(fmt.Errorf("marshal ollama chat request: %w", err))
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, chatURL, bytes.NewReader(body))
	if err != nil {
		return fail(fmt.Errorf("create ollama chat request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		return fail(fmt.Errorf("send request to %s: %w", chatURL, err))
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fail(fmt.Errorf("read ollama response: %w", err))
	}
	if resp.StatusCode == http.StatusNotFound && strings.Contains(string(raw), "not found") {
		return fail(fmt.Errorf("model %q not found, run: ollama pull %s", o.model, o.model))
	}
	if resp.StatusCode != http.StatusOK {
		return fail(fmt.Errorf("ollama chat failed with status %d: %s", resp.StatusCode, Truncate(string(raw), 300)))
	}

	var out ollamaChatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return fail(fmt.Errorf("parse ollama chat response: %w", err))
	}
	return &Completion{Text: out.Message.Content, Reasoning: out.Message.Thinking, Model: out.Model}, nil
}
