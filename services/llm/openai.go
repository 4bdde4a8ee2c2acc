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
	"context"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/AleutianForge/pkg/secrets"
	"github.com/sashabaranov/go-openai"
)

// OpenAIConfig configures OpenAIClient.
type OpenAIConfig struct {
	Model   string
	BaseURL string
	APIKey  *secrets.Secret
}

// OpenAIClient talks to the OpenAI chat completions API.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIClient builds a client. The go-openai transport keeps the key
// as a string, so it is revealed once here.
func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	key, err := cfg.APIKey.Reveal()
	if err != nil {
		return nil, fmt.Errorf("openai api key: %w", err)
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
		slog.Warn("OpenAI model not set, defaulting", "model", cfg.Model)
	}
	oc := openai.DefaultConfig(key)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	slog.Info("Initializing OpenAI client", "model", cfg.Model)
	return &OpenAIClient{client: openai.NewClientWithConfig(oc), model: cfg.Model}, nil
}

// Name implements Client.
func (o *OpenAIClient) Name() string { return "openai" }

// Complete implements Client. Reasoning models report their thinking in
// ReasoningContent.
func (o *OpenAIClient) Complete(ctx context.Context, req Request) (*Completion, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	creq := openai.ChatCompletionRequest{Model: o.model, Messages: msgs}
	p := req.Params
	if p.Temperature != nil {
		creq.Temperature = *p.Temperature
	}
	if p.MaxTokens != nil {
		creq.MaxCompletionTokens = *p.MaxTokens
	}
	if p.TopP != nil {
		creq.TopP = *p.TopP
	}
	if len(p.Stop) > 0 {
		creq.Stop = p.Stop
	}

	resp, err := o.client.CreateChatCompletion(ctx, creq)
	if err != nil {
		return nil, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		slog.Warn("OpenAI returned no choices", "model", o.model)
		return &Completion{Model: resp.Model}, nil
	}
	msg := resp.Choices[0].Message
	slog.Debug("Received response from OpenAI", "finish_reason", resp.Choices[0].FinishReason)
	return &Completion{Text: msg.Content, Reasoning: msg.ReasoningContent, Model: resp.Model}, nil
}
