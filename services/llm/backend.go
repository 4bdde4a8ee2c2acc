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
	"strings"
	"time"

	"github.com/AleutianAI/AleutianForge/pkg/secrets"
)

// Backend names accepted by New.
const (
	BackendOpenAI    = "openai"
	BackendAnthropic = "anthropic"
	BackendOllama    = "ollama"
	BackendNone      = "none"
)

// Config selects and configures a backend.
type Config struct {
	Backend string
	Model   string
	BaseURL string

	// SecretsDir overrides secrets.DefaultSecretsDir for API key files.
	SecretsDir string

	// CallTimeout bounds every call. Zero uses DefaultCallTimeout.
	CallTimeout time.Duration
}

// New builds the configured backend wrapped in WithTimeout.
//
// # Outputs
//
//   - Client: Ready to use. The none backend never fails to build.
//   - error: Unknown backend or missing credentials.
func New(cfg Config) (Client, error) {
	var (
		c   Client
		err error
	)
	switch strings.ToLower(cfg.Backend) {
	case BackendOpenAI:
		var key *secrets.Secret
		if key, err = secrets.Load("openai api key", "OPENAI_API_KEY", cfg.SecretsDir, "openai_api_key"); err == nil {
			c, err = NewOpenAIClient(OpenAIConfig{Model: cfg.Model, BaseURL: cfg.BaseURL, APIKey: key})
		}
	case BackendAnthropic:
		var key *secrets.Secret
		if key, err = secrets.Load("anthropic api key", "ANTHROPIC_API_KEY", cfg.SecretsDir, "anthropic_api_key"); err == nil {
			c, err = NewAnthropicClient(AnthropicConfig{Model: cfg.Model, BaseURL: cfg.BaseURL, APIKey: key})
		}
	case BackendOllama:
		c, err = NewOllamaClient(cfg.BaseURL, cfg.Model)
	case BackendNone, "":
		c = None{}
	default:
		return nil, fmt.Errorf("unknown llm backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	return WithTimeout(c, cfg.CallTimeout), nil
}

// None is the backend of Degraded mode. Every reply is empty, which sends
// the pipeline down its fallback paths.
type None struct{}

// Name implements Client.
func (None) Name() string { return BackendNone }

// Complete implements Client.
func (None) Complete(ctx context.Context, _ Request) (*Completion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Completion{Model: BackendNone}, nil
}
