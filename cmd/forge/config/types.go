// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the forge YAML configuration from
// ~/.aleutian/forge.yaml, applies environment overrides and watches the
// file for the settings that can change while the server runs.
package config

import (
	"time"

	"github.com/AleutianAI/AleutianForge/services/forge/telemetry"
)

// CurrentConfigVersion is written to new files.
const CurrentConfigVersion = "1"

type ForgeConfig struct {
	Meta MetaConfig `yaml:"meta"`

	// Server: port, mode and storage
	Server ServerConfig `yaml:"server"`

	// LLM: completion backend. Keys come from the environment or the
	// secrets directory, never from this file.
	LLM LLMConfig `yaml:"llm"`

	// Limits: per-user allowances. Reloaded on change.
	Limits LimitsConfig `yaml:"limits"`

	Generation GenerationConfig `yaml:"generation"`
	Deploy     DeployConfig     `yaml:"deploy"`

	// Integrations: optional sinks, disabled when empty
	Influx  InfluxConfig  `yaml:"influx"`
	Archive ArchiveConfig `yaml:"archive"`

	Telemetry telemetry.Config `yaml:"telemetry"`

	// Log: level is reloaded on change
	Log LogConfig `yaml:"log"`

	Auth AuthConfig `yaml:"auth"`
}

type MetaConfig struct {
	Version string `yaml:"version"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	Mode            string        `yaml:"mode"`     // full | degraded
	GinMode         string        `yaml:"gin_mode"` // debug | release | test
	DataDir         string        `yaml:"data_dir"`
	URL             string        `yaml:"url"` // used by the CLI client commands
	Realtime        bool          `yaml:"realtime"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LLMConfig struct {
	// Backend can be "openai", "anthropic", "ollama" or "none"
	Backend     string        `yaml:"backend"`
	Model       string        `yaml:"model,omitempty"`
	BaseURL     string        `yaml:"base_url,omitempty"`
	SecretsDir  string        `yaml:"secrets_dir,omitempty"`
	CallTimeout time.Duration `yaml:"call_timeout"`
}

type LimitConfig struct {
	Limit  int           `yaml:"limit"`
	Window time.Duration `yaml:"window"`
}

type LimitsConfig struct {
	Generate LimitConfig `yaml:"generate"`
	Import   LimitConfig `yaml:"import"`
}

type GenerationConfig struct {
	EnrichMode           string        `yaml:"enrich_mode"` // light | balanced | aggressive
	EnrichMaxPasses      int           `yaml:"enrich_max_passes"`
	HistoryTokenBudget   int           `yaml:"history_token_budget"`
	AutoDeploy           bool          `yaml:"auto_deploy"`
	AutoDeployOnRollback bool          `yaml:"auto_deploy_on_rollback"`
	Workers              int           `yaml:"workers"`
	QueueCapacity        int           `yaml:"queue_capacity"`
	TaskTimeout          time.Duration `yaml:"task_timeout"`
}

type DeployConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	RecentWindow time.Duration `yaml:"recent_window"`
	Keep         int           `yaml:"keep"`
	VercelTeamID string        `yaml:"vercel_team_id,omitempty"`
}

type InfluxConfig struct {
	URL    string `yaml:"url,omitempty"`
	Org    string `yaml:"org,omitempty"`
	Bucket string `yaml:"bucket,omitempty"`
}

type ArchiveConfig struct {
	Bucket          string `yaml:"bucket,omitempty"`
	Prefix          string `yaml:"prefix,omitempty"`
	CredentialsFile string `yaml:"credentials_file,omitempty"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	Dir   string `yaml:"dir,omitempty"`
	JSON  bool   `yaml:"json"`
}

type AuthConfig struct {
	// Tokens maps bearer tokens to owner ids. Empty runs single-user.
	Tokens map[string]string `yaml:"tokens,omitempty"`
}

func DefaultConfig() ForgeConfig {
	return ForgeConfig{
		Meta: MetaConfig{Version: CurrentConfigVersion},
		Server: ServerConfig{
			Port:            12310,
			Mode:            "full",
			GinMode:         "release",
			DataDir:         "~/.aleutian/forge/data",
			URL:             "http://localhost:12310",
			Realtime:        true,
			ShutdownTimeout: 15 * time.Second,
		},
		LLM: LLMConfig{
			Backend:     "ollama",
			Model:       "qwen2.5-coder:7b",
			BaseURL:     "http://localhost:11434",
			CallTimeout: 25 * time.Second,
		},
		Limits: LimitsConfig{
			Generate: LimitConfig{Limit: 30, Window: time.Hour},
			Import:   LimitConfig{Limit: 20, Window: 15 * time.Minute},
		},
		Generation: GenerationConfig{
			EnrichMode:         "balanced",
			HistoryTokenBudget: 6000,
			Workers:            2,
			QueueCapacity:      32,
			TaskTimeout:        5 * time.Minute,
		},
		Deploy: DeployConfig{
			MaxAttempts:  2,
			RecentWindow: 30 * time.Second,
			Keep:         4,
		},
		Telemetry: telemetry.DefaultConfig(),
		Log: LogConfig{
			Level: "info",
			Dir:   "~/.aleutian/logs",
			JSON:  true,
		},
	}
}
