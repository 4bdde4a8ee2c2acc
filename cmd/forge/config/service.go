// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"errors"
	"fmt"

	"github.com/AleutianAI/AleutianForge/pkg/logging"
	"github.com/AleutianAI/AleutianForge/pkg/secrets"
	"github.com/AleutianAI/AleutianForge/services/forge"
	"github.com/AleutianAI/AleutianForge/services/forge/archive"
	"github.com/AleutianAI/AleutianForge/services/forge/deploy"
	"github.com/AleutianAI/AleutianForge/services/forge/generation"
	"github.com/AleutianAI/AleutianForge/services/forge/ratelimit"
	"github.com/AleutianAI/AleutianForge/services/forge/telemetry"
	"github.com/AleutianAI/AleutianForge/services/llm"
)

// RateLimits converts the limits section.
func (c *ForgeConfig) RateLimits() (generate, imports ratelimit.Config) {
	return ratelimit.Config{Limit: c.Limits.Generate.Limit, Window: c.Limits.Generate.Window},
		ratelimit.Config{Limit: c.Limits.Import.Limit, Window: c.Limits.Import.Window}
}

// LoggingConfig converts the log section for the given service name.
func (c *ForgeConfig) LoggingConfig(service string) (logging.Config, error) {
	level, err := logging.ParseLevel(c.Log.Level)
	if err != nil {
		return logging.Config{}, err
	}
	return logging.Config{
		Level:   level,
		LogDir:  c.Log.Dir,
		Service: service,
		JSON:    c.Log.JSON,
	}, nil
}

// ServiceConfig builds the in-process service configuration.
//
// # Description
//
// The hosting and InfluxDB tokens are loaded here from VERCEL_TOKEN and
// INFLUX_TOKEN (or vercel_token and influx_token in the secrets
// directory). A missing token disables the integration; it is not an
// error.
func (c *ForgeConfig) ServiceConfig() (forge.Config, error) {
	mode, err := forge.ParseMode(c.Server.Mode)
	if err != nil {
		return forge.Config{}, err
	}
	generate, imports := c.RateLimits()

	cfg := forge.Config{
		Port:    c.Server.Port,
		Mode:    mode,
		GinMode: c.Server.GinMode,
		DataDir: c.Server.DataDir,
		LLM: llm.Config{
			Backend:     c.LLM.Backend,
			Model:       c.LLM.Model,
			BaseURL:     c.LLM.BaseURL,
			SecretsDir:  c.LLM.SecretsDir,
			CallTimeout: c.LLM.CallTimeout,
		},
		GenerateLimit:        generate,
		ImportLimit:          imports,
		EnrichMode:           c.Generation.EnrichMode,
		EnrichMaxPasses:      c.Generation.EnrichMaxPasses,
		HistoryTokenBudget:   c.Generation.HistoryTokenBudget,
		AutoDeploy:           c.Generation.AutoDeploy,
		AutoDeployOnRollback: c.Generation.AutoDeployOnRollback,
		Queue: generation.QueueConfig{
			Capacity:    c.Generation.QueueCapacity,
			Workers:     c.Generation.Workers,
			TaskTimeout: c.Generation.TaskTimeout,
		},
		Deploy: deploy.Config{
			MaxAttempts:  c.Deploy.MaxAttempts,
			RecentWindow: c.Deploy.RecentWindow,
			Keep:         c.Deploy.Keep,
		},
		Archive: archive.GCSConfig{
			Bucket:          c.Archive.Bucket,
			Prefix:          c.Archive.Prefix,
			CredentialsFile: c.Archive.CredentialsFile,
		},
		Telemetry:       c.Telemetry,
		APITokens:       c.Auth.Tokens,
		DisableRealtime: !c.Server.Realtime,
		ShutdownTimeout: c.Server.ShutdownTimeout,
	}

	if mode == forge.ModeDegraded {
		return cfg, nil
	}

	token, err := optionalSecret("vercel token", "VERCEL_TOKEN", c.LLM.SecretsDir, "vercel_token")
	if err != nil {
		return forge.Config{}, err
	}
	cfg.Vercel = forge.VercelConfig{Token: token, TeamID: c.Deploy.VercelTeamID}

	if c.Influx.URL != "" {
		influxToken, err := optionalSecret("influx token", "INFLUX_TOKEN", c.LLM.SecretsDir, "influx_token")
		if err != nil {
			return forge.Config{}, err
		}
		cfg.Influx = telemetry.InfluxConfig{
			URL:    c.Influx.URL,
			Token:  influxToken,
			Org:    c.Influx.Org,
			Bucket: c.Influx.Bucket,
		}
	}
	return cfg, nil
}

func optionalSecret(name, envVar, dir, file string) (*secrets.Secret, error) {
	s, err := secrets.Load(name, envVar, dir, file)
	if errors.Is(err, secrets.ErrMissing) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", name, err)
	}
	return s, nil
}
