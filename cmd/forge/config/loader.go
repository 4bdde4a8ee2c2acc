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
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

var (
	// Global is a singleton instance
	Global ForgeConfig
	once   sync.Once
)

// Load ensures the config is loaded into the Global variable
func Load() error {
	var err error
	once.Do(func() {
		var path string
		if path, err = DefaultPath(); err != nil {
			return
		}
		var cfg *ForgeConfig
		if cfg, err = LoadFrom(path); err == nil {
			Global = *cfg
		}
	})
	return err
}

// DefaultPath is ~/.aleutian/forge.yaml, or $FORGE_CONFIG when set.
func DefaultPath() (string, error) {
	if p := os.Getenv("FORGE_CONFIG"); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".aleutian", "forge.yaml"), nil
}

// LoadFrom reads path, creating it with defaults on first run, and applies
// environment overrides. Keys missing from the file keep their defaults.
func LoadFrom(path string) (*ForgeConfig, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, " First run detected, creating the config at %s\n", path)
		if err := createDefault(path); err != nil {
			return nil, err
		}
	}
	return read(path)
}

// read parses an existing file over the defaults and applies overrides.
func read(path string) (*ForgeConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read the config file %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse the config file %s: %w", path, err)
	}
	if err := applyEnv(&cfg, os.Getenv); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func createDefault(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create the config directory %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// applyEnv overrides file values with FORGE_PORT, FORGE_LLM_BACKEND,
// FORGE_DATA_DIR, FORGE_MODE, VERCEL_TEAM_ID and ENRICH_MAX_PASSES.
// VERCEL_TOKEN is read as a secret when the service config is built.
func applyEnv(cfg *ForgeConfig, getenv func(string) string) error {
	if v := strings.TrimSpace(getenv("FORGE_PORT")); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			return fmt.Errorf("FORGE_PORT must be a port number, got %q", v)
		}
		cfg.Server.Port = port
	}
	if v := strings.TrimSpace(getenv("FORGE_LLM_BACKEND")); v != "" {
		cfg.LLM.Backend = strings.ToLower(v)
	}
	if v := strings.TrimSpace(getenv("FORGE_DATA_DIR")); v != "" {
		cfg.Server.DataDir = v
	}
	if v := strings.TrimSpace(getenv("FORGE_MODE")); v != "" {
		cfg.Server.Mode = strings.ToLower(v)
	}
	if v := strings.TrimSpace(getenv("VERCEL_TEAM_ID")); v != "" {
		cfg.Deploy.VercelTeamID = v
	}
	if v := strings.TrimSpace(getenv("ENRICH_MAX_PASSES")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return fmt.Errorf("ENRICH_MAX_PASSES must be a non-negative integer, got %q", v)
		}
		cfg.Generation.EnrichMaxPasses = n
	}
	return nil
}
