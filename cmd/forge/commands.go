// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"os"
	"time"

	"github.com/AleutianAI/AleutianForge/cmd/forge/config"
	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	configPath   string
	serverURL    string
	apiToken     string
	outputJSON   bool
	portFlag     int
	modeFlag     string
	assumeYes    bool
	requestLimit time.Duration

	rootCmd = &cobra.Command{
		Use:           "forge",
		Short:         "Generate, version and deploy small web apps from prompts",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// --- Server ---
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the forge HTTP API",
		Args:  cobra.NoArgs,
		RunE:  runServe, // Defined in cmd_serve.go
	}

	// --- Projects ---
	projectsCmd = &cobra.Command{
		Use:     "projects",
		Short:   "List your projects",
		Aliases: []string{"ls"},
		Args:    cobra.NoArgs,
		RunE:    runProjects, // Defined in cmd_projects.go
	}
	historyCmd = &cobra.Command{
		Use:   "history [project-id]",
		Short: "List a project's snapshots, newest first",
		Args:  cobra.ExactArgs(1),
		RunE:  runHistory,
	}
	diffCmd = &cobra.Command{
		Use:   "diff [project-id] [snapshot-id]",
		Short: "Show the changes a snapshot made to the one before it",
		Args:  cobra.ExactArgs(2),
		RunE:  runDiff,
	}
	rollbackCmd = &cobra.Command{
		Use:   "rollback [project-id] [snapshot-id]",
		Short: "Make an earlier snapshot current again",
		Args:  cobra.ExactArgs(2),
		RunE:  runRollback,
	}
	deployCmd = &cobra.Command{
		Use:   "deploy [project-id]",
		Short: "Deploy the current snapshot and wait for the result",
		Args:  cobra.ExactArgs(1),
		RunE:  runDeploy,
	}

	// --- Configuration ---
	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Show the effective configuration",
		Args:  cobra.NoArgs,
		RunE:  runConfig, // Defined in cmd_config.go
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.aleutian/forge.yaml)")

	serveCmd.Flags().IntVar(&portFlag, "port", 0, "override server.port")
	serveCmd.Flags().StringVar(&modeFlag, "mode", "", "override server.mode (full or degraded)")

	for _, c := range []*cobra.Command{projectsCmd, historyCmd, diffCmd, rollbackCmd, deployCmd} {
		c.Flags().StringVar(&serverURL, "server", "", "forge API URL (default server.url)")
		c.Flags().StringVar(&apiToken, "token", os.Getenv("FORGE_API_TOKEN"), "bearer token")
		c.Flags().BoolVar(&outputJSON, "json", false, "print the raw JSON response")
		c.Flags().DurationVar(&requestLimit, "timeout", 2*time.Minute, "request timeout")
	}
	rollbackCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "skip the confirmation prompt")

	rootCmd.AddCommand(serveCmd, projectsCmd, historyCmd, diffCmd, rollbackCmd, deployCmd, configCmd)
}

// loadConfig reads --config, or the default path through the shared
// singleton.
func loadConfig() (string, *config.ForgeConfig, error) {
	if configPath != "" {
		cfg, err := config.LoadFrom(configPath)
		return configPath, cfg, err
	}
	if err := config.Load(); err != nil {
		return "", nil, err
	}
	path, err := config.DefaultPath()
	if err != nil {
		return "", nil, err
	}
	cfg := config.Global
	return path, &cfg, nil
}
