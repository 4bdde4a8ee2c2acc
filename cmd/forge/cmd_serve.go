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
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/AleutianAI/AleutianForge/cmd/forge/config"
	"github.com/AleutianAI/AleutianForge/pkg/logging"
	"github.com/AleutianAI/AleutianForge/pkg/secrets"
	"github.com/AleutianAI/AleutianForge/services/forge"
	"github.com/spf13/cobra"
)

func runServe(cmd *cobra.Command, _ []string) error {
	path, cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if portFlag != 0 {
		cfg.Server.Port = portFlag
	}
	if modeFlag != "" {
		cfg.Server.Mode = modeFlag
	}

	logCfg, err := cfg.LoggingConfig("forge")
	if err != nil {
		return err
	}
	logCfg.Output = os.Stdout
	logger := logging.New(logCfg)
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	secrets.Init()
	defer secrets.Purge()

	svcCfg, err := cfg.ServiceConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := forge.New(ctx, svcCfg, logger.Slog())
	if err != nil {
		return err
	}

	watcher, err := config.NewWatcher(path, func(next *config.ForgeConfig) {
		generate, imports := next.RateLimits()
		svc.UpdateLimits(generate, imports)
		if level, err := logging.ParseLevel(next.Log.Level); err == nil {
			logger.SetLevel(level)
		} else {
			slog.Warn("Ignoring invalid log level", "level", next.Log.Level, "error", err)
		}
	}, logger.Slog())
	if err != nil {
		slog.Warn("Config hot reload disabled", "path", path, "error", err)
	} else {
		go watcher.Start(ctx)
		defer watcher.Stop()
	}

	return svc.Run(ctx)
}
