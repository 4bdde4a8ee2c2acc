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
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 250 * time.Millisecond

// Watcher reloads the config file when it changes on disk.
//
// # Description
//
// The parent directory is watched rather than the file so that editors
// which replace the file by rename are still seen. Bursts of events are
// collapsed into one reload. A file that fails to parse is logged and the
// previous configuration stays in effect.
//
// # Thread Safety
//
// Safe for concurrent use. Start should only be called once.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	onChange func(*ForgeConfig)
	logger   *slog.Logger
}

// NewWatcher creates a watcher for path.
//
// # Inputs
//
//   - path: The config file.
//   - onChange: Called with every successfully reloaded config.
//   - logger: Nil uses slog.Default().
func NewWatcher(path string, onChange func(*ForgeConfig), logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}
	return &Watcher{
		path:     filepath.Clean(path),
		watcher:  fw,
		onChange: onChange,
		logger:   logger,
	}, nil
}

// Start processes events until ctx ends. Should be run in a goroutine.
func (w *Watcher) Start(ctx context.Context) {
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			timer.Reset(reloadDebounce)

		case <-timer.C:
			w.reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Config watcher error", "error", err)

		case <-ctx.Done():
			return
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := read(w.path)
	if err != nil {
		w.logger.Warn("Config reload failed, keeping previous settings", "path", w.path, "error", err)
		return
	}
	w.logger.Info("Config reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(cfg)
	}
}

// Stop releases the underlying watcher. Safe to call multiple times.
func (w *Watcher) Stop() error {
	return w.watcher.Close()
}
