// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package history commits, resolves and prunes project snapshots.
//
// The store keeps snapshots in creation order. The project pointer
// (Project.LatestSnapshotID) selects which one is current; it normally
// tracks the newest snapshot and moves backwards on rollback.
package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/AleutianAI/AleutianForge/pkg/validation"
	"github.com/AleutianAI/AleutianForge/services/forge/archive"
	"github.com/AleutianAI/AleutianForge/services/forge/datatypes"
	"github.com/AleutianAI/AleutianForge/services/forge/realtime"
	"github.com/AleutianAI/AleutianForge/services/forge/store"
)

// DefaultKeep is the number of snapshots retained after a deployment.
const DefaultKeep = 4

// Commit describes one snapshot write.
type Commit struct {
	ProjectID string
	Files     []datatypes.FileRecord
	Meta      *datatypes.PlanMeta
	Strategy  datatypes.PreviewStrategy
	Summary   string
}

// Recorder writes snapshots and keeps the project pointer in sync.
//
// # Thread Safety
//
// Safe for concurrent use. Callers serialize writes per project through
// the generation lock.
type Recorder struct {
	store       store.Store
	broadcaster realtime.Broadcaster
	archiver    archive.Archiver
	logger      *slog.Logger
}

// NewRecorder creates a Recorder. A nil broadcaster or archiver disables
// that side effect.
func NewRecorder(st store.Store, b realtime.Broadcaster, a archive.Archiver, logger *slog.Logger) *Recorder {
	if b == nil {
		b = realtime.Nop{}
	}
	if a == nil {
		a = archive.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: st, broadcaster: b, archiver: a, logger: logger}
}

// Commit writes a snapshot and points the project at it.
//
// # Description
//
// The snapshot write and the pointer update are two transactions. A
// failure after the snapshot is written leaves the snapshot in history
// with the pointer unchanged. The realtime broadcast and the archive copy
// are best-effort and only logged on failure.
//
// # Outputs
//
//   - *datatypes.Snapshot: The committed snapshot.
//   - error: validation.ErrUnsafePath for a path escaping the project,
//     store.ErrNotFound if the project does not exist.
func (r *Recorder) Commit(ctx context.Context, c Commit) (*datatypes.Snapshot, error) {
	paths := make([]string, 0, len(c.Files))
	for _, f := range c.Files {
		if f.Path != "" {
			paths = append(paths, f.Path)
		}
	}
	if err := validation.ValidateFilePaths(paths); err != nil {
		return nil, fmt.Errorf("create snapshot: %w", err)
	}
	snap, err := r.store.CreateSnapshot(ctx, c.ProjectID, c.Files, c.Meta, c.Strategy, c.Summary)
	if err != nil {
		return nil, fmt.Errorf("create snapshot: %w", err)
	}
	if _, err := r.store.UpdateProject(ctx, c.ProjectID, func(p *datatypes.Project) error {
		p.LatestSnapshotID = snap.ID
		return nil
	}); err != nil {
		return snap, fmt.Errorf("update snapshot pointer: %w", err)
	}

	realtime.PublishFilesUpdated(ctx, r.broadcaster, c.ProjectID, snap.ID)
	if err := r.archiver.Archive(ctx, snap); err != nil {
		r.logger.Warn("snapshot archive failed",
			slog.String("project_id", c.ProjectID),
			slog.String("snapshot_id", snap.ID),
			slog.String("error", err.Error()))
	}
	return snap, nil
}

// Current returns the snapshot the project points at, falling back to the
// newest snapshot when the pointer is unset or dangling. It returns nil,
// nil for a project without snapshots.
func (r *Recorder) Current(ctx context.Context, p *datatypes.Project) (*datatypes.Snapshot, error) {
	if p.LatestSnapshotID != "" {
		snap, err := r.store.GetSnapshot(ctx, p.ID, p.LatestSnapshotID)
		if err == nil {
			return snap, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		r.logger.Warn("snapshot pointer is dangling, using newest",
			slog.String("project_id", p.ID),
			slog.String("snapshot_id", p.LatestSnapshotID))
	}
	return r.store.LatestSnapshot(ctx, p.ID)
}

// Previous returns the snapshot created immediately before snap, or nil.
func (r *Recorder) Previous(ctx context.Context, snap *datatypes.Snapshot) (*datatypes.Snapshot, error) {
	return r.store.PreviousSnapshot(ctx, snap.ProjectID, snap.CreatedAt)
}

// Rollback points the project at an existing snapshot and marks it LIVE.
// History is not rewritten; no snapshot is created.
func (r *Recorder) Rollback(ctx context.Context, projectID, snapshotID string) (*datatypes.Project, *datatypes.Snapshot, error) {
	snap, err := r.store.GetSnapshot(ctx, projectID, snapshotID)
	if err != nil {
		return nil, nil, err
	}
	p, err := r.store.UpdateProject(ctx, projectID, func(p *datatypes.Project) error {
		p.LatestSnapshotID = snap.ID
		p.Status = datatypes.ProjectStatusLive
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	realtime.PublishFilesUpdated(ctx, r.broadcaster, projectID, snap.ID)
	return p, snap, nil
}

// Prune removes all but the newest keep snapshots.
//
// Pruning is skipped when the snapshot the project points at is older
// than the retained window, so the current snapshot is never removed.
func (r *Recorder) Prune(ctx context.Context, projectID string, keep int) ([]string, error) {
	if keep < 1 {
		keep = DefaultKeep
	}
	p, err := r.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if p.LatestSnapshotID != "" {
		retained, err := r.store.ListSnapshots(ctx, projectID, keep)
		if err != nil {
			return nil, err
		}
		inWindow := slices.ContainsFunc(retained, func(s datatypes.SnapshotInfo) bool {
			return s.ID == p.LatestSnapshotID
		})
		if !inWindow {
			r.logger.Info("prune skipped, current snapshot outside retention window",
				slog.String("project_id", projectID),
				slog.String("snapshot_id", p.LatestSnapshotID))
			return nil, nil
		}
	}

	removed, err := r.store.PruneSnapshots(ctx, projectID, keep)
	if err != nil {
		return nil, fmt.Errorf("prune snapshots: %w", err)
	}
	if len(removed) > 0 {
		r.logger.Debug("pruned snapshots", slog.String("project_id", projectID), slog.Int("removed", len(removed)))
	}
	return removed, nil
}
