// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package generation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/AleutianForge/services/forge/datatypes"
	"github.com/AleutianAI/AleutianForge/services/forge/routines"
)

// RollbackResult describes an applied rollback.
type RollbackResult struct {
	Snapshot  *datatypes.Snapshot
	RoutineID string

	// AutoDeploy is true when a deployment task was queued.
	AutoDeploy bool
}

// Rollback points the project at an existing snapshot.
//
// # Description
//
// The pointer moves under the project lock so a running code phase
// cannot commit over it. With autoDeploy a deployment task is queued
// once the lock is released. A full or stopped queue is recorded on the
// routine and the rollback still succeeds.
//
// # Outputs
//
// store.ErrNotFound when the snapshot does not exist.
func (o *Orchestrator) Rollback(ctx context.Context, ownerID, projectID, snapshotID string, autoDeploy bool) (*RollbackResult, error) {
	snap, run, err := o.rollback(ctx, ownerID, projectID, snapshotID)
	if err != nil {
		return nil, err
	}
	res := &RollbackResult{Snapshot: snap, RoutineID: run.ID()}

	if autoDeploy && o.deployer != nil {
		err := o.queue.Submit(Task{Kind: TaskDeploy, ProjectID: projectID, OwnerID: ownerID})
		if err != nil {
			run.Step(ctx, "auto_deploy_rejected", map[string]any{"error": err.Error()})
			o.logger.Warn("auto deploy not queued",
				slog.String("project_id", projectID), slog.String("error", err.Error()))
		} else {
			res.AutoDeploy = true
		}
	}
	if err := run.Close(ctx, datatypes.RoutineSuccess); err != nil {
		o.logger.Warn("close rollback routine failed", slog.String("error", err.Error()))
	}
	return res, nil
}

func (o *Orchestrator) rollback(ctx context.Context, ownerID, projectID, snapshotID string) (*datatypes.Snapshot, *routines.Run, error) {
	release, err := o.locks.Acquire(ctx, projectID)
	if err != nil {
		return nil, nil, fmt.Errorf("acquire project lock: %w", err)
	}
	defer release()

	_, snap, err := o.history.Rollback(ctx, projectID, snapshotID)
	if err != nil {
		return nil, nil, err
	}
	run, err := o.routines.Start(ctx, ownerID, projectID, datatypes.RoutineRollback)
	if err != nil {
		return nil, nil, fmt.Errorf("start routine: %w", err)
	}
	run.Step(ctx, "rollback_applied", map[string]any{"snapshotId": snap.ID})
	return snap, run, nil
}
