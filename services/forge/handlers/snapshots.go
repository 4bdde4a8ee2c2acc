// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"log/slog"
	"net/http"

	"github.com/AleutianAI/AleutianForge/services/forge/datatypes"
	"github.com/AleutianAI/AleutianForge/services/forge/diff"
	"github.com/AleutianAI/AleutianForge/services/forge/middleware"
	"github.com/AleutianAI/AleutianForge/services/forge/preview"
	"github.com/gin-gonic/gin"
)

// DiffResponse is the body of the snapshot diff endpoint.
type DiffResponse struct {
	BaseSnapshotID   *string `json:"baseSnapshotId"`
	TargetSnapshotID string  `json:"targetSnapshotId"`
	diff.Diff
	Unified string `json:"unified,omitempty"`
}

// loadSnapshot resolves :id and :sid for the caller.
func (h *Handlers) loadSnapshot(c *gin.Context, logger *slog.Logger) (*datatypes.Project, *datatypes.Snapshot, bool) {
	project, ok := h.loadProject(c, logger)
	if !ok {
		return nil, nil, false
	}
	snap, err := h.store.GetSnapshot(c.Request.Context(), project.ID, c.Param("sid"))
	if err != nil {
		writeError(c, logger, err)
		return nil, nil, false
	}
	return project, snap, true
}

// HandleListSnapshots handles GET /v1/projects/:id/snapshots, newest first.
func (h *Handlers) HandleListSnapshots(c *gin.Context) {
	logger := middleware.Logger(c, "HandleListSnapshots")
	project, ok := h.loadProject(c, logger)
	if !ok {
		return
	}
	infos, err := h.store.ListSnapshots(c.Request.Context(), project.ID, snapshotListLimit)
	if err != nil {
		writeError(c, logger, err)
		return
	}
	if infos == nil {
		infos = []datatypes.SnapshotInfo{}
	}
	c.JSON(http.StatusOK, gin.H{
		"snapshots":        infos,
		"latestSnapshotId": project.LatestSnapshotID,
	})
}

// HandleGetSnapshot handles GET /v1/projects/:id/snapshots/:sid.
func (h *Handlers) HandleGetSnapshot(c *gin.Context) {
	logger := middleware.Logger(c, "HandleGetSnapshot")
	_, snap, ok := h.loadSnapshot(c, logger)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, snap)
}

// HandleSnapshotDiff handles GET /v1/projects/:id/snapshots/:sid/diff.
//
// # Description
//
// Compares the snapshot with the one created immediately before it. The
// first snapshot of a project is diffed against nothing, so every path is
// created and baseSnapshotId is null. With format=unified the response
// also carries a unified text diff.
//
// # Response
//
//	200 OK: DiffResponse
//	404 Not Found: Unknown project or snapshot
func (h *Handlers) HandleSnapshotDiff(c *gin.Context) {
	logger := middleware.Logger(c, "HandleSnapshotDiff")
	_, target, ok := h.loadSnapshot(c, logger)
	if !ok {
		return
	}
	base, err := h.history.Previous(c.Request.Context(), target)
	if err != nil {
		writeError(c, logger, err)
		return
	}

	resp := DiffResponse{TargetSnapshotID: target.ID, Diff: diff.Compute(base, target)}
	if base != nil {
		resp.BaseSnapshotID = &base.ID
	}
	if c.Query("format") == "unified" {
		text, err := diff.Unified(base, target)
		if err != nil {
			writeError(c, logger, err)
			return
		}
		resp.Unified = text
	}
	c.JSON(http.StatusOK, resp)
}

// HandlePlanReport handles GET /v1/projects/:id/snapshots/:sid/plan.html.
// The phase query parameter selects the badge and defaults to plan.
func (h *Handlers) HandlePlanReport(c *gin.Context) {
	logger := middleware.Logger(c, "HandlePlanReport")
	project, snap, ok := h.loadSnapshot(c, logger)
	if !ok {
		return
	}
	if snap.Meta == nil {
		abort(c, http.StatusNotFound, "not_found", "snapshot has no plan")
		return
	}
	phase := preview.PhasePlan
	if c.Query("phase") == string(preview.PhaseCode) {
		phase = preview.PhaseCode
	}
	html := preview.PlanReport(preview.Sections{
		ProjectName: project.Name,
		Prompt:      snap.Summary,
		PlanLines:   snap.Meta.PlanLines,
		Summary:     snap.Meta.Summary,
		Proposed:    snap.Meta.Proposed,
		Pitfalls:    snap.Meta.Pitfalls,
		Todos:       snap.Meta.Todos,
	}, phase)
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(html))
}

// HandleRollback handles POST /v1/projects/:id/snapshots/:sid/rollback.
//
// # Description
//
// Points the project at an existing snapshot and marks it LIVE. History
// is not rewritten. A ROLLBACK routine records the change and, when
// enabled, a deployment of the restored snapshot is started in the
// background.
//
// # Response
//
//	200 OK: {"ok": true, "snapshotId": "...", "routineId": "...", "autoDeploy": bool}
//	404 Not Found: Unknown project or snapshot
func (h *Handlers) HandleRollback(c *gin.Context) {
	logger := middleware.Logger(c, "HandleRollback")
	project, ok := h.loadProject(c, logger)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	owner := middleware.OwnerID(c)

	res, err := h.orchestrator.Rollback(ctx, owner, project.ID, c.Param("sid"), h.autoDeployOnRollback)
	if err != nil {
		writeError(c, logger, err)
		return
	}
	snap := res.Snapshot
	logger.Info("rollback applied", "project_id", project.ID, "snapshot_id", snap.ID, "auto_deploy", res.AutoDeploy)
	c.JSON(http.StatusOK, gin.H{
		"ok":         true,
		"snapshotId": snap.ID,
		"routineId":  res.RoutineID,
		"autoDeploy": res.AutoDeploy,
	})
}
