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
	"net/http"

	"github.com/AleutianAI/AleutianForge/services/forge/datatypes"
	"github.com/AleutianAI/AleutianForge/services/forge/middleware"
	"github.com/gin-gonic/gin"
)

// HandleGenerate handles POST /v1/generate.
//
// # Description
//
// Runs the plan phase synchronously and queues the code phase. The
// response carries the committed plan snapshot; the implementation
// snapshot arrives later as a files.updated event.
//
// # Request Body
//
//	datatypes.GenerateRequest
//
// # Response
//
//	200 OK: generation.PlanResult
//	400 Bad Request: Missing or invalid prompt or project id
//	403 Forbidden: Project belongs to another user
//	404 Not Found: Unknown project
//	429 Too Many Requests: Per-user generation limit reached
func (h *Handlers) HandleGenerate(c *gin.Context) {
	logger := middleware.Logger(c, "HandleGenerate")

	var req datatypes.GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("invalid request body", "error", err)
		abort(c, http.StatusBadRequest, "invalid_request", "request body must be JSON with a prompt")
		return
	}

	res, err := h.orchestrator.Generate(c.Request.Context(), middleware.OwnerID(c), req)
	if err != nil {
		writeError(c, logger, err)
		return
	}
	logger.Info("plan committed",
		"project_id", res.Project.ID,
		"snapshot_id", res.SnapshotID,
		"outcome", res.Outcome,
		"code_phase", res.CodePhase)
	c.JSON(http.StatusOK, res)
}

// HandleInitProject handles POST /v1/projects/init. It creates a named,
// classified project from the prompt without generating.
func (h *Handlers) HandleInitProject(c *gin.Context) {
	logger := middleware.Logger(c, "HandleInitProject")

	var req datatypes.InitProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "invalid_request", "request body must be JSON with a prompt")
		return
	}
	project, err := h.orchestrator.InitProject(c.Request.Context(), middleware.OwnerID(c), req)
	if err != nil {
		writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"project": project})
}

// HandleImportBundle handles POST /v1/projects/import-bundle.
//
// # Response
//
//	200 OK: generation.ImportResult
//	400 Bad Request: Oversized bundle, or schema problems listed in "problems"
//	403 Forbidden: Target project belongs to another user
//	429 Too Many Requests: Per-user import limit reached
func (h *Handlers) HandleImportBundle(c *gin.Context) {
	logger := middleware.Logger(c, "HandleImportBundle")

	var req datatypes.ImportBundleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "invalid_request", "request body must be JSON with a bundle")
		return
	}
	res, err := h.orchestrator.ImportBundle(c.Request.Context(), middleware.OwnerID(c), req)
	if err != nil {
		writeError(c, logger, err)
		return
	}
	logger.Info("bundle imported",
		"project_id", res.Project.ID,
		"snapshot_id", res.SnapshotID,
		"files", res.FileCount)
	c.JSON(http.StatusOK, res)
}
