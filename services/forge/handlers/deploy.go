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

	"github.com/AleutianAI/AleutianForge/services/forge/deploy"
	"github.com/AleutianAI/AleutianForge/services/forge/middleware"
	"github.com/AleutianAI/AleutianForge/services/forge/realtime"
	"github.com/gin-gonic/gin"
)

// HandleDeploymentStatus handles GET /v1/projects/:id/deploy. The
// deployment is null when the project was never deployed.
func (h *Handlers) HandleDeploymentStatus(c *gin.Context) {
	logger := middleware.Logger(c, "HandleDeploymentStatus")
	project, ok := h.loadProject(c, logger)
	if !ok {
		return
	}
	latest, err := h.store.LatestDeployment(c.Request.Context(), project.ID)
	if err != nil {
		writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"deployment":    latest,
		"projectStatus": project.Status,
		"deploymentUrl": project.DeploymentURL,
	})
}

// HandleDeploy handles POST /v1/projects/:id/deploy.
//
// # Description
//
// Runs the deployment retry controller synchronously. A project that
// entered DEPLOYING moments ago is not deployed again; the outcome is
// returned with skipped set.
//
// # Response
//
//	200 OK: deploy.Outcome
//	404 Not Found: Unknown project
//	503 Service Unavailable: No hosting configured
func (h *Handlers) HandleDeploy(c *gin.Context) {
	logger := middleware.Logger(c, "HandleDeploy")
	if h.deployer == nil {
		abort(c, http.StatusServiceUnavailable, "deploy_unavailable", "deployment is not configured")
		return
	}
	out, err := h.deployer.Run(c.Request.Context(), deploy.Request{
		ProjectID: c.Param("id"),
		OwnerID:   middleware.OwnerID(c),
	})
	if err != nil {
		writeError(c, logger, err)
		return
	}
	logger.Info("deployment finished",
		"project_id", c.Param("id"),
		"skipped", out.Skipped,
		"final_state", out.FinalState,
		"attempts", out.Attempts)
	c.JSON(http.StatusOK, out)
}

// HandleEvents handles GET /v1/projects/:id/events. The connection is
// upgraded to a WebSocket streaming the project's files.updated events.
func (h *Handlers) HandleEvents(c *gin.Context) {
	logger := middleware.Logger(c, "HandleEvents")
	if h.hub == nil {
		abort(c, http.StatusServiceUnavailable, "realtime_unavailable", "realtime events are disabled")
		return
	}
	project, ok := h.loadProject(c, logger)
	if !ok {
		return
	}
	if err := h.hub.Serve(c.Writer, c.Request, realtime.ProjectChannel(project.ID)); err != nil {
		logger.Warn("realtime subscription ended", "project_id", project.ID, "error", err)
	}
}
