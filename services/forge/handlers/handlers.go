// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers exposes the forge pipeline over HTTP.
//
// Every handler runs behind middleware.AuthMiddleware and scopes its reads
// and writes to the authenticated owner. Errors are reported as
// {"error": "<code>", "message": "..."} and never carry internal detail.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/AleutianAI/AleutianForge/services/forge/datatypes"
	"github.com/AleutianAI/AleutianForge/services/forge/deploy"
	"github.com/AleutianAI/AleutianForge/services/forge/generation"
	"github.com/AleutianAI/AleutianForge/services/forge/history"
	"github.com/AleutianAI/AleutianForge/services/forge/middleware"
	"github.com/AleutianAI/AleutianForge/services/forge/ratelimit"
	"github.com/AleutianAI/AleutianForge/services/forge/realtime"
	"github.com/AleutianAI/AleutianForge/services/forge/store"
	"github.com/gin-gonic/gin"
)

// ServiceVersion is reported by the health endpoint.
const ServiceVersion = "0.3.0"

// routineListLimit is the size of GET /v1/routines.
const routineListLimit = 20

// snapshotListLimit is the size of GET /v1/projects/:id/snapshots.
const snapshotListLimit = 30

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Error    string   `json:"error"`
	Message  string   `json:"message"`
	Problems []string `json:"problems,omitempty"`
}

// Deployer runs the deployment retry controller.
type Deployer interface {
	Run(ctx context.Context, req deploy.Request) (*deploy.Outcome, error)
	AutoDeploy(ctx context.Context, projectID, ownerID string)
}

// Deps are the collaborators of Handlers. Store, History and Orchestrator
// are required.
type Deps struct {
	Store        store.Store
	History      *history.Recorder
	Orchestrator *generation.Orchestrator
	Deployer     Deployer

	// Hub serves the realtime subscription. Nil answers 503.
	Hub *realtime.Hub

	// AutoDeployOnRollback queues a deployment after every rollback.
	// The service only sets it in Full mode.
	AutoDeployOnRollback bool

	// Degraded is reported by the health endpoint.
	Degraded bool
}

// Handlers contains the HTTP handlers of the forge API.
type Handlers struct {
	store        store.Store
	history      *history.Recorder
	orchestrator *generation.Orchestrator
	deployer     Deployer
	hub          *realtime.Hub

	autoDeployOnRollback bool
	degraded             bool
}

// NewHandlers creates handlers over deps.
func NewHandlers(deps Deps) *Handlers {
	return &Handlers{
		store:                deps.Store,
		history:              deps.History,
		orchestrator:         deps.Orchestrator,
		deployer:             deps.Deployer,
		hub:                  deps.Hub,
		autoDeployOnRollback: deps.AutoDeployOnRollback,
		degraded:             deps.Degraded,
	}
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	mode := "full"
	if h.degraded {
		mode = "degraded"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":     "healthy",
		"version":    ServiceVersion,
		"mode":       mode,
		"queueDepth": h.orchestrator.Queue().Len(),
	})
}

// abort writes an ErrorResponse and stops the chain.
func abort(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, ErrorResponse{Error: code, Message: message})
}

// writeError maps a pipeline error onto its HTTP status.
func writeError(c *gin.Context, logger *slog.Logger, err error) {
	var bundleErr *datatypes.BundleValidationError
	switch {
	case errors.As(err, &bundleErr):
		c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{
			Error:    "invalid_bundle",
			Message:  "bundle failed schema validation",
			Problems: bundleErr.Problems,
		})
	case errors.Is(err, datatypes.ErrBundleTooLarge):
		abort(c, http.StatusBadRequest, "bundle_too_large", err.Error())
	case errors.Is(err, generation.ErrInvalidRequest):
		abort(c, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, generation.ErrForbidden):
		abort(c, http.StatusForbidden, "forbidden", "project belongs to another user")
	case errors.Is(err, store.ErrNotFound), errors.Is(err, deploy.ErrProjectNotFound):
		abort(c, http.StatusNotFound, "not_found", "project or snapshot not found")
	case errors.Is(err, store.ErrConflict):
		abort(c, http.StatusConflict, "conflict", "concurrent update, retry the request")
	case errors.Is(err, ratelimit.ErrLimited):
		abort(c, http.StatusTooManyRequests, "rate_limited", "too many requests, slow down")
	case errors.Is(err, generation.ErrQueueFull), errors.Is(err, generation.ErrQueueClosed):
		abort(c, http.StatusServiceUnavailable, "busy", "code generation is at capacity")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		abort(c, http.StatusServiceUnavailable, "timeout", "request did not complete in time")
	default:
		logger.Error("request failed", "error", err)
		abort(c, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

// loadProject returns the caller's project. Projects of other owners are
// reported as missing.
func (h *Handlers) loadProject(c *gin.Context, logger *slog.Logger) (*datatypes.Project, bool) {
	p, err := h.store.GetProject(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, logger, err)
		return nil, false
	}
	if !p.OwnedBy(middleware.OwnerID(c)) {
		abort(c, http.StatusNotFound, "not_found", "project or snapshot not found")
		return nil, false
	}
	return p, true
}
