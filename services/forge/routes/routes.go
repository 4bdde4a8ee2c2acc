// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/AleutianAI/AleutianForge/pkg/extensions"
	"github.com/AleutianAI/AleutianForge/services/forge/handlers"
	"github.com/AleutianAI/AleutianForge/services/forge/middleware"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// Options configures SetupRoutes.
type Options struct {
	// ServiceName names the otelgin spans.
	ServiceName string

	// Auth validates bearer tokens. Nil uses extensions.NopAuthProvider.
	Auth extensions.AuthProvider

	// Gatherer backs /metrics. Nil serves the default registry.
	Gatherer prometheus.Gatherer
}

// SetupRoutes registers the forge API on router.
//
// # Description
//
// /health and /metrics are public. Everything under /v1 requires
// authentication, and routes addressing a project or snapshot reject
// non-UUID identifiers before reaching a handler.
func SetupRoutes(router *gin.Engine, h *handlers.Handlers, opts Options) {
	if opts.ServiceName == "" {
		opts.ServiceName = "forge-service"
	}
	if opts.Auth == nil {
		opts.Auth = &extensions.NopAuthProvider{}
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}

	router.Use(otelgin.Middleware(opts.ServiceName))
	router.Use(middleware.RequestID())

	router.GET("/health", h.HandleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))

	// API version 1 group
	v1 := router.Group("/v1")
	v1.Use(middleware.AuthMiddleware(opts.Auth))
	{
		v1.POST("/generate", h.HandleGenerate)
		v1.GET("/routines", h.HandleListRoutines)

		projects := v1.Group("/projects")
		{
			projects.GET("", h.HandleListProjects)
			projects.POST("/init", h.HandleInitProject)
			projects.POST("/import-bundle", h.HandleImportBundle)

			project := projects.Group("/:id", middleware.RequireUUIDParams("id"))
			{
				project.GET("", h.HandleGetProject)
				project.GET("/files", h.HandleListFiles)
				project.GET("/deploy", h.HandleDeploymentStatus)
				project.POST("/deploy", h.HandleDeploy)
				project.GET("/events", h.HandleEvents)
				project.GET("/snapshots", h.HandleListSnapshots)

				snapshot := project.Group("/snapshots/:sid", middleware.RequireUUIDParams("sid"))
				{
					snapshot.GET("", h.HandleGetSnapshot)
					snapshot.GET("/diff", h.HandleSnapshotDiff)
					snapshot.GET("/plan.html", h.HandlePlanReport)
					snapshot.POST("/rollback", h.HandleRollback)
				}
			}
		}
	}
}
