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
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/AleutianQuery/pkg/extensions"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/datasource"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/handlers"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/mcptools"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/middleware"
)

// Deps are the collaborators of the HTTP surface.
//
// Runner, Sources and Uploads are required. A nil History leaves the
// session routes unregistered; a nil MCP leaves /mcp unregistered; a nil
// Connector disables database registration.
type Deps struct {
	Runner    handlers.QueryRunner
	Sources   *datasource.Registry
	Uploads   *datasource.SQLiteStore
	History   handlers.SessionHistory
	Connector handlers.DatabaseConnector
	MCP       *mcptools.Server

	// Recall serves POST /v1/queries/similar. Nil leaves it unregistered.
	Recall handlers.SimilarSearcher

	// Policy classifies CSV uploads. Nil skips classification.
	Policy handlers.UploadPolicy

	// MaxUploadBytes bounds CSV uploads. Zero means unbounded.
	MaxUploadBytes int64

	// MCPBasePath defaults to mcptools.DefaultBasePath.
	MCPBasePath string
}

// SetupRoutes registers every endpoint on router.
//
// /health and /metrics are unauthenticated. Everything under /v1 and the MCP
// endpoints pass through the auth middleware of opts.
func SetupRoutes(router *gin.Engine, deps Deps, opts extensions.ServiceOptions) {
	opts = opts.Normalize()

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	auth := middleware.AuthMiddleware(opts.AuthProvider)

	// API version 1 group
	v1 := router.Group("/v1", auth)
	{
		v1.POST("/query", handlers.HandleQuery(deps.Runner, deps.Sources))
		v1.GET("/ws/query", handlers.HandleQueryWebSocket(deps.Runner, deps.Sources))
		v1.POST("/sql/validate", handlers.HandleValidateSQL(deps.Sources))

		sources := v1.Group("/datasources")
		{
			sources.GET("", handlers.HandleListSources(deps.Sources))
			sources.GET("/:id/schema", handlers.HandleDescribeSource(deps.Sources))
			sources.POST("/upload", handlers.HandleUpload(deps.Sources, deps.Uploads, deps.Policy, opts.AuditLogger, deps.MaxUploadBytes))
			sources.GET("/samples", handlers.HandleListSamples())
			sources.POST("/sample", handlers.HandleLoadSample(deps.Sources, deps.Uploads, opts.AuditLogger))
			if deps.Connector != nil {
				sources.POST("/database", handlers.HandleConnectDatabase(deps.Sources, deps.Connector, opts.AuditLogger))
			}
		}

		if deps.Recall != nil {
			v1.POST("/queries/similar", handlers.HandleSimilarQueries(deps.Recall, deps.Sources))
		}

		if deps.History != nil {
			sessions := v1.Group("/sessions")
			{
				sessions.GET("/:id/history", handlers.HandleGetHistory(deps.History))
				sessions.DELETE("/:id/history", handlers.HandleDeleteHistory(deps.History, opts.AuditLogger))
			}
		}
	}

	if deps.MCP != nil {
		deps.MCP.Mount(router.Group("", auth), deps.MCPBasePath)
	}
}
