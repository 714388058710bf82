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
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/DesignAgent/services/designer/agent"
	"github.com/AleutianAI/DesignAgent/services/designer/events"
	"github.com/AleutianAI/DesignAgent/services/designer/handlers"
	"github.com/AleutianAI/DesignAgent/services/designer/imagestore"
	"github.com/AleutianAI/DesignAgent/services/designer/middleware"
	"github.com/AleutianAI/DesignAgent/services/designer/observability"
)

// Options carries what the routes need besides the orchestrator.
type Options struct {
	Version   string
	StartedAt time.Time

	// MaxUploadBytes limits uploads. Zero means the default.
	MaxUploadBytes int64

	// MessageLimit is the message window of event frames.
	MessageLimit int

	// UploadLimiter rate limits POST /api/upload. Nil disables limiting.
	UploadLimiter *middleware.IPRateLimiter

	Metrics *observability.Metrics

	// Gatherer backs /metrics. Nil means prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer

	// UploadsDir is served at /uploads when set.
	UploadsDir string
}

func SetupRoutes(router *gin.Engine, orch *agent.Orchestrator, hub *events.Hub,
	images imagestore.Store, opts Options) {

	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	router.GET("/", handlers.Banner(opts.Version))
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	if opts.UploadsDir != "" {
		router.Static("/uploads", opts.UploadsDir)
	}

	api := router.Group("/api")
	{
		api.GET("/health", handlers.HealthCheck(orch, opts.Version, opts.StartedAt))

		upload := []gin.HandlerFunc{}
		if opts.UploadLimiter != nil {
			upload = append(upload, middleware.RateLimit(opts.UploadLimiter, func(*gin.Context) {
				opts.Metrics.Upload("rate_limited")
			}))
		}
		upload = append(upload, handlers.UploadImage(orch, images, opts.Metrics, opts.MaxUploadBytes))
		api.POST("/upload", upload...)

		agentGroup := api.Group("/agent")
		{
			agentGroup.POST("/start/:session_id", handlers.StartAgent(orch))
			agentGroup.GET("/status/:session_id", handlers.GetStatus(orch))
			agentGroup.GET("/plan/:session_id", handlers.GetPlan(orch))
			agentGroup.GET("/results/:session_id", handlers.GetResults(orch))
			agentGroup.GET("/events/:session_id", handlers.StreamEvents(orch, hub, opts.MessageLimit))
			agentGroup.DELETE("/:session_id", handlers.DeleteSession(orch))
		}
	}
}
