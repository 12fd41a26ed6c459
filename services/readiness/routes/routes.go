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
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/ModelKeeper/services/readiness/handlers"
)

// SetupRoutes registers the readiness API on router. metrics serves
// GET /metrics and may be nil.
func SetupRoutes(router *gin.Engine, h *handlers.Handlers, metrics http.Handler) {
	router.GET("/health", h.HealthCheck)
	if metrics != nil {
		router.GET("/metrics", gin.WrapH(metrics))
	}

	v1 := router.Group("/v1")
	{
		lifecycle := v1.Group("/lifecycle")
		{
			lifecycle.GET("/state", h.GetState)
			lifecycle.POST("/check", h.StartCheck)
			lifecycle.POST("/retry", h.Retry)
			lifecycle.POST("/confirm-download", h.ConfirmDownload)
			lifecycle.POST("/change-path", h.ChangePath)
			lifecycle.GET("/report", h.Report)
			lifecycle.GET("/ws", h.Stream)
		}
	}
}
