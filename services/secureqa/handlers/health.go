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

	"github.com/gin-gonic/gin"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"github.com/AleutianAI/SecureRAG/services/secureqa/datatypes"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

// HandleHealth reports service readiness for GET /health.
//
// The vector store is probed live; the scorer is ready whenever its rule and
// weight configuration loaded at startup, which the caller asserts by
// passing scorerReady. Degraded dependencies report 200 with status
// "degraded" rather than 503: the service can still reject unsafe queries,
// which is the part that must never go dark.
func HandleHealth(client *weaviate.Client, scorerReady bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		vectorReady := false
		if client != nil {
			ready, err := client.Misc().ReadyChecker().Do(c.Request.Context())
			if err != nil {
				slog.Warn("Vector store readiness probe failed", "error", err)
			}
			vectorReady = err == nil && ready
		}

		status := "ok"
		if !vectorReady || !scorerReady {
			status = "degraded"
		}
		c.JSON(http.StatusOK, datatypes.HealthResponse{
			Status:           status,
			Version:          Version,
			VectorStoreReady: vectorReady,
			ScorerReady:      scorerReady,
		})
	}
}
