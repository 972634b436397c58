// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package routes wires the HTTP surface of the answering service.
package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"github.com/AleutianAI/SecureRAG/services/secureqa/handlers"
	"github.com/AleutianAI/SecureRAG/services/secureqa/pipeline"
)

// Register attaches every route to the engine. The query route is the only
// one behind the rate limiter; health and metrics must stay reachable for
// probes and scrapes even when a client is being throttled.
func Register(router *gin.Engine, p *pipeline.Pipeline, validate *validator.Validate,
	weaviateClient *weaviate.Client, scorerReady bool, rateLimit gin.HandlerFunc) {

	router.GET("/health", handlers.HandleHealth(weaviateClient, scorerReady))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	if rateLimit != nil {
		v1.Use(rateLimit)
	}
	v1.POST("/query", handlers.HandleQuery(p, validate))
}
