// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers contains the HTTP handlers of the answering service.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/SecureRAG/services/secureqa/datatypes"
	"github.com/AleutianAI/SecureRAG/services/secureqa/middleware"
	"github.com/AleutianAI/SecureRAG/services/secureqa/pipeline"
)

var queryTracer = otel.Tracer("secureqa.handlers")

// HandleQuery runs the answering pipeline for POST /v1/query.
//
// Status mapping:
//
//	400 - body malformed or field validation failed (nothing executed)
//	403 - blocked by the injection guard
//	503 - vector store unavailable
//	502 - every generation attempt failed
//	200 - an answer, including the fallback and best-effort cases
func HandleQuery(p *pipeline.Pipeline, validate *validator.Validate) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := queryTracer.Start(c.Request.Context(), "HandleQuery")
		defer span.End()
		requestID := middleware.GetRequestID(c)

		var request datatypes.QueryRequest
		if err := c.BindJSON(&request); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("Failed to bind query request JSON", "request_id", requestID, "error", err)
			c.JSON(http.StatusBadRequest, datatypes.ValidationErrorResponse{
				RequestID: requestID,
				Error:     "invalid request body",
			})
			return
		}
		if err := validate.Struct(&request); err != nil {
			span.SetStatus(codes.Error, "validation failed")
			c.JSON(http.StatusBadRequest, datatypes.ValidationErrorResponse{
				RequestID: requestID,
				Error:     "validation failed",
				Fields:    validationFields(err),
			})
			return
		}

		resp, err := p.Run(ctx, requestID, request)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			writePipelineError(c, requestID, err)
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

// writePipelineError maps pipeline errors onto status codes. Rejection
// bodies deliberately omit the matched text and pattern so the response
// cannot be used to probe the rule set.
func writePipelineError(c *gin.Context, requestID string, err error) {
	var rejection *pipeline.SecurityRejection
	var retrievalErr *pipeline.RetrievalFailure
	var generationErr *pipeline.GenerationFailure
	switch {
	case errors.As(err, &rejection):
		c.JSON(http.StatusForbidden, datatypes.RejectionResponse{
			RequestID: requestID,
			Reason:    "security_policy",
			Detail:    "the query was flagged by the security screening",
		})
	case errors.As(err, &retrievalErr):
		c.JSON(http.StatusServiceUnavailable, datatypes.ServiceErrorResponse{
			RequestID: requestID,
			Error:     "document retrieval is unavailable",
		})
	case errors.As(err, &generationErr):
		c.JSON(http.StatusBadGateway, datatypes.ServiceErrorResponse{
			RequestID: requestID,
			Error:     "answer generation failed",
		})
	default:
		slog.Error("Unexpected pipeline error", "request_id", requestID, "error", err)
		c.JSON(http.StatusInternalServerError, datatypes.ServiceErrorResponse{
			RequestID: requestID,
			Error:     "internal error",
		})
	}
}

// validationFields flattens validator errors into a field -> constraint map.
func validationFields(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fe.Tag()
	}
	return fields
}
