// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

// QueryRequest is the inbound body of POST /v1/query.
//
// Field constraints are enforced by the handler via go-playground/validator
// before any pipeline stage runs.
type QueryRequest struct {
	Query          string `json:"query" validate:"required,min=1,max=1000"`
	TopK           int    `json:"top_k" validate:"omitempty,gte=1,lte=20"`
	UserID         string `json:"user_id" validate:"omitempty,max=100,user_id"`
	ClearanceLevel string `json:"clearance_level" validate:"omitempty,clearance"`
}

// RetrievedChunk is a single evidence unit returned to the caller.
// Score is the per-query similarity and is only meaningful within one request.
type RetrievedChunk struct {
	ChunkID     string         `json:"chunk_id"`
	Text        string         `json:"text"`
	Score       float64        `json:"score"`
	Sensitivity ClearanceLevel `json:"sensitivity"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// QueryResponse is the success body of POST /v1/query.
type QueryResponse struct {
	RequestID          string           `json:"request_id"`
	Query              string           `json:"query"`
	Answer             string           `json:"answer"`
	FaithfulnessScore  float64          `json:"faithfulness_score"`
	PassedFaithfulness bool             `json:"passed_faithfulness"`
	ChunksUsed         []RetrievedChunk `json:"chunks_used"`
	RetriesUsed        int              `json:"retries_used"`
	LatencyMs          float64          `json:"latency_ms"`
}

// RejectionResponse is returned when the injection guard blocks a request.
// It carries no answer field.
type RejectionResponse struct {
	RequestID string `json:"request_id"`
	Reason    string `json:"reason"`
	Detail    string `json:"detail,omitempty"`
}

// ValidationErrorResponse is returned when the request body fails field
// validation. No pipeline stage has executed.
type ValidationErrorResponse struct {
	RequestID string            `json:"request_id"`
	Error     string            `json:"error"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// ServiceErrorResponse is returned for retrieval and generation failures.
type ServiceErrorResponse struct {
	RequestID string `json:"request_id"`
	Error     string `json:"error"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status           string `json:"status"`
	Version          string `json:"version"`
	VectorStoreReady bool   `json:"vector_store_ready"`
	ScorerReady      bool   `json:"scorer_ready"`
}
