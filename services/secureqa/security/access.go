// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package security

import (
	"log/slog"

	"github.com/AleutianAI/SecureRAG/services/secureqa/datatypes"
)

// ReasonInsufficientClearance is the only exclusion reason the controller
// emits today. It is a stable string because it appears in audit entries.
const ReasonInsufficientClearance = "insufficient_clearance"

// ClearanceExclusion records one chunk removed by the access filter.
type ClearanceExclusion struct {
	ChunkID string `json:"chunk_id"`
	Reason  string `json:"reason"`
}

// AccessDecision is the audit contribution of one filter pass. It is written
// once per request and never rewritten.
type AccessDecision struct {
	AllowedCount  int                  `json:"allowed_count"`
	ExcludedCount int                  `json:"excluded_count"`
	Exclusions    []ClearanceExclusion `json:"exclusions,omitempty"`
}

// AccessController filters retrieved evidence by requester clearance.
//
// A chunk survives iff chunk.Sensitivity <= clearance; the relative order of
// surviving chunks is preserved because the retriever's similarity ranking
// must not be disturbed. Stateless and safe for concurrent use.
type AccessController struct{}

// Filter returns the chunks the requester may see plus the audit record of
// what was removed and why.
func (AccessController) Filter(chunks []datatypes.RetrievedChunk,
	clearance datatypes.ClearanceLevel) ([]datatypes.RetrievedChunk, AccessDecision) {

	allowed := make([]datatypes.RetrievedChunk, 0, len(chunks))
	decision := AccessDecision{}
	for _, chunk := range chunks {
		if clearance.AtLeast(chunk.Sensitivity) {
			allowed = append(allowed, chunk)
			continue
		}
		decision.Exclusions = append(decision.Exclusions, ClearanceExclusion{
			ChunkID: chunk.ChunkID,
			Reason:  ReasonInsufficientClearance,
		})
	}
	decision.AllowedCount = len(allowed)
	decision.ExcludedCount = len(decision.Exclusions)

	if decision.ExcludedCount > 0 {
		slog.Info("Access filter excluded chunks",
			"allowed", decision.AllowedCount,
			"excluded", decision.ExcludedCount,
			"clearance", clearance.String())
	}
	return allowed, decision
}
