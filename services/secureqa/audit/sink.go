// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package audit records the security-relevant trail of every answered
// request. The trail is append-only: sinks expose no update or delete
// operations, and every request that reaches the pipeline produces exactly
// one entry regardless of how it terminated.
package audit

import (
	"context"
	"time"

	"github.com/AleutianAI/SecureRAG/services/secureqa/faithfulness"
	"github.com/AleutianAI/SecureRAG/services/secureqa/security"
)

// Request outcomes. Stable strings: they appear in audit entries and in the
// outcome label of the request counter metric.
const (
	OutcomeAccepted  = "accepted"  // an answer passed the faithfulness gate
	OutcomeExhausted = "exhausted" // retries ran out, best-effort answer returned
	OutcomeRejected  = "rejected"  // blocked by the injection guard
	OutcomeError     = "error"     // a dependency failed fatally
	// OutcomeIncomplete marks entries flushed for requests that ended
	// without reaching a terminal state (cancellation, panic recovery).
	OutcomeIncomplete = "incomplete"
)

// Entry is the audit record of one request. Sections that never ran for a
// request (e.g. the faithfulness report of a rejected query) stay nil.
type Entry struct {
	RequestID          string                     `json:"request_id"`
	Timestamp          time.Time                  `json:"timestamp"`
	SanitizationHits   []security.PIIMatch        `json:"sanitization_hits,omitempty"`
	InjectionVerdict   *security.InjectionVerdict `json:"injection_verdict,omitempty"`
	ClearanceDecisions *security.AccessDecision   `json:"clearance_decisions,omitempty"`
	Faithfulness       *faithfulness.Report       `json:"faithfulness,omitempty"`
	RetriesUsed        int                        `json:"retries_used"`
	Outcome            string                     `json:"outcome"`
}

// Sink is an append-only destination for audit entries.
//
// Append must be safe for concurrent use. A sink failure is the caller's to
// handle; the pipeline logs it and still returns the response, because the
// requester should not pay for a broken audit disk.
type Sink interface {
	Append(ctx context.Context, entry Entry) error
	Close() error
}
