// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import "fmt"

// SecurityRejection is returned when the injection guard blocks a request.
// The handler maps it to 403 with a body that names the reason but never the
// matched text.
type SecurityRejection struct {
	RequestID string
	RuleID    string
	Risk      float64
}

func (e *SecurityRejection) Error() string {
	return fmt.Sprintf("request %s rejected by injection guard (rule %s, risk %.2f)",
		e.RequestID, e.RuleID, e.Risk)
}

// RetrievalFailure is returned when the vector store cannot be queried.
// Fatal: there is no evidence to answer from, so nothing downstream runs.
type RetrievalFailure struct {
	RequestID string
	Err       error
}

func (e *RetrievalFailure) Error() string {
	return fmt.Sprintf("retrieval failed for request %s: %v", e.RequestID, e.Err)
}

func (e *RetrievalFailure) Unwrap() error { return e.Err }

// GenerationFailure is returned when every generation attempt errored. A
// single failed attempt is not fatal while the retry budget lasts.
type GenerationFailure struct {
	RequestID string
	Attempts  int
	Err       error
}

func (e *GenerationFailure) Error() string {
	return fmt.Sprintf("generation failed for request %s after %d attempts: %v",
		e.RequestID, e.Attempts, e.Err)
}

func (e *GenerationFailure) Unwrap() error { return e.Err }
