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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/SecureRAG/services/secureqa/security/enforcement"
)

func newTestSanitizer(t *testing.T) *Sanitizer {
	t.Helper()
	rules, err := LoadPIIRules(enforcement.PIIPatterns)
	require.NoError(t, err)
	return NewSanitizer(rules)
}

func TestSanitize_Email(t *testing.T) {
	s := newTestSanitizer(t)

	result := s.Sanitize("contact me at alice@example.com for details")

	assert.Equal(t, "contact me at [EMAIL] for details", result.SanitizedText)
	require.Len(t, result.Hits, 1)
	assert.Equal(t, "EMAIL", result.Hits[0].Category)
	assert.Equal(t, "alice@example.com", result.Hits[0].Span)
}

func TestSanitize_MultipleCategories(t *testing.T) {
	s := newTestSanitizer(t)

	result := s.Sanitize("card 4111111111111111, ssn 123-45-6789, ip 10.0.0.1")

	assert.Equal(t, "card [CREDIT_CARD], ssn [SSN], ip [IP_ADDRESS]", result.SanitizedText)
	assert.Len(t, result.Hits, 3)
}

func TestSanitize_CleanTextUnchanged(t *testing.T) {
	s := newTestSanitizer(t)

	input := "what is the revenue forecast for next quarter"
	result := s.Sanitize(input)

	assert.Equal(t, input, result.SanitizedText)
	assert.Empty(t, result.Hits)
}

func TestSanitize_EmptyInput(t *testing.T) {
	s := newTestSanitizer(t)

	result := s.Sanitize("")

	assert.Equal(t, "", result.SanitizedText)
	assert.Empty(t, result.Hits)
}

func TestSanitize_Idempotent(t *testing.T) {
	s := newTestSanitizer(t)

	once := s.Sanitize("email bob@corp.io and phone 555-867-5309")
	twice := s.Sanitize(once.SanitizedText)

	assert.Equal(t, once.SanitizedText, twice.SanitizedText)
	assert.Empty(t, twice.Hits)
}

func TestSanitize_OverlapLeftmostLongest(t *testing.T) {
	// The detector set applied to a card number should produce exactly one
	// redaction, never a partial double-redaction by the phone detector.
	s := newTestSanitizer(t)

	result := s.Sanitize("4111111111111111")

	require.Len(t, result.Hits, 1)
	assert.Equal(t, "[CREDIT_CARD]", result.SanitizedText)
}

func TestSanitize_HitsOrderedByPosition(t *testing.T) {
	s := newTestSanitizer(t)

	result := s.Sanitize("first a@b.co then 192.168.0.1")

	require.Len(t, result.Hits, 2)
	assert.Equal(t, "EMAIL", result.Hits[0].Category)
	assert.Equal(t, "IP_ADDRESS", result.Hits[1].Category)
}

func TestSanitize_SameInputSameOutput(t *testing.T) {
	s := newTestSanitizer(t)
	input := "reach me at carol@example.org or 555-123-4567"

	first := s.Sanitize(input)
	second := s.Sanitize(input)

	assert.Equal(t, first, second)
}
