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
	"sort"
	"strings"
)

// PIIMatch records one redaction performed by the sanitizer.
type PIIMatch struct {
	Category    string `json:"category"`
	Span        string `json:"span"`
	Replacement string `json:"replacement"`
}

// SanitizationResult is the output of one Sanitize call. Hits are ordered by
// match position in the original text.
type SanitizationResult struct {
	SanitizedText string     `json:"sanitized_text"`
	Hits          []PIIMatch `json:"hits,omitempty"`
}

// Sanitizer redacts PII from raw text using a compiled detector set.
//
// Sanitize is a pure function: no shared mutable state, same input always
// yields the same output. It is also idempotent, because replacement tokens
// ([EMAIL], [PHONE], ...) contain no characters that any detector matches,
// so re-sanitizing already-sanitized text changes nothing. The retry loop
// relies on that property to re-use sanitized text without re-exposing PII.
//
// Safe for concurrent use: the detector set is read-only after construction.
type Sanitizer struct {
	detectors []PIIDetector
}

// NewSanitizer builds a Sanitizer from a loaded rule file.
func NewSanitizer(rules *PIIRuleFile) *Sanitizer {
	return &Sanitizer{detectors: rules.Detectors}
}

// span is a candidate redaction within the input text.
type span struct {
	start, end int
	category   string
}

// Sanitize redacts every detector match in text, replacing each with its
// fixed [CATEGORY] token. Overlapping matches resolve by leftmost-longest
// precedence so a payment card number is never partially double-redacted by
// the phone detector.
func (s *Sanitizer) Sanitize(text string) SanitizationResult {
	if text == "" {
		return SanitizationResult{SanitizedText: ""}
	}

	var candidates []span
	for _, d := range s.detectors {
		for _, loc := range d.compiled.FindAllStringIndex(text, -1) {
			candidates = append(candidates, span{start: loc[0], end: loc[1], category: d.Category})
		}
	}
	if len(candidates) == 0 {
		return SanitizationResult{SanitizedText: text}
	}

	// Leftmost-longest: earlier start wins; on a tie the longer match wins.
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].start != candidates[j].start {
			return candidates[i].start < candidates[j].start
		}
		return candidates[i].end > candidates[j].end
	})

	var accepted []span
	lastEnd := -1
	for _, c := range candidates {
		if c.start < lastEnd {
			continue // overlaps an already-accepted match
		}
		accepted = append(accepted, c)
		lastEnd = c.end
	}

	var b strings.Builder
	hits := make([]PIIMatch, 0, len(accepted))
	cursor := 0
	for _, c := range accepted {
		token := "[" + c.category + "]"
		b.WriteString(text[cursor:c.start])
		b.WriteString(token)
		hits = append(hits, PIIMatch{
			Category:    c.category,
			Span:        text[c.start:c.end],
			Replacement: token,
		})
		cursor = c.end
	}
	b.WriteString(text[cursor:])

	return SanitizationResult{SanitizedText: b.String(), Hits: hits}
}
