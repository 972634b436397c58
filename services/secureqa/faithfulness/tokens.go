// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package faithfulness

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	wordRe   = regexp.MustCompile(`[a-z0-9]+`)
	numberRe = regexp.MustCompile(`\b\d+(?:,\d{3})*(?:\.\d+)?\b`)
)

// stopwords is the small English closed-class set excluded from the lexical
// grounding signal. Function words appear in any fluent sentence and carry
// no evidence of grounding.
var stopwords = map[string]struct{}{}

func init() {
	for _, w := range []string{
		"a", "an", "and", "are", "as", "at", "be", "been", "but", "by",
		"can", "could", "did", "do", "does", "for", "from", "had", "has",
		"have", "he", "her", "his", "how", "i", "if", "in", "is", "it",
		"its", "may", "might", "not", "of", "on", "or", "she", "should",
		"so", "that", "the", "their", "them", "then", "there", "these",
		"they", "this", "those", "to", "was", "we", "were", "what", "when",
		"which", "who", "will", "with", "would", "you", "your",
	} {
		stopwords[w] = struct{}{}
	}
}

// hedgeWords flag uncertain phrasing. Used only by the hedge penalty, which
// fires when hedging coincides with weak semantic evidence.
var hedgeWords = map[string]struct{}{}

func init() {
	for _, w := range []string{
		"perhaps", "maybe", "possibly", "might", "could", "probably",
		"likely", "seems", "appears", "suggests", "uncertain", "unclear",
		"unsure",
	} {
		hedgeWords[w] = struct{}{}
	}
}

// tokenize returns the lowercase word-token set of text.
func tokenize(text string) map[string]struct{} {
	tokens := make(map[string]struct{})
	for _, tok := range wordRe.FindAllString(strings.ToLower(text), -1) {
		tokens[tok] = struct{}{}
	}
	return tokens
}

// contentTokens returns tokenize(text) minus stopwords.
func contentTokens(text string) map[string]struct{} {
	tokens := tokenize(text)
	for w := range stopwords {
		delete(tokens, w)
	}
	return tokens
}

// extractNumbers returns the normalized numeric tokens of text with grouping
// commas removed.
func extractNumbers(text string) []string {
	raw := numberRe.FindAllString(text, -1)
	out := make([]string, 0, len(raw))
	for _, n := range raw {
		out = append(out, strings.ReplaceAll(n, ",", ""))
	}
	return out
}

// numericTolerance is the relative tolerance for treating two numeric tokens
// as matching when their normalized strings differ (e.g. "2.50" vs "2.5").
const numericTolerance = 1e-6

// numbersMatch reports whether candidate matches reference exactly or within
// the relative tolerance.
func numbersMatch(candidate, reference string) bool {
	if candidate == reference {
		return true
	}
	a, errA := strconv.ParseFloat(candidate, 64)
	b, errB := strconv.ParseFloat(reference, 64)
	if errA != nil || errB != nil {
		return false
	}
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	scale := 1.0
	if abs := absFloat(b); abs > scale {
		scale = abs
	}
	return diff <= numericTolerance*scale
}

func absFloat(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
