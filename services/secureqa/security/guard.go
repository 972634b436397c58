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
	"fmt"
	"strings"
)

// Strictness selects how aggressively the guard converts accumulated
// low/medium-confidence matches into a rejection.
type Strictness string

const (
	StrictnessLow    Strictness = "low"
	StrictnessMedium Strictness = "medium"
	StrictnessHigh   Strictness = "high"
)

// riskThreshold maps a strictness tier to the accumulated risk score at
// which a request is rejected. High-confidence matches bypass this entirely.
func (s Strictness) riskThreshold() float64 {
	switch s {
	case StrictnessLow:
		return 1.0
	case StrictnessHigh:
		return 0.35
	default: // medium
		return 0.7
	}
}

// ParseStrictness converts a config string into a Strictness, defaulting to
// medium for the empty string.
func ParseStrictness(s string) (Strictness, error) {
	switch Strictness(strings.ToLower(strings.TrimSpace(s))) {
	case "", StrictnessMedium:
		return StrictnessMedium, nil
	case StrictnessLow:
		return StrictnessLow, nil
	case StrictnessHigh:
		return StrictnessHigh, nil
	default:
		return StrictnessMedium, fmt.Errorf("unknown guard strictness: %q", s)
	}
}

// Risk weights for non-high confidence matches. High confidence never
// accumulates: a single match is an immediate rejection.
const (
	riskWeightMedium = 0.4
	riskWeightLow    = 0.2
)

// InjectionVerdict is the outcome of evaluating sanitized text against the
// adversarial rule set.
type InjectionVerdict struct {
	IsSafe        bool    `json:"is_safe"`
	MatchedRuleID string  `json:"matched_rule_id,omitempty"`
	RiskScore     float64 `json:"risk_score"`
}

// InjectionGuard classifies sanitized text as safe or unsafe.
//
// The guard must only ever see sanitized text: running it before the
// sanitizer would let PII-shaped obfuscation smuggle payloads past the rule
// set. The pipeline enforces that ordering; the guard itself is stateless.
//
// Safe for concurrent use: the rule set is read-only after construction.
type InjectionGuard struct {
	rules     []InjectionRule
	threshold float64
}

// NewInjectionGuard builds a guard from a loaded rule file at the given
// strictness.
func NewInjectionGuard(rules *InjectionRuleFile, strictness Strictness) *InjectionGuard {
	return &InjectionGuard{
		rules:     rules.Rules,
		threshold: strictness.riskThreshold(),
	}
}

// RuleCount reports the number of loaded rules. Used by health reporting.
func (g *InjectionGuard) RuleCount() int {
	return len(g.rules)
}

// Evaluate scans sanitized text against every rule in order.
//
// Policy: the first high-confidence match marks the text unsafe immediately.
// Medium and low confidence matches accumulate a risk score; if it reaches
// the strictness threshold the text is unsafe, attributed to the first
// contributing rule. The risk score is clamped to [0,1].
func (g *InjectionGuard) Evaluate(sanitized string) InjectionVerdict {
	risk := 0.0
	firstContributor := ""

	for _, rule := range g.rules {
		if !rule.compiled.MatchString(sanitized) {
			continue
		}
		if rule.Confidence == ConfidenceHigh {
			return InjectionVerdict{
				IsSafe:        false,
				MatchedRuleID: rule.Id,
				RiskScore:     1.0,
			}
		}
		if firstContributor == "" {
			firstContributor = rule.Id
		}
		switch rule.Confidence {
		case ConfidenceMedium:
			risk += riskWeightMedium
		case ConfidenceLow:
			risk += riskWeightLow
		}
	}

	if risk > 1.0 {
		risk = 1.0
	}
	if risk >= g.threshold {
		return InjectionVerdict{
			IsSafe:        false,
			MatchedRuleID: firstContributor,
			RiskScore:     risk,
		}
	}
	return InjectionVerdict{IsSafe: true, RiskScore: risk}
}
