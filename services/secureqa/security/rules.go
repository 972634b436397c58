// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package security implements the request-side security layer: PII
// sanitization, injection detection, and clearance-based evidence filtering.
//
// Both rule sets are represented as data ({pattern, category/confidence})
// loaded from YAML and iterated uniformly, so they can be swapped without a
// rebuild and tested in isolation.
package security

import (
	"fmt"
	"regexp"

	"gopkg.in/yaml.v3"
)

// ConfidenceLevel grades how strongly a rule match indicates an attack.
type ConfidenceLevel string

const (
	ConfidenceLow    ConfidenceLevel = "low"
	ConfidenceMedium ConfidenceLevel = "medium"
	ConfidenceHigh   ConfidenceLevel = "high"
)

// UnmarshalYAML validates the confidence value at load time so a typo in a
// rule file fails startup instead of silently weakening the guard.
func (c *ConfidenceLevel) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	incoming := ConfidenceLevel(s)
	switch incoming {
	case ConfidenceHigh, ConfidenceMedium, ConfidenceLow:
		*c = incoming
		return nil
	default:
		return fmt.Errorf("invalid value for confidence: %q", incoming)
	}
}

// PIIDetector is one entry of the PII detector set.
type PIIDetector struct {
	Id          string `yaml:"id"`
	Category    string `yaml:"category"`
	Description string `yaml:"description"`
	Regex       string `yaml:"regex"`

	compiled *regexp.Regexp `yaml:"-"`
}

// PIIRuleFile is the on-disk / embedded shape of the PII detector set.
type PIIRuleFile struct {
	Detectors []PIIDetector `yaml:"detectors"`
}

// InjectionRule is one entry of the adversarial pattern rule set.
type InjectionRule struct {
	Id          string          `yaml:"id"`
	Description string          `yaml:"description"`
	Regex       string          `yaml:"regex"`
	Confidence  ConfidenceLevel `yaml:"confidence"`

	compiled *regexp.Regexp `yaml:"-"`
}

// InjectionRuleFile is the on-disk / embedded shape of the injection rule set.
type InjectionRuleFile struct {
	Rules []InjectionRule `yaml:"rules"`
}

// LoadPIIRules parses and compiles a PII detector set from YAML bytes.
func LoadPIIRules(data []byte) (*PIIRuleFile, error) {
	var file PIIRuleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to unmarshal the PII rule file: %w", err)
	}
	if len(file.Detectors) == 0 {
		return nil, fmt.Errorf("PII rule file contains no detectors")
	}
	for i := range file.Detectors {
		d := &file.Detectors[i]
		re, err := regexp.Compile(d.Regex)
		if err != nil {
			return nil, fmt.Errorf("failed to compile the PII regex %s: %w", d.Regex, err)
		}
		d.compiled = re
	}
	return &file, nil
}

// LoadInjectionRules parses and compiles an injection rule set from YAML bytes.
func LoadInjectionRules(data []byte) (*InjectionRuleFile, error) {
	var file InjectionRuleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to unmarshal the injection rule file: %w", err)
	}
	if len(file.Rules) == 0 {
		return nil, fmt.Errorf("injection rule file contains no rules")
	}
	for i := range file.Rules {
		r := &file.Rules[i]
		re, err := regexp.Compile(r.Regex)
		if err != nil {
			return nil, fmt.Errorf("failed to compile the injection regex %s: %w", r.Regex, err)
		}
		r.compiled = re
	}
	return &file, nil
}
