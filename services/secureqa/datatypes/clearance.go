// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes defines the request, response, and evidence types shared
// across the secureqa service.
package datatypes

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ClearanceLevel is a requester or document sensitivity tier.
//
// Levels form a total order via their integer rank; string comparison is
// never used so the ordering is unambiguous and locale-independent.
type ClearanceLevel int

const (
	ClearancePublic ClearanceLevel = iota
	ClearanceInternal
	ClearanceConfidential
	ClearanceRestricted
)

var clearanceNames = map[ClearanceLevel]string{
	ClearancePublic:       "public",
	ClearanceInternal:     "internal",
	ClearanceConfidential: "confidential",
	ClearanceRestricted:   "restricted",
}

// String returns the wire name of the clearance level.
func (c ClearanceLevel) String() string {
	if name, ok := clearanceNames[c]; ok {
		return name
	}
	return "unknown"
}

// AtLeast reports whether c grants access to material at level other,
// i.e. other <= c.
func (c ClearanceLevel) AtLeast(other ClearanceLevel) bool {
	return other <= c
}

// ParseClearance converts a wire name into a ClearanceLevel.
// The empty string maps to the lowest tier (public).
func ParseClearance(s string) (ClearanceLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "public":
		return ClearancePublic, nil
	case "internal":
		return ClearanceInternal, nil
	case "confidential":
		return ClearanceConfidential, nil
	case "restricted":
		return ClearanceRestricted, nil
	default:
		return ClearancePublic, fmt.Errorf("unknown clearance level: %q", s)
	}
}

// MarshalJSON encodes the level as its wire name.
func (c ClearanceLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// UnmarshalJSON decodes a wire name into the level.
func (c *ClearanceLevel) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseClearance(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
