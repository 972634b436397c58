// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation utilities for security-critical operations.
//
// This package contains validators for user-provided inputs that reach the
// answering pipeline. Structural validation lives here; semantic screening
// (PII redaction, injection detection) is the security package's job and
// runs after these checks pass.
package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// userIDPattern matches opaque user identifiers: letters, digits, and the
// separators common in SSO subject claims. Max length is enforced by the
// request struct tag.
var userIDPattern = regexp.MustCompile(`^[A-Za-z0-9._@\-]+$`)

// clearanceLevels is the closed set of accepted clearance labels.
var clearanceLevels = map[string]struct{}{
	"public":       {},
	"internal":     {},
	"confidential": {},
	"restricted":   {},
}

// NewValidator returns a validator with the service's custom tags
// registered. The "clearance" tag accepts the empty string (the handler
// defaults it to public) or one of the four clearance labels. The "user_id"
// tag enforces the identifier character policy on optional user IDs.
func NewValidator() *validator.Validate {
	v := validator.New()
	// Registration only fails for a blank tag name, which is a programmer
	// error worth a panic at startup.
	if err := v.RegisterValidation("clearance", validateClearanceTag); err != nil {
		panic(fmt.Sprintf("failed to register the clearance validation: %v", err))
	}
	if err := v.RegisterValidation("user_id", validateUserIDTag); err != nil {
		panic(fmt.Sprintf("failed to register the user_id validation: %v", err))
	}
	return v
}

func validateClearanceTag(fl validator.FieldLevel) bool {
	return IsClearanceLabel(fl.Field().String())
}

func validateUserIDTag(fl validator.FieldLevel) bool {
	return ValidateUserID(fl.Field().String()) == nil
}

// IsClearanceLabel reports whether s names a clearance level. The empty
// string is accepted and means public.
func IsClearanceLabel(s string) bool {
	if s == "" {
		return true
	}
	_, ok := clearanceLevels[strings.ToLower(strings.TrimSpace(s))]
	return ok
}

// ValidateUserID validates an optional user identifier. Empty is allowed:
// anonymous queries are legal and audited as such.
func ValidateUserID(userID string) error {
	if userID == "" {
		return nil
	}
	if !userIDPattern.MatchString(userID) {
		return fmt.Errorf("invalid user id format: %q", userID)
	}
	return nil
}
