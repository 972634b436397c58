// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
This file bridges the build system and the runtime security layer. It uses the
Go embed package to bake the PII detector set and the injection rule set
directly into the compiled binary, so the default rules are immutable at
runtime and travel with the executable. Operators may still override either
set with an on-disk file; see the security package's RuleSource.
*/

package enforcement

import (
	_ "embed"
)

// PIIPatterns holds the raw byte content of 'pii_patterns.yaml'.
//
// Pass these bytes directly to security.LoadPIIRules.
//
//go:embed pii_patterns.yaml
var PIIPatterns []byte

// InjectionRules holds the raw byte content of 'injection_rules.yaml'.
//
// Pass these bytes directly to security.LoadInjectionRules.
//
//go:embed injection_rules.yaml
var InjectionRules []byte
