// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/SecureRAG/services/secureqa/faithfulness"
)

func TestWeightsFromEnv_Defaults(t *testing.T) {
	t.Setenv("FAITHFULNESS_WEIGHT_SEMANTIC", "")
	t.Setenv("FAITHFULNESS_WEIGHT_LEXICAL", "")
	t.Setenv("FAITHFULNESS_WEIGHT_NUMERIC", "")

	weights := weightsFromEnv()

	assert.Equal(t, faithfulness.DefaultWeights, weights)
	require.NoError(t, weights.Validate())
}

func TestWeightsFromEnv_Overrides(t *testing.T) {
	t.Setenv("FAITHFULNESS_WEIGHT_SEMANTIC", "0.5")
	t.Setenv("FAITHFULNESS_WEIGHT_LEXICAL", "0.3")
	t.Setenv("FAITHFULNESS_WEIGHT_NUMERIC", "0.2")

	weights := weightsFromEnv()

	assert.InDelta(t, 0.5, weights.Semantic, 1e-9)
	assert.InDelta(t, 0.3, weights.Lexical, 1e-9)
	assert.InDelta(t, 0.2, weights.Numeric, 1e-9)
	require.NoError(t, weights.Validate())
}

func TestWeightsFromEnv_BadSumFailsValidation(t *testing.T) {
	t.Setenv("FAITHFULNESS_WEIGHT_SEMANTIC", "0.9")
	t.Setenv("FAITHFULNESS_WEIGHT_LEXICAL", "0.9")
	t.Setenv("FAITHFULNESS_WEIGHT_NUMERIC", "0.9")

	require.Error(t, weightsFromEnv().Validate())
}

func TestEnvFloat(t *testing.T) {
	t.Setenv("SOME_FLOAT", "")
	assert.Equal(t, 0.7, envFloat("SOME_FLOAT", 0.7))

	t.Setenv("SOME_FLOAT", "0.85")
	assert.Equal(t, 0.85, envFloat("SOME_FLOAT", 0.7))

	t.Setenv("SOME_FLOAT", "not-a-number")
	assert.Equal(t, 0.7, envFloat("SOME_FLOAT", 0.7))
}

func TestEnvInt(t *testing.T) {
	t.Setenv("SOME_INT", "")
	assert.Equal(t, 5, envInt("SOME_INT", 5))

	t.Setenv("SOME_INT", "0")
	assert.Equal(t, 0, envInt("SOME_INT", 5))

	t.Setenv("SOME_INT", "nope")
	assert.Equal(t, 5, envInt("SOME_INT", 5))
}
