// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package faithfulness scores how much of a generated answer is actually
// supported by the retrieved evidence.
//
// Three independent signals, each in [0,1], are combined by a configurable
// weighted average:
//
//   - semantic: embedding-space cosine similarity between the answer and the
//     concatenated evidence, clamped to [0,1].
//   - lexical: fraction of the answer's non-stopword tokens that appear in
//     the union of the evidence texts.
//   - numeric: fraction of the answer's numeric tokens that match (exactly
//     or within tolerance) a numeric token anywhere in the evidence. 1.0
//     when the answer contains no numbers.
//
// A hedge penalty of at most hedgeMaxPenalty is subtracted when the answer
// hedges while the semantic evidence is weak, catching the pattern where the
// model guesses confidently on thin grounding.
package faithfulness

import (
	"context"
	"log/slog"
	"math"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("secureqa.faithfulness")

// Embedder is the external embedding collaborator consumed by the scorer.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Weights configures the composite combination. They must sum to 1.
type Weights struct {
	Semantic float64
	Lexical  float64
	Numeric  float64
}

// DefaultWeights mirrors the tuning the scorer shipped with: semantic and
// lexical carry equal weight, numeric consistency acts as a tiebreaker.
var DefaultWeights = Weights{Semantic: 0.40, Lexical: 0.40, Numeric: 0.20}

// Validate rejects weight sets that do not sum to 1.
func (w Weights) Validate() error {
	total := w.Semantic + w.Lexical + w.Numeric
	if math.Abs(total-1.0) > 1e-6 {
		return &WeightError{Total: total}
	}
	return nil
}

// WeightError reports an invalid weight configuration.
type WeightError struct {
	Total float64
}

func (e *WeightError) Error() string {
	return "faithfulness weights must sum to 1.0"
}

// Report is the grounding assessment of one candidate answer.
type Report struct {
	SemanticScore  float64 `json:"semantic_score"`
	LexicalScore   float64 `json:"lexical_score"`
	NumericScore   float64 `json:"numeric_score"`
	HedgePenalty   float64 `json:"hedge_penalty"`
	CompositeScore float64 `json:"composite_score"`
	Passed         bool    `json:"passed"`
}

const (
	// weakSemanticThreshold is the semantic score below which hedging
	// starts to count against the answer.
	weakSemanticThreshold = 0.55

	// defaultHedgeMaxPenalty caps the hedge penalty.
	defaultHedgeMaxPenalty = 0.10
)

// Scorer computes faithfulness reports. Safe for concurrent use: all fields
// are read-only after construction.
type Scorer struct {
	embedder        Embedder
	weights         Weights
	threshold       float64
	hedgeMaxPenalty float64
}

// NewScorer builds a Scorer. weights must already be validated.
func NewScorer(embedder Embedder, weights Weights, threshold float64) *Scorer {
	return &Scorer{
		embedder:        embedder,
		weights:         weights,
		threshold:       threshold,
		hedgeMaxPenalty: defaultHedgeMaxPenalty,
	}
}

// Threshold returns the pass threshold the scorer was built with.
func (s *Scorer) Threshold() float64 {
	return s.threshold
}

// Score assesses answer against the evidence chunks.
//
// An embedding failure degrades the semantic signal to 0 rather than failing
// the request: the lexical and numeric signals still gate the answer, and a
// flaky embedding service must not turn every response into an error.
// Context cancellation is the exception and is returned to the caller.
func (s *Scorer) Score(ctx context.Context, answer string, chunks []string) (Report, error) {
	ctx, span := tracer.Start(ctx, "Scorer.Score")
	defer span.End()

	if strings.TrimSpace(answer) == "" || len(chunks) == 0 {
		return Report{Passed: false}, nil
	}

	combined := strings.Join(chunks, "\n")

	semantic, err := s.semanticSimilarity(ctx, answer, combined)
	if err != nil {
		if ctx.Err() != nil {
			return Report{}, ctx.Err()
		}
		slog.Warn("Semantic similarity degraded to 0", "error", err)
		semantic = 0.0
	}
	lexical := lexicalOverlap(answer, chunks)
	numeric := numericConsistency(answer, combined)
	penalty := s.hedgePenalty(answer, semantic)

	raw := s.weights.Semantic*semantic + s.weights.Lexical*lexical + s.weights.Numeric*numeric
	composite := clamp01(raw - penalty)

	report := Report{
		SemanticScore:  round4(semantic),
		LexicalScore:   round4(lexical),
		NumericScore:   round4(numeric),
		HedgePenalty:   round4(penalty),
		CompositeScore: round4(composite),
		Passed:         composite >= s.threshold,
	}
	span.SetAttributes(
		attribute.Float64("faithfulness.composite", report.CompositeScore),
		attribute.Bool("faithfulness.passed", report.Passed),
	)
	return report, nil
}

// semanticSimilarity embeds the answer and the concatenated evidence
// concurrently and returns their cosine similarity clamped to [0,1].
func (s *Scorer) semanticSimilarity(ctx context.Context, answer, combined string) (float64, error) {
	var answerVec, contextVec []float32
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		vec, err := s.embedder.Embed(gctx, answer)
		answerVec = vec
		return err
	})
	g.Go(func() error {
		vec, err := s.embedder.Embed(gctx, combined)
		contextVec = vec
		return err
	})
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return clamp01(cosine(answerVec, contextVec)), nil
}

// lexicalOverlap is the fraction of the answer's non-stopword tokens present
// in the union of the chunk texts. 1.0 when the answer has no content tokens.
func lexicalOverlap(answer string, chunks []string) float64 {
	answerTokens := contentTokens(answer)
	if len(answerTokens) == 0 {
		return 1.0
	}
	evidence := make(map[string]struct{})
	for _, chunk := range chunks {
		for tok := range tokenize(chunk) {
			evidence[tok] = struct{}{}
		}
	}
	matched := 0
	for tok := range answerTokens {
		if _, ok := evidence[tok]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(answerTokens))
}

// numericConsistency is the fraction of the answer's numeric tokens that
// match a numeric token in the evidence. 1.0 when the answer has no numbers:
// there is nothing to contradict.
func numericConsistency(answer, combined string) float64 {
	answerNums := extractNumbers(answer)
	if len(answerNums) == 0 {
		return 1.0
	}
	contextNums := extractNumbers(combined)
	matched := 0
	for _, n := range answerNums {
		for _, ref := range contextNums {
			if numbersMatch(n, ref) {
				matched++
				break
			}
		}
	}
	return float64(matched) / float64(len(answerNums))
}

// hedgePenalty penalizes hedging language only when the semantic evidence is
// weak. Decent semantic support means hedging is honest caution, not
// confident fabrication.
func (s *Scorer) hedgePenalty(answer string, semantic float64) float64 {
	if semantic >= weakSemanticThreshold {
		return 0.0
	}
	words := tokenize(answer)
	if len(words) == 0 {
		return 0.0
	}
	hedges := 0
	for w := range words {
		if _, ok := hedgeWords[w]; ok {
			hedges++
		}
	}
	ratio := float64(hedges) / float64(len(words))
	penalty := ratio * 0.25 * (1.0 - semantic)
	return math.Min(s.hedgeMaxPenalty, penalty)
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0.0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0.0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func clamp01(f float64) float64 {
	return math.Max(0.0, math.Min(1.0, f))
}

func round4(f float64) float64 {
	return math.Round(f*10000) / 10000
}
