// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pipeline orchestrates the security-gated answering flow:
//
//	sanitize -> guard -> retrieve -> clearance filter -> generate -> score
//
// with a bounded retry loop around the generate/score pair. Stage order is a
// hard invariant: the guard only ever sees sanitized text, the generator only
// ever sees cleared evidence, and every request that enters leaves exactly
// one audit entry behind.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/SecureRAG/services/llm"
	"github.com/AleutianAI/SecureRAG/services/secureqa/audit"
	"github.com/AleutianAI/SecureRAG/services/secureqa/datatypes"
	"github.com/AleutianAI/SecureRAG/services/secureqa/faithfulness"
	"github.com/AleutianAI/SecureRAG/services/secureqa/observability"
	"github.com/AleutianAI/SecureRAG/services/secureqa/retrieval"
	"github.com/AleutianAI/SecureRAG/services/secureqa/security"
)

var tracer = otel.Tracer("secureqa.pipeline")

// DefaultFallbackMessage is returned when no evidence survives retrieval and
// filtering. It is a constant so callers and tests can recognize it.
const DefaultFallbackMessage = "I don't have enough information in the available documents to answer that question."

// Config tunes the pipeline. Unset values are replaced by defaults in New.
// The two fields where zero is a legal setting are pointers so that unset
// (nil) and an explicit zero stay distinguishable.
type Config struct {
	// FaithfulnessThreshold is the composite score an answer must reach.
	// nil means the default (0.7); a pointer to 0 accepts every answer.
	FaithfulnessThreshold *float64

	// MaxRetries bounds re-generation after a failed faithfulness check.
	// The total attempt count is MaxRetries+1. nil means the default (2);
	// a pointer to 0 disables retries entirely.
	MaxRetries *int

	// DefaultTopK applies when the request leaves top_k unset.
	DefaultTopK int

	// MaxContextChars caps the evidence text placed into the prompt.
	MaxContextChars int

	// FallbackMessage is returned when no evidence is available.
	FallbackMessage string

	// RetrieveTimeout and GenerateTimeout bound the respective stages per
	// call. The request context still applies on top of them.
	RetrieveTimeout time.Duration
	GenerateTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.FaithfulnessThreshold == nil {
		threshold := 0.7
		c.FaithfulnessThreshold = &threshold
	}
	if c.MaxRetries == nil {
		retries := 2
		c.MaxRetries = &retries
	}
	if c.DefaultTopK == 0 {
		c.DefaultTopK = 5
	}
	if c.MaxContextChars == 0 {
		c.MaxContextChars = 12000
	}
	if c.FallbackMessage == "" {
		c.FallbackMessage = DefaultFallbackMessage
	}
	if c.RetrieveTimeout == 0 {
		c.RetrieveTimeout = 10 * time.Second
	}
	if c.GenerateTimeout == 0 {
		c.GenerateTimeout = 60 * time.Second
	}
	return c
}

// Pipeline wires the stages together. Safe for concurrent use: all fields
// are read-only after construction and every stage is itself concurrent-safe.
type Pipeline struct {
	rules     *security.RuleSource
	access    security.AccessController
	retriever retrieval.Retriever
	generator llm.LLMClient
	scorer    *faithfulness.Scorer
	sink      audit.Sink
	cfg       Config
}

// New builds a Pipeline. All collaborators are required.
func New(rules *security.RuleSource, retriever retrieval.Retriever,
	generator llm.LLMClient, scorer *faithfulness.Scorer,
	sink audit.Sink, cfg Config) *Pipeline {

	return &Pipeline{
		rules:     rules,
		retriever: retriever,
		generator: generator,
		scorer:    scorer,
		sink:      sink,
		cfg:       cfg.withDefaults(),
	}
}

// Run processes one query end to end.
//
// requestID may be empty, in which case one is minted. The returned error is
// one of *SecurityRejection, *RetrievalFailure, *GenerationFailure, or a
// context error; any other outcome produces a response, including the
// best-effort answer of an exhausted retry budget.
func (p *Pipeline) Run(ctx context.Context, requestID string, req datatypes.QueryRequest) (*datatypes.QueryResponse, error) {
	if requestID == "" {
		requestID = uuid.NewString()
	}
	ctx, span := tracer.Start(ctx, "Pipeline.Run")
	defer span.End()
	span.SetAttributes(attribute.String("request.id", requestID))

	observability.RequestStarted()
	defer observability.RequestFinished()
	start := time.Now()

	entry := audit.Entry{
		RequestID: requestID,
		Timestamp: start.UTC(),
		Outcome:   audit.OutcomeIncomplete,
	}
	// The one-entry-per-request invariant holds even when the request dies
	// mid-flight: the deferred flush writes whatever was recorded so far.
	flushed := false
	defer func() {
		if flushed {
			return
		}
		p.appendAudit(context.WithoutCancel(ctx), &entry)
		observability.RecordRequest(entry.Outcome)
	}()

	// --- Sanitize ---
	stageStart := time.Now()
	sanitized := p.rules.Sanitizer().Sanitize(req.Query)
	entry.SanitizationHits = sanitized.Hits
	observability.ObserveStage("sanitize", time.Since(stageStart))

	// --- Injection guard ---
	stageStart = time.Now()
	verdict := p.rules.Guard().Evaluate(sanitized.SanitizedText)
	entry.InjectionVerdict = &verdict
	observability.ObserveStage("guard", time.Since(stageStart))
	if !verdict.IsSafe {
		slog.Warn("Request blocked by injection guard",
			"request_id", requestID, "rule_id", verdict.MatchedRuleID, "risk", verdict.RiskScore)
		observability.RecordSecurityBlock(verdict.MatchedRuleID)
		entry.Outcome = audit.OutcomeRejected
		span.SetStatus(codes.Error, "rejected by injection guard")
		return nil, &SecurityRejection{
			RequestID: requestID,
			RuleID:    verdict.MatchedRuleID,
			Risk:      verdict.RiskScore,
		}
	}

	clearance, err := datatypes.ParseClearance(req.ClearanceLevel)
	if err != nil {
		// The handler validates the field, so this is unreachable from HTTP.
		entry.Outcome = audit.OutcomeError
		return nil, fmt.Errorf("invalid clearance level: %w", err)
	}
	topK := req.TopK
	if topK == 0 {
		topK = p.cfg.DefaultTopK
	}

	// --- Retrieve ---
	stageStart = time.Now()
	retrieveCtx, cancelRetrieve := context.WithTimeout(ctx, p.cfg.RetrieveTimeout)
	chunks, err := p.retriever.Search(retrieveCtx, sanitized.SanitizedText, topK)
	cancelRetrieve()
	observability.ObserveStage("retrieve", time.Since(stageStart))
	if err != nil {
		slog.Error("Retrieval failed", "request_id", requestID, "error", err)
		entry.Outcome = audit.OutcomeError
		span.RecordError(err)
		span.SetStatus(codes.Error, "retrieval failed")
		return nil, &RetrievalFailure{RequestID: requestID, Err: err}
	}

	// --- Clearance filter ---
	stageStart = time.Now()
	allowed, decision := p.access.Filter(chunks, clearance)
	entry.ClearanceDecisions = &decision
	observability.ObserveStage("filter", time.Since(stageStart))

	if len(allowed) == 0 {
		// Nothing to ground an answer in. Return the fallback rather than
		// letting the model answer from nothing.
		slog.Info("No evidence available after filtering",
			"request_id", requestID, "retrieved", len(chunks), "excluded", decision.ExcludedCount)
		entry.Outcome = audit.OutcomeExhausted
		entry.Faithfulness = &faithfulness.Report{}
		resp := &datatypes.QueryResponse{
			RequestID:          requestID,
			Query:              sanitized.SanitizedText,
			Answer:             p.cfg.FallbackMessage,
			FaithfulnessScore:  0.0,
			PassedFaithfulness: false,
			ChunksUsed:         []datatypes.RetrievedChunk{},
			RetriesUsed:        0,
			LatencyMs:          float64(time.Since(start).Microseconds()) / 1000.0,
		}
		p.finish(ctx, &entry, &flushed)
		return resp, nil
	}

	chunkTexts := make([]string, len(allowed))
	for i, c := range allowed {
		chunkTexts[i] = c.Text
	}

	// --- Generate / score loop ---
	var (
		bestAnswer string
		bestReport faithfulness.Report
		haveBest   bool
		lastGenErr error
		attempts   int
	)
	for attempt := 0; attempt <= *p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			observability.RecordRetry()
		}
		prompt := buildPrompt(sanitized.SanitizedText, allowed, p.cfg.MaxContextChars, attempt > 0)

		stageStart = time.Now()
		genCtx, cancelGen := context.WithTimeout(ctx, p.cfg.GenerateTimeout)
		answer, genErr := p.generator.Generate(genCtx, prompt, llm.GenerationParams{})
		cancelGen()
		observability.ObserveStage("generate", time.Since(stageStart))
		attempts++

		if genErr != nil {
			if ctx.Err() != nil {
				entry.RetriesUsed = attempts - 1
				return nil, ctx.Err()
			}
			// A failed call consumes an attempt but is not fatal while the
			// budget lasts.
			slog.Warn("Generation attempt failed",
				"request_id", requestID, "attempt", attempt, "timeout", llm.IsTimeout(genErr), "error", genErr)
			lastGenErr = genErr
			continue
		}
		answer = strings.TrimSpace(answer)

		stageStart = time.Now()
		report, scoreErr := p.scorer.Score(ctx, answer, chunkTexts)
		observability.ObserveStage("score", time.Since(stageStart))
		if scoreErr != nil {
			entry.RetriesUsed = attempts - 1
			return nil, scoreErr
		}

		if !haveBest || report.CompositeScore > bestReport.CompositeScore {
			bestAnswer = answer
			bestReport = report
			haveBest = true
		}
		if report.Passed {
			break
		}
		slog.Info("Answer failed the faithfulness check",
			"request_id", requestID, "attempt", attempt, "score", report.CompositeScore)
	}

	entry.RetriesUsed = attempts - 1
	if !haveBest {
		slog.Error("All generation attempts failed",
			"request_id", requestID, "attempts", attempts, "error", lastGenErr)
		entry.Outcome = audit.OutcomeError
		span.RecordError(lastGenErr)
		span.SetStatus(codes.Error, "generation failed")
		return nil, &GenerationFailure{RequestID: requestID, Attempts: attempts, Err: lastGenErr}
	}

	entry.Faithfulness = &bestReport
	if bestReport.Passed {
		entry.Outcome = audit.OutcomeAccepted
	} else {
		entry.Outcome = audit.OutcomeExhausted
		slog.Warn("Retry budget exhausted, returning best-effort answer",
			"request_id", requestID, "score", bestReport.CompositeScore)
	}
	observability.RecordFaithfulness(bestReport.CompositeScore)
	span.SetAttributes(
		attribute.Float64("faithfulness.score", bestReport.CompositeScore),
		attribute.Bool("faithfulness.passed", bestReport.Passed),
		attribute.Int("pipeline.retries", entry.RetriesUsed),
	)

	resp := &datatypes.QueryResponse{
		RequestID:          requestID,
		Query:              sanitized.SanitizedText,
		Answer:             bestAnswer,
		FaithfulnessScore:  bestReport.CompositeScore,
		PassedFaithfulness: bestReport.Passed,
		ChunksUsed:         allowed,
		RetriesUsed:        entry.RetriesUsed,
		LatencyMs:          float64(time.Since(start).Microseconds()) / 1000.0,
	}
	p.finish(ctx, &entry, &flushed)
	return resp, nil
}

// finish flushes the audit entry and outcome metric for requests that
// produced a response. Errored paths rely on the deferred flush instead.
func (p *Pipeline) finish(ctx context.Context, entry *audit.Entry, flushed *bool) {
	p.appendAudit(context.WithoutCancel(ctx), entry)
	observability.RecordRequest(entry.Outcome)
	*flushed = true
}

// appendAudit writes the entry, logging rather than failing the request when
// the sink is broken. The requester should not pay for a bad audit disk.
func (p *Pipeline) appendAudit(ctx context.Context, entry *audit.Entry) {
	if err := p.sink.Append(ctx, *entry); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("Failed to append the audit entry",
			"request_id", entry.RequestID, "outcome", entry.Outcome, "error", err)
	}
}
