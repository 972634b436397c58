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
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AleutianAI/SecureRAG/pkg/validation"
	"github.com/AleutianAI/SecureRAG/services/llm"
	"github.com/AleutianAI/SecureRAG/services/secureqa/audit"
	"github.com/AleutianAI/SecureRAG/services/secureqa/faithfulness"
	"github.com/AleutianAI/SecureRAG/services/secureqa/middleware"
	"github.com/AleutianAI/SecureRAG/services/secureqa/pipeline"
	"github.com/AleutianAI/SecureRAG/services/secureqa/retrieval"
	"github.com/AleutianAI/SecureRAG/services/secureqa/routes"
	"github.com/AleutianAI/SecureRAG/services/secureqa/security"

	// --- OpenTelemetry imports ---
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
)

func initTracer() (func(context.Context), error) {
	ctx := context.Background()

	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		otelEndpoint = "secureqa-otel-collector:4317"
	}
	conn, err := grpc.NewClient(otelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("secureqa-service")))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.
		TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

// newWeaviateClient builds the vector store client from WEAVIATE_SERVICE_URL.
// Returns nil when the URL is missing or unusable; the service still starts
// and reports degraded health so the guard keeps rejecting unsafe queries.
func newWeaviateClient() *weaviate.Client {
	weaviateURL := os.Getenv("WEAVIATE_SERVICE_URL")
	// Trim quotes and whitespace just in case Podman passes them literally
	weaviateURL = strings.Trim(weaviateURL, "\"' ")

	if weaviateURL == "" || !strings.Contains(weaviateURL, "http") {
		slog.Warn("WEAVIATE_SERVICE_URL not set or empty, retrieval will be unavailable")
		return nil
	}
	parsedURL, err := url.Parse(weaviateURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		slog.Warn("WEAVIATE_SERVICE_URL is invalid, retrieval will be unavailable",
			"url", weaviateURL, "error", err)
		return nil
	}
	client, err := weaviate.NewClient(weaviate.Config{
		Host:   parsedURL.Host,
		Scheme: parsedURL.Scheme,
	})
	if err != nil {
		slog.Error("Failed to create Weaviate client", "error", err)
		return nil
	}
	return client
}

// newAuditSink selects the audit backend from AUDIT_BACKEND: "badger" for
// the embedded database, anything else for the JSONL file.
func newAuditSink() (audit.Sink, error) {
	switch os.Getenv("AUDIT_BACKEND") {
	case "badger":
		dir := os.Getenv("AUDIT_DB_DIR")
		if dir == "" {
			dir = "/var/lib/secureqa/audit"
		}
		return audit.NewBadgerSink(dir)
	default:
		path := os.Getenv("AUDIT_LOG_PATH")
		if path == "" {
			path = "/var/log/secureqa/audit.jsonl"
			slog.Warn("AUDIT_LOG_PATH not set, defaulting", "path", path)
		}
		return audit.NewJSONLSink(path)
	}
}

func envFloat(name string, fallback float64) float64 {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		slog.Warn("Invalid numeric environment variable, using fallback",
			"name", name, "value", raw, "fallback", fallback)
		return fallback
	}
	return v
}

func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		slog.Warn("Invalid integer environment variable, using fallback",
			"name", name, "value", raw, "fallback", fallback)
		return fallback
	}
	return v
}

// weightsFromEnv reads the faithfulness component weights, falling back to
// the shipped defaults per component. The caller validates the sum.
func weightsFromEnv() faithfulness.Weights {
	return faithfulness.Weights{
		Semantic: envFloat("FAITHFULNESS_WEIGHT_SEMANTIC", faithfulness.DefaultWeights.Semantic),
		Lexical:  envFloat("FAITHFULNESS_WEIGHT_LEXICAL", faithfulness.DefaultWeights.Lexical),
		Numeric:  envFloat("FAITHFULNESS_WEIGHT_NUMERIC", faithfulness.DefaultWeights.Numeric),
	}
}

func main() {
	port := os.Getenv("SECUREQA_PORT")
	if port == "" {
		port = "12300"
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// --- Init the tracer ---
	cleanup, err := initTracer()
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Security rules ---
	strictness, err := security.ParseStrictness(os.Getenv("GUARD_STRICTNESS"))
	if err != nil {
		slog.Warn("Invalid GUARD_STRICTNESS, defaulting to medium", "error", err)
	}
	ruleSource, err := security.NewRuleSource(security.RuleSourceConfig{
		PIIRulesPath:       os.Getenv("PII_RULES_PATH"),
		InjectionRulesPath: os.Getenv("INJECTION_RULES_PATH"),
		Strictness:         strictness,
	})
	if err != nil {
		log.Fatalf("FATAL: Could not load the security rule sets: %v", err)
	}
	if err := ruleSource.Watch(ctx); err != nil {
		slog.Error("Rule file watching disabled", "error", err)
	}

	// --- Vector store and embedder ---
	weaviateClient := newWeaviateClient()
	if weaviateClient != nil {
		if err := retrieval.EnsureSchema(ctx, weaviateClient); err != nil {
			slog.Error("Failed to ensure the vector store schema", "error", err)
		}
	}
	embeddingURL := os.Getenv("EMBEDDING_SERVICE_URL")
	if embeddingURL == "" {
		embeddingURL = "http://localhost:12310"
		slog.Warn("EMBEDDING_SERVICE_URL not set, defaulting", "url", embeddingURL)
	}
	embedder := retrieval.NewHTTPEmbedder(embeddingURL, 30*time.Second)

	// --- LLM backend ---
	log.Println("Configuring the LLM Client")
	var llmClient llm.LLMClient
	switch os.Getenv("LLM_BACKEND_TYPE") {
	case "openai":
		llmClient, err = llm.NewOpenAIClient()
		slog.Info("Using OpenAI LLM backend")
	case "ollama":
		llmClient, err = llm.NewOllamaClient()
		slog.Info("Using Ollama LLM backend")
	default:
		slog.Warn("LLM_BACKEND_TYPE not set or invalid, defaulting to ollama")
		llmClient, err = llm.NewOllamaClient()
	}
	if err != nil {
		log.Fatalf("Failed to initialize LLM client: %v", err)
	}

	// --- Faithfulness scorer ---
	threshold := envFloat("FAITHFULNESS_THRESHOLD", 0.7)
	weights := weightsFromEnv()
	if err := weights.Validate(); err != nil {
		log.Fatalf("FATAL: invalid faithfulness weights: %v", err)
	}
	scorer := faithfulness.NewScorer(embedder, weights, threshold)

	// --- Audit sink ---
	sink, err := newAuditSink()
	if err != nil {
		log.Fatalf("FATAL: Could not open the audit sink: %v", err)
	}

	// --- Pipeline ---
	// MAX_RETRIES=0 is a legal setting (no retries), so the value always
	// flows through; the pipeline default only applies when the field is nil.
	maxRetries := envInt("MAX_RETRIES", 2)
	p := pipeline.New(ruleSource, retrieval.NewWeaviateRetriever(weaviateClient, embedder),
		llmClient, scorer, sink, pipeline.Config{
			FaithfulnessThreshold: &threshold,
			MaxRetries:            &maxRetries,
			DefaultTopK:           envInt("DEFAULT_TOP_K", 5),
		})

	router := gin.Default()
	router.Use(otelgin.Middleware("secureqa-service"))
	router.Use(middleware.RequestID())

	rateLimiter := middleware.NewRateLimiter(
		envFloat("RATE_LIMIT_RPS", 5.0), envInt("RATE_LIMIT_BURST", 10))
	routes.Register(router, p, validation.NewValidator(), weaviateClient, true,
		rateLimiter.Middleware())

	server := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	go func() {
		log.Println("Starting the secureqa server on port ", port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	slog.Info("Shutdown signal received, draining requests")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server shutdown failed", "error", err)
	}
	if err := sink.Close(); err != nil {
		slog.Error("Audit sink close failed", "error", err)
	}
}
