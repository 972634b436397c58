// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/SecureRAG/services/secureqa/datatypes"
)

// Retriever fetches the evidence chunks most similar to a query.
//
// Implementations must return chunks ordered by descending similarity and at
// most topK of them. Access filtering is NOT the retriever's job: it returns
// everything the index matched, sensitivity labels included, and the caller
// decides what the requester may see.
type Retriever interface {
	Search(ctx context.Context, query string, topK int) ([]datatypes.RetrievedChunk, error)
}

// ParseGraphQLResponse parses a Weaviate GraphQL response into the target
// type via the marshal/unmarshal round trip the dynamic response shape
// requires. T must carry json tags matching the response structure.
func ParseGraphQLResponse[T any](resp *models.GraphQLResponse) (*T, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}

	respBytes, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GraphQL response data: %w", err)
	}

	var result T
	if err := json.Unmarshal(respBytes, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into target type: %w", err)
	}

	return &result, nil
}

// chunkQueryResponse is the shape of a SecureDocumentChunk nearVector query.
type chunkQueryResponse struct {
	Get struct {
		SecureDocumentChunk []chunkResult `json:"SecureDocumentChunk"`
	} `json:"Get"`
}

type chunkResult struct {
	Content     string `json:"content"`
	Source      string `json:"source"`
	Sensitivity string `json:"sensitivity"`
	ChunkID     string `json:"chunk_id"`
	Additional  struct {
		ID       string   `json:"id"`
		Distance *float32 `json:"distance"`
	} `json:"_additional"`
}

// WeaviateRetriever searches the SecureDocumentChunk class by vector
// similarity. The query is embedded through the same embedder that indexed
// the corpus.
type WeaviateRetriever struct {
	client   *weaviate.Client
	embedder Embedder
}

// NewWeaviateRetriever builds a retriever over client and embedder.
func NewWeaviateRetriever(client *weaviate.Client, embedder Embedder) *WeaviateRetriever {
	return &WeaviateRetriever{client: client, embedder: embedder}
}

// Search embeds query and returns up to topK chunks ordered by descending
// similarity. Similarity is derived from the reported distance as
// 1/(1+distance), which maps any non-negative distance into (0,1].
func (r *WeaviateRetriever) Search(ctx context.Context, query string, topK int) ([]datatypes.RetrievedChunk, error) {
	ctx, span := tracer.Start(ctx, "WeaviateRetriever.Search")
	defer span.End()
	span.SetAttributes(attribute.Int("retrieval.top_k", topK))

	if r.client == nil {
		return nil, fmt.Errorf("vector store is not configured")
	}

	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		slog.Error("Failed to embed the retrieval query", "error", err)
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	nearVector := r.client.GraphQL().NearVectorArgBuilder().
		WithVector(vector)

	fields := []graphql.Field{
		{Name: "content"},
		{Name: "source"},
		{Name: "sensitivity"},
		{Name: "chunk_id"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "id"},
			{Name: "distance"},
		}},
	}

	result, err := r.client.GraphQL().Get().
		WithClassName(ChunkClassName).
		WithFields(fields...).
		WithNearVector(nearVector).
		WithLimit(topK).
		Do(ctx)
	if err != nil {
		slog.Error("Failed to search the chunk class", "error", err)
		return nil, fmt.Errorf("weaviate search failed: %w", err)
	}

	parsed, err := ParseGraphQLResponse[chunkQueryResponse](result)
	if err != nil {
		slog.Error("Failed to parse chunk search results", "error", err)
		return nil, fmt.Errorf("failed to parse results: %w", err)
	}

	chunks := make([]datatypes.RetrievedChunk, 0, len(parsed.Get.SecureDocumentChunk))
	for _, res := range parsed.Get.SecureDocumentChunk {
		sensitivity, err := datatypes.ParseClearance(res.Sensitivity)
		if err != nil {
			// An unlabeled or mislabeled chunk is treated as restricted so
			// it can never leak past the access filter.
			slog.Warn("Chunk has an unknown sensitivity label, treating as restricted",
				"chunk_id", res.ChunkID, "label", res.Sensitivity)
			sensitivity = datatypes.ClearanceRestricted
		}
		chunkID := res.ChunkID
		if chunkID == "" {
			chunkID = res.Additional.ID
		}
		chunks = append(chunks, datatypes.RetrievedChunk{
			ChunkID:     chunkID,
			Text:        res.Content,
			Score:       similarityFromDistance(res.Additional.Distance),
			Sensitivity: sensitivity,
			Metadata:    map[string]any{"source": res.Source},
		})
	}

	span.SetAttributes(attribute.Int("retrieval.returned", len(chunks)))
	slog.Debug("Vector search completed", "requested", topK, "returned", len(chunks))
	return chunks, nil
}

// similarityFromDistance maps a distance into (0,1]. A missing distance
// yields 0 so the chunk sorts behind every scored neighbor.
func similarityFromDistance(distance *float32) float64 {
	if distance == nil {
		return 0.0
	}
	d := float64(*distance)
	if d < 0 {
		d = 0
	}
	return 1.0 / (1.0 + d)
}
