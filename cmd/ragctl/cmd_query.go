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
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/SecureRAG/services/secureqa/datatypes"
)

var (
	queryTopK      int
	queryClearance string
	queryUserID    string
	queryRaw       bool
)

var queryCmd = &cobra.Command{
	Use:   "query [question]",
	Short: "Asks a question through the security-gated answering pipeline",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runQuery,
}

func init() {
	queryCmd.Flags().IntVar(&queryTopK, "top-k", 0, "Number of chunks to retrieve (service default when 0)")
	queryCmd.Flags().StringVar(&queryClearance, "clearance", "", "Clearance level: public, internal, confidential, restricted")
	queryCmd.Flags().StringVar(&queryUserID, "user", "", "User identifier recorded in the audit trail")
	queryCmd.Flags().BoolVar(&queryRaw, "json", false, "Print the raw JSON response")
}

func runQuery(cmd *cobra.Command, args []string) error {
	request := datatypes.QueryRequest{
		Query:          strings.Join(args, " "),
		TopK:           queryTopK,
		UserID:         queryUserID,
		ClearanceLevel: queryClearance,
	}
	body, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("failed to marshal the request: %w", err)
	}

	client := &http.Client{Timeout: 5 * time.Minute}
	resp, err := client.Post(serviceURL+"/v1/query", "application/json", bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read the response: %w", err)
	}

	if queryRaw {
		fmt.Println(string(respBody))
		return nil
	}

	switch resp.StatusCode {
	case http.StatusOK:
		var answer datatypes.QueryResponse
		if err := json.Unmarshal(respBody, &answer); err != nil {
			return fmt.Errorf("failed to parse the response: %w", err)
		}
		fmt.Println(answer.Answer)
		fmt.Printf("\n[faithfulness %.2f, passed=%t, retries=%d, chunks=%d, %.0fms]\n",
			answer.FaithfulnessScore, answer.PassedFaithfulness,
			answer.RetriesUsed, len(answer.ChunksUsed), answer.LatencyMs)
		return nil
	case http.StatusForbidden:
		var rejection datatypes.RejectionResponse
		if err := json.Unmarshal(respBody, &rejection); err == nil {
			return fmt.Errorf("query rejected: %s (%s)", rejection.Reason, rejection.Detail)
		}
		return fmt.Errorf("query rejected")
	default:
		return fmt.Errorf("service returned status %d: %s", resp.StatusCode, string(respBody))
	}
}
