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
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/SecureRAG/services/secureqa/datatypes"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Reports the readiness of the answering service and its dependencies",
	RunE:  runHealth,
}

func runHealth(cmd *cobra.Command, args []string) error {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(serviceURL + "/health")
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	var health datatypes.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return fmt.Errorf("failed to parse the health response: %w", err)
	}
	fmt.Printf("status:       %s\n", health.Status)
	fmt.Printf("version:      %s\n", health.Version)
	fmt.Printf("vector store: %t\n", health.VectorStoreReady)
	fmt.Printf("scorer:       %t\n", health.ScorerReady)
	if health.Status != "ok" {
		return fmt.Errorf("service is degraded")
	}
	return nil
}
