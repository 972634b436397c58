// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// ragctl is a small CLI for exercising the answering service from a shell.
package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"
)

var serviceURL string

var rootCmd = &cobra.Command{
	Use:   "ragctl",
	Short: "A CLI to query and inspect the secure answering service",
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}

func init() {
	defaultURL := os.Getenv("SECUREQA_URL")
	if defaultURL == "" {
		defaultURL = "http://localhost:12300"
	}
	rootCmd.PersistentFlags().StringVar(&serviceURL, "url", defaultURL,
		"Base URL of the answering service")
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(healthCmd)
}
