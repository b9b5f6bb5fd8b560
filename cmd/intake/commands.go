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
	"github.com/spf13/cobra"
)

var (
	configPath string

	// seed flags
	seedFile string

	// spec flags
	specRequestID string
	specUser      string
	specLatest    bool

	rootCmd = &cobra.Command{
		Use:   "intake",
		Short: "Conditional input collection service",
		Long: `intake runs the input collection service: instruments gated by
conditions, capacity-limited submissions, and machine-readable
specification documents for clients.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			config, err = LoadConfig(configPath)
			return err
		},
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE:  runServe,
	}

	seedCmd = &cobra.Command{
		Use:   "seed [schema file]",
		Short: "Load a collection request schema into storage",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runSeed,
	}

	specCmd = &cobra.Command{
		Use:   "spec",
		Short: "Print the specification document for a collection request",
		RunE:  runSpec,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to the config file")

	seedCmd.Flags().StringVar(&seedFile, "file", "", "schema file (positional argument takes precedence)")

	specCmd.Flags().StringVar(&specRequestID, "request", "", "collection request id")
	specCmd.Flags().StringVar(&specUser, "user", "", "scope collected inputs to one user")
	specCmd.Flags().BoolVar(&specLatest, "latest-only", false, "narrow to the latest input per instrument per user")
	_ = specCmd.MarkFlagRequired("request")

	rootCmd.AddCommand(serveCmd, seedCmd, specCmd)
}
