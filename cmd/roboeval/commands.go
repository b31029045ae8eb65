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
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/roboeval/pkg/logging"
)

// --- Global Command Variables ---
var (
	logLevel   string
	logDirFlag string
	quiet      bool

	scenarioPath string
	dryRun       bool

	appLogger *logging.Logger

	rootCmd = &cobra.Command{
		Use:   "roboeval",
		Short: "A cli to run and inspect robot evaluation telemetry",
		Long: `Roboeval records robot evaluation runs: per-task success rates,
				step throughput, frame visualizations, and durable trajectory
				data mirrored to cloud storage.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			appLogger = logging.New(logging.Config{
				Level:   logging.ParseLevel(logLevel),
				LogDir:  logDirFlag,
				Service: "roboeval",
				Quiet:   quiet,
			})
			appLogger.Install()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if appLogger != nil {
				appLogger.Close()
			}
		},
	}

	// --- Evaluation ---
	evalCmd = &cobra.Command{
		Use:   "eval",
		Short: "Run a simulated evaluation from a scenario file",
		Run:   runEval, // Defined in cmd_eval.go
	}

	// --- Inspection ---
	inspectCmd = &cobra.Command{
		Use:   "inspect [run_directory]",
		Short: "Print the metadata and episodes of a recorded run",
		Args:  cobra.ExactArgs(1),
		Run:   runInspect, // Defined in cmd_inspect.go
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logDirFlag, "log-dir", "", "Directory for JSON log files (stderr only when empty)")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "Suppress non-error console logging")

	evalCmd.Flags().StringVar(&scenarioPath, "config", "scenario.yaml", "Path to the scenario YAML file")
	evalCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Use an in-memory metrics sink and skip the remote mirror")

	rootCmd.AddCommand(evalCmd)
	rootCmd.AddCommand(inspectCmd)
}

// fatal logs the error and exits. Command handlers use it for
// unrecoverable setup failures.
func fatal(msg string, args ...any) {
	slog.Error(msg, args...)
	os.Exit(1)
}
