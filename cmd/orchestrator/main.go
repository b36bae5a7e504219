// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command orchestrator starts the Aleutian Query HTTP server.
//
// This is the main entry point for the containerized query service. It reads
// configuration from an optional YAML file and ALEUTIAN_* environment
// variables, then serves until SIGINT or SIGTERM.
//
// # Environment Variables
//
//   - ALEUTIAN_CONFIG: YAML config file, same as --config
//   - ALEUTIAN_SERVER_PORT: HTTP server port (default: 12210)
//   - ALEUTIAN_LLM_BACKEND: openai, ollama, anthropic, local (default: ollama)
//   - ALEUTIAN_STORAGE_HISTORY_PATH: history directory (default: ./data/history)
//   - ALEUTIAN_TELEMETRY_OTEL_ENDPOINT: OpenTelemetry collector
//
// Every other key follows the same ALEUTIAN_<SECTION>_<KEY> pattern.
//
// # Usage
//
//	# Build
//	go build -o orchestrator ./cmd/orchestrator
//
//	# Run
//	./orchestrator --config aleutian.yaml
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianQuery/pkg/logging"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:           "orchestrator",
		Short:         "Serve the Aleutian Query API",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if configPath == "" {
				configPath = os.Getenv("ALEUTIAN_CONFIG")
			}
			return run(configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "YAML config file")
	return cmd
}

func run(configPath string) error {
	cfg, err := orchestrator.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "orchestrator:", err)
		return err
	}
	if cfg.Server.Version == "" || cfg.Server.Version == "dev" {
		cfg.Server.Version = version
	}

	logger := logging.New(loggingConfig(cfg.Logging))
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	slog.Info("Starting orchestrator",
		"port", cfg.Server.Port,
		"llm_backend", cfg.LLM.Backend,
		"config", configPath,
	)

	// Enterprise builds pass custom ServiceOptions here
	svc, err := orchestrator.New(cfg, nil)
	if err != nil {
		slog.Error("Failed to create orchestrator", "error", err)
		return err
	}
	defer svc.Close()

	if err := svc.Run(); err != nil {
		slog.Error("Orchestrator error", "error", err)
		return err
	}
	return nil
}

// loggingConfig maps the service config onto pkg/logging. Format "auto"
// writes text to a terminal and JSON otherwise.
func loggingConfig(c orchestrator.LoggingConfig) logging.Config {
	level, _ := logging.ParseLevel(c.Level)
	jsonOut := c.Format == "json"
	if c.Format == "" || c.Format == "auto" {
		jsonOut = !isatty.IsTerminal(os.Stderr.Fd())
	}
	return logging.Config{
		Level:   level,
		LogDir:  c.Dir,
		Service: "aleutian-query",
		JSON:    jsonOut,
	}
}
