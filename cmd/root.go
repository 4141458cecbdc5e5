// Package cmd provides the coach CLI.
//
// Commands:
//   - serve: HTTP API server
//   - ingest: document ingestion into the knowledge base
//   - ask: one-shot question answering with tool use
//   - mcp: Model Context Protocol server on stdio
//   - version: build and configuration info
//
// All long-running commands handle SIGINT/SIGTERM via context cancellation.
package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/ellttdave/athlete-performance-platform-showcase/internal/config"
	"github.com/ellttdave/athlete-performance-platform-showcase/internal/log"
)

var rootCmd = &cobra.Command{
	Use:   "coach",
	Short: "Coach - athlete performance assistant",
	Long: `Coach answers training questions grounded in an ingested knowledge base
and live athlete metrics. It serves an HTTP API, ingests documents into
a vector store, and exposes its tools over MCP.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig loads and validates configuration, then installs the process
// logger it describes.
func loadConfig() (*config.Config, log.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	level := slog.LevelInfo
	if cfg.LogLevel == "debug" {
		level = slog.LevelDebug
	}
	logger := log.New(log.Config{Level: level, JSON: cfg.LogJSON})
	slog.SetDefault(logger)

	return cfg, logger, nil
}
