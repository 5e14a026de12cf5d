// Package main is the aof CLI: serve runs the gateway process, run
// executes a single agent or flow, validate checks config and resources.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/aof-dev/aof/internal/errs"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var configPath string

func main() {
	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(exitCode(err))
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "aof",
		Short:        "aof - agentic operations framework",
		Long:         "aof routes platform events and schedules to LLM-backed agents,\nfleets, and flows, with tool execution and per-platform safety policies.",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to the configuration file (default aof.yaml if present)")

	rootCmd.AddCommand(
		buildServeCmd(),
		buildRunCmd(),
		buildValidateCmd(),
	)
	return rootCmd
}

// resolveConfigPath falls back to aof.yaml in the working directory.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	if _, err := os.Stat("aof.yaml"); err == nil {
		return "aof.yaml"
	}
	return ""
}

// exitCode maps the error taxonomy onto process exit codes.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var tagged *errs.Error
	if !errors.As(err, &tagged) {
		return 1
	}
	switch tagged.Kind {
	case errs.KindConfig, errs.KindValidation:
		return 2
	case errs.KindAuth:
		return 3
	case errs.KindTimeout:
		return 4
	case errs.KindCancelled:
		return 130
	default:
		return 1
	}
}
