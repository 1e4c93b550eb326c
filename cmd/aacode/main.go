// Package main provides the aacode CLI: an autonomous coding agent that
// works a task to completion inside a project directory.
//
// # Basic Usage
//
// Run a task:
//
//	aacode run "给 parser 包补充错误处理" --workdir ./myproject
//
// List past sessions:
//
//	aacode sessions --workdir ./myproject
//
// # Environment Variables
//
//   - OPENAI_API_KEY: OpenAI API key
//   - OPENAI_BASE_URL: optional OpenAI-compatible endpoint override
//   - ANTHROPIC_API_KEY: Anthropic API key
//
// A .env file in the working directory is loaded before these are read.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "aacode",
		Short: "aacode - autonomous coding agent",
		Long: `aacode runs a coding task to completion: it reasons, executes tools
(shell, file I/O, search) inside the working directory, and keeps its
context within budget through archival and compaction.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildRunCmd(),
		buildSessionsCmd(),
		buildToolsCmd(),
	)
	return rootCmd
}
