// Package main is the CLI entry point for the ikigai agent-runtime client:
// a single root command that launches the interactive (or --headless) TTY
// client, plus doctor and migrate subcommands for operational checks,
// grounded on the teacher's cmd/nexus/main.go shape (buildRootCmd split
// from main for testability, build-info ldflags vars, persistent --config
// flag).
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/mgreenly/ikigai-sub009/internal/ikerr"
)

// Build information, populated by ldflags during release builds:
//
//	go build -ldflags "-X main.version=v0.1.0 -X main.commit=$(git rev-parse HEAD)"
var (
	version = "dev"
	commit  = "none"
)

func main() {
	defer recoverOOM()

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("ikigai: command failed", "error", err)
		os.Exit(1)
	}
}

// recoverOOM implements spec.md §7's OOM handling: an out-of-memory
// condition panics and is recovered only here, at the top of main, to print
// a diagnostic and exit non-zero — never recovered mid-stack, since any
// intermediate frame recovering it would leave the agent runtime's
// in-memory invariants (per-agent locks, tool-worker slots) in an unknown
// state. The event log is crash-safe, so a restart replays to the last
// consistent state.
func recoverOOM() {
	if r := recover(); r != nil {
		fmt.Fprintf(os.Stderr, "ikigai: fatal: %v\n", r)
		os.Exit(2)
	}
}

// buildRootCmd assembles the command tree: the root command itself runs
// the interactive client (spec.md §6 CLI: "ikigai" launches the TTY
// client, "ikigai --headless" launches the same client with no TTY
// attached), with doctor and migrate as operational subcommands.
func buildRootCmd() *cobra.Command {
	var (
		configPath string
		headless   bool
		debug      bool
	)

	cmd := &cobra.Command{
		Use:     "ikigai",
		Short:   "Ikigai - a terminal multi-agent LLM orchestration client",
		Version: fmt.Sprintf("%s (commit %s)", version, commit),
		Long: `Ikigai runs one or more agents, each holding a conversation with an LLM
provider, able to call tools and fork into child agents. Agent state is
persisted to an event log so sessions survive restarts.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, headless, debug)
		},
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML configuration file")
	cmd.Flags().BoolVar(&headless, "headless", false, "run with no TTY attached (control socket only)")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "enable debug-level logging")

	cmd.AddCommand(buildDoctorCmd(&configPath), buildMigrateCmd(&configPath))
	return cmd
}

// fatalConfig wraps a config-loading error the way every subcommand reports
// its own startup failures.
func fatalConfig(err error) error {
	return ikerr.Wrap(ikerr.IO, "main", "load config: %v", err)
}
