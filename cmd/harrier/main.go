// Harrier - Indian income tax computation and advisory engine.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "harrier",
		Short: "Indian income tax computation and advisory engine",
		Long: "Harrier computes income tax under the old and new regimes, compares them,\n" +
			"audits filing readiness and recommends savings. Run 'harrier serve' for the HTTP API.",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "path to a YAML config file")

	root.AddCommand(serveCmd())
	root.AddCommand(computeCmd())
	root.AddCommand(assessCmd())
	root.AddCommand(tablesCmd())
	root.AddCommand(benchCmd())
	root.AddCommand(versionCmd())
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "harrier %s (commit %s, built %s)\n", Version, Commit, BuildDate)
			if bi, ok := debug.ReadBuildInfo(); ok && bi != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "go %s\n", bi.GoVersion)
			}
		},
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
