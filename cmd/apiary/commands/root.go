package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	hivePath    string
	verbose     bool
	jsonOutput  bool
	metricsAddr string
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "apiary",
		Short: "Apiary - Fleet Configuration Compiler",
		Long: `Apiary compiles a declarative hive description into per-node build
artifacts and deployment configurations.

Features:
  - Typed hive descriptions via CUE
  - Package set constructors via Starlark
  - Layered configuration merge with a typed option schema
  - Parallel per-node resolution with isolated failures
  - Policy checks via OPA/Rego
  - Evaluation history recorded in SQLite`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initMetrics()
		},
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&hivePath, "hive", "f", ".", "hive file or directory")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-listen", "", "serve Prometheus metrics on this address while running")

	rootCmd.AddCommand(newEvalCommand())
	rootCmd.AddCommand(newBuildCommand())
	rootCmd.AddCommand(newInspectCommand())
	rootCmd.AddCommand(newCheckCommand())

	return rootCmd
}
