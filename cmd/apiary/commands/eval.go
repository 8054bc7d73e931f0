package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newEvalCommand() *cobra.Command {
	var (
		parallel int
		dbPath   string
	)

	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Resolve every node of the hive",
		Long: `Resolve every node of the hive into its deployment configuration and
build artifact reference.

Nodes resolve independently across a bounded worker pool: one node's
failure never prevents the others from resolving. The command fails when
any node fails, after reporting every per-node error.`,
		Example: `  # Resolve the hive in the current directory
  apiary eval

  # Resolve a specific hive file with bounded parallelism
  apiary eval -f hive.cue --parallel 4

  # Record the evaluation in a history database
  apiary eval --db apiary.db`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			lh, err := loadHive(ctx)
			if err != nil {
				return err
			}

			recorder, store, err := openRecorder(ctx, dbPath)
			if err != nil {
				return err
			}
			if store != nil {
				defer store.Close()
			}

			log.Info().
				Str("hive", lh.hive.Meta.Name).
				Int("nodes", len(lh.hive.Nodes)).
				Msg("Resolving hive")

			rh, err := lh.newNodeResolver().ResolveAll(ctx, lh.hive, parallel)
			if err != nil {
				return err
			}

			if evalID := recordEvaluation(ctx, recorder, lh, rh); evalID != "" {
				log.Info().Str("evaluation", evalID).Msg("Evaluation recorded")
			}

			if jsonOutput {
				out := map[string]interface{}{
					"hive":      lh.hive.Meta.Name,
					"toplevels": rh.Toplevels(),
					"deployment": map[string]interface{}{
						"nodes": rh.DeploymentConfig(),
					},
				}
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				if err := enc.Encode(out); err != nil {
					return err
				}
			} else {
				for _, name := range sortedKeys(rh.Nodes) {
					node := rh.Nodes[name]
					fmt.Printf("%s\t%s\t%s\n", name, node.Deployment.TargetHost, node.BuildArtifact.Path)
				}
			}

			return reportNodeErrors(rh.Errors)
		},
	}

	cmd.Flags().IntVar(&parallel, "parallel", 0, "maximum nodes resolved concurrently (0 = number of CPUs)")
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite evaluation history database path")

	return cmd
}

// sortedKeys returns the map keys in sorted order.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// reportNodeErrors logs every per-node failure and returns a summary error
// when any node failed.
func reportNodeErrors(errs map[string]error) error {
	if len(errs) == 0 {
		return nil
	}

	for _, name := range sortedKeys(errs) {
		log.Error().Err(errs[name]).Str("node", name).Msg("Node resolution failed")
	}

	return fmt.Errorf("%d of the hive's nodes failed to resolve", len(errs))
}
