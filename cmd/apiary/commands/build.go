package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/apiary/apiary/pkg/hive"
)

func newBuildCommand() *cobra.Command {
	var (
		parallel int
		dbPath   string
	)

	cmd := &cobra.Command{
		Use:   "build [node...]",
		Short: "Build a named selection of nodes",
		Long: `Resolve the hive and package the artifacts of the named nodes into a
selection bundle.

Without arguments every node is selected. Names not defined in the hive
are silently skipped; selecting a node whose resolution failed is an
error, since the bundle must never reference an artifact that was not
produced.`,
		Example: `  # Build every node
  apiary build

  # Build a subset
  apiary build web db

  # Build and record the selection
  apiary build --db apiary.db web`,
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

			names := args
			if len(names) == 0 {
				names = lh.hive.NodeNames()
			}

			log.Info().
				Str("hive", lh.hive.Meta.Name).
				Strs("selection", names).
				Msg("Building selection")

			rh, err := lh.newNodeResolver().ResolveAll(ctx, lh.hive, parallel)
			if err != nil {
				return err
			}

			evalID := recordEvaluation(ctx, recorder, lh, rh)

			selection, err := hive.BuildSelection(rh, names)
			if err != nil {
				if reportErr := reportNodeErrors(rh.Errors); reportErr != nil {
					log.Error().Err(reportErr).Msg("Selection aborted")
				}
				return err
			}

			if recorder != nil && evalID != "" {
				if err := recorder.RecordSelection(ctx, evalID, selection); err != nil {
					log.Warn().Err(err).Msg("Failed to record selection")
				}
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				if err := enc.Encode(selection); err != nil {
					return err
				}
			} else {
				fmt.Printf("bundle: %s\n", selection.Bundle)
				for _, name := range sortedKeys(selection.Artifacts) {
					fmt.Printf("%s\t%s\n", name, selection.Artifacts[name])
				}
			}

			return nil
		},
	}

	cmd.Flags().IntVar(&parallel, "parallel", 0, "maximum nodes resolved concurrently (0 = number of CPUs)")
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite evaluation history database path")

	return cmd
}
