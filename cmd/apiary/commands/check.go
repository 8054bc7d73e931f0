package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/apiary/apiary/pkg/policy"
)

func newCheckCommand() *cobra.Command {
	var (
		parallel    int
		policyPaths []string
	)

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check resolved deployment configurations against policies",
		Long: `Resolve the hive and evaluate every node's deployment configuration
against the policy set.

The built-in policies cover key file modes and deployment safety;
additional Rego policies can be loaded from files or directories.
Error and critical violations fail the check; warnings are reported
but do not.`,
		Example: `  # Check against the built-in policies
  apiary check

  # Check with additional policies
  apiary check --policy ./policies`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			lh, err := loadHive(ctx)
			if err != nil {
				return err
			}

			engine, err := policy.NewEngine(commandLogger())
			if err != nil {
				return err
			}
			if len(policyPaths) > 0 {
				if err := engine.LoadPolicies(ctx, policyPaths); err != nil {
					return err
				}
			}

			rh, err := lh.newNodeResolver().ResolveAll(ctx, lh.hive, parallel)
			if err != nil {
				return err
			}
			if err := reportNodeErrors(rh.Errors); err != nil {
				return err
			}

			result, err := engine.EvaluateHive(ctx, rh)
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				if err := enc.Encode(result); err != nil {
					return err
				}
			} else {
				for _, v := range result.Violations {
					fmt.Printf("%s\t%s\t%s\t%s\n", v.Severity, v.Policy, v.Node, v.Message)
				}
				for _, w := range result.Warnings {
					fmt.Printf("warning\t%s\n", w)
				}
			}

			if !result.Allowed {
				return fmt.Errorf("policy check failed with %d violations", len(result.Violations))
			}

			log.Info().
				Str("hive", lh.hive.Meta.Name).
				Int("nodes", len(rh.Nodes)).
				Int("violations", len(result.Violations)).
				Msg("Policy check passed")

			return nil
		},
	}

	cmd.Flags().IntVar(&parallel, "parallel", 0, "maximum nodes resolved concurrently (0 = number of CPUs)")
	cmd.Flags().StringSliceVar(&policyPaths, "policy", nil, "additional Rego policy files or directories")

	return cmd
}
