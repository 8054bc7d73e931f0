package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/apiary/apiary/pkg/hive"
)

// nodeSummary is the per-node slice of the inspect output.
type nodeSummary struct {
	Name       string   `json:"name"`
	TargetHost string   `json:"targetHost"`
	TargetUser string   `json:"targetUser"`
	Tags       []string `json:"tags,omitempty"`
	Artifact   string   `json:"artifact,omitempty"`
	Warnings   []string `json:"warnings,omitempty"`
}

// hiveSummary is the inspect output document.
type hiveSummary struct {
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Toolchain   string        `json:"toolchain,omitempty"`
	Overlays    []string      `json:"overlays,omitempty"`
	Options     []string      `json:"options"`
	Nodes       []nodeSummary `json:"nodes"`
	Failed      []string      `json:"failed,omitempty"`
}

func newInspectCommand() *cobra.Command {
	var parallel int

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show the resolved structure of the hive",
		Long: `Resolve the hive and show its structure: metadata, the effective
package set, the option schema, and each node's resolved deployment
configuration.

Nodes that fail to resolve are listed without aborting the inspection.`,
		Example: `  # Inspect the hive in the current directory
  apiary inspect

  # Machine-readable output
  apiary inspect --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			lh, err := loadHive(ctx)
			if err != nil {
				return err
			}

			logger := commandLogger()
			packSets := hive.NewPackageSetResolver(lh.parser.PathLoader(), logger).WithMetrics(metrics)
			resolver := hive.NewNodeResolver(packSets, nil, logger, metrics)

			rh, err := resolver.ResolveAll(ctx, lh.hive, parallel)
			if err != nil {
				return err
			}

			// The hive-wide package set may itself fail to resolve; the
			// inspection still reports everything else.
			pkgSet, _ := packSets.Resolve(ctx, lh.hive.Meta.PackageSet, hive.MetaKey+".nixpkgs")

			summary := hive.Introspect(rh, pkgSet, func(v hive.View) hiveSummary {
				s := hiveSummary{
					Name:        v.Meta.Name,
					Description: v.Meta.Description,
					Options:     v.Schema.Paths(),
				}
				if v.PackageSet != nil {
					s.Toolchain = v.PackageSet.Toolchain
					s.Overlays = v.PackageSet.Overlays
				}
				for _, name := range sortedKeys(v.Nodes) {
					node := v.Nodes[name]
					s.Nodes = append(s.Nodes, nodeSummary{
						Name:       name,
						TargetHost: node.Deployment.TargetHost,
						TargetUser: node.Deployment.TargetUser,
						Tags:       node.Deployment.Tags,
						Artifact:   node.BuildArtifact.Path,
						Warnings:   node.Warnings,
					})
				}
				return s
			})
			summary.Failed = sortedKeys(rh.Errors)

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(summary)
			}

			fmt.Printf("hive: %s\n", summary.Name)
			if summary.Description != "" {
				fmt.Printf("description: %s\n", summary.Description)
			}
			if summary.Toolchain != "" {
				fmt.Printf("toolchain: %s\n", summary.Toolchain)
			}
			for _, node := range summary.Nodes {
				fmt.Printf("  %s\thost=%s user=%s tags=%v\n", node.Name, node.TargetHost, node.TargetUser, node.Tags)
			}
			for _, name := range summary.Failed {
				fmt.Printf("  %s\tFAILED: %v\n", name, rh.Errors[name])
			}

			return nil
		},
	}

	cmd.Flags().IntVar(&parallel, "parallel", 0, "maximum nodes resolved concurrently (0 = number of CPUs)")

	return cmd
}
