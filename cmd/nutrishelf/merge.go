package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nutrishelf/backend/internal/app"
)

func newMergeCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "merge",
		Short: "Consolidate stored observations into one record per product",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			manifest, err := app.Merge(cmd.Context(), c.cfg)
			if err != nil {
				return fmt.Errorf("merge failed: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "wrote %d products from %d observations to %s\n",
				manifest.Records, manifest.Observations, c.cfg.Dataset.Path)
			fmt.Fprintf(out, "fingerprint %s, complete=%t\n", manifest.Fingerprint, manifest.Complete)
			return nil
		},
	}
}
