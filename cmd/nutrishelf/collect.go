package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/nutrishelf/backend/internal/app"
	"github.com/nutrishelf/backend/internal/usecase"
)

func newCollectCommand(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Walk the catalog and append every product observation to the record store",
		Long: `Walk every configured category page by page, fetch article details,
normalize them and append one observation per product to the record store.

An interrupted run is resumed from its last completed page unless --resume=false.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := app.Collect(cmd.Context(), c.cfg)
			if report != nil {
				printReport(cmd.OutOrStdout(), report)
			}
			if err != nil {
				return fmt.Errorf("collection aborted: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringSlice("categories", nil, "categories to walk (overrides catalog.categories)")
	cmd.Flags().Int("workers", 4, "categories walked concurrently")
	cmd.Flags().Bool("resume", true, "resume the latest unfinished run")
	cmd.Flags().Int("page-size", 50, "listing page size")
	c.bind(cmd, "catalog.categories", "categories")
	c.bind(cmd, "collector.workers", "workers")
	c.bind(cmd, "collector.resume", "resume")
	c.bind(cmd, "catalog.page_size", "page-size")
	return cmd
}

func printReport(w io.Writer, r *usecase.CollectReport) {
	fmt.Fprintf(w, "run:      %s", r.RunID)
	if r.Resumed {
		fmt.Fprint(w, " (resumed)")
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "pages:    %d\n", r.Pages)
	fmt.Fprintf(w, "stored:   %d\n", r.Stored)
	fmt.Fprintf(w, "rejected: %d\n", r.Rejected)
	fmt.Fprintf(w, "gaps:     %d\n", len(r.Gaps))
	for _, g := range r.Gaps {
		if g.ArticleID != "" {
			fmt.Fprintf(w, "  - %s %s page %d article %s: %s\n", g.Kind, g.Category, g.Page, g.ArticleID, g.Reason)
		} else {
			fmt.Fprintf(w, "  - %s %s page %d: %s\n", g.Kind, g.Category, g.Page, g.Reason)
		}
	}
	fmt.Fprintf(w, "duration: %s\n", r.Duration.Round(time.Millisecond))
	if r.Complete() {
		fmt.Fprintln(w, "status:   complete")
	} else {
		fmt.Fprintln(w, "status:   incomplete")
	}
}
