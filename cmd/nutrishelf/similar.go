package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nutrishelf/backend/internal/app"
	"github.com/nutrishelf/backend/internal/domain"
)

// similarQuerier is the part of the similarity service the loop needs
type similarQuerier interface {
	Similar(ctx context.Context, productID string, k int) (*domain.SimilarityResult, error)
	DefaultK() int
}

func newSimilarCommand(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "similar [product-id]",
		Short: "Find nutritionally similar products",
		Long: `With a product id, print its nearest neighbours and exit.
Without one, read "<product-id> [k]" lines from stdin until "quit".`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, cache, err := app.NewSimilarityService(cmd.Context(), c.cfg)
			if err != nil {
				return err
			}
			defer cache.Close()

			status := svc.Status()
			if !status.Complete {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: dataset has %d collection gaps\n", status.Gaps)
			}

			if len(args) == 1 {
				return querySingle(cmd, svc, args[0])
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%d products indexed\n", status.Products)
			return queryLoop(cmd.Context(), svc, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().IntP("k", "k", 0, "number of similar products (default similarity.top_k)")
	return cmd
}

// querySingle answers one query for productID. An explicit -k is passed
// through as given, so -k 0 is rejected like any other invalid k.
func querySingle(cmd *cobra.Command, q similarQuerier, productID string) error {
	k := q.DefaultK()
	if cmd.Flags().Changed("k") {
		var err error
		if k, err = cmd.Flags().GetInt("k"); err != nil {
			return err
		}
	}

	result, err := q.Similar(cmd.Context(), productID, k)
	if err != nil {
		return err
	}
	printSimilar(cmd.OutOrStdout(), result)
	return nil
}

// queryLoop answers one query per input line until quit, EOF or
// cancellation. Query errors are printed and the loop continues.
func queryLoop(ctx context.Context, q similarQuerier, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "product id (or 'quit'): ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if cmd := strings.ToLower(fields[0]); cmd == "quit" || cmd == "exit" {
			return nil
		}

		k := q.DefaultK()
		if len(fields) > 1 {
			n, err := strconv.Atoi(fields[1])
			if err != nil {
				fmt.Fprintf(out, "k must be an integer, got %q\n", fields[1])
				continue
			}
			k = n
		}

		result, err := q.Similar(ctx, fields[0], k)
		switch {
		case err == nil:
			printSimilar(out, result)
		case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrInvalidQuery):
			fmt.Fprintln(out, err)
		default:
			return err
		}
		fmt.Fprintln(out, strings.Repeat("-", 20))
	}
}

func printSimilar(w io.Writer, r *domain.SimilarityResult) {
	if r.Name != "" {
		fmt.Fprintf(w, "top %d similar to %s (%s):\n", r.K, r.ProductID, r.Name)
	} else {
		fmt.Fprintf(w, "top %d similar to %s:\n", r.K, r.ProductID)
	}
	if len(r.Results) == 0 {
		fmt.Fprintln(w, "  no other products indexed")
		return
	}
	for i, p := range r.Results {
		fmt.Fprintf(w, "%3d. %-12s %.4f  %s\n", i+1, p.ProductID, p.Score, p.Name)
	}
}
