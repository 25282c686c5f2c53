package main

import (
	"github.com/spf13/cobra"

	"github.com/nutrishelf/backend/internal/app"
)

func newServeCommand(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve similarity queries over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reload, err := cmd.Flags().GetDuration("reload")
			if err != nil {
				return err
			}
			return app.Serve(cmd.Context(), c.cfg, reload)
		},
	}

	cmd.Flags().String("port", "8080", "listen port")
	cmd.Flags().Duration("reload", 0, "re-read the dataset at this interval (0 disables)")
	c.bind(cmd, "server.port", "port")
	return cmd
}
