package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nutrishelf/backend/config"
	"github.com/nutrishelf/backend/internal/app"
)

// cli carries state shared by every subcommand
type cli struct {
	v          *viper.Viper
	configFile string
	cfg        *config.Config
}

func newRootCommand() *cobra.Command {
	c := &cli{v: viper.New()}

	root := &cobra.Command{
		Use:          "nutrishelf",
		Short:        "Collect the Makro catalog and search for nutritionally similar products",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadWith(c.v, c.configFile)
			if err != nil {
				return err
			}
			c.cfg = cfg
			app.InitLogging(cfg)
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&c.configFile, "config", "", "config file (default: ./config.yaml, ./config/config.yaml)")
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	flags.String("log-format", "console", "log format: console or json")
	flags.String("store", "jsonl", "record store backend: jsonl or sqlite")
	flags.String("dataset", "results/products.jsonl", "consolidated dataset path")
	c.bind(root, "log.level", "log-level")
	c.bind(root, "log.format", "log-format")
	c.bind(root, "store.type", "store")
	c.bind(root, "dataset.path", "dataset")

	root.AddCommand(
		newCollectCommand(c),
		newMergeCommand(c),
		newSimilarCommand(c),
		newServeCommand(c),
	)
	return root
}

// bind maps a flag of cmd onto a viper key. Persistent flags are looked up
// first so the same helper serves root and subcommands.
func (c *cli) bind(cmd *cobra.Command, key, flag string) {
	f := cmd.PersistentFlags().Lookup(flag)
	if f == nil {
		f = cmd.Flags().Lookup(flag)
	}
	if f == nil {
		panic(fmt.Sprintf("unknown flag %q", flag))
	}
	if err := c.v.BindPFlag(key, f); err != nil {
		panic(err)
	}
}
