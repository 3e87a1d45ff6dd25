package main

import (
	"github.com/spf13/cobra"

	"github.com/ericfisherdev/gitwatch/internal/config"
	"github.com/ericfisherdev/gitwatch/internal/logger"
)

func newRootCommand() *cobra.Command {
	var configFile string

	rootCmd := &cobra.Command{
		Use:   "gitwatch",
		Short: "Follow a GitHub repository's events through webhooks or polling",
		Long: `gitwatch receives a repository's events from GitHub webhooks and falls back
to polling the Events API whenever the webhook path is missing or failing.
API calls rotate through a pool of tokens and retry transient failures.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to a config file (YAML, TOML or JSON)")

	load := func() (*config.Config, error) {
		cfg, err := config.Load(configFile)
		if err != nil {
			return nil, err
		}
		logger.Init(cfg.Logging)
		return cfg, nil
	}

	rootCmd.AddCommand(newServeCommand(load))
	rootCmd.AddCommand(newCredentialsCommand(load))

	return rootCmd
}
