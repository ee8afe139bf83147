package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/splax/deploywatch/pkg/config"
)

var buildVersion = "dev"

func main() {
	if err := newRootCommand(config.LoadWatchConfig()).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand(cfg config.WatchConfig) *cobra.Command {
	root := &cobra.Command{
		Use:           "deploywatch",
		Short:         "Watch blue/green deployment telemetry",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfg.URL, "url", cfg.URL, "relay websocket URL (WS_URL)")
	root.PersistentFlags().StringVar(&cfg.APIBaseURL, "api", cfg.APIBaseURL, "relay HTTP base URL (API_BASE_URL)")
	root.PersistentFlags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "feed client log level")

	root.AddCommand(
		newWatchCommand(&cfg),
		newSendCommand(&cfg),
		newDeployCommand(&cfg),
		newHealthCommand(&cfg),
		&cobra.Command{
			Use:   "version",
			Short: "Print the CLI version",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "deploywatch %s\n", buildVersion)
			},
		},
	)
	return root
}
