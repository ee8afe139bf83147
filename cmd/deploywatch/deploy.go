package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	apiclient "github.com/splax/deploywatch/pkg/api/client"
	"github.com/splax/deploywatch/pkg/config"
)

func newDeployCommand(cfg *config.WatchConfig) *cobra.Command {
	deploy := &cobra.Command{
		Use:   "deploy",
		Short: "Manage deployment sessions",
	}

	var (
		meta     []string
		metaJSON string
	)
	start := &cobra.Command{
		Use:   "start",
		Short: "Open a deployment session and announce it to every watcher",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			metadata, err := parseMetadata(metaJSON, meta)
			if err != nil {
				return err
			}
			client, err := apiclient.New(cfg.APIBaseURL)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(contextOrBackground(cmd.Context()), 15*time.Second)
			defer cancel()
			session, err := client.StartDeployment(ctx, metadata)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "session %s %s at %s\n", session.SessionID, session.Status, session.StartedAt)
			return nil
		},
	}
	start.Flags().StringArrayVar(&meta, "meta", nil, "metadata key=value (repeatable)")
	start.Flags().StringVar(&metaJSON, "metadata", "", "metadata as a JSON object")
	deploy.AddCommand(start)
	return deploy
}

func newHealthCommand(cfg *config.WatchConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show relay component health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := apiclient.New(cfg.APIBaseURL)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(contextOrBackground(cmd.Context()), 10*time.Second)
			defer cancel()
			h, err := client.Health(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "status: %s\nsource: %s\nclients: %d\n", h.Status, h.Source, h.Clients)
			for name, state := range h.Components {
				fmt.Fprintf(out, "%s: %s\n", name, state)
			}
			return nil
		},
	}
}

// parseMetadata merges a JSON object with key=value pairs. Pairs win.
func parseMetadata(raw string, pairs []string) (map[string]any, error) {
	metadata := map[string]any{}
	if strings.TrimSpace(raw) != "" {
		if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
			return nil, fmt.Errorf("--metadata must be a JSON object: %w", err)
		}
	}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --meta %q, want key=value", pair)
		}
		metadata[key] = value
	}
	return metadata, nil
}

func contextOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
