package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/splax/deploywatch/pkg/config"
	"github.com/splax/deploywatch/pkg/feed"
	"github.com/splax/deploywatch/pkg/logger"
)

type watchOptions struct {
	mock    bool
	monitor bool
	poll    time.Duration
	format  string
}

func newWatchCommand(cfg *config.WatchConfig) *cobra.Command {
	opts := watchOptions{monitor: true}
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream blue/green metrics, logs and status frames",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.poll == 0 {
				opts.poll = cfg.PollInterval
			}
			return runWatch(cmd.Context(), cmd.OutOrStdout(), *cfg, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.mock, "mock", false, "ask the relay for synthetic data")
	cmd.Flags().BoolVar(&opts.monitor, "monitor", true, "send start_monitoring once connected")
	cmd.Flags().DurationVar(&opts.poll, "poll", 0, "metrics poll interval, negative disables (default POLL_INTERVAL_MS)")
	cmd.Flags().StringVar(&opts.format, "format", formatAuto, "output format: auto, text or json")
	return cmd
}

func newFeedClient(cfg config.WatchConfig) (*feed.Client, error) {
	log := logger.NewWithOptions("deploywatch", logger.Options{
		Level:  logger.ParseLevel(cfg.LogLevel),
		Writer: os.Stderr,
	})
	return feed.New(cfg.URL,
		feed.WithPollInterval(cfg.PollInterval),
		feed.WithConnectFallback(cfg.ConnectFallback),
		feed.WithReconnectDelay(cfg.ReconnectDelay),
		feed.WithLogger(log),
	)
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func runWatch(parent context.Context, out io.Writer, cfg config.WatchConfig, opts watchOptions) error {
	ctx, stop := signalContext(parent)
	defer stop()

	r, err := newRenderer(out, opts.format)
	if err != nil {
		return err
	}
	client, err := newFeedClient(cfg)
	if err != nil {
		return err
	}
	sub := client.Subscribe(128)
	defer sub.Close()
	defer client.Disconnect()

	if opts.mock {
		if err := client.SetMode(ctx, feed.ModeMock); err != nil {
			return err
		}
	}
	// A failed first dial leaves reconnects scheduled and the fallback
	// armed. Its Error event is rendered below.
	if err := client.Connect(ctx); err != nil && ctx.Err() != nil {
		return nil
	}
	if opts.poll > 0 {
		client.StartPolling(opts.poll)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case e := <-sub.C:
			if _, ok := e.(feed.Connected); ok && opts.monitor {
				if err := client.StartMonitoring(ctx); err != nil && !errors.Is(err, feed.ErrNotConnected) {
					r.Render(feed.Error{At: time.Now(), Err: fmt.Errorf("start monitoring: %w", err)})
				}
			}
			r.Render(e)
		}
	}
}
