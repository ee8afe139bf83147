package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/splax/deploywatch/pkg/config"
	"github.com/splax/deploywatch/pkg/feed"
)

// replyKinds maps a command to the event kind the relay answers it with.
// Commands missing here get no direct reply.
var replyKinds = map[string]feed.Kind{
	feed.CommandFetchMetrics:        feed.KindMetrics,
	feed.CommandGetLogs:             feed.KindLog,
	feed.CommandGetXRayGraph:        feed.KindServiceGraph,
	feed.CommandGetPipelineStatus:   feed.KindPipelineStatus,
	feed.CommandGetCodeBuildStatus:  feed.KindCodeBuildStatus,
	feed.CommandGetCodeDeployStatus: feed.KindCodeDeployStatus,
	feed.CommandGetALBHealth:        feed.KindALBHealth,
}

type sendOptions struct {
	targetGroupArn string
	timeout        time.Duration
	format         string
}

func newSendCommand(cfg *config.WatchConfig) *cobra.Command {
	opts := sendOptions{timeout: 10 * time.Second}
	cmd := &cobra.Command{
		Use:   "send <command>",
		Short: "Send one command to the relay and print its reply",
		Long: "Send one command to the relay and print its reply.\n\nCommands: " +
			strings.Join([]string{
				feed.CommandFetchMetrics, feed.CommandGetLogs, feed.CommandGetXRayGraph,
				feed.CommandGetPipelineStatus, feed.CommandGetCodeBuildStatus,
				feed.CommandGetCodeDeployStatus, feed.CommandGetALBHealth,
				feed.CommandStartMonitoring, feed.CommandStopMonitoring,
				feed.CommandUseRealData, feed.CommandUseMockData,
			}, ", "),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSend(cmd.Context(), cmd.OutOrStdout(), *cfg, args[0], opts)
		},
	}
	cmd.Flags().StringVar(&opts.targetGroupArn, "target-group-arn", "", "target group for get_alb_health")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", opts.timeout, "how long to wait for the connection and reply")
	cmd.Flags().StringVar(&opts.format, "format", formatAuto, "output format: auto, text or json")
	return cmd
}

func runSend(parent context.Context, out io.Writer, cfg config.WatchConfig, command string, opts sendOptions) error {
	command = strings.TrimSpace(command)
	if command == feed.CommandGetALBHealth && strings.TrimSpace(opts.targetGroupArn) == "" {
		return fmt.Errorf("%s requires --target-group-arn", command)
	}
	r, err := newRenderer(out, opts.format)
	if err != nil {
		return err
	}

	ctx, stop := signalContext(parent)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	client, err := newFeedClient(cfg)
	if err != nil {
		return err
	}
	want, expectReply := replyKinds[command]
	var sub *feed.Subscription
	if expectReply {
		sub = client.Subscribe(16, want)
		defer sub.Close()
	}
	defer client.Disconnect()

	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connect %s: %w", cfg.URL, err)
	}
	var extra map[string]any
	if command == feed.CommandGetALBHealth {
		extra = map[string]any{"targetGroupArn": opts.targetGroupArn}
	}
	if err := client.Send(ctx, command, extra); err != nil {
		return err
	}
	if !expectReply {
		fmt.Fprintf(out, "sent %s\n", command)
		return nil
	}

	select {
	case e := <-sub.C:
		r.Render(e)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("no %s reply within %s", want, opts.timeout)
	}
}
