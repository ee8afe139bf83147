package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Commands understood by the relay.
const (
	CommandStartMonitoring     = "start_monitoring"
	CommandStopMonitoring      = "stop_monitoring"
	CommandFetchMetrics        = "fetch_metrics"
	CommandGetLogs             = "get_logs"
	CommandUseRealData         = "use_real_data"
	CommandUseMockData         = "use_mock_data"
	CommandGetXRayGraph        = "get_xray_graph"
	CommandGetPipelineStatus   = "get_pipeline_status"
	CommandGetCodeBuildStatus  = "get_codebuild_status"
	CommandGetCodeDeployStatus = "get_codedeploy_status"
	CommandGetALBHealth        = "get_alb_health"
)

// Send writes {"command": command, ...extra}. It returns ErrNotConnected when
// the transport is not open.
func (c *Client) Send(ctx context.Context, command string, extra map[string]any) error {
	command = strings.TrimSpace(command)
	if command == "" {
		return errors.New("command is required")
	}
	msg := make(map[string]any, len(extra)+1)
	for k, v := range extra {
		msg[k] = v
	}
	msg["command"] = command
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", command, err)
	}
	if err := c.write(ctx, payload); err != nil {
		if errors.Is(err, ErrNotConnected) {
			return err
		}
		return fmt.Errorf("feed: send %s: %w", command, err)
	}
	return nil
}

func (c *Client) StartMonitoring(ctx context.Context) error {
	return c.Send(ctx, CommandStartMonitoring, nil)
}

func (c *Client) StopMonitoring(ctx context.Context) error {
	return c.Send(ctx, CommandStopMonitoring, nil)
}

func (c *Client) FetchMetrics(ctx context.Context) error {
	return c.Send(ctx, CommandFetchMetrics, nil)
}

func (c *Client) GetLogs(ctx context.Context) error {
	return c.Send(ctx, CommandGetLogs, nil)
}

func (c *Client) UseRealData(ctx context.Context) error {
	return c.Send(ctx, CommandUseRealData, nil)
}

func (c *Client) UseMockData(ctx context.Context) error {
	return c.Send(ctx, CommandUseMockData, nil)
}

func (c *Client) GetXRayGraph(ctx context.Context) error {
	return c.Send(ctx, CommandGetXRayGraph, nil)
}

func (c *Client) GetPipelineStatus(ctx context.Context) error {
	return c.Send(ctx, CommandGetPipelineStatus, nil)
}

func (c *Client) GetCodeBuildStatus(ctx context.Context) error {
	return c.Send(ctx, CommandGetCodeBuildStatus, nil)
}

func (c *Client) GetCodeDeployStatus(ctx context.Context) error {
	return c.Send(ctx, CommandGetCodeDeployStatus, nil)
}

// GetALBHealth asks for the target health of one target group.
func (c *Client) GetALBHealth(ctx context.Context, targetGroupArn string) error {
	arn := strings.TrimSpace(targetGroupArn)
	if arn == "" {
		return errors.New("target group arn is required")
	}
	return c.Send(ctx, CommandGetALBHealth, map[string]any{"targetGroupArn": arn})
}

func modeCommand(mode Mode) string {
	if mode == ModeMock {
		return CommandUseMockData
	}
	return CommandUseRealData
}

// SetMode records the requested data mode and tells the relay when connected.
// Mock mode while disconnected starts the local fallback; live mode while
// connected stops it.
func (c *Client) SetMode(ctx context.Context, mode Mode) error {
	if mode != ModeLive && mode != ModeMock {
		return fmt.Errorf("unknown mode %q", mode)
	}
	c.mu.Lock()
	c.mode = mode
	connected := c.state == StateConnected
	switch {
	case mode == ModeMock && !connected:
		c.startFallbackLocked()
	case mode == ModeLive && connected:
		c.stopFallbackLocked()
	}
	c.mu.Unlock()

	if !connected {
		return nil
	}
	return c.Send(ctx, modeCommand(mode), nil)
}
