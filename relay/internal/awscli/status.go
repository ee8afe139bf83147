package awscli

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/splax/deploywatch/pkg/telemetry"
)

const (
	logsWindow  = 5 * time.Minute
	graphWindow = 30 * time.Minute
)

type logEvent struct {
	Timestamp int64  `json:"timestamp"`
	Message   string `json:"message"`
}

// Logs returns up to limit events from the configured log group over the
// last five minutes.
func (s *Source) Logs(ctx context.Context, limit int) ([]telemetry.LogEntry, error) {
	if s.cfg.LogGroupName == "" {
		return nil, ErrNotConfigured
	}
	if limit <= 0 {
		limit = 20
	}
	return cached(s, "logs:"+strconv.Itoa(limit), func() ([]telemetry.LogEntry, error) {
		start := s.now().Add(-logsWindow).UnixMilli()
		var out struct {
			Events []logEvent `json:"events"`
		}
		err := s.run(ctx, &out, "logs", "filter-log-events",
			"--log-group-name", s.cfg.LogGroupName,
			"--start-time", strconv.FormatInt(start, 10),
			"--limit", strconv.Itoa(limit),
		)
		if err != nil {
			return nil, err
		}
		entries := make([]telemetry.LogEntry, 0, len(out.Events))
		for _, ev := range out.Events {
			entries = append(entries, telemetry.LogEntry{
				Timestamp: telemetry.FormatTimestamp(time.UnixMilli(ev.Timestamp)),
				Type:      "info",
				Message:   ev.Message,
			})
		}
		return entries, nil
	})
}

// ServiceGraph returns the raw X-Ray Services list for the last thirty minutes.
func (s *Source) ServiceGraph(ctx context.Context) ([]map[string]any, error) {
	return cached(s, "xray:graph", func() ([]map[string]any, error) {
		now := s.now()
		var out struct {
			Services []map[string]any `json:"Services"`
		}
		err := s.run(ctx, &out, "xray", "get-service-graph",
			"--start-time", strconv.FormatInt(now.Add(-graphWindow).Unix(), 10),
			"--end-time", strconv.FormatInt(now.Unix(), 10),
		)
		if err != nil {
			return nil, err
		}
		if out.Services == nil {
			out.Services = []map[string]any{}
		}
		return out.Services, nil
	})
}

// PipelineStatus reports the stage states of the configured pipeline.
func (s *Source) PipelineStatus(ctx context.Context) (telemetry.PipelineStatus, error) {
	if s.cfg.PipelineName == "" {
		return telemetry.PipelineStatus{}, ErrNotConfigured
	}
	return cached(s, "codepipeline:state", func() (telemetry.PipelineStatus, error) {
		var out map[string]any
		if err := s.run(ctx, &out, "codepipeline", "get-pipeline-state", "--name", s.cfg.PipelineName); err != nil {
			return telemetry.PipelineStatus{}, err
		}
		return telemetry.PipelineFromState(out, s.now()), nil
	})
}

// BuildStatus reports the newest build of the configured project.
func (s *Source) BuildStatus(ctx context.Context) (telemetry.BuildStatus, error) {
	if s.cfg.BuildProject == "" {
		return telemetry.BuildStatus{}, ErrNotConfigured
	}
	return cached(s, "codebuild:latest", func() (telemetry.BuildStatus, error) {
		var ids struct {
			IDs []string `json:"ids"`
		}
		if err := s.run(ctx, &ids, "codebuild", "list-builds-for-project", "--project-name", s.cfg.BuildProject, "--max-items", "1"); err != nil {
			return telemetry.BuildStatus{}, err
		}
		if len(ids.IDs) == 0 {
			return telemetry.BuildStatus{}, fmt.Errorf("builds for %s: %w", s.cfg.BuildProject, ErrNotFound)
		}
		var builds struct {
			Builds []map[string]any `json:"builds"`
		}
		if err := s.run(ctx, &builds, "codebuild", "batch-get-builds", "--ids", ids.IDs[0]); err != nil {
			return telemetry.BuildStatus{}, err
		}
		if len(builds.Builds) == 0 {
			return telemetry.BuildStatus{}, fmt.Errorf("build %s: %w", ids.IDs[0], ErrNotFound)
		}
		return telemetry.BuildFromRecord(builds.Builds[0], s.now()), nil
	})
}

// DeployStatus reports the newest deployment of the configured group.
func (s *Source) DeployStatus(ctx context.Context) (telemetry.DeployStatus, error) {
	if s.cfg.DeployApplication == "" || s.cfg.DeployGroup == "" {
		return telemetry.DeployStatus{}, ErrNotConfigured
	}
	return cached(s, "codedeploy:latest", func() (telemetry.DeployStatus, error) {
		var list struct {
			Deployments []string `json:"deployments"`
		}
		err := s.run(ctx, &list, "deploy", "list-deployments",
			"--application-name", s.cfg.DeployApplication,
			"--deployment-group-name", s.cfg.DeployGroup,
			"--max-items", "1",
		)
		if err != nil {
			return telemetry.DeployStatus{}, err
		}
		if len(list.Deployments) == 0 {
			return telemetry.DeployStatus{}, fmt.Errorf("deployments for %s: %w", s.cfg.DeployGroup, ErrNotFound)
		}
		var detail struct {
			DeploymentInfo map[string]any `json:"deploymentInfo"`
		}
		if err := s.run(ctx, &detail, "deploy", "get-deployment", "--deployment-id", list.Deployments[0]); err != nil {
			return telemetry.DeployStatus{}, err
		}
		if detail.DeploymentInfo == nil {
			return telemetry.DeployStatus{}, fmt.Errorf("deployment %s: %w", list.Deployments[0], ErrNotFound)
		}
		return telemetry.DeployFromInfo(detail.DeploymentInfo, s.now()), nil
	})
}

// TargetHealth describes the targets of targetGroupArn.
func (s *Source) TargetHealth(ctx context.Context, targetGroupArn string) (telemetry.TargetHealth, error) {
	if targetGroupArn == "" {
		return telemetry.TargetHealth{}, ErrNotConfigured
	}
	return cached(s, "elbv2:"+targetGroupArn, func() (telemetry.TargetHealth, error) {
		var out map[string]any
		if err := s.run(ctx, &out, "elbv2", "describe-target-health", "--target-group-arn", targetGroupArn); err != nil {
			return telemetry.TargetHealth{}, err
		}
		return telemetry.TargetHealthFrom(out, targetGroupArn, s.now()), nil
	})
}
