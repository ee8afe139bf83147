// Package monitor serves one monitoring session per websocket connection.
package monitor

import (
	"context"
	"time"

	"github.com/splax/deploywatch/pkg/synthetic"
	"github.com/splax/deploywatch/pkg/telemetry"
)

// Source supplies the telemetry a session streams.
type Source interface {
	EnvironmentMetrics(ctx context.Context, env telemetry.Environment) (*telemetry.EnvironmentMetrics, error)
	FlatMetrics(ctx context.Context) (map[string]float64, error)
	Logs(ctx context.Context, limit int) ([]telemetry.LogEntry, error)
	ServiceGraph(ctx context.Context) ([]map[string]any, error)
	PipelineStatus(ctx context.Context) (telemetry.PipelineStatus, error)
	BuildStatus(ctx context.Context) (telemetry.BuildStatus, error)
	DeployStatus(ctx context.Context) (telemetry.DeployStatus, error)
	TargetHealth(ctx context.Context, targetGroupArn string) (telemetry.TargetHealth, error)
}

// ResourceNames labels the synthetic pipeline, build and deployment records.
type ResourceNames struct {
	Pipeline          string
	BuildProject      string
	DeployApplication string
	DeployGroup       string
}

// SyntheticSource serves generated data in the same shapes AWS produces.
type SyntheticSource struct {
	gen   *synthetic.Generator
	names ResourceNames
	now   func() time.Time
}

var _ Source = (*SyntheticSource)(nil)

// NewSyntheticSource wraps gen.
func NewSyntheticSource(gen *synthetic.Generator, names ResourceNames) *SyntheticSource {
	return &SyntheticSource{gen: gen, names: names, now: time.Now}
}

func (s *SyntheticSource) EnvironmentMetrics(_ context.Context, env telemetry.Environment) (*telemetry.EnvironmentMetrics, error) {
	return s.gen.EnvironmentMetrics(env), nil
}

func (s *SyntheticSource) FlatMetrics(context.Context) (map[string]float64, error) {
	return s.gen.FlatMetrics(), nil
}

func (s *SyntheticSource) Logs(_ context.Context, limit int) ([]telemetry.LogEntry, error) {
	return s.gen.Logs(limit), nil
}

func (s *SyntheticSource) ServiceGraph(context.Context) ([]map[string]any, error) {
	return s.gen.ServiceGraph(), nil
}

func (s *SyntheticSource) PipelineStatus(context.Context) (telemetry.PipelineStatus, error) {
	return telemetry.PipelineFromState(s.gen.PipelineStatus(s.names.Pipeline), s.now()), nil
}

func (s *SyntheticSource) BuildStatus(context.Context) (telemetry.BuildStatus, error) {
	return telemetry.BuildFromRecord(s.gen.BuildStatus(s.names.BuildProject), s.now()), nil
}

func (s *SyntheticSource) DeployStatus(context.Context) (telemetry.DeployStatus, error) {
	return telemetry.DeployFromInfo(s.gen.DeployStatus(s.names.DeployApplication, s.names.DeployGroup), s.now()), nil
}

func (s *SyntheticSource) TargetHealth(_ context.Context, targetGroupArn string) (telemetry.TargetHealth, error) {
	return telemetry.TargetHealthFrom(s.gen.TargetHealth(targetGroupArn), targetGroupArn, s.now()), nil
}
