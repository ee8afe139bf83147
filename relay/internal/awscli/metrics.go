package awscli

import (
	"context"
	"encoding/json"
	"math"
	"strings"
	"time"

	"github.com/splax/deploywatch/pkg/telemetry"
)

const (
	environmentWindow = 5 * time.Minute
	flatWindow        = 2 * time.Minute
)

type dimension struct {
	Name  string `json:"Name"`
	Value string `json:"Value"`
}

type metric struct {
	Namespace  string      `json:"Namespace"`
	MetricName string      `json:"MetricName"`
	Dimensions []dimension `json:"Dimensions"`
}

type metricStat struct {
	Metric metric `json:"Metric"`
	Period int    `json:"Period"`
	Stat   string `json:"Stat"`
}

type metricDataQuery struct {
	ID         string     `json:"Id"`
	Label      string     `json:"Label,omitempty"`
	MetricStat metricStat `json:"MetricStat"`
}

type metricDataResult struct {
	ID     string    `json:"Id"`
	Label  string    `json:"Label"`
	Values []float64 `json:"Values"`
}

type metricDataOutput struct {
	MetricDataResults []metricDataResult `json:"MetricDataResults"`
}

// albDimension turns an ELBv2 ARN into the value CloudWatch expects, e.g.
// "targetgroup/blue-tg/7247c5293ea8d7f0" or "app/my-alb/df2c09c406bc14b1".
func albDimension(arn string) string {
	parts := strings.Split(arn, ":")
	if len(parts) < 6 || parts[5] == "" {
		return ""
	}
	resource := strings.Join(parts[5:], ":")
	return strings.TrimPrefix(resource, "loadbalancer/")
}

func (s *Source) service(env telemetry.Environment) (string, string) {
	switch env {
	case telemetry.Blue:
		return s.cfg.ServiceBlue, s.cfg.TargetGroupBlue
	case telemetry.Green:
		return s.cfg.ServiceGreen, s.cfg.TargetGroupGreen
	default:
		return "", ""
	}
}

func (s *Source) period() int {
	return int(s.cfg.MetricPeriod / time.Second)
}

func (s *Source) query(id, label, namespace, name, stat string, dims ...dimension) metricDataQuery {
	return metricDataQuery{
		ID:    id,
		Label: label,
		MetricStat: metricStat{
			Metric: metric{Namespace: namespace, MetricName: name, Dimensions: dims},
			Period: s.period(),
			Stat:   stat,
		},
	}
}

func (s *Source) environmentQueries(serviceName, targetGroupArn string) []metricDataQuery {
	ecs := []dimension{{Name: "ServiceName", Value: serviceName}, {Name: "ClusterName", Value: s.cfg.ClusterName}}
	queries := []metricDataQuery{
		s.query("cpu", "", "AWS/ECS", "CPUUtilization", "Average", ecs...),
		s.query("memory", "", "AWS/ECS", "MemoryUtilization", "Average", ecs...),
	}
	targetGroup, loadBalancer := albDimension(targetGroupArn), albDimension(s.cfg.LoadBalancerArn)
	if targetGroup == "" || loadBalancer == "" {
		return queries
	}
	alb := []dimension{{Name: "TargetGroup", Value: targetGroup}, {Name: "LoadBalancer", Value: loadBalancer}}
	return append(queries,
		s.query("albRequests", "", "AWS/ApplicationELB", "RequestCount", "Sum", alb...),
		s.query("albErrors", "", "AWS/ApplicationELB", "HTTPCode_Target_5XX_Count", "Sum", alb...),
		s.query("albLatency", "", "AWS/ApplicationELB", "TargetResponseTime", "Average", alb...),
	)
}

func (s *Source) metricData(ctx context.Context, queries []metricDataQuery, start, end time.Time, extra ...string) ([]metricDataResult, error) {
	encoded, err := json.Marshal(queries)
	if err != nil {
		return nil, err
	}
	args := []string{
		"--metric-data-queries", string(encoded),
		"--start-time", start.UTC().Format(time.RFC3339),
		"--end-time", end.UTC().Format(time.RFC3339),
	}
	var out metricDataOutput
	if err := s.run(ctx, &out, "cloudwatch", "get-metric-data", append(args, extra...)...); err != nil {
		return nil, err
	}
	return out.MetricDataResults, nil
}

// EnvironmentMetrics returns the latest ECS and ALB sample for env over the
// last five minutes.
func (s *Source) EnvironmentMetrics(ctx context.Context, env telemetry.Environment) (*telemetry.EnvironmentMetrics, error) {
	serviceName, targetGroupArn := s.service(env)
	if serviceName == "" {
		return nil, ErrNotConfigured
	}
	return cached(s, "metrics:"+string(env), func() (*telemetry.EnvironmentMetrics, error) {
		now := s.now()
		results, err := s.metricData(ctx, s.environmentQueries(serviceName, targetGroupArn), now.Add(-environmentWindow), now)
		if err != nil {
			return nil, err
		}
		latest := make(map[string]float64, len(results))
		for _, r := range results {
			if len(r.Values) > 0 {
				latest[r.ID] = r.Values[len(r.Values)-1]
			}
		}
		sample := &telemetry.EnvironmentMetrics{Timestamp: telemetry.FormatTimestamp(now)}
		if v, ok := latest["cpu"]; ok {
			sample.CPU = telemetry.Float(v)
		}
		if v, ok := latest["memory"]; ok {
			sample.Memory = telemetry.Float(v)
		}
		if v, ok := latest["albLatency"]; ok {
			sample.ResponseTime = telemetry.Float(v * 1000)
		}
		requests, hasRequests := latest["albRequests"]
		errs, hasErrors := latest["albErrors"]
		if hasRequests {
			sample.RequestCount = telemetry.Count(int64(math.Round(requests)))
		}
		if hasErrors {
			sample.ErrorCount = telemetry.Count(int64(math.Round(errs)))
		}
		if hasRequests && hasErrors && requests > 0 {
			sample.ErrorRate = telemetry.Float(errs / requests)
		}
		return sample, nil
	})
}

func (s *Source) flatQueries() []metricDataQuery {
	loadBalancer := albDimension(s.cfg.LoadBalancerArn)
	queries := make([]metricDataQuery, 0, len(telemetry.FlatMetrics)*len(telemetry.Environments))
	for _, env := range telemetry.Environments {
		serviceName, targetGroupArn := s.service(env)
		ecs := []dimension{{Name: "ClusterName", Value: s.cfg.ClusterName}, {Name: "ServiceName", Value: serviceName}}
		alb := []dimension{{Name: "TargetGroup", Value: albDimension(targetGroupArn)}, {Name: "LoadBalancer", Value: loadBalancer}}
		for _, m := range telemetry.FlatMetrics {
			label := telemetry.FlatKey(m, env)
			id := strings.ToLower(label)
			switch m {
			case telemetry.FlatCPU:
				queries = append(queries, s.query(id, label, "AWS/ECS", "CPUUtilization", "Average", ecs...))
			case telemetry.FlatMemory:
				queries = append(queries, s.query(id, label, "AWS/ECS", "MemoryUtilization", "Average", ecs...))
			case telemetry.FlatRequests:
				queries = append(queries, s.query(id, label, "AWS/ApplicationELB", "RequestCount", "Sum", alb...))
			case telemetry.FlatResponseTime:
				queries = append(queries, s.query(id, label, "AWS/ApplicationELB", "TargetResponseTime", "Average", alb...))
			case telemetry.FlatErrors:
				queries = append(queries, s.query(id, label, "AWS/ApplicationELB", "HTTPCode_Target_5XX_Count", "Sum", alb...))
			}
		}
	}
	return queries
}

// FlatMetrics returns the newest value of every labelled series over the last
// two minutes, keyed by label, with 0 for series that reported nothing.
func (s *Source) FlatMetrics(ctx context.Context) (map[string]float64, error) {
	if s.cfg.ServiceBlue == "" && s.cfg.ServiceGreen == "" {
		return nil, ErrNotConfigured
	}
	return cached(s, "metrics:flat", func() (map[string]float64, error) {
		now := s.now()
		results, err := s.metricData(ctx, s.flatQueries(), now.Add(-flatWindow), now, "--scan-by", "TimestampDescending")
		if err != nil {
			return nil, err
		}
		out := make(map[string]float64, len(results))
		for _, r := range results {
			label := r.Label
			if label == "" {
				label = r.ID
			}
			if len(r.Values) > 0 {
				out[label] = r.Values[0]
			} else {
				out[label] = 0
			}
		}
		return out, nil
	})
}
