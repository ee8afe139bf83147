package telemetry

import (
	"strings"
	"time"
)

var (
	cpuKeys          = []string{"cpu", "CPU", "cpuUtilization"}
	memoryKeys       = []string{"memory", "Memory", "memoryUtilization"}
	responseTimeKeys = []string{"responseTime", "response_time", "latencyMs", "latency_ms", "latency", "averageResponseTimeMs", "averageResponseTime"}
	requestKeys      = []string{"albRequests", "requests", "requestCount", "totalRequests"}
	errorKeys        = []string{"albErrors", "errors", "errorCount", "5xxErrors"}
	errorRateKeys    = []string{"errorRate", "error_rate"}
)

// FlatMetric is the prefix of a flat CloudWatch label such as ECS_CPU_Blue.
type FlatMetric string

const (
	FlatCPU          FlatMetric = "ECS_CPU"
	FlatMemory       FlatMetric = "ECS_Memory"
	FlatResponseTime FlatMetric = "ALB_ResponseTime"
	FlatRequests     FlatMetric = "ALB_Requests"
	FlatErrors       FlatMetric = "ALB_Errors_5xx"

	flatCPUEC2    FlatMetric = "EC2_CPU"
	flatMemoryEC2 FlatMetric = "EC2_Memory"
)

// FlatMetrics lists the labels emitted per environment by the flat dialect.
var FlatMetrics = []FlatMetric{FlatCPU, FlatMemory, FlatRequests, FlatResponseTime, FlatErrors}

var flatPrefixes = []string{"ECS_", "ALB_", "EC2_"}

// FlatKey builds the flat label for metric and env, e.g. ALB_Requests_Green.
func FlatKey(metric FlatMetric, env Environment) string {
	return string(metric) + "_" + env.Suffix()
}

type metricsMatcher struct {
	name  string
	match func(payload map[string]any, stamp string) (Snapshot, bool)
}

// metricsMatchers are tried in order; the first match wins.
var metricsMatchers = []metricsMatcher{
	{name: "environment_objects", match: matchEnvironmentObjects},
	{name: "flat_keys", match: matchFlatKeys},
	{name: "single_environment", match: matchSingleEnvironment},
}

// NormalizeMetrics maps a decoded payload of any known dialect into a
// blue/green Snapshot. Input that is not an object yields an empty Snapshot.
func NormalizeMetrics(raw any, receivedAt time.Time) Snapshot {
	snap, _ := normalizeMetrics(raw, receivedAt)
	return snap
}

// MetricsDialect names the matcher that would handle raw, or "" when raw is
// not an object.
func MetricsDialect(raw any) string {
	_, name := normalizeMetrics(raw, time.Time{})
	return name
}

func normalizeMetrics(raw any, receivedAt time.Time) (Snapshot, string) {
	obj, ok := asObject(raw)
	if !ok {
		return Snapshot{}, ""
	}
	stamp := timestampOr(obj, receivedStamp(receivedAt))
	payload := obj
	if nested, ok := asObject(obj["metrics"]); ok {
		payload = nested
		stamp = timestampOr(nested, stamp)
	}
	for _, m := range metricsMatchers {
		if snap, ok := m.match(payload, stamp); ok {
			return snap, m.name
		}
	}
	return Snapshot{}, ""
}

// NormalizeFlatMetrics reads a flat label map such as the cloudwatch_metrics
// member of an API Gateway broadcast. Both environments are always returned.
func NormalizeFlatMetrics(raw any, receivedAt time.Time) Snapshot {
	obj, ok := asObject(raw)
	if !ok {
		return Snapshot{}
	}
	stamp := receivedStamp(receivedAt)
	return Snapshot{
		Blue:  flatEnvironment(obj, Blue, stamp),
		Green: flatEnvironment(obj, Green, stamp),
	}
}

// NormalizeEnvironment normalizes a single environment object. It returns nil
// when raw is not an object.
func NormalizeEnvironment(raw any, receivedAt time.Time) *EnvironmentMetrics {
	obj, ok := asObject(raw)
	if !ok {
		return nil
	}
	return environmentFromObject(obj, receivedStamp(receivedAt))
}

func matchEnvironmentObjects(payload map[string]any, stamp string) (Snapshot, bool) {
	blue, hasBlue := asObject(payload["blue"])
	green, hasGreen := asObject(payload["green"])
	if !hasBlue && !hasGreen {
		return Snapshot{}, false
	}
	var snap Snapshot
	if hasBlue {
		snap.Blue = environmentFromObject(blue, stamp)
	}
	if hasGreen {
		snap.Green = environmentFromObject(green, stamp)
	}
	return snap, true
}

func matchFlatKeys(payload map[string]any, stamp string) (Snapshot, bool) {
	if !hasFlatKeys(payload) {
		return Snapshot{}, false
	}
	return Snapshot{
		Blue:  flatEnvironment(payload, Blue, stamp),
		Green: flatEnvironment(payload, Green, stamp),
	}, true
}

func matchSingleEnvironment(payload map[string]any, stamp string) (Snapshot, bool) {
	return Snapshot{Blue: environmentFromObject(payload, stamp)}, true
}

func hasFlatKeys(payload map[string]any) bool {
	for key := range payload {
		for _, prefix := range flatPrefixes {
			if strings.HasPrefix(key, prefix) {
				return true
			}
		}
	}
	return false
}

func environmentFromObject(obj map[string]any, stamp string) *EnvironmentMetrics {
	cpu, hasCPU := number(obj, cpuKeys...)
	memory, hasMemory := number(obj, memoryKeys...)
	latency, hasLatency := number(obj, responseTimeKeys...)
	requests, hasRequests := number(obj, requestKeys...)
	errs, hasErrors := number(obj, errorKeys...)
	rate, hasRate := number(obj, errorRateKeys...)

	return &EnvironmentMetrics{
		CPU:          floatPtr(cpu, hasCPU),
		Memory:       floatPtr(memory, hasMemory),
		ResponseTime: millisPtr(latency, hasLatency),
		RequestCount: countPtr(requests, hasRequests),
		ErrorCount:   countPtr(errs, hasErrors),
		ErrorRate:    errorRate(rate, hasRate, requests, hasRequests, errs, hasErrors),
		Timestamp:    timestampOr(obj, stamp),
	}
}

func flatEnvironment(payload map[string]any, env Environment, stamp string) *EnvironmentMetrics {
	cpu, hasCPU := number(payload, FlatKey(FlatCPU, env), FlatKey(flatCPUEC2, env))
	memory, hasMemory := number(payload, FlatKey(FlatMemory, env), FlatKey(flatMemoryEC2, env))
	latency, hasLatency := number(payload, FlatKey(FlatResponseTime, env))
	requests, hasRequests := number(payload, FlatKey(FlatRequests, env))
	errs, hasErrors := number(payload, FlatKey(FlatErrors, env))

	return &EnvironmentMetrics{
		CPU:          floatPtr(cpu, hasCPU),
		Memory:       floatPtr(memory, hasMemory),
		ResponseTime: millisPtr(latency, hasLatency),
		RequestCount: countPtr(requests, hasRequests),
		ErrorCount:   countPtr(errs, hasErrors),
		ErrorRate:    errorRate(0, false, requests, hasRequests, errs, hasErrors),
		Timestamp:    stamp,
	}
}
