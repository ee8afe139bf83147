package telemetry

import (
	"strings"
	"time"
)

// Environment names one side of a blue/green deployment.
type Environment string

const (
	Blue  Environment = "blue"
	Green Environment = "green"
)

// Environments lists both deployment slices in display order.
var Environments = []Environment{Blue, Green}

// Suffix returns the capitalised form used by flat CloudWatch labels.
func (e Environment) Suffix() string {
	if e == "" {
		return ""
	}
	s := string(e)
	return strings.ToUpper(s[:1]) + s[1:]
}

// EnvironmentMetrics is one telemetry sample for a deployment slice. Every
// numeric field is either a finite value or nil.
type EnvironmentMetrics struct {
	CPU          *float64 `json:"cpu,omitempty"`
	Memory       *float64 `json:"memory,omitempty"`
	ResponseTime *float64 `json:"responseTime,omitempty"`
	RequestCount *int64   `json:"requestCount,omitempty"`
	ErrorCount   *int64   `json:"errorCount,omitempty"`
	ErrorRate    *float64 `json:"errorRate,omitempty"`
	Timestamp    string   `json:"timestamp"`
}

// Snapshot pairs the blue and green samples produced from a single payload.
type Snapshot struct {
	Blue  *EnvironmentMetrics `json:"blue"`
	Green *EnvironmentMetrics `json:"green"`
}

// Get returns the sample for env, or nil.
func (s Snapshot) Get(env Environment) *EnvironmentMetrics {
	switch env {
	case Blue:
		return s.Blue
	case Green:
		return s.Green
	default:
		return nil
	}
}

// Empty reports whether neither environment produced a sample.
func (s Snapshot) Empty() bool {
	return s.Blue == nil && s.Green == nil
}

// Edge links a service graph node to a downstream node.
type Edge struct {
	TargetID              string   `json:"targetId"`
	AverageResponseTimeMs *float64 `json:"averageResponseTimeMs,omitempty"`
	RequestCount          *int64   `json:"requestCount,omitempty"`
	ErrorCount            *int64   `json:"errorCount,omitempty"`
}

// ServiceGraphNode is one participant of a distributed trace graph.
type ServiceGraphNode struct {
	ID                    string   `json:"id"`
	ReferenceID           string   `json:"referenceId,omitempty"`
	Name                  string   `json:"name"`
	Type                  string   `json:"type"`
	AverageResponseTimeMs *float64 `json:"averageResponseTimeMs,omitempty"`
	RequestCount          *int64   `json:"requestCount,omitempty"`
	ErrorCount            *int64   `json:"errorCount,omitempty"`
	FaultCount            *int64   `json:"faultCount,omitempty"`
	ThrottleCount         *int64   `json:"throttleCount,omitempty"`
	Edges                 []Edge   `json:"edges"`
}

// LogEntry is a single line surfaced to log consumers.
type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Message   string `json:"message"`
}

// FormatTimestamp renders t the way every record in this package carries it.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

// Count returns a pointer to v.
func Count(v int64) *int64 { return &v }
