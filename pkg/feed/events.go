package feed

import (
	"encoding/json"
	"time"

	"github.com/splax/deploywatch/pkg/telemetry"
)

// Kind identifies an event delivered to subscribers.
type Kind string

const (
	KindConnected         Kind = "connected"
	KindDisconnected      Kind = "disconnected"
	KindError             Kind = "error"
	KindMetrics           Kind = "metrics"
	KindCloudWatchMetrics Kind = "cloudwatch_metrics"
	KindLog               Kind = "log"
	KindServiceGraph      Kind = "xray_service_graph"
	KindConnectedAck      Kind = "connected_ack"
	KindTimestamp         Kind = "timestamp"
	KindPipelineStatus    Kind = "pipeline_status"
	KindCodeBuildStatus   Kind = "codebuild_status"
	KindCodeDeployStatus  Kind = "codedeploy_status"
	KindALBHealth         Kind = "alb_health"
	KindDeploymentStarted Kind = "deployment_started"
)

// Source tells where a metrics sample came from.
type Source string

const (
	SourceLive       Source = "live"
	SourceCloudWatch Source = "cloudwatch"
	SourceFallback   Source = "fallback"
)

// Event is implemented only by the types in this package.
type Event interface {
	Kind() Kind
	Timestamp() time.Time
	event()
}

// Connected is published when the transport opens.
type Connected struct {
	At  time.Time
	URL string
}

func (Connected) Kind() Kind             { return KindConnected }
func (e Connected) Timestamp() time.Time { return e.At }
func (Connected) event()                 {}

// Disconnected is published when the transport closes. Intentional is true
// when the close came from Disconnect.
type Disconnected struct {
	At          time.Time
	Intentional bool
}

func (Disconnected) Kind() Kind             { return KindDisconnected }
func (e Disconnected) Timestamp() time.Time { return e.At }
func (Disconnected) event()                 {}

// Error carries a dial or read failure.
type Error struct {
	At  time.Time
	Err error
}

func (Error) Kind() Kind             { return KindError }
func (e Error) Timestamp() time.Time { return e.At }
func (Error) event()                 {}

// Metrics carries one normalized blue/green sample.
type Metrics struct {
	At       time.Time
	Snapshot telemetry.Snapshot
	Source   Source
}

// Kind reports cloudwatch_metrics for samples the relay labelled as such.
func (e Metrics) Kind() Kind {
	if e.Source == SourceCloudWatch {
		return KindCloudWatchMetrics
	}
	return KindMetrics
}
func (e Metrics) Timestamp() time.Time { return e.At }
func (Metrics) event()                 {}

// Log carries one log line.
type Log struct {
	At    time.Time
	Entry telemetry.LogEntry
}

func (Log) Kind() Kind             { return KindLog }
func (e Log) Timestamp() time.Time { return e.At }
func (Log) event()                 {}

// ServiceGraph carries a normalized trace graph.
type ServiceGraph struct {
	At    time.Time
	Nodes []telemetry.ServiceGraphNode
}

func (ServiceGraph) Kind() Kind             { return KindServiceGraph }
func (e ServiceGraph) Timestamp() time.Time { return e.At }
func (ServiceGraph) event()                 {}

// Status carries a frame that is passed through without normalization, such as
// pipeline_status. Type is the frame's kind.
type Status struct {
	At      time.Time
	Type    Kind
	Payload json.RawMessage
}

func (e Status) Kind() Kind           { return e.Type }
func (e Status) Timestamp() time.Time { return e.At }
func (Status) event()                 {}

func eventFromFrame(f telemetry.Frame, at time.Time) Event {
	switch f.Kind {
	case telemetry.KindMetrics:
		return Metrics{At: at, Snapshot: *f.Metrics, Source: SourceLive}
	case telemetry.KindCloudWatchMetrics:
		return Metrics{At: at, Snapshot: *f.Metrics, Source: SourceCloudWatch}
	case telemetry.KindLog:
		return Log{At: at, Entry: *f.Log}
	case telemetry.KindServiceGraph:
		return ServiceGraph{At: at, Nodes: f.Nodes}
	case telemetry.KindConnected:
		return Status{At: at, Type: KindConnectedAck, Payload: f.Raw}
	default:
		return Status{At: at, Type: Kind(f.Kind), Payload: f.Raw}
	}
}
