package telemetry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidFrame indicates the transport delivered something other than a JSON object.
var ErrInvalidFrame = errors.New("telemetry: frame is not a JSON object")

// ErrUnknownFrame indicates a JSON object matched none of the known dialects.
var ErrUnknownFrame = errors.New("telemetry: unrecognised frame")

// Kind names an event carried over the telemetry transport.
type Kind string

const (
	KindConnected         Kind = "connected"
	KindMetrics           Kind = "metrics"
	KindLog               Kind = "log"
	KindLogs              Kind = "logs"
	KindLogStream         Kind = "log_stream"
	KindServiceGraph      Kind = "xray_service_graph"
	KindCloudWatchMetrics Kind = "cloudwatch_metrics"
	KindTimestamp         Kind = "timestamp"
	KindPipelineStatus    Kind = "pipeline_status"
	KindCodeBuildStatus   Kind = "codebuild_status"
	KindCodeDeployStatus  Kind = "codedeploy_status"
	KindALBHealth         Kind = "alb_health"
	KindDeploymentStarted Kind = "deployment_started"
)

// Frame is one normalized unit decoded from a transport message. Exactly one of
// Metrics, Log, Nodes or Raw is populated, according to Kind.
type Frame struct {
	Kind    Kind
	Metrics *Snapshot
	Log     *LogEntry
	Nodes   []ServiceGraphNode
	Raw     json.RawMessage
}

type frameMatcher struct {
	name  string
	match func(envelope map[string]any, data []byte, receivedAt time.Time) ([]Frame, bool)
}

// frameMatchers are tried in order; the first match wins.
var frameMatchers = []frameMatcher{
	{name: "log_stream", match: matchLogStream},
	{name: "apigw_metrics", match: matchAPIGatewayMetrics},
	{name: "typed_envelope", match: matchTypedEnvelope},
}

// DecodeFrame decodes a raw transport message into normalized frames.
func DecodeFrame(data []byte, receivedAt time.Time) ([]Frame, error) {
	var envelope map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	if envelope == nil {
		return nil, ErrInvalidFrame
	}
	if receivedAt.IsZero() {
		receivedAt = time.Now()
	}
	for _, m := range frameMatchers {
		if frames, ok := m.match(envelope, data, receivedAt); ok {
			return frames, nil
		}
	}
	return nil, ErrUnknownFrame
}

func matchLogStream(envelope map[string]any, _ []byte, receivedAt time.Time) ([]Frame, bool) {
	if kind, _ := envelope["type"].(string); kind != string(KindLogStream) {
		return nil, false
	}
	messages, ok := envelope["messages"].([]any)
	if !ok {
		return nil, false
	}
	stamp := FormatTimestamp(receivedAt)
	frames := make([]Frame, 0, len(messages))
	for _, line := range messages {
		text := stringify(line)
		if text == "" {
			continue
		}
		frames = append(frames, Frame{Kind: KindLog, Log: &LogEntry{Timestamp: stamp, Type: "info", Message: text}})
	}
	return frames, true
}

func matchAPIGatewayMetrics(envelope map[string]any, _ []byte, receivedAt time.Time) ([]Frame, bool) {
	metrics, ok := asObject(envelope["cloudwatch_metrics"])
	if !ok {
		return nil, false
	}
	stamp := timestampOr(envelope, FormatTimestamp(receivedAt))
	snap := Snapshot{
		Blue:  flatEnvironment(metrics, Blue, stamp),
		Green: flatEnvironment(metrics, Green, stamp),
	}
	summary := &LogEntry{
		Timestamp: FormatTimestamp(receivedAt),
		Type:      "info",
		Message:   fmt.Sprintf("[METRICS] CPU Blue=%s · Green=%s", percent(snap.Blue.CPU), percent(snap.Green.CPU)),
	}
	return []Frame{
		{Kind: KindMetrics, Metrics: &snap},
		{Kind: KindLog, Log: summary},
	}, true
}

func matchTypedEnvelope(envelope map[string]any, data []byte, receivedAt time.Time) ([]Frame, bool) {
	kind, ok := envelope["type"].(string)
	if !ok || strings.TrimSpace(kind) == "" {
		return nil, false
	}
	payload, hasPayload := envelope["data"]
	switch Kind(kind) {
	case KindMetrics:
		snap := NormalizeMetrics(payload, receivedAt)
		return []Frame{{Kind: KindMetrics, Metrics: &snap}}, true
	case KindCloudWatchMetrics:
		snap := NormalizeMetrics(payload, receivedAt)
		return []Frame{{Kind: KindCloudWatchMetrics, Metrics: &snap}}, true
	case KindServiceGraph:
		return []Frame{{Kind: KindServiceGraph, Nodes: NormalizeServiceGraph(payload)}}, true
	case KindLog:
		entry, ok := toLogEntry(payload, receivedAt)
		if !ok {
			return []Frame{}, true
		}
		return []Frame{{Kind: KindLog, Log: &entry}}, true
	case KindLogs:
		items, _ := payload.([]any)
		frames := make([]Frame, 0, len(items))
		for _, item := range items {
			if entry, ok := toLogEntry(item, receivedAt); ok {
				frames = append(frames, Frame{Kind: KindLog, Log: &entry})
			}
		}
		return frames, true
	}
	raw := json.RawMessage(data)
	if hasPayload {
		encoded, err := json.Marshal(payload)
		if err == nil {
			raw = encoded
		}
	}
	return []Frame{{Kind: Kind(kind), Raw: raw}}, true
}

func toLogEntry(v any, receivedAt time.Time) (LogEntry, bool) {
	stamp := FormatTimestamp(receivedAt)
	if obj, ok := asObject(v); ok {
		message := stringify(obj["message"])
		if message == "" {
			return LogEntry{}, false
		}
		level := stringField(obj, "type", "level")
		if level == "" {
			level = "info"
		}
		return LogEntry{Timestamp: timestampOr(obj, stamp), Type: level, Message: message}, true
	}
	if text := stringify(v); text != "" {
		return LogEntry{Timestamp: stamp, Type: "info", Message: text}, true
	}
	return LogEntry{}, false
}

func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case json.Number:
		return x.String()
	case bool:
		if x {
			return "true"
		}
		return "false"
	default:
		encoded, err := json.Marshal(x)
		if err != nil {
			return ""
		}
		return string(encoded)
	}
}

func percent(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.1f%%", *v)
}
