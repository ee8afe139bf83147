package telemetry

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"
)

var testReceivedAt = time.Date(2025, time.March, 4, 10, 0, 0, 0, time.UTC)

func decodeJSON(t *testing.T, raw string) any {
	t.Helper()
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		t.Fatalf("decode %q: %v", raw, err)
	}
	return v
}

func assertFloatPtrEqual(t *testing.T, got *float64, want float64, field string) {
	t.Helper()
	if got == nil {
		t.Fatalf("expected %s to be %v, got nil", field, want)
	}
	if diff := *got - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("expected %s to be %v, got %v", field, want, *got)
	}
}

func assertCountPtrEqual(t *testing.T, got *int64, want int64, field string) {
	t.Helper()
	if got == nil {
		t.Fatalf("expected %s to be %d, got nil", field, want)
	}
	if *got != want {
		t.Fatalf("expected %s to be %d, got %d", field, want, *got)
	}
}

func TestNormalizeMetricsRecognisesAllShapes(t *testing.T) {
	cases := []struct {
		name       string
		payload    string
		dialect    string
		wantGreen  bool
		blueCPU    float64
		blueMemory float64
	}{
		{
			name:      "object keyed",
			payload:   `{"blue":{"cpu":41.5,"memory":63},"green":{"CPU":22,"Memory":48}}`,
			dialect:   "environment_objects",
			wantGreen: true,
			blueCPU:   41.5, blueMemory: 63,
		},
		{
			name:      "object keyed under metrics",
			payload:   `{"metrics":{"blue":{"cpuUtilization":41.5,"memoryUtilization":63},"green":{"cpu":22,"memory":48}}}`,
			dialect:   "environment_objects",
			wantGreen: true,
			blueCPU:   41.5, blueMemory: 63,
		},
		{
			name:      "flat keys",
			payload:   `{"ECS_CPU_Blue":41.5,"ECS_Memory_Blue":63,"ECS_CPU_Green":22,"ECS_Memory_Green":48}`,
			dialect:   "flat_keys",
			wantGreen: true,
			blueCPU:   41.5, blueMemory: 63,
		},
		{
			name:    "single environment fallback",
			payload: `{"cpu":41.5,"memory":63}`,
			dialect: "single_environment",
			blueCPU: 41.5, blueMemory: 63,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			raw := decodeJSON(t, tc.payload)
			if got := MetricsDialect(raw); got != tc.dialect {
				t.Fatalf("expected dialect %q, got %q", tc.dialect, got)
			}
			snap := NormalizeMetrics(raw, testReceivedAt)
			if snap.Blue == nil {
				t.Fatal("expected blue metrics")
			}
			assertFloatPtrEqual(t, snap.Blue.CPU, tc.blueCPU, "blue cpu")
			assertFloatPtrEqual(t, snap.Blue.Memory, tc.blueMemory, "blue memory")
			if !tc.wantGreen {
				if snap.Green != nil {
					t.Fatalf("expected green to be absent, got %+v", snap.Green)
				}
				return
			}
			if snap.Green == nil {
				t.Fatal("expected green metrics")
			}
			assertFloatPtrEqual(t, snap.Green.CPU, 22, "green cpu")
			assertFloatPtrEqual(t, snap.Green.Memory, 48, "green memory")
		})
	}
}

func TestNormalizeMetricsResponseTimeUnits(t *testing.T) {
	seconds := NormalizeMetrics(map[string]any{"blue": map[string]any{"responseTime": 0.245}}, testReceivedAt)
	assertFloatPtrEqual(t, seconds.Blue.ResponseTime, 245, "seconds response time")

	millis := NormalizeMetrics(map[string]any{"blue": map[string]any{"responseTime": 245.0}}, testReceivedAt)
	assertFloatPtrEqual(t, millis.Blue.ResponseTime, 245, "millisecond response time")

	flat := NormalizeMetrics(map[string]any{"ALB_ResponseTime_Green": json.Number("0.12")}, testReceivedAt)
	assertFloatPtrEqual(t, flat.Green.ResponseTime, 120, "flat green response time")
	if flat.Blue.ResponseTime != nil {
		t.Fatalf("expected blue response time to be absent, got %v", *flat.Blue.ResponseTime)
	}

	zero := NormalizeMetrics(map[string]any{"latency_ms": 0.0}, testReceivedAt)
	assertFloatPtrEqual(t, zero.Blue.ResponseTime, 0, "zero response time")
}

func TestToMillisecondsThresholdBoundary(t *testing.T) {
	cases := map[float64]float64{
		2.5: 2500,
		10:  10,
		12:  12,
		-1:  -1,
		0.5: 500,
	}
	for input, want := range cases {
		if got := ToMilliseconds(input); got != want {
			t.Fatalf("ToMilliseconds(%v): expected %v, got %v", input, want, got)
		}
	}
}

func TestNormalizeMetricsErrorRate(t *testing.T) {
	derived := NormalizeMetrics(map[string]any{"blue": map[string]any{"requestCount": 100.0, "errorCount": 5.0}}, testReceivedAt)
	assertFloatPtrEqual(t, derived.Blue.ErrorRate, 0.05, "derived error rate")
	assertCountPtrEqual(t, derived.Blue.RequestCount, 100, "request count")
	assertCountPtrEqual(t, derived.Blue.ErrorCount, 5, "error count")

	noTraffic := NormalizeMetrics(map[string]any{"blue": map[string]any{"requestCount": 0.0, "errorCount": 0.0}}, testReceivedAt)
	if noTraffic.Blue.ErrorRate != nil {
		t.Fatalf("expected error rate to be absent with zero requests, got %v", *noTraffic.Blue.ErrorRate)
	}

	explicit := NormalizeMetrics(map[string]any{"blue": map[string]any{"error_rate": "0.2", "requests": 100.0, "errors": 5.0}}, testReceivedAt)
	assertFloatPtrEqual(t, explicit.Blue.ErrorRate, 0.2, "explicit error rate")

	missingErrors := NormalizeMetrics(map[string]any{"ALB_Requests_Blue": 40.0}, testReceivedAt)
	if missingErrors.Blue.ErrorRate != nil {
		t.Fatalf("expected error rate absent without error count, got %v", *missingErrors.Blue.ErrorRate)
	}

	flat := NormalizeMetrics(map[string]any{"ALB_Requests_Blue": 200.0, "ALB_Errors_5xx_Blue": 4.0}, testReceivedAt)
	assertFloatPtrEqual(t, flat.Blue.ErrorRate, 0.02, "flat error rate")
}

func TestNormalizeMetricsRejectsNonObjects(t *testing.T) {
	inputs := []any{nil, "metrics", 42.0, []any{map[string]any{"cpu": 1.0}}, true}
	for _, input := range inputs {
		snap := NormalizeMetrics(input, testReceivedAt)
		if !snap.Empty() {
			t.Fatalf("expected empty snapshot for %#v, got %+v", input, snap)
		}
	}
}

func TestNormalizeMetricsNeverProducesNonNumbers(t *testing.T) {
	raw := map[string]any{
		"blue": map[string]any{
			"cpu":          "not-a-number",
			"CPU":          50.0,
			"memory":       "",
			"responseTime": map[string]any{"value": 1},
			"requestCount": -3.0,
			"errorCount":   "2",
		},
		"green": "offline",
	}
	snap := NormalizeMetrics(raw, testReceivedAt)
	if snap.Blue == nil {
		t.Fatal("expected blue metrics")
	}
	if snap.Blue.CPU != nil {
		t.Fatalf("expected cpu to stay absent when the first alias is not numeric, got %v", *snap.Blue.CPU)
	}
	if snap.Blue.Memory != nil || snap.Blue.ResponseTime != nil {
		t.Fatalf("expected memory and response time absent, got %+v", snap.Blue)
	}
	if snap.Blue.RequestCount != nil {
		t.Fatalf("expected negative request count to be dropped, got %d", *snap.Blue.RequestCount)
	}
	assertCountPtrEqual(t, snap.Blue.ErrorCount, 2, "numeric string error count")
	if snap.Green != nil {
		t.Fatalf("expected non-object green to be nil, got %+v", snap.Green)
	}
}

func TestNormalizeMetricsTimestamps(t *testing.T) {
	snap := NormalizeMetrics(map[string]any{
		"timestamp": "2025-03-04T09:59:00Z",
		"blue":      map[string]any{"cpu": 1.0, "timestamp": "2025-03-04T09:58:00Z"},
		"green":     map[string]any{"cpu": 2.0},
	}, testReceivedAt)
	if snap.Blue.Timestamp != "2025-03-04T09:58:00Z" {
		t.Fatalf("expected per-environment timestamp, got %q", snap.Blue.Timestamp)
	}
	if snap.Green.Timestamp != "2025-03-04T09:59:00Z" {
		t.Fatalf("expected payload timestamp, got %q", snap.Green.Timestamp)
	}

	bare := NormalizeMetrics(map[string]any{"cpu": 1.0}, testReceivedAt)
	if bare.Blue.Timestamp != FormatTimestamp(testReceivedAt) {
		t.Fatalf("expected receive time, got %q", bare.Blue.Timestamp)
	}
}

func TestNormalizeFlatMetricsAcceptsEC2Aliases(t *testing.T) {
	snap := NormalizeFlatMetrics(map[string]any{"EC2_CPU_Blue": 12.5, "EC2_Memory_Green": 70.0}, testReceivedAt)
	assertFloatPtrEqual(t, snap.Blue.CPU, 12.5, "blue cpu")
	assertFloatPtrEqual(t, snap.Green.Memory, 70, "green memory")
	if snap.Green.CPU != nil {
		t.Fatalf("expected green cpu absent, got %v", *snap.Green.CPU)
	}
}

func TestFlatKey(t *testing.T) {
	if got := FlatKey(FlatErrors, Green); got != "ALB_Errors_5xx_Green" {
		t.Fatalf("unexpected flat key %q", got)
	}
	if got := Environment("canary").Suffix(); got != "Canary" {
		t.Fatalf("unexpected suffix %q", got)
	}
}
