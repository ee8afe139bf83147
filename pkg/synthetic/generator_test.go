package synthetic

import (
	"strings"
	"testing"
	"time"

	"github.com/splax/deploywatch/pkg/telemetry"
)

var fixedNow = time.Date(2025, time.March, 4, 10, 0, 0, 0, time.UTC)

func within(t *testing.T, v *float64, lo, hi float64, field string) {
	t.Helper()
	if v == nil {
		t.Fatalf("expected %s to be set", field)
	}
	if *v < lo || *v > hi {
		t.Fatalf("expected %s in [%v, %v], got %v", field, lo, hi, *v)
	}
}

func TestFallbackSnapshotRanges(t *testing.T) {
	g := New(7, WithClock(func() time.Time { return fixedNow }))
	for i := 0; i < 500; i++ {
		snap := g.FallbackSnapshot()
		within(t, snap.Blue.CPU, 35, 55, "blue cpu")
		within(t, snap.Blue.ResponseTime, 180, 240, "blue response time")
		within(t, snap.Green.CPU, 0, 100, "green cpu")
		within(t, snap.Green.ResponseTime, 50, 250, "green response time")
		if diff := *snap.Green.CPU - *snap.Blue.CPU; diff > 3 || diff < -3 {
			t.Fatalf("expected green cpu within 3 of blue, diff %v", diff)
		}
		if *snap.Blue.ErrorRate != 0.05 || *snap.Green.ErrorRate != 0.04 {
			t.Fatalf("unexpected error rates %v/%v", *snap.Blue.ErrorRate, *snap.Green.ErrorRate)
		}
		if snap.Blue.Memory != nil || snap.Green.Memory != nil {
			t.Fatal("expected memory to be absent in fallback samples")
		}
		if snap.Blue.Timestamp != telemetry.FormatTimestamp(fixedNow) {
			t.Fatalf("unexpected timestamp %q", snap.Blue.Timestamp)
		}
	}
}

func TestEnvironmentMetricsRanges(t *testing.T) {
	g := New(11)
	for i := 0; i < 500; i++ {
		green := g.EnvironmentMetrics(telemetry.Green)
		within(t, green.CPU, 15, 45, "green cpu")
		within(t, green.Memory, 40, 60, "green memory")
		within(t, green.ResponseTime, 150, 200, "green response time")
		within(t, green.ErrorRate, 0, 0.1, "green error rate")

		blue := g.EnvironmentMetrics(telemetry.Blue)
		within(t, blue.CPU, 40, 70, "blue cpu")
		within(t, blue.Memory, 55, 80, "blue memory")
		within(t, blue.ResponseTime, 200, 280, "blue response time")
		within(t, blue.ErrorRate, 0, 0.3, "blue error rate")
	}
}

func TestSeededGeneratorsAreDeterministic(t *testing.T) {
	clock := WithClock(func() time.Time { return fixedNow })
	a, b := New(42, clock), New(42, clock)
	for i := 0; i < 20; i++ {
		x, y := a.Snapshot(), b.Snapshot()
		if *x.Blue.CPU != *y.Blue.CPU || *x.Green.ResponseTime != *y.Green.ResponseTime {
			t.Fatalf("expected identical sequences at step %d", i)
		}
	}
}

func TestFlatMetricsRoundTripsThroughNormalizer(t *testing.T) {
	g := New(3)
	flat := g.FlatMetrics()
	if len(flat) != len(telemetry.FlatMetrics)*len(telemetry.Environments) {
		t.Fatalf("expected %d labels, got %d", len(telemetry.FlatMetrics)*len(telemetry.Environments), len(flat))
	}
	raw := make(map[string]any, len(flat))
	for k, v := range flat {
		raw[k] = v
	}
	snap := telemetry.NormalizeFlatMetrics(raw, fixedNow)
	within(t, snap.Blue.ResponseTime, 199.999, 280.001, "blue response time in ms")
	within(t, snap.Green.CPU, 15, 45, "green cpu")
	if snap.Green.ErrorRate == nil {
		t.Fatal("expected derived error rate")
	}
}

func TestLogEntryFormat(t *testing.T) {
	g := New(5)
	known := map[string]bool{}
	for _, tpl := range logTemplates {
		known["["+strings.ToUpper(tpl.Type)+"] "+tpl.Message] = true
	}
	for _, entry := range g.Logs(50) {
		if !known[entry.Message] {
			t.Fatalf("unexpected message %q", entry.Message)
		}
		if !strings.HasPrefix(entry.Message, "["+strings.ToUpper(entry.Type)+"]") {
			t.Fatalf("message %q does not carry level %q", entry.Message, entry.Type)
		}
	}
	if got := g.Logs(-1); len(got) != 0 {
		t.Fatalf("expected no entries, got %d", len(got))
	}
}

func TestServiceGraphNormalizes(t *testing.T) {
	g := New(9)
	services := g.ServiceGraph()
	raw := make([]any, 0, len(services))
	for _, s := range services {
		raw = append(raw, s)
	}
	nodes := telemetry.NormalizeServiceGraph(raw)
	if len(nodes) != len(graphTopology) {
		t.Fatalf("expected %d nodes, got %d", len(graphTopology), len(nodes))
	}
	alb := nodes[1]
	if alb.Name != "alb" || len(alb.Edges) != 2 {
		t.Fatalf("unexpected alb node %+v", alb)
	}
	if alb.Edges[0].TargetID != "2" || alb.Edges[1].TargetID != "3" {
		t.Fatalf("unexpected alb edges %+v", alb.Edges)
	}
	within(t, alb.AverageResponseTimeMs, 49.999, 250.001, "alb average")
}

func TestStatuses(t *testing.T) {
	g := New(1)
	pipeline := g.PipelineStatus("")
	if pipeline["pipelineName"] != "blue-green-pipeline" {
		t.Fatalf("unexpected pipeline %v", pipeline["pipelineName"])
	}
	if stages, _ := pipeline["stageStates"].([]map[string]any); len(stages) != len(pipelineStages) {
		t.Fatalf("expected %d stages, got %v", len(pipelineStages), pipeline["stageStates"])
	}
	build := g.BuildStatus("web")
	if build["projectName"] != "web" || !strings.HasPrefix(build["id"].(string), "web:") {
		t.Fatalf("unexpected build %v", build)
	}
	deploy := g.DeployStatus("app", "group")
	if deploy["applicationName"] != "app" || deploy["deploymentGroupName"] != "group" {
		t.Fatalf("unexpected deployment %v", deploy)
	}
	health := g.TargetHealth("arn:tg")
	if descs, _ := health["TargetHealthDescriptions"].([]map[string]any); len(descs) != 2 {
		t.Fatalf("expected 2 targets, got %v", health["TargetHealthDescriptions"])
	}
}
