// Package synthetic produces plausible blue/green telemetry when no live source
// is reachable: the client-side fallback stream and the relay's mock mode.
package synthetic

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/splax/deploywatch/pkg/telemetry"
)

// Generator is safe for concurrent use.
type Generator struct {
	mu  sync.Mutex
	rng *rand.Rand
	now func() time.Time
}

// Option customises a Generator.
type Option func(*Generator)

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) {
		if now != nil {
			g.now = now
		}
	}
}

// New returns a generator seeded with seed. Equal seeds yield equal sequences.
func New(seed uint64, opts ...Option) *Generator {
	g := &Generator{
		rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// NewRandom returns a generator with a time-derived seed.
func NewRandom(opts ...Option) *Generator {
	return New(uint64(time.Now().UnixNano()), opts...)
}

func (g *Generator) between(lo, hi float64) float64 {
	return lo + g.rng.Float64()*(hi-lo)
}

func (g *Generator) stamp() string {
	return telemetry.FormatTimestamp(g.now())
}

// FallbackSnapshot is the sample a disconnected client shows. Green tracks blue
// closely so the two lines stay comparable.
func (g *Generator) FallbackSnapshot() telemetry.Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()

	stamp := g.stamp()
	blueCPU := g.between(35, 55)
	blueLatency := g.between(180, 240)
	greenCPU := clamp(blueCPU+g.between(-3, 3), 0, 100)
	greenLatency := blueLatency + g.between(-10, 10)
	if greenLatency < 50 {
		greenLatency = 50
	}
	return telemetry.Snapshot{
		Blue: &telemetry.EnvironmentMetrics{
			CPU:          telemetry.Float(blueCPU),
			ResponseTime: telemetry.Float(blueLatency),
			ErrorRate:    telemetry.Float(0.05),
			Timestamp:    stamp,
		},
		Green: &telemetry.EnvironmentMetrics{
			CPU:          telemetry.Float(greenCPU),
			ResponseTime: telemetry.Float(greenLatency),
			ErrorRate:    telemetry.Float(0.04),
			Timestamp:    stamp,
		},
	}
}

type envRanges struct {
	cpu, memory, latency [2]float64
	errorRate            float64
}

var mockRanges = map[telemetry.Environment]envRanges{
	telemetry.Green: {cpu: [2]float64{15, 45}, memory: [2]float64{40, 60}, latency: [2]float64{150, 200}, errorRate: 0.1},
	telemetry.Blue:  {cpu: [2]float64{40, 70}, memory: [2]float64{55, 80}, latency: [2]float64{200, 280}, errorRate: 0.3},
}

// EnvironmentMetrics is the relay's mock sample for env. Green runs lighter
// than blue.
func (g *Generator) EnvironmentMetrics(env telemetry.Environment) *telemetry.EnvironmentMetrics {
	r, ok := mockRanges[env]
	if !ok {
		r = mockRanges[telemetry.Blue]
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return &telemetry.EnvironmentMetrics{
		CPU:          telemetry.Float(g.between(r.cpu[0], r.cpu[1])),
		Memory:       telemetry.Float(g.between(r.memory[0], r.memory[1])),
		ResponseTime: telemetry.Float(g.between(r.latency[0], r.latency[1])),
		ErrorRate:    telemetry.Float(g.between(0, r.errorRate)),
		Timestamp:    g.stamp(),
	}
}

// Snapshot returns mock samples for both environments.
func (g *Generator) Snapshot() telemetry.Snapshot {
	return telemetry.Snapshot{
		Blue:  g.EnvironmentMetrics(telemetry.Blue),
		Green: g.EnvironmentMetrics(telemetry.Green),
	}
}

// FlatMetrics renders a mock sample in the labelled CloudWatch form, e.g.
// ECS_CPU_Blue. Response times are in seconds as CloudWatch reports them.
func (g *Generator) FlatMetrics() map[string]float64 {
	out := make(map[string]float64, len(telemetry.FlatMetrics)*len(telemetry.Environments))
	for _, env := range telemetry.Environments {
		sample := g.EnvironmentMetrics(env)
		g.mu.Lock()
		requests := float64(int(g.between(800, 1200)))
		g.mu.Unlock()
		out[telemetry.FlatKey(telemetry.FlatCPU, env)] = *sample.CPU
		out[telemetry.FlatKey(telemetry.FlatMemory, env)] = *sample.Memory
		out[telemetry.FlatKey(telemetry.FlatResponseTime, env)] = *sample.ResponseTime / 1000
		out[telemetry.FlatKey(telemetry.FlatRequests, env)] = requests
		out[telemetry.FlatKey(telemetry.FlatErrors, env)] = math.Round(requests * *sample.ErrorRate)
	}
	return out
}

var logTemplates = []telemetry.LogEntry{
	{Type: "info", Message: "Request processed successfully"},
	{Type: "info", Message: "Health check passed"},
	{Type: "success", Message: "Database connection established"},
	{Type: "warning", Message: "High memory usage detected"},
	{Type: "info", Message: "Cache hit ratio: 87%"},
}

// LogEntry picks one template and tags it with its level, e.g.
// "[WARNING] High memory usage detected".
func (g *Generator) LogEntry() telemetry.LogEntry {
	g.mu.Lock()
	defer g.mu.Unlock()
	tpl := logTemplates[g.rng.IntN(len(logTemplates))]
	return telemetry.LogEntry{
		Timestamp: g.stamp(),
		Type:      tpl.Type,
		Message:   fmt.Sprintf("[%s] %s", strings.ToUpper(tpl.Type), tpl.Message),
	}
}

// Logs returns n entries.
func (g *Generator) Logs(n int) []telemetry.LogEntry {
	if n < 0 {
		n = 0
	}
	out := make([]telemetry.LogEntry, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, g.LogEntry())
	}
	return out
}

type graphNode struct {
	ref   int
	name  string
	kind  string
	edges []int
}

var graphTopology = []graphNode{
	{ref: 0, name: "client", kind: "client", edges: []int{1}},
	{ref: 1, name: "alb", kind: "AWS::ElasticLoadBalancingV2::LoadBalancer", edges: []int{2, 3}},
	{ref: 2, name: "app-blue", kind: "AWS::ECS::Container", edges: []int{4}},
	{ref: 3, name: "app-green", kind: "AWS::ECS::Container", edges: []int{4}},
	{ref: 4, name: "orders-db", kind: "AWS::RDS::DBInstance"},
}

// ServiceGraph returns an X-Ray shaped Services list for a small blue/green
// topology. Response times are in seconds.
func (g *Generator) ServiceGraph() []map[string]any {
	g.mu.Lock()
	defer g.mu.Unlock()

	services := make([]map[string]any, 0, len(graphTopology))
	for _, node := range graphTopology {
		total := 200 + g.rng.IntN(300)
		edges := make([]any, 0, len(node.edges))
		for _, target := range node.edges {
			count := total / len(node.edges)
			edges = append(edges, map[string]any{
				"ReferenceId": target,
				"SummaryStatistics": map[string]any{
					"TotalCount":        count,
					"TotalResponseTime": float64(count) * g.between(0.05, 0.25),
					"ErrorStatistics":   map[string]any{"TotalCount": g.rng.IntN(5)},
				},
			})
		}
		services = append(services, map[string]any{
			"ReferenceId": node.ref,
			"Name":        node.name,
			"Type":        node.kind,
			"SummaryStatistics": map[string]any{
				"TotalCount":         total,
				"TotalResponseTime":  float64(total) * g.between(0.05, 0.25),
				"ErrorStatistics":    map[string]any{"TotalCount": g.rng.IntN(8)},
				"FaultStatistics":    map[string]any{"TotalCount": g.rng.IntN(3)},
				"ThrottleStatistics": map[string]any{"TotalCount": 0},
			},
			"Edges": edges,
		})
	}
	return services
}

var pipelineStages = []string{"Source", "Build", "Deploy"}

// PipelineStatus mimics a get-pipeline-state response.
func (g *Generator) PipelineStatus(name string) map[string]any {
	g.mu.Lock()
	defer g.mu.Unlock()
	if name == "" {
		name = "blue-green-pipeline"
	}
	current := g.rng.IntN(len(pipelineStages) + 1)
	stages := make([]map[string]any, 0, len(pipelineStages))
	for i, stage := range pipelineStages {
		status := "Succeeded"
		switch {
		case i == current:
			status = "InProgress"
		case i > current:
			status = "NotStarted"
		}
		stages = append(stages, map[string]any{
			"stageName":         stage,
			"latestExecution":   map[string]any{"status": status},
			"actionStates":      []any{},
			"inboundExecutions": []any{},
		})
	}
	return map[string]any{
		"pipelineName": name,
		"updated":      g.stamp(),
		"stageStates":  stages,
	}
}

// BuildStatus mimics one entry of batch-get-builds.
func (g *Generator) BuildStatus(project string) map[string]any {
	g.mu.Lock()
	defer g.mu.Unlock()
	if project == "" {
		project = "blue-green-build"
	}
	statuses := []string{"SUCCEEDED", "IN_PROGRESS"}
	status := statuses[g.rng.IntN(len(statuses))]
	phase := "COMPLETED"
	if status == "IN_PROGRESS" {
		phase = "BUILD"
	}
	return map[string]any{
		"id":           fmt.Sprintf("%s:%08x", project, g.rng.Uint32()),
		"projectName":  project,
		"buildStatus":  status,
		"currentPhase": phase,
		"startTime":    telemetry.FormatTimestamp(g.now().Add(-3 * time.Minute)),
	}
}

// DeployStatus mimics get-deployment's deploymentInfo.
func (g *Generator) DeployStatus(application, group string) map[string]any {
	g.mu.Lock()
	defer g.mu.Unlock()
	succeeded := 1 + g.rng.IntN(4)
	return map[string]any{
		"deploymentId":        fmt.Sprintf("d-%09X", g.rng.Uint32()),
		"applicationName":     application,
		"deploymentGroupName": group,
		"status":              "InProgress",
		"deploymentOverview": map[string]any{
			"Pending":    4 - succeeded,
			"InProgress": 1,
			"Succeeded":  succeeded,
			"Failed":     0,
			"Skipped":    0,
		},
		"createTime": telemetry.FormatTimestamp(g.now().Add(-2 * time.Minute)),
	}
}

// TargetHealth mimics describe-target-health for a two-target group.
func (g *Generator) TargetHealth(targetGroupArn string) map[string]any {
	g.mu.Lock()
	defer g.mu.Unlock()
	descriptions := make([]map[string]any, 0, 2)
	for i := 0; i < 2; i++ {
		state := "healthy"
		if g.rng.IntN(10) == 0 {
			state = "draining"
		}
		descriptions = append(descriptions, map[string]any{
			"Target":       map[string]any{"Id": fmt.Sprintf("10.0.%d.%d", i+1, 10+g.rng.IntN(200)), "Port": 8080},
			"TargetHealth": map[string]any{"State": state},
		})
	}
	return map[string]any{
		"TargetGroupArn":           targetGroupArn,
		"TargetHealthDescriptions": descriptions,
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
