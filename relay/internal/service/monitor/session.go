package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/splax/deploywatch/pkg/telemetry"
)

// Commands accepted from clients.
const (
	CommandStartMonitoring     = "start_monitoring"
	CommandStopMonitoring      = "stop_monitoring"
	CommandFetchMetrics        = "fetch_metrics"
	CommandGetLogs             = "get_logs"
	CommandGetXRayGraph        = "get_xray_graph"
	CommandGetPipelineStatus   = "get_pipeline_status"
	CommandGetCodeBuildStatus  = "get_codebuild_status"
	CommandGetCodeDeployStatus = "get_codedeploy_status"
	CommandGetALBHealth        = "get_alb_health"
	CommandUseRealData         = "use_real_data"
	CommandUseMockData         = "use_mock_data"
)

// Frame types sent to clients.
const (
	FrameConnected        = "connected"
	FrameMetrics          = "metrics"
	FrameLog              = "log"
	FrameLogs             = "logs"
	FrameServiceGraph     = "xray_service_graph"
	FramePipelineStatus   = "pipeline_status"
	FrameCodeBuildStatus  = "codebuild_status"
	FrameCodeDeployStatus = "codedeploy_status"
	FrameALBHealth        = "alb_health"
	FrameCloudWatch       = "cloudwatch_metrics"
)

const (
	defaultMetricsEvery = 2 * time.Second
	defaultXRayEvery    = 10 * time.Second
	realLogLimit        = 20
	mockLogLimit        = 3
)

var (
	// ErrUnknownCommand is returned by Handle for commands it does not serve.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrMalformedCommand is returned by Handle for frames that are not a
	// JSON command object.
	ErrMalformedCommand = errors.New("malformed command")
)

var defaultRoute = []byte(".")

// Sender delivers frames to the connected client.
type Sender interface {
	SendJSON(v any) error
}

// Options tunes a Session.
type Options struct {
	MetricsEvery time.Duration
	XRayEvery    time.Duration
	StartInMock  bool
	// OnCommand and OnFrame observe traffic, e.g. for metrics.
	OnCommand func(command string)
	OnFrame   func(frameType string)
}

type frame struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type command struct {
	Command        string `json:"command"`
	TargetGroupArn string `json:"targetGroupArn"`
}

// Session answers commands from one client and runs its monitoring loops.
type Session struct {
	id   string
	out  Sender
	live Source
	mock Source
	opts Options
	log  *slog.Logger
	now  func() time.Time

	mu        sync.Mutex
	useMock   bool
	stopLoops context.CancelFunc
	loops     *conc.WaitGroup
	closed    bool
}

// NewSession builds a session. A nil live source pins the session to mock.
func NewSession(id string, out Sender, live, mock Source, opts Options, logger *slog.Logger) *Session {
	if opts.MetricsEvery <= 0 {
		opts.MetricsEvery = defaultMetricsEvery
	}
	if opts.XRayEvery <= 0 {
		opts.XRayEvery = defaultXRayEvery
	}
	return &Session{
		id:      id,
		out:     out,
		live:    live,
		mock:    mock,
		opts:    opts,
		log:     logger.With("component", "monitor", "session_id", id),
		now:     time.Now,
		useMock: opts.StartInMock || live == nil,
	}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Mock reports whether the session currently serves synthetic data.
func (s *Session) Mock() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.useMock
}

// Open greets the client.
func (s *Session) Open() error {
	return s.send(map[string]any{
		"type":      FrameConnected,
		"message":   "WebSocket server connected",
		"timestamp": telemetry.FormatTimestamp(s.now()),
	}, FrameConnected)
}

// Handle serves one inbound frame.
func (s *Session) Handle(ctx context.Context, data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), defaultRoute) {
		s.observeCommand("default_route")
		return s.sendFlatMetrics(ctx)
	}
	var cmd command
	if err := json.Unmarshal(data, &cmd); err != nil || cmd.Command == "" {
		s.log.Warn("ignoring malformed command", "payload_bytes", len(data))
		s.observeCommand("malformed")
		return ErrMalformedCommand
	}
	s.observeCommand(cmd.Command)

	switch cmd.Command {
	case CommandStartMonitoring:
		s.startLoops(ctx)
		return nil
	case CommandStopMonitoring:
		s.log.Info("stopping monitoring")
		s.haltLoops()
		return nil
	case CommandFetchMetrics:
		return s.sendMetrics(ctx)
	case CommandGetLogs:
		return s.sendLogs(ctx)
	case CommandGetXRayGraph:
		graph, err := s.source().ServiceGraph(ctx)
		if err != nil {
			s.log.Warn("service graph unavailable", "error", err)
			return s.send(frame{Type: FrameServiceGraph}, FrameServiceGraph)
		}
		return s.send(frame{Type: FrameServiceGraph, Data: graph}, FrameServiceGraph)
	case CommandGetPipelineStatus:
		status, err := s.source().PipelineStatus(ctx)
		return s.sendStatus(FramePipelineStatus, status, err)
	case CommandGetCodeBuildStatus:
		status, err := s.source().BuildStatus(ctx)
		return s.sendStatus(FrameCodeBuildStatus, status, err)
	case CommandGetCodeDeployStatus:
		status, err := s.source().DeployStatus(ctx)
		return s.sendStatus(FrameCodeDeployStatus, status, err)
	case CommandGetALBHealth:
		if cmd.TargetGroupArn == "" {
			s.log.Warn("alb health requested without target group")
			return nil
		}
		status, err := s.source().TargetHealth(ctx, cmd.TargetGroupArn)
		return s.sendStatus(FrameALBHealth, status, err)
	case CommandUseRealData:
		s.setMock(false)
		return nil
	case CommandUseMockData:
		s.setMock(true)
		return nil
	default:
		s.log.Info("unknown command", "command", cmd.Command)
		return ErrUnknownCommand
	}
}

// Close stops the monitoring loops and waits for them to exit.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	wg := s.stopLoopsLocked()
	s.mu.Unlock()
	if wg != nil {
		wg.Wait()
	}
}

func (s *Session) setMock(mock bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !mock && s.live == nil {
		s.log.Warn("real data unavailable; staying on mock data")
		return
	}
	s.useMock = mock
	if mock {
		s.log.Info("switched to mock data")
	} else {
		s.log.Info("switched to real AWS data")
	}
}

func (s *Session) source() Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.useMock {
		return s.mock
	}
	return s.live
}

func (s *Session) startLoops(parent context.Context) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	prev := s.stopLoopsLocked()
	// Loops outlive the request that started them; only Close or
	// stop_monitoring ends them.
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	wg := &conc.WaitGroup{}
	s.stopLoops = cancel
	s.loops = wg
	wg.Go(func() { s.every(ctx, s.opts.MetricsEvery, s.metricsTick) })
	wg.Go(func() { s.every(ctx, s.opts.XRayEvery, s.graphTick) })
	s.mu.Unlock()

	if prev != nil {
		prev.Wait()
	}
	s.log.Info("monitoring started", "metrics_every", s.opts.MetricsEvery, "xray_every", s.opts.XRayEvery)
}

func (s *Session) haltLoops() {
	s.mu.Lock()
	wg := s.stopLoopsLocked()
	s.mu.Unlock()
	if wg != nil {
		wg.Wait()
	}
}

// stopLoopsLocked cancels the running loops and returns their wait group.
func (s *Session) stopLoopsLocked() *conc.WaitGroup {
	if s.stopLoops == nil {
		return nil
	}
	s.stopLoops()
	wg := s.loops
	s.stopLoops = nil
	s.loops = nil
	return wg
}

func (s *Session) every(ctx context.Context, interval time.Duration, tick func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick(ctx)
		}
	}
}

func (s *Session) metricsTick(ctx context.Context) {
	if err := s.sendMetrics(ctx); err != nil {
		s.log.Debug("metrics frame not sent", "error", err)
		return
	}
	if !s.Mock() {
		return
	}
	entries, err := s.mock.Logs(ctx, 1)
	if err != nil || len(entries) == 0 {
		return
	}
	_ = s.send(frame{Type: FrameLog, Data: entries[0]}, FrameLog)
}

func (s *Session) graphTick(ctx context.Context) {
	graph, err := s.source().ServiceGraph(ctx)
	if err != nil {
		s.log.Debug("service graph unavailable", "error", err)
		return
	}
	_ = s.send(frame{Type: FrameServiceGraph, Data: graph}, FrameServiceGraph)
}

// snapshot fetches both environments concurrently. An environment whose
// fetch fails is reported as null.
func (s *Session) snapshot(ctx context.Context) telemetry.Snapshot {
	src := s.source()
	var snap telemetry.Snapshot
	var wg conc.WaitGroup
	wg.Go(func() { snap.Blue = s.environment(ctx, src, telemetry.Blue) })
	wg.Go(func() { snap.Green = s.environment(ctx, src, telemetry.Green) })
	wg.Wait()
	return snap
}

func (s *Session) environment(ctx context.Context, src Source, env telemetry.Environment) *telemetry.EnvironmentMetrics {
	sample, err := src.EnvironmentMetrics(ctx, env)
	if err != nil {
		s.log.Debug("environment metrics unavailable", "environment", env, "error", err)
		return nil
	}
	return sample
}

func (s *Session) sendMetrics(ctx context.Context) error {
	return s.send(frame{Type: FrameMetrics, Data: s.snapshot(ctx)}, FrameMetrics)
}

func (s *Session) sendLogs(ctx context.Context) error {
	limit := realLogLimit
	if s.Mock() {
		limit = mockLogLimit
	}
	entries, err := s.source().Logs(ctx, limit)
	if err != nil {
		s.log.Warn("logs unavailable", "error", err)
		entries = nil
	}
	if entries == nil {
		entries = []telemetry.LogEntry{}
	}
	return s.send(frame{Type: FrameLogs, Data: entries}, FrameLogs)
}

func (s *Session) sendFlatMetrics(ctx context.Context) error {
	flat, err := s.source().FlatMetrics(ctx)
	if err != nil {
		s.log.Warn("flat metrics unavailable", "error", err)
		flat = map[string]float64{}
	}
	return s.send(CloudWatchFrame(flat, s.now()), FrameCloudWatch)
}

func (s *Session) sendStatus(frameType string, status any, err error) error {
	if err != nil {
		s.log.Warn("status unavailable", "frame", frameType, "error", err)
		return s.send(frame{Type: frameType}, frameType)
	}
	return s.send(frame{Type: frameType, Data: status}, frameType)
}

func (s *Session) send(v any, frameType string) error {
	if err := s.out.SendJSON(v); err != nil {
		return err
	}
	if s.opts.OnFrame != nil {
		s.opts.OnFrame(frameType)
	}
	return nil
}

func (s *Session) observeCommand(name string) {
	if s.opts.OnCommand != nil {
		s.opts.OnCommand(name)
	}
}

// CloudWatchFrame renders flat metrics as {"cloudwatch_metrics": ..., "timestamp": ...}.
func CloudWatchFrame(flat map[string]float64, at time.Time) map[string]any {
	if flat == nil {
		flat = map[string]float64{}
	}
	return map[string]any{
		FrameCloudWatch: flat,
		"timestamp":     telemetry.FormatTimestamp(at),
	}
}
