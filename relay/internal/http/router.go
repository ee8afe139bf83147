package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/gorilla/websocket"

	"github.com/splax/deploywatch/relay/internal/service/deployment"
	"github.com/splax/deploywatch/relay/internal/service/monitor"
	"github.com/splax/deploywatch/relay/internal/ws"
)

const (
	rateWindowRealtime   = 30 * time.Second
	rateLimitWebsocket   = 30
	rateLimitEvents      = 30
	rateWindowDeployment = time.Minute
	rateLimitDeployment  = 12
	healthCheckTimeout   = 2 * time.Second
	defaultSSEHeartbeat  = 15 * time.Second
	maxDeploymentBody    = 1 << 20
)

// DeploymentStarter opens deployment sessions.
type DeploymentStarter interface {
	Start(ctx context.Context, metadata map[string]any) (deployment.Session, error)
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Config wires the router to its collaborators. Live may be nil, in which
// case every session serves synthetic data.
type Config struct {
	Hub          *ws.Hub
	Live         monitor.Source
	Mock         monitor.Source
	Monitor      monitor.Options
	Deployments  DeploymentStarter
	Limiter      RateLimiter
	Metrics      *Metrics
	Checks       map[string]HealthCheck
	SSEHeartbeat time.Duration
}

// Router exposes the relay's HTTP and WebSocket surface.
type Router struct {
	mux          *http.ServeMux
	logger       *slog.Logger
	hub          *ws.Hub
	live         monitor.Source
	mock         monitor.Source
	monitorOpts  monitor.Options
	deployments  DeploymentStarter
	limiter      RateLimiter
	metrics      *Metrics
	checks       map[string]HealthCheck
	sseHeartbeat time.Duration
	upgrader     websocket.Upgrader
}

// NewRouter builds the relay router.
func NewRouter(cfg Config, logger *slog.Logger) *Router {
	limiter := cfg.Limiter
	if limiter == nil {
		limiter = NewMemoryRateLimiter()
	}
	heartbeat := cfg.SSEHeartbeat
	if heartbeat <= 0 {
		heartbeat = defaultSSEHeartbeat
	}
	r := &Router{
		mux:          http.NewServeMux(),
		logger:       logger.With("component", "http"),
		hub:          cfg.Hub,
		live:         cfg.Live,
		mock:         cfg.Mock,
		monitorOpts:  cfg.Monitor,
		deployments:  cfg.Deployments,
		limiter:      limiter,
		metrics:      cfg.Metrics,
		checks:       cfg.Checks,
		sseHeartbeat: heartbeat,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	r.routes()
	return r
}

// ServeHTTP implements http.Handler.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases the rate limiter.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) routes() {
	r.register("/", "websocket", r.withRateLimit("websocket", rateLimitWebsocket, rateWindowRealtime, r.handleRoot))
	r.register("/ws", "websocket", r.withRateLimit("websocket", rateLimitWebsocket, rateWindowRealtime, r.handleWebsocket))
	r.register("/events", "events", r.withRateLimit("events", rateLimitEvents, rateWindowRealtime, r.handleEvents))
	r.register("/api/deployment/start", "deployment_start", withCORS(r.withRateLimit("deployment_start", rateLimitDeployment, rateWindowDeployment, r.handleDeploymentStart)))
	r.register("/healthz", "healthz", withCORS(r.handleHealthz))
	r.mux.Handle("/metrics", r.metrics.Handler())
}

func (r *Router) register(path, route string, handler http.HandlerFunc) {
	r.mux.HandleFunc(path, r.audit(route, handler))
}

// handleRoot accepts upgrades on the bare path, where the browser dashboard
// connects.
func (r *Router) handleRoot(w http.ResponseWriter, req *http.Request) {
	if req.URL.Path != "/" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	r.handleWebsocket(w, req)
}

func (r *Router) handleWebsocket(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	session := r.newSession(client.ID(), client)

	r.hub.Register(client)
	r.metrics.SessionOpened("websocket")
	r.logger.Info("client connected", "session_id", client.ID(), "mock", session.Mock())

	ctx, cancel := context.WithCancel(context.WithoutCancel(req.Context()))
	defer func() {
		cancel()
		session.Close()
		r.hub.Unregister(client)
		client.Close()
		r.metrics.SessionClosed("websocket")
		r.logger.Info("client disconnected", "session_id", client.ID())
	}()

	if err := session.Open(); err != nil {
		return
	}
	for {
		data, err := client.Read()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				r.logger.Warn("websocket read failed", "session_id", client.ID(), "error", err)
			}
			return
		}
		err = session.Handle(ctx, data)
		switch {
		case err == nil, errors.Is(err, monitor.ErrUnknownCommand), errors.Is(err, monitor.ErrMalformedCommand):
		default:
			r.logger.Debug("command reply not delivered", "session_id", client.ID(), "error", err)
		}
	}
}

func (r *Router) newSession(id string, out monitor.Sender) *monitor.Session {
	opts := r.monitorOpts
	if r.metrics != nil {
		opts.OnCommand = r.metrics.Command
		opts.OnFrame = r.metrics.Frame
	}
	return monitor.NewSession(id, out, r.live, r.mock, opts, r.logger)
}

func (r *Router) handleEvents(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	client, err := ws.NewSSEClient(w, r.logger)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	r.hub.Register(client)
	r.metrics.SessionOpened("sse")
	defer func() {
		client.Close()
		r.hub.Unregister(client)
		r.metrics.SessionClosed("sse")
	}()

	ticker := time.NewTicker(r.sseHeartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-req.Context().Done():
			return
		case <-client.Done():
			return
		case <-ticker.C:
			if err := client.Heartbeat(); err != nil {
				return
			}
		}
	}
}

func (r *Router) handleDeploymentStart(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	if r.deployments == nil {
		writeError(w, http.StatusServiceUnavailable, "deployments unavailable")
		return
	}
	var metadata map[string]any
	dec := json.NewDecoder(io.LimitReader(req.Body, maxDeploymentBody))
	if err := dec.Decode(&metadata); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "metadata must be a JSON object")
		return
	}
	session, err := r.deployments.Start(req.Context(), metadata)
	if err != nil {
		r.logger.Error("start deployment failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to start deployment session")
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

type healthResponse struct {
	Status     string            `json:"status"`
	Source     string            `json:"source"`
	Clients    int               `json:"clients"`
	Components map[string]string `json:"components"`
	Timestamp  string            `json:"timestamp"`
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
	defer cancel()

	names := make([]string, 0, len(r.checks))
	for name := range r.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	resp := healthResponse{
		Status:     "ok",
		Source:     "live",
		Components: make(map[string]string, len(names)),
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
	}
	if r.live == nil {
		resp.Source = "mock"
	}
	if r.hub != nil {
		resp.Clients = r.hub.Count()
	}
	for _, name := range names {
		if err := r.checks[name](ctx); err != nil {
			resp.Components[name] = "error: " + err.Error()
			resp.Status = "degraded"
			continue
		}
		resp.Components[name] = "ok"
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
