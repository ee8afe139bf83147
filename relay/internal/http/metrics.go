package httpx

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var histogramBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10}

// Metrics holds the relay's Prometheus collectors. A nil *Metrics records
// nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	requestTotal   *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
	rateLimitHits  *prometheus.CounterVec
	sessions       *prometheus.GaugeVec
	commands       *prometheus.CounterVec
	frames         *prometheus.CounterVec
	cliLatency     *prometheus.HistogramVec
}

// NewMetrics registers the relay collectors on reg. Collectors already
// registered by an earlier call are reused.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deploywatch",
			Subsystem: "relay",
			Name:      "http_requests_total",
			Help:      "Count of processed HTTP requests",
		}, []string{"method", "route", "status"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "deploywatch",
			Subsystem: "relay",
			Name:      "http_request_duration_seconds",
			Help:      "Latency distribution of HTTP handlers",
			Buckets:   histogramBuckets,
		}, []string{"method", "route", "status"}),
		rateLimitHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deploywatch",
			Subsystem: "relay",
			Name:      "rate_limit_hits_total",
			Help:      "Number of rate-limited responses",
		}, []string{"route", "key"}),
		sessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "deploywatch",
			Subsystem: "relay",
			Name:      "active_sessions",
			Help:      "Connected monitoring clients",
		}, []string{"transport"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deploywatch",
			Subsystem: "relay",
			Name:      "commands_total",
			Help:      "Commands received from clients",
		}, []string{"command"}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deploywatch",
			Subsystem: "relay",
			Name:      "frames_total",
			Help:      "Frames sent to clients",
		}, []string{"type"}),
		cliLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "deploywatch",
			Subsystem: "relay",
			Name:      "awscli_duration_seconds",
			Help:      "Latency of AWS CLI invocations",
			Buckets:   histogramBuckets,
		}, []string{"operation", "outcome"}),
	}

	m.requestTotal = register(reg, m.requestTotal)
	m.requestLatency = register(reg, m.requestLatency)
	m.rateLimitHits = register(reg, m.rateLimitHits)
	m.sessions = register(reg, m.sessions)
	m.commands = register(reg, m.commands)
	m.frames = register(reg, m.frames)
	m.cliLatency = register(reg, m.cliLatency)

	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	} else {
		m.gatherer = prometheus.DefaultGatherer
	}
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}

// Handler exposes the collectors in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) recordRequest(method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labels := prometheus.Labels{
		"method": method,
		"route":  route,
		"status": strconv.Itoa(status),
	}
	m.requestTotal.With(labels).Inc()
	m.requestLatency.With(labels).Observe(duration.Seconds())
}

// RateLimited counts a rejected request.
func (m *Metrics) RateLimited(route, key string) {
	if m == nil {
		return
	}
	m.rateLimitHits.With(prometheus.Labels{"route": route, "key": key}).Inc()
}

// SessionOpened and SessionClosed track connected clients per transport.
func (m *Metrics) SessionOpened(transport string) {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues(transport).Inc()
}

func (m *Metrics) SessionClosed(transport string) {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues(transport).Dec()
}

// Command counts an inbound command.
func (m *Metrics) Command(command string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(command).Inc()
}

// Frame counts an outbound frame.
func (m *Metrics) Frame(frameType string) {
	if m == nil {
		return
	}
	m.frames.WithLabelValues(frameType).Inc()
}

// ObserveCLI records one AWS CLI invocation.
func (m *Metrics) ObserveCLI(operation string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.cliLatency.WithLabelValues(operation, outcome).Observe(elapsed.Seconds())
}
