// Package awscli reads deployment telemetry from AWS by shelling out to the
// aws command line tool.
package awscli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"
)

var (
	// ErrNotConfigured is returned when the resource an operation targets has
	// no name or ARN configured.
	ErrNotConfigured = errors.New("awscli: resource not configured")
	// ErrNotFound is returned when AWS reports no matching resource.
	ErrNotFound = errors.New("awscli: no matching resource")
)

const (
	defaultCLIPath = "aws"
	defaultTimeout = 15 * time.Second
	defaultPeriod  = time.Minute
)

// Config names the AWS resources the source reads.
type Config struct {
	Region            string
	CLIPath           string
	Timeout           time.Duration
	ClusterName       string
	ServiceBlue       string
	ServiceGreen      string
	LoadBalancerArn   string
	TargetGroupBlue   string
	TargetGroupGreen  string
	PipelineName      string
	BuildProject      string
	DeployApplication string
	DeployGroup       string
	LogGroupName      string
	MetricPeriod      time.Duration
	CacheTTL          time.Duration
}

// Observer receives the outcome of every CLI invocation.
type Observer func(operation string, elapsed time.Duration, err error)

// Option customises a Source.
type Option func(*Source)

// WithRunner replaces the host command runner.
func WithRunner(r Runner) Option {
	return func(s *Source) { s.runner = r }
}

// WithClock overrides the time source used for query windows and timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Source) { s.now = now }
}

// WithObserver registers fn to be called after each CLI invocation.
func WithObserver(fn Observer) Option {
	return func(s *Source) { s.observe = fn }
}

// Source runs aws CLI commands and caches their decoded results briefly so
// concurrent monitoring sessions share one call per operation.
type Source struct {
	cfg     Config
	runner  Runner
	now     func() time.Time
	observe Observer
	cache   *ristretto.Cache
	log     *slog.Logger
}

// New validates cfg and builds a Source.
func New(cfg Config, logger *slog.Logger, opts ...Option) (*Source, error) {
	if strings.TrimSpace(cfg.Region) == "" {
		return nil, errors.New("aws region is required")
	}
	if cfg.CLIPath == "" {
		cfg.CLIPath = defaultCLIPath
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MetricPeriod <= 0 {
		cfg.MetricPeriod = defaultPeriod
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e3,
		MaxCost:     1 << 10,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create source cache: %w", err)
	}
	s := &Source{
		cfg:    cfg,
		runner: ExecRunner{},
		now:    time.Now,
		cache:  cache,
		log:    logger.With("component", "awscli", "region", cfg.Region),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close releases the cache.
func (s *Source) Close() {
	s.cache.Close()
}

// run invokes one CLI operation, e.g. run(ctx, "logs", "filter-log-events", ...),
// and decodes its JSON output into out.
func (s *Source) run(ctx context.Context, out any, service, operation string, args ...string) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	argv := make([]string, 0, len(args)+6)
	argv = append(argv, service, operation)
	argv = append(argv, args...)
	argv = append(argv, "--region", s.cfg.Region, "--output", "json")

	started := time.Now()
	output, err := s.runner.Run(ctx, s.cfg.CLIPath, argv...)
	if s.observe != nil {
		s.observe(service+" "+operation, time.Since(started), err)
	}
	if err != nil {
		s.log.Warn("aws cli call failed", "operation", service+" "+operation, "error", err)
		return err
	}
	if err := json.Unmarshal(output, out); err != nil {
		return fmt.Errorf("decode %s %s output: %w", service, operation, err)
	}
	return nil
}

// cached returns the value stored under key or computes it with fetch.
// Failures are not cached.
func cached[T any](s *Source, key string, fetch func() (T, error)) (T, error) {
	if s.cfg.CacheTTL > 0 {
		if v, ok := s.cache.Get(key); ok {
			if typed, ok := v.(T); ok {
				return typed, nil
			}
		}
	}
	v, err := fetch()
	if err != nil {
		return v, err
	}
	if s.cfg.CacheTTL > 0 {
		s.cache.SetWithTTL(key, v, 1, s.cfg.CacheTTL)
		s.cache.Wait()
	}
	return v, nil
}
