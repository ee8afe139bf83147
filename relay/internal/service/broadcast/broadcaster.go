// Package broadcast pushes flat CloudWatch metrics to every connected client
// on a fixed schedule.
package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/splax/deploywatch/relay/internal/fanout"
	"github.com/splax/deploywatch/relay/internal/service/monitor"
)

// Source supplies the flat metrics map.
type Source interface {
	FlatMetrics(ctx context.Context) (map[string]float64, error)
}

// Broadcaster runs a cron entry that publishes {"cloudwatch_metrics", "timestamp"}.
type Broadcaster struct {
	mu     sync.Mutex
	cron   *cron.Cron
	source Source
	pub    fanout.Publisher
	every  time.Duration
	log    *slog.Logger
	now    func() time.Time
	ctx    context.Context
	cancel context.CancelFunc
}

// New validates the interval and builds a Broadcaster.
func New(source Source, pub fanout.Publisher, every time.Duration, logger *slog.Logger) (*Broadcaster, error) {
	if source == nil || pub == nil {
		return nil, errors.New("source and publisher are required")
	}
	if every < time.Second {
		return nil, fmt.Errorf("broadcast interval %s is below one second", every)
	}
	return &Broadcaster{
		cron:   cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		source: source,
		pub:    pub,
		every:  every,
		log:    logger.With("component", "broadcast"),
		now:    time.Now,
	}, nil
}

// Start schedules the broadcast and starts the cron runner.
func (b *Broadcaster) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancel != nil {
		return errors.New("broadcaster already started")
	}
	b.ctx, b.cancel = context.WithCancel(ctx)
	spec := fmt.Sprintf("@every %ds", int(b.every/time.Second))
	_, err := b.cron.AddFunc(spec, func() {
		if _, err := b.Broadcast(b.ctx); err != nil {
			b.log.Warn("scheduled broadcast failed", "error", err)
		}
	})
	if err != nil {
		b.cancel()
		b.cancel = nil
		return fmt.Errorf("schedule broadcast: %w", err)
	}
	b.cron.Start()
	b.log.Info("broadcaster started", "schedule", spec)
	return nil
}

// Stop halts the cron runner and waits for a running broadcast to finish.
func (b *Broadcaster) Stop() {
	b.mu.Lock()
	cancel := b.cancel
	b.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-b.cron.Stop().Done()
	b.log.Info("broadcaster stopped")
}

// Broadcast publishes one frame. It reports false without fetching when the
// publisher knows no client is connected.
func (b *Broadcaster) Broadcast(ctx context.Context) (bool, error) {
	if b.pub.Audience() == 0 {
		b.log.Debug("no active connections; skipping broadcast")
		return false, nil
	}
	flat, err := b.source.FlatMetrics(ctx)
	if err != nil {
		b.log.Warn("flat metrics unavailable", "error", err)
		flat = nil
	}
	payload, err := json.Marshal(monitor.CloudWatchFrame(flat, b.now()))
	if err != nil {
		return false, fmt.Errorf("encode broadcast: %w", err)
	}
	if err := b.pub.Publish(ctx, payload); err != nil {
		return false, err
	}
	b.log.Debug("broadcast published", "metrics", len(flat))
	return true, nil
}
