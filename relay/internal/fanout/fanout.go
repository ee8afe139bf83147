// Package fanout delivers broadcast frames to every connected client, either
// through the local hub or across relay replicas over Redis pub/sub.
package fanout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// DefaultChannel is the Redis channel replicas share.
const DefaultChannel = "deploywatch:broadcast"

// Broadcaster is the part of the hub the fan-out writes to.
type Broadcaster interface {
	Broadcast(payload []byte)
	Count() int
}

// Publisher sends a frame to every client of every replica.
type Publisher interface {
	Publish(ctx context.Context, payload []byte) error
	// Audience returns the number of local clients, or -1 when other
	// replicas may hold clients too.
	Audience() int
	Close() error
}

// Local writes straight to the hub.
type Local struct {
	hub Broadcaster
}

// NewLocal returns a single-replica publisher.
func NewLocal(hub Broadcaster) *Local {
	return &Local{hub: hub}
}

func (l *Local) Publish(_ context.Context, payload []byte) error {
	l.hub.Broadcast(payload)
	return nil
}

func (l *Local) Audience() int { return l.hub.Count() }

func (l *Local) Close() error { return nil }

// Redis publishes on a shared channel and forwards everything received on it,
// including this replica's own messages, into the local hub.
type Redis struct {
	client  *redis.Client
	channel string
	hub     Broadcaster
	log     *slog.Logger
	sub     *redis.PubSub
	done    chan struct{}
	once    sync.Once
}

// RedisOptions configures NewRedis.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

// NewRedis connects, subscribes and starts forwarding into hub.
func NewRedis(ctx context.Context, opts RedisOptions, hub Broadcaster, logger *slog.Logger) (*Redis, error) {
	addr := strings.TrimSpace(opts.Addr)
	if addr == "" {
		return nil, errors.New("redis address is required")
	}
	channel := strings.TrimSpace(opts.Channel)
	if channel == "" {
		channel = DefaultChannel
	}
	client := redis.NewClient(&redis.Options{Addr: addr, Password: opts.Password, DB: opts.DB})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	sub := client.Subscribe(ctx, channel)
	if _, err := sub.Receive(pingCtx); err != nil {
		_ = sub.Close()
		_ = client.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", channel, err)
	}
	r := &Redis{
		client:  client,
		channel: channel,
		hub:     hub,
		log:     logger.With("component", "fanout", "channel", channel),
		sub:     sub,
		done:    make(chan struct{}),
	}
	go r.forward()
	return r, nil
}

func (r *Redis) forward() {
	defer close(r.done)
	for msg := range r.sub.Channel() {
		r.hub.Broadcast([]byte(msg.Payload))
	}
}

func (r *Redis) Publish(ctx context.Context, payload []byte) error {
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

func (r *Redis) Audience() int { return -1 }

// Ping reports whether Redis is reachable.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	var err error
	r.once.Do(func() {
		err = errors.Join(r.sub.Close(), r.client.Close())
		<-r.done
	})
	return err
}
