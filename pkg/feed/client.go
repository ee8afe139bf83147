// Package feed drives the telemetry WebSocket: it connects, reconnects on a
// fixed delay, polls for metrics and substitutes synthetic samples whenever the
// transport is down.
package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"

	"github.com/splax/deploywatch/pkg/logger"
	"github.com/splax/deploywatch/pkg/synthetic"
	"github.com/splax/deploywatch/pkg/telemetry"
)

const (
	DefaultURL             = "ws://localhost:8080"
	DefaultPollInterval    = 5 * time.Second
	DefaultConnectFallback = 1500 * time.Millisecond
	DefaultReconnectDelay  = 3 * time.Second

	handshakeTimeout = 5 * time.Second
	writeTimeout     = 5 * time.Second
	closeGrace       = time.Second
)

// State is the transport's connection state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Mode selects whether the relay should serve live or mock data.
type Mode string

const (
	ModeLive Mode = "live"
	ModeMock Mode = "mock"
)

// Option customises a Client.
type Option func(*Client)

// WithPollInterval sets both the poll and the fallback emission interval.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// WithConnectFallback sets how long Connect waits before showing synthetic data.
func WithConnectFallback(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.connectFallback = d
		}
	}
}

// WithReconnectDelay sets the fixed delay between reconnect attempts.
func WithReconnectDelay(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.reconnectDelay = d
		}
	}
}

// WithDialer overrides the WebSocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) {
		if d != nil {
			c.dialer = d
		}
	}
}

// WithLogger sets the client's logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithGenerator sets the synthetic source used while disconnected.
func WithGenerator(g *synthetic.Generator) Option {
	return func(c *Client) {
		if g != nil {
			c.gen = g
		}
	}
}

// WithBus publishes events on an existing bus.
func WithBus(b *Bus) Option {
	return func(c *Client) {
		if b != nil {
			c.bus = b
		}
	}
}

// Client is a reconnecting telemetry feed. All methods are safe for concurrent
// use. Timer callbacks, the read loop and the tickers all serialise on mu and
// drop their work when the epoch they were started under is no longer current.
type Client struct {
	url             string
	pollInterval    time.Duration
	connectFallback time.Duration
	reconnectDelay  time.Duration
	dialer          *websocket.Dialer
	log             *slog.Logger
	gen             *synthetic.Generator
	bus             *Bus
	now             func() time.Time

	mu             sync.Mutex
	state          State
	mode           Mode
	epoch          uint64
	intentional    bool
	conn           *websocket.Conn
	cancelDial     context.CancelFunc
	connectSeq     uint64
	connectTimer   *time.Timer
	reconnectTimer *time.Timer
	retry          *backoff.Backoff
	fallbackStop   chan struct{}
	pollStop       chan struct{}

	writeMu sync.Mutex
}

// New returns a disconnected client for url.
func New(url string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(url)
	if trimmed == "" {
		return nil, errors.New("feed url is required")
	}
	if !strings.HasPrefix(trimmed, "ws://") && !strings.HasPrefix(trimmed, "wss://") {
		return nil, fmt.Errorf("feed url %q must use ws:// or wss://", trimmed)
	}
	c := &Client{
		url:             trimmed,
		pollInterval:    DefaultPollInterval,
		connectFallback: DefaultConnectFallback,
		reconnectDelay:  DefaultReconnectDelay,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
		log:  logger.Discard(),
		bus:  NewBus(),
		now:  time.Now,
		mode: ModeLive,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.gen == nil {
		c.gen = synthetic.NewRandom()
	}
	c.retry = &backoff.Backoff{Min: c.reconnectDelay, Max: c.reconnectDelay, Factor: 1}
	c.log = c.log.With("component", "feed", "url", c.url)
	return c, nil
}

// Bus returns the bus events are published on.
func (c *Client) Bus() *Bus { return c.bus }

// Subscribe is shorthand for c.Bus().Subscribe.
func (c *Client) Subscribe(buffer int, kinds ...Kind) *Subscription {
	return c.bus.Subscribe(buffer, kinds...)
}

// URL returns the endpoint the client dials.
func (c *Client) URL() string { return c.url }

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Mode returns the requested data mode.
func (c *Client) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Connect opens the transport and blocks until the first attempt succeeds or
// fails, or ctx is done. A failed attempt still leaves reconnects scheduled;
// call Disconnect to stop them. Connect is a no-op while already connecting or
// connected.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return nil
	}
	c.intentional = false
	result := c.dialLocked()
	c.armConnectFallbackLocked()
	c.mu.Unlock()

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Disconnect closes the transport and stops every timer, the poll loop and the
// fallback. It is idempotent; Disconnected is published only when something
// was actually torn down.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.intentional = true
	c.epoch++
	tornDown := c.state != StateDisconnected

	if c.cancelDial != nil {
		c.cancelDial()
		c.cancelDial = nil
	}
	if c.connectTimer != nil {
		c.connectTimer.Stop()
		c.connectTimer = nil
	}
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
		tornDown = true
	}
	if c.stopPollingLocked() {
		tornDown = true
	}
	if c.stopFallbackLocked() {
		tornDown = true
	}
	if c.conn != nil {
		deadline := c.now().Add(closeGrace)
		_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = c.conn.Close()
		c.conn = nil
		tornDown = true
	}
	c.state = StateDisconnected
	if tornDown {
		c.log.Info("feed disconnected")
		c.bus.Publish(Disconnected{At: c.now(), Intentional: true})
	}
}

// dialLocked starts a new connection attempt under a fresh epoch. The returned
// channel receives the attempt's outcome exactly once.
func (c *Client) dialLocked() <-chan error {
	c.epoch++
	epoch := c.epoch
	c.state = StateConnecting
	ctx, cancel := context.WithCancel(context.Background())
	c.cancelDial = cancel
	result := make(chan error, 1)
	go c.dial(ctx, epoch, result)
	return result
}

func (c *Client) dial(ctx context.Context, epoch uint64, result chan<- error) {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)

	c.mu.Lock()
	defer c.mu.Unlock()
	if epoch != c.epoch || c.intentional {
		if conn != nil {
			_ = conn.Close()
		}
		result <- ErrClosed
		return
	}
	if c.cancelDial != nil {
		c.cancelDial()
		c.cancelDial = nil
	}
	if err != nil {
		err = fmt.Errorf("feed: dial %s: %w", c.url, err)
		c.log.Warn("feed connect failed", "error", err)
		c.state = StateDisconnected
		c.failLocked(err)
		result <- err
		return
	}

	c.conn = conn
	c.state = StateConnected
	c.retry.Reset()
	c.stopFallbackLocked()
	if c.connectTimer != nil {
		c.connectTimer.Stop()
		c.connectTimer = nil
	}
	c.log.Info("feed connected")
	c.bus.Publish(Connected{At: c.now(), URL: c.url})
	if c.mode == ModeMock {
		go c.resendMode(ModeMock)
	}
	go c.readLoop(epoch, conn)
	result <- nil
}

func (c *Client) resendMode(mode Mode) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := c.Send(ctx, modeCommand(mode), nil); err != nil && !errors.Is(err, ErrNotConnected) {
		c.log.Warn("restore data mode failed", "mode", mode, "error", err)
	}
}

// readLoop is the only publisher of frames for its connection, so events
// reach subscribers in arrival order.
func (c *Client) readLoop(epoch uint64, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.connectionLost(epoch, conn, err)
			return
		}
		receivedAt := c.now()
		frames, err := telemetry.DecodeFrame(data, receivedAt)
		if err != nil {
			c.log.Warn("dropping undecodable frame", "error", err, "bytes", len(data))
			continue
		}
		c.mu.Lock()
		if epoch != c.epoch {
			c.mu.Unlock()
			return
		}
		for _, f := range frames {
			c.bus.Publish(eventFromFrame(f, receivedAt))
		}
		c.mu.Unlock()
	}
}

func (c *Client) connectionLost(epoch uint64, conn *websocket.Conn, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if epoch != c.epoch || c.intentional {
		return
	}
	_ = conn.Close()
	c.conn = nil
	c.state = StateDisconnected
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		c.log.Info("feed closed by server", "error", err)
		err = nil
	} else {
		err = fmt.Errorf("feed: read: %w", err)
		c.log.Warn("feed connection lost", "error", err)
	}
	c.failLocked(err)
}

// failLocked reports a lost or failed transport, shows synthetic data and
// schedules the next attempt.
func (c *Client) failLocked(err error) {
	at := c.now()
	if err != nil {
		c.bus.Publish(Error{At: at, Err: err})
	}
	c.bus.Publish(Disconnected{At: at})
	c.startFallbackLocked()
	c.scheduleReconnectLocked()
}

func (c *Client) scheduleReconnectLocked() {
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
	}
	epoch := c.epoch
	delay := c.retry.Duration()
	c.log.Debug("scheduling reconnect", "delay", delay, "attempt", c.retry.Attempt())
	c.reconnectTimer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if epoch != c.epoch || c.intentional || c.state != StateDisconnected {
			return
		}
		c.reconnectTimer = nil
		c.dialLocked()
	})
}

func (c *Client) armConnectFallbackLocked() {
	if c.connectTimer != nil {
		c.connectTimer.Stop()
	}
	c.connectSeq++
	seq := c.connectSeq
	c.connectTimer = time.AfterFunc(c.connectFallback, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if seq != c.connectSeq || c.intentional {
			return
		}
		c.connectTimer = nil
		if c.state != StateConnected {
			c.log.Info("feed not connected yet, showing synthetic data")
			c.startFallbackLocked()
		}
	})
}
