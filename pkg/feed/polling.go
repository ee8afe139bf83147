package feed

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// apiGatewayDefaultRoute is the body API Gateway routes to $default.
var apiGatewayDefaultRoute = []byte(".")

func isAPIGateway(url string) bool {
	return strings.Contains(url, "execute-api")
}

// StartPolling (re)starts the poll loop and requests metrics once right away.
// A non-positive interval uses the configured poll interval. While the
// transport is down the fallback covers for the missing samples.
func (c *Client) StartPolling(interval time.Duration) {
	if interval <= 0 {
		interval = c.pollInterval
	}
	c.mu.Lock()
	c.stopPollingLocked()
	stop := make(chan struct{})
	c.pollStop = stop
	if c.state != StateConnected {
		c.startFallbackLocked()
	}
	c.mu.Unlock()

	c.poll()
	go c.runPolling(stop, interval)
}

// StopPolling stops the poll loop.
func (c *Client) StopPolling() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopPollingLocked()
}

func (c *Client) stopPollingLocked() bool {
	if c.pollStop == nil {
		return false
	}
	close(c.pollStop)
	c.pollStop = nil
	return true
}

func (c *Client) runPolling(stop <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.poll()
		}
	}
}

// poll sends one metrics request; it does nothing while disconnected.
func (c *Client) poll() {
	if c.State() != StateConnected {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	var err error
	if isAPIGateway(c.url) {
		err = c.write(ctx, apiGatewayDefaultRoute)
	} else {
		err = c.Send(ctx, CommandFetchMetrics, nil)
	}
	if err != nil && !errors.Is(err, ErrNotConnected) {
		c.log.Warn("metrics poll failed", "error", err)
	}
}

// write sends one text frame on the open connection.
func (c *Client) write(ctx context.Context, payload []byte) error {
	c.mu.Lock()
	conn := c.conn
	connected := c.state == StateConnected
	c.mu.Unlock()
	if !connected || conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = c.now().Add(writeTimeout)
	}
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, payload)
}
