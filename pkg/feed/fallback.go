package feed

import "time"

// FallbackActive reports whether synthetic samples are being published.
func (c *Client) FallbackActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fallbackStop != nil
}

// startFallbackLocked publishes one synthetic sample right away and then one
// per poll interval until stopFallbackLocked.
func (c *Client) startFallbackLocked() {
	if c.fallbackStop != nil {
		return
	}
	stop := make(chan struct{})
	c.fallbackStop = stop
	c.log.Debug("fallback started", "interval", c.pollInterval)
	c.emitFallbackLocked()
	go c.runFallback(stop, c.pollInterval)
}

func (c *Client) runFallback(stop <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			// A tick may race with stop; only the current loop may publish.
			if c.fallbackStop != stop {
				c.mu.Unlock()
				return
			}
			c.emitFallbackLocked()
			c.mu.Unlock()
		}
	}
}

func (c *Client) emitFallbackLocked() {
	c.bus.Publish(Metrics{At: c.now(), Snapshot: c.gen.FallbackSnapshot(), Source: SourceFallback})
}

// stopFallbackLocked reports whether a fallback loop was running.
func (c *Client) stopFallbackLocked() bool {
	if c.fallbackStop == nil {
		return false
	}
	close(c.fallbackStop)
	c.fallbackStop = nil
	c.log.Debug("fallback stopped")
	return true
}
