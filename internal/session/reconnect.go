package session

import (
	"context"
	"time"
)

// Default reconnection parameters.
const (
	defaultMaxRetries = 5
	defaultBackoff    = 1 * time.Second
	defaultMaxBackoff = 30 * time.Second
)

// ReconnectPolicy controls automatic reconnection after a transport failure.
// The zero value disables reconnection entirely.
type ReconnectPolicy struct {
	// Enabled turns automatic reconnection on.
	Enabled bool

	// MaxRetries is the number of attempts before giving up. Defaults to 5
	// if zero.
	MaxRetries int

	// Backoff is the initial delay between attempts; it doubles each attempt
	// up to MaxBackoff. Defaults to 1s if zero.
	Backoff time.Duration

	// MaxBackoff caps the backoff delay. Defaults to 30s if zero.
	MaxBackoff time.Duration
}

// withDefaults fills zero fields with the default parameters.
func (p ReconnectPolicy) withDefaults() ReconnectPolicy {
	if p.MaxRetries <= 0 {
		p.MaxRetries = defaultMaxRetries
	}
	if p.Backoff <= 0 {
		p.Backoff = defaultBackoff
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = defaultMaxBackoff
	}
	return p
}

// attemptReconnect tries to establish a replacement session with exponential
// backoff, reporting whether a session was restored. On success the new
// session is activated exactly like an initial Start.
func (c *Controller) attemptReconnect(ctx context.Context) bool {
	c.setState(StateConnecting, "")
	backoff := c.reconnect.Backoff

	for attempt := 1; attempt <= c.reconnect.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return false
		default:
		}

		c.logger.Info("attempting reconnection",
			"attempt", attempt,
			"max_retries", c.reconnect.MaxRetries,
			"backoff", backoff,
		)

		sess, err := c.connect(ctx)
		if err == nil {
			c.logger.Info("reconnection successful", "attempt", attempt)
			c.activate(ctx, sess)
			return true
		}

		c.logger.Warn("reconnection attempt failed", "attempt", attempt, "error", err)

		select {
		case <-ctx.Done():
			return false
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > c.reconnect.MaxBackoff {
			backoff = c.reconnect.MaxBackoff
		}
	}

	c.logger.Error("reconnection failed after max retries", "max_retries", c.reconnect.MaxRetries)
	return false
}
