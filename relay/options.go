// File: relay/options.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package relay

import (
	"time"

	"go.uber.org/zap"

	"github.com/momentics/hioload-relay/control"
	"github.com/momentics/hioload-relay/internal/ratelimit"
)

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the hub logger.
func WithLogger(l *zap.Logger) Option {
	return func(h *Hub) {
		if l != nil {
			h.log = l
		}
	}
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *control.Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

// WithLimiter enables per-session inbound throttling. A nil limiter allows
// everything.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(h *Hub) { h.limiter = l }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(h *Hub) {
		if now != nil {
			h.now = now
		}
	}
}
