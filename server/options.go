// File: server/options.go
// Package server defines functional options for the Server facade.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"go.uber.org/zap"

	"github.com/momentics/hioload-relay/control"
)

// ServerOption customizes server initialization.
type ServerOption func(*Server)

// WithLogger sets the logger used by the server and the hub.
func WithLogger(l *zap.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetrics shares a metrics set with the caller. Without it the server
// creates its own when MetricsAddr is configured.
func WithMetrics(m *control.Metrics) ServerOption {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithMessageRate overrides the per-session inbound rate limit.
func WithMessageRate(perSecond float64, burst int) ServerOption {
	return func(s *Server) {
		s.cfg.MessageRate = perSecond
		s.cfg.MessageBurst = burst
	}
}

// WithMaxMessageBytes overrides the inbound message size cap.
func WithMaxMessageBytes(n int64) ServerOption {
	return func(s *Server) {
		s.cfg.MaxMessageBytes = n
	}
}
