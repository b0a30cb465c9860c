// File: server/server.go
// Package server is the transport adapter: it owns the listener, upgrades
// HTTP requests to WebSocket sessions and feeds their events to the relay hub
// on a single event loop.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/momentics/hioload-relay/api"
	"github.com/momentics/hioload-relay/control"
	"github.com/momentics/hioload-relay/internal/concurrency"
	"github.com/momentics/hioload-relay/internal/ratelimit"
	"github.com/momentics/hioload-relay/internal/session"
	"github.com/momentics/hioload-relay/protocol"
	"github.com/momentics/hioload-relay/relay"
)

// ReasonServerStopping accompanies the RECONNECT close sent by Stop.
const ReasonServerStopping = "WS_CLOSE_RECONNECT"

// closeGrace bounds how long a reader waits for its close frame to drain.
const closeGrace = time.Second

// New builds the Server facade. A nil cfg means DefaultConfig.
func New(cfg *Config, opts ...ServerOption) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	c := *cfg
	s := &Server{
		cfg:    &c,
		log:    zap.NewNop(),
		probes: control.NewDebugProbes(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil && s.cfg.MetricsAddr != "" {
		s.metrics = control.NewMetrics()
	}
	s.probes.RegisterProbe("sessions.active", func() any { return s.Sessions() })
	s.probes.RegisterProbe("loop.pending", func() any {
		if inst := s.live.Load(); inst != nil {
			return inst.loop.Pending()
		}
		return 0
	})
	return s
}

// Metrics returns the collectors in use, or nil.
func (s *Server) Metrics() *control.Metrics {
	return s.metrics
}

// Start binds the listener and begins accepting connections. On failure
// nothing is left running.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur != nil {
		return api.ErrAlreadyRunning
	}

	ln, err := s.listen()
	if err != nil {
		return err
	}

	inst := &instance{
		srv:   s,
		ln:    ln,
		reg:   session.NewRegistry(s.cfg.RegistryShards),
		conns: make(map[*protocol.WSConnection]struct{}),
	}

	if s.cfg.MetricsAddr != "" {
		mln, err := net.Listen("tcp", s.cfg.MetricsAddr)
		if err != nil {
			ln.Close()
			return fmt.Errorf("metrics listen %s: %w", s.cfg.MetricsAddr, err)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", s.metrics.Handler())
		mux.Handle("/debug/state", s.probes)
		inst.mon = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		inst.monAddr = mln.Addr()
		go inst.mon.Serve(mln)
	}

	inst.hub = relay.NewHub(inst.reg,
		relay.WithLogger(s.log.Named("hub")),
		relay.WithMetrics(s.metrics),
		relay.WithLimiter(ratelimit.New(s.cfg.MessageRate, s.cfg.MessageBurst, 0)),
	)
	inst.loop = concurrency.NewEventLoop(inst.hub, s.cfg.LoopBatchSize, s.cfg.LoopCapacity)
	go func() {
		if err := inst.loop.Run(); err != nil {
			s.log.Error("event loop", zap.Error(err))
		}
	}()

	inst.http = &http.Server{
		Handler:           inst,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          zap.NewStdLog(s.log.Named("http")),
	}
	go func() {
		if err := inst.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("serve", zap.Error(err))
		}
	}()

	s.cur = inst
	s.live.Store(inst)
	s.log.Info("relay started", zap.String("addr", ln.Addr().String()), zap.Bool("tls", s.tlsEnabled()))
	return nil
}

func (s *Server) tlsEnabled() bool {
	return s.cfg.TLSCertFile != "" && s.cfg.TLSKeyFile != ""
}

func (s *Server) listen() (net.Listener, error) {
	var tlsCfg *tls.Config
	if s.tlsEnabled() {
		cert, err := tls.LoadX509KeyPair(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
		if err != nil {
			return nil, fmt.Errorf("load tls key pair: %w", err)
		}
		tlsCfg = &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
	}
	lc := net.ListenConfig{Control: controlSocket}
	ln, err := lc.Listen(context.Background(), "tcp", s.cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", s.cfg.ListenAddr, err)
	}
	if tlsCfg != nil {
		ln = tls.NewListener(ln, tlsCfg)
	}
	return ln, nil
}

// Stop closes every session with RECONNECT, clears the registry, stops the
// event loop and releases the listener.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst := s.cur
	if inst == nil {
		return api.ErrNotRunning
	}
	s.cur = nil
	s.live.Store(nil)

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	inst.connMu.Lock()
	inst.stopping = true
	inst.connMu.Unlock()

	if err := inst.http.Shutdown(ctx); err != nil {
		s.log.Warn("http shutdown", zap.Error(err))
	}
	var closed int
	if err := inst.loop.Do(func() { closed = inst.hub.CloseAll(api.CloseReconnect, ReasonServerStopping) }); err != nil {
		s.log.Warn("close sessions", zap.Error(err))
	}
	inst.loop.Stop()

	// Connections upgraded but never registered with the hub.
	inst.connMu.Lock()
	for c := range inst.conns {
		_ = c.Close(api.CloseReconnect, ReasonServerStopping)
	}
	inst.connMu.Unlock()

	done := make(chan struct{})
	go func() {
		inst.readers.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("readers still running after shutdown timeout")
	}

	if inst.mon != nil {
		_ = inst.mon.Shutdown(ctx)
	}
	s.metrics.SetActive(0)
	s.log.Info("relay stopped", zap.Int("sessions_closed", closed))
	return nil
}

// Addr returns the bound listener address, or nil when stopped.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil {
		return nil
	}
	return s.cur.ln.Addr()
}

// MetricsAddr returns the bound metrics address, or nil.
func (s *Server) MetricsAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil || s.cur.mon == nil {
		return nil
	}
	return s.cur.monAddr
}

// Sessions reports the number of registered sessions.
func (s *Server) Sessions() int {
	if inst := s.live.Load(); inst != nil {
		return inst.reg.Len()
	}
	return 0
}
