// File: server/types.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/momentics/hioload-relay/control"
	"github.com/momentics/hioload-relay/internal/concurrency"
	"github.com/momentics/hioload-relay/internal/session"
	"github.com/momentics/hioload-relay/protocol"
	"github.com/momentics/hioload-relay/relay"
)

// Config holds all server-side configuration parameters.
type Config struct {
	ListenAddr      string        // TCP bind address, e.g. "0.0.0.0:6788"
	MetricsAddr     string        // optional address for /metrics and /debug/state
	TLSCertFile     string        // TLS is enabled when both files are set
	TLSKeyFile      string        //
	MaxMessageBytes int64         // largest reassembled inbound message
	WriteQueueLimit int           // queued outbound frames per connection, 0 = unlimited
	WriteTimeout    time.Duration // per-frame socket write deadline, 0 = none
	PingInterval    time.Duration // keepalive ping period; peers silent for two periods are dropped
	MessageRate     float64       // inbound messages per second per session, 0 = unlimited
	MessageBurst    int           // token bucket depth for MessageRate
	LoopBatchSize   int           // events drained per event-loop wakeup
	LoopCapacity    int           // event-loop inbox size
	RegistryShards  int           // session registry shards
	ShutdownTimeout time.Duration // bound on Stop waiting for readers
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:      "0.0.0.0:6788",
		MaxMessageBytes: 32 << 20,
		WriteQueueLimit: 1024,
		WriteTimeout:    10 * time.Second,
		PingInterval:    30 * time.Second,
		MessageBurst:    20,
		LoopBatchSize:   64,
		LoopCapacity:    1024,
		RegistryShards:  16,
		ShutdownTimeout: 5 * time.Second,
	}
}

// Server binds the relay hub to a WebSocket listener. Start and Stop may be
// called repeatedly; each Start gets a fresh registry and event loop.
type Server struct {
	cfg     *Config
	log     *zap.Logger
	metrics *control.Metrics
	probes  *control.DebugProbes

	mu   sync.Mutex // serializes Start and Stop
	cur  *instance
	live atomic.Pointer[instance] // lock-free view of cur for probes
}

// instance is the state of one Start..Stop cycle.
type instance struct {
	srv  *Server
	ln   net.Listener
	http *http.Server
	mon  *http.Server // metrics listener, may be nil

	monAddr net.Addr

	reg  *session.Registry
	hub  *relay.Hub
	loop *concurrency.EventLoop

	connMu   sync.Mutex
	conns    map[*protocol.WSConnection]struct{}
	stopping bool
	readers  sync.WaitGroup
}
