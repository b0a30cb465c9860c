// File: server/conn.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/momentics/hioload-relay/api"
	"github.com/momentics/hioload-relay/protocol"
)

// ServeHTTP upgrades any request path to a WebSocket session.
func (in *instance) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s := in.srv
	conn, err := protocol.Upgrade(w, r,
		protocol.WithReadLimit(s.cfg.MaxMessageBytes),
		protocol.WithQueueLimit(s.cfg.WriteQueueLimit),
		protocol.WithWriteTimeout(s.cfg.WriteTimeout),
		protocol.WithKeepAlive(s.cfg.PingInterval),
	)
	if err != nil {
		s.metrics.HandshakeFailed()
		s.log.Debug("upgrade failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}
	conn.Start()

	if !in.track(conn) {
		_ = conn.Close(api.CloseReconnect, ReasonServerStopping)
		return
	}

	id := uuid.NewString()
	open := api.OpenEvent{
		ID:   id,
		Conn: conn,
		Metadata: api.Metadata{
			UserAgent:  r.UserAgent(),
			RemoteAddr: r.RemoteAddr,
		},
		At: time.Now(),
	}
	if !in.loop.Post(open) {
		in.untrack(conn)
		_ = conn.Close(api.CloseReconnect, ReasonServerStopping)
		return
	}

	in.readers.Add(1)
	go in.readLoop(id, conn)
}

// readLoop posts each text message in arrival order and a single close
// event when the connection ends.
func (in *instance) readLoop(id string, conn *protocol.WSConnection) {
	defer in.readers.Done()
	defer in.untrack(conn)
	log := in.srv.log

	for {
		op, data, err := conn.ReadMessage()
		if err != nil {
			in.loop.Post(api.CloseEvent{ID: id, Err: closeCause(err)})
			select {
			case <-conn.Done():
			case <-time.After(closeGrace):
				conn.Abort()
			}
			return
		}
		if op != protocol.OpcodeText {
			log.Debug("binary message ignored", zap.String("session", id), zap.Int("size", len(data)))
			continue
		}
		if !in.loop.Post(api.MessageEvent{ID: id, Data: data}) {
			conn.Abort()
			return
		}
	}
}

// closeCause drops the errors that mean an orderly close.
func closeCause(err error) error {
	var ce *protocol.CloseError
	switch {
	case errors.As(err, &ce) && (ce.Code == api.CloseNormal || ce.Code == api.CloseGoingAway || ce.Code == api.CloseNoStatus):
		return nil
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		return nil
	}
	return err
}

func (in *instance) track(c *protocol.WSConnection) bool {
	in.connMu.Lock()
	defer in.connMu.Unlock()
	if in.stopping {
		return false
	}
	in.conns[c] = struct{}{}
	return true
}

func (in *instance) untrack(c *protocol.WSConnection) {
	in.connMu.Lock()
	delete(in.conns, c)
	in.connMu.Unlock()
}
