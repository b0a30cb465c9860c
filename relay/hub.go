// File: relay/hub.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package relay

import (
	"encoding/json"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/momentics/hioload-relay/api"
	"github.com/momentics/hioload-relay/control"
	"github.com/momentics/hioload-relay/internal/ratelimit"
	"github.com/momentics/hioload-relay/internal/session"
)

// Hub routes session events. See the package doc for threading rules.
type Hub struct {
	reg     *session.Registry
	log     *zap.Logger
	metrics *control.Metrics
	limiter *ratelimit.Limiter
	now     func() time.Time
}

// NewHub creates a hub over reg.
func NewHub(reg *session.Registry, opts ...Option) *Hub {
	h := &Hub{
		reg: reg,
		log: zap.NewNop(),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Registry returns the registry the hub mutates.
func (h *Hub) Registry() *session.Registry {
	return h.reg
}

// HandleEvent dispatches transport events.
func (h *Hub) HandleEvent(ev api.Event) {
	switch e := ev.(type) {
	case api.OpenEvent:
		h.Open(e.ID, e.Conn, e.Metadata, e.At)
	case api.MessageEvent:
		h.Message(e.ID, e.Data)
	case api.CloseEvent:
		h.Disconnect(e.ID, e.Err)
	default:
		h.log.Warn("unknown event", zap.String("session", ev.SessionID()))
	}
}

// Open registers a freshly accepted connection.
func (h *Hub) Open(id string, conn api.Conn, meta api.Metadata, at time.Time) *session.Session {
	s := session.New(id, conn, meta, at)
	h.reg.Put(id, s)
	h.metrics.SessionOpened()
	h.log.Info("session opened",
		zap.String("session", id),
		zap.String("userAgent", meta.UserAgent),
		zap.String("remoteAddr", meta.RemoteAddr),
	)
	return s
}

// Message handles one inbound text frame from session id.
func (h *Hub) Message(id string, data []byte) {
	s, ok := h.reg.Get(id)
	if !ok {
		h.log.Debug("message for unknown session", zap.String("session", id))
		return
	}
	if !h.limiter.Allow(id, h.now()) {
		h.metrics.RateLimited()
		h.log.Debug("message rate limited", zap.String("session", id))
		return
	}

	// Relayed frames go out as text, so bytes that are not UTF-8 never pass.
	if !utf8.Valid(data) {
		h.log.Debug("non UTF-8 message ignored", zap.String("session", id), zap.Int("size", len(data)))
		return
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Action == "" {
		h.log.Debug("malformed message ignored",
			zap.String("session", id), zap.Int("size", len(data)), zap.Error(err))
		return
	}

	switch env.Action {
	case ActionRegisterManager:
		h.registerManager(s)
	case ActionRegisterDevice:
		h.registerDevice(s, env.Payload)
	case ActionRegisterClient:
		h.registerClient(s, env.Payload)
	case ActionGetClients:
		h.getClients(s)
	case ActionClose:
		h.closeRequested(s, env.Payload)
	case ActionClientMsg:
		h.clientMsg(s, data)
	case ActionDeviceMsg:
		h.deviceMsg(s, data)
	default:
		h.metrics.MessageReceived("unknown")
		h.log.Debug("unknown action ignored", zap.String("session", id), zap.String("action", env.Action))
		return
	}
	h.metrics.MessageReceived(env.Action)
}

// CloseAll closes every session with code and reason and empties the
// registry. Later close events for those sessions are no-ops.
func (h *Hub) CloseAll(code int, reason string) int {
	removed := h.reg.Clear()
	for _, s := range removed {
		if err := s.Close(code, reason); err != nil {
			h.log.Warn("close failed", zap.String("session", s.ID), zap.Error(err))
		}
		h.limiter.Forget(s.ID)
	}
	h.metrics.SetActive(0)
	if len(removed) > 0 {
		h.log.Info("closed all sessions", zap.Int("count", len(removed)), zap.Int("code", code))
	}
	return len(removed)
}

// send queues data on s, logging and counting failures under direction.
func (h *Hub) send(s *session.Session, data []byte, direction string) bool {
	if err := s.Send(data); err != nil {
		h.metrics.DeliveryFailed(direction)
		h.log.Debug("send failed", zap.String("session", s.ID), zap.String("direction", direction), zap.Error(err))
		return false
	}
	return true
}

func (h *Hub) reply(s *session.Session, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.log.Error("encode reply", zap.String("session", s.ID), zap.Error(err))
		return
	}
	h.send(s, data, "reply")
}

func (h *Hub) loginError(s *session.Session, code ErrCode) {
	h.metrics.LoginError(string(code))
	h.log.Debug("login error", zap.String("session", s.ID), zap.String("errCode", string(code)))
	h.reply(s, loginErrorMsg{Action: ActionLoginError, ErrCode: code})
}

func (h *Hub) forceClose(s *session.Session, code int, reason string) {
	h.metrics.ForcedClose(code)
	h.log.Info("closing session",
		zap.Object("session", s), zap.Int("code", code), zap.String("reason", reason))
	if err := s.Close(code, reason); err != nil {
		h.log.Warn("close failed", zap.String("session", s.ID), zap.Error(err))
	}
}
