// File: relay/pairing.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package relay

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/momentics/hioload-relay/api"
	"github.com/momentics/hioload-relay/internal/session"
)

// registerManager makes s the only manager.
func (h *Hub) registerManager(s *session.Session) {
	prev := h.reg.Select(func(o *session.Session) bool { return o.Manager && o.ID != s.ID })
	for _, o := range prev {
		o.Manager = false
		h.forceClose(o, api.CloseNormal, ReasonManagerReplaced)
	}
	s.Manager = true
	h.log.Info("manager registered", zap.String("session", s.ID))
	h.send(s, loggedFrame, "reply")
}

// registerDevice attaches a device identity to s and evicts any other
// holder of the same deviceId. The evicted session loses its identity at
// once so its cleanup leaves the new holder's clients alone.
func (h *Hub) registerDevice(s *session.Session, payload json.RawMessage) {
	var c credentials
	if err := json.Unmarshal(payload, &c); err != nil || c.DeviceID == "" {
		h.log.Debug("malformed registerDevice ignored", zap.String("session", s.ID), zap.Error(err))
		return
	}
	prev := h.reg.Select(func(o *session.Session) bool { return o.ID != s.ID && o.HoldsDevice(c.DeviceID) })
	for _, o := range prev {
		o.Device = nil
		h.forceClose(o, api.CloseStopReconnect, ReasonStopReconnect)
	}
	s.Device = c.identity()
	h.log.Info("device registered", zap.String("session", s.ID), zap.Object("device", s.Device))
	h.send(s, loggedFrame, "reply")
}

// registerClient pairs s with a live device when the password matches.
func (h *Hub) registerClient(s *session.Session, payload json.RawMessage) {
	var c credentials
	if err := json.Unmarshal(payload, &c); err != nil {
		h.log.Debug("malformed registerClient ignored", zap.String("session", s.ID), zap.Error(err))
		return
	}
	if _, code := h.resolveDevice(c.DeviceID, c.Password); code != "" {
		h.loginError(s, code)
		return
	}
	s.Client = c.identity()
	h.log.Info("client registered", zap.String("session", s.ID), zap.Object("client", s.Client))
	h.send(s, loggedFrame, "reply")
}

// getClients replies with a snapshot of every registered session.
func (h *Hub) getClients(s *session.Session) {
	snap := h.reg.Snapshot()
	list := make([]ClientInfo, 0, len(snap))
	for _, o := range snap {
		list = append(list, infoOf(o))
	}
	h.reply(s, clientsMsg{Action: ActionGetClients, Payload: clientsPayload{Clients: list}})
}

// closeRequested closes s with the code it asked for, or 1000 when that code
// may not be sent on the wire.
func (h *Hub) closeRequested(s *session.Session, payload json.RawMessage) {
	var req closeRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		h.log.Debug("malformed close ignored", zap.String("session", s.ID), zap.Error(err))
		return
	}
	if !api.ValidCloseCode(req.Code) {
		req.Code = api.CloseNormal
	}
	h.log.Debug("close requested", zap.String("session", s.ID), zap.Int("code", req.Code))
	if err := s.Close(req.Code, req.Reason); err != nil {
		h.log.Warn("close failed", zap.String("session", s.ID), zap.Error(err))
	}
}
