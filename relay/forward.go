// File: relay/forward.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package relay

import (
	"go.uber.org/zap"

	"github.com/momentics/hioload-relay/control"
	"github.com/momentics/hioload-relay/internal/session"
)

// clientMsg forwards raw to the device s is paired with. Credentials are
// re-checked on every message.
func (h *Hub) clientMsg(s *session.Session, raw []byte) {
	if s.Client == nil {
		h.loginError(s, ErrDeviceNotExists)
		return
	}
	dev, code := h.resolveDevice(s.Client.DeviceID, s.Client.Password)
	if code != "" {
		h.loginError(s, code)
		return
	}
	if h.send(dev, raw, control.DirectionToDevice) {
		h.metrics.Relayed(control.DirectionToDevice)
	}
}

// deviceMsg fans raw out to every client of the sender's device. Failed
// deliveries are not reported back.
func (h *Hub) deviceMsg(s *session.Session, raw []byte) {
	if s.Device == nil {
		h.loginError(s, ErrDeviceNotExists)
		return
	}
	deviceID := s.Device.DeviceID
	clients := h.reg.Select(func(o *session.Session) bool { return o.PairedTo(deviceID) })
	delivered := 0
	for _, c := range clients {
		if h.send(c, raw, control.DirectionToClients) {
			h.metrics.Relayed(control.DirectionToClients)
			delivered++
		}
	}
	h.log.Debug("device message relayed",
		zap.String("session", s.ID), zap.Int("clients", len(clients)), zap.Int("delivered", delivered))
}
