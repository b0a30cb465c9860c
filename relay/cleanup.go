// File: relay/cleanup.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package relay

import (
	"go.uber.org/zap"

	"github.com/momentics/hioload-relay/api"
	"github.com/momentics/hioload-relay/internal/session"
)

// Disconnect runs once per closed or failed connection. Unknown ids are
// ignored, so duplicate triggers are harmless. The session leaves the
// registry last.
func (h *Hub) Disconnect(id string, cause error) {
	s, ok := h.reg.Get(id)
	if !ok {
		return
	}

	if s.Device != nil {
		deviceID := s.Device.DeviceID
		clients := h.reg.Select(func(o *session.Session) bool { return o.ID != id && o.PairedTo(deviceID) })
		for _, c := range clients {
			h.forceClose(c, api.CloseStopReconnect, string(ErrDeviceNotExists))
		}
	}

	if s.Client != nil && s.Client.DeviceID != "" {
		deviceID := s.Client.DeviceID
		others := h.reg.Select(func(o *session.Session) bool { return o.ID != id && o.PairedTo(deviceID) })
		if len(others) == 0 {
			devs := h.reg.Select(func(o *session.Session) bool { return o.ID != id && o.HoldsDevice(deviceID) })
			for _, d := range devs {
				h.log.Debug("last client gone, stopping device push",
					zap.String("device", deviceID), zap.String("session", d.ID))
				h.send(d, stopPushingFrame, "notify")
			}
		}
	}

	h.reg.Remove(id)
	h.limiter.Forget(id)
	h.metrics.SessionClosed()

	fields := []zap.Field{zap.Object("session", s)}
	if cause != nil {
		fields = append(fields, zap.NamedError("cause", cause))
	}
	h.log.Info("session closed", fields...)
}
