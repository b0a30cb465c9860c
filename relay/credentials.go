// File: relay/credentials.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package relay

import (
	"crypto/subtle"

	"github.com/momentics/hioload-relay/internal/session"
)

// resolveDevice looks up the live device session for deviceID and checks
// password against it. The check runs on every call; nothing is cached.
func (h *Hub) resolveDevice(deviceID, password string) (*session.Session, ErrCode) {
	if deviceID == "" {
		return nil, ErrDeviceNotExists
	}
	holders := h.reg.Select(func(s *session.Session) bool { return s.HoldsDevice(deviceID) })
	if len(holders) == 0 {
		return nil, ErrDeviceNotExists
	}
	dev := holders[0]
	if subtle.ConstantTimeCompare([]byte(dev.Device.Password), []byte(password)) != 1 {
		return nil, ErrPasswordNotValid
	}
	return dev, ""
}
