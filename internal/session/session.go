// File: internal/session/session.go
// Package session
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Per-connection state: identity roles, connect metadata and the owned socket.

package session

import (
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/momentics/hioload-relay/api"
)

// Known platform values announced by peers.
const (
	PlatformWeb     = "WEB"
	PlatformAndroid = "ADR"
)

// Identity is the credential triple carried by registerDevice and registerClient.
type Identity struct {
	DeviceID string `json:"deviceId"`
	Password string `json:"password"`
	Platform string `json:"platform"`
}

// MarshalLogObject keeps the password out of logs.
func (i Identity) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("deviceId", i.DeviceID)
	enc.AddString("platform", i.Platform)
	enc.AddBool("password_set", i.Password != "")
	return nil
}

// Session holds per-connection state. Role fields are independent: a session
// may be a device, a client and the manager at the same time.
//
// Fields other than ID, Meta and CreatedAt are mutated only on the event loop.
type Session struct {
	ID        string
	Meta      api.Metadata
	CreatedAt time.Time

	Device  *Identity
	Client  *Identity
	Manager bool

	conn api.Conn
}

// New creates a session that owns conn.
func New(id string, conn api.Conn, meta api.Metadata, at time.Time) *Session {
	return &Session{
		ID:        id,
		Meta:      meta,
		CreatedAt: at,
		conn:      conn,
	}
}

// Send queues one text message on the session's connection.
func (s *Session) Send(data []byte) error {
	if s.conn == nil || !s.conn.IsOpen() {
		return api.ErrConnClosed
	}
	return s.conn.Send(data)
}

// Close closes the owned connection. Closing an already closed connection is
// a no-op.
func (s *Session) Close(code int, reason string) error {
	if s.conn == nil || !s.conn.IsOpen() {
		return nil
	}
	return s.conn.Close(code, reason)
}

// IsOpen reports whether the owned connection still accepts frames.
func (s *Session) IsOpen() bool {
	return s.conn != nil && s.conn.IsOpen()
}

// HoldsDevice reports whether s is registered as the device deviceID.
func (s *Session) HoldsDevice(deviceID string) bool {
	return s.Device != nil && s.Device.DeviceID == deviceID
}

// PairedTo reports whether s is a client of the device deviceID.
func (s *Session) PairedTo(deviceID string) bool {
	return s.Client != nil && s.Client.DeviceID == deviceID
}

// MarshalLogObject renders the session for structured logs.
func (s *Session) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("id", s.ID)
	enc.AddString("userAgent", s.Meta.UserAgent)
	if s.Device != nil {
		_ = enc.AddObject("device", s.Device)
	}
	if s.Client != nil {
		_ = enc.AddObject("client", s.Client)
	}
	if s.Manager {
		enc.AddBool("manager", true)
	}
	return nil
}
