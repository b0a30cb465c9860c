// File: api/events.go
// Package api defines core event types for hioload-relay.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

import "time"

// Event is one unit of work handled on the event loop.
type Event interface {
	SessionID() string
}

// OpenEvent is emitted when a new WebSocket connection is accepted.
type OpenEvent struct {
	ID       string
	Conn     Conn
	Metadata Metadata
	At       time.Time
}

// MessageEvent carries one complete inbound text message.
type MessageEvent struct {
	ID   string
	Data []byte
}

// CloseEvent is emitted once when a connection is closed or fails.
// Err is nil for an orderly close.
type CloseEvent struct {
	ID  string
	Err error
}

func (e OpenEvent) SessionID() string    { return e.ID }
func (e MessageEvent) SessionID() string { return e.ID }
func (e CloseEvent) SessionID() string   { return e.ID }
