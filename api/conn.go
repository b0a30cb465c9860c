// File: api/conn.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Conn is the only view of a socket the hub layer is allowed to hold.

package api

// Conn is a peer connection as seen by the session layer.
//
// Send and Close must not block on network I/O; implementations queue the
// frame and return.
type Conn interface {
	// Send queues one text message.
	Send(data []byte) error

	// Close queues a close frame with code and reason and shuts the socket
	// down once the frames queued before it have been written.
	Close(code int, reason string) error

	// IsOpen reports whether Send would still accept data.
	IsOpen() bool
}

// Metadata is captured once at connect time and never changes.
type Metadata struct {
	UserAgent  string `json:"userAgent"`
	RemoteAddr string `json:"remoteAddr,omitempty"`
}
