// Package api
// Author: momentics <momentics@gmail.com>
//
// Common error values shared by the transport, the hub and the host binaries.

package api

import "errors"

// Lifecycle errors reported by Start/Stop.
var (
	ErrAlreadyRunning = errors.New("relay server already running")
	ErrNotRunning     = errors.New("relay server is not running")
)

// Connection errors.
var (
	ErrConnClosed       = errors.New("connection is closed")
	ErrQueueFull        = errors.New("outbound queue is full")
	ErrMessageTooLarge  = errors.New("message exceeds read limit")
	ErrInvalidCloseCode = errors.New("invalid close code")
)
