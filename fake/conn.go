// Package fake
// Author: momentics <momentics@gmail.com>
//
// Fake implementations for testing and development.
// Provides predictable, controllable behavior for the api.Conn contract.

package fake

import (
	"sync"

	"github.com/momentics/hioload-relay/api"
)

// CloseRecord captures one Close call.
type CloseRecord struct {
	Code   int
	Reason string
}

// Conn is a fake implementation of api.Conn for testing. It records every
// sent message and close request.
type Conn struct {
	mu        sync.Mutex
	sent      [][]byte
	closes    []CloseRecord
	closed    bool
	sendError error
	onClose   func(code int, reason string)
}

// NewConn creates an open fake connection.
func NewConn() *Conn {
	return &Conn{sent: make([][]byte, 0)}
}

// Send implements api.Conn.Send.
func (c *Conn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return api.ErrConnClosed
	}
	if c.sendError != nil {
		return c.sendError
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	c.sent = append(c.sent, buf)
	return nil
}

// Close implements api.Conn.Close.
func (c *Conn) Close(code int, reason string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.closes = append(c.closes, CloseRecord{Code: code, Reason: reason})
	cb := c.onClose
	c.mu.Unlock()

	if cb != nil {
		cb(code, reason)
	}
	return nil
}

// IsOpen implements api.Conn.IsOpen.
func (c *Conn) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// SetSendError makes subsequent Send calls fail with err.
func (c *Conn) SetSendError(err error) {
	c.mu.Lock()
	c.sendError = err
	c.mu.Unlock()
}

// OnClose registers a callback invoked after the first Close.
func (c *Conn) OnClose(fn func(code int, reason string)) {
	c.mu.Lock()
	c.onClose = fn
	c.mu.Unlock()
}

// Sent returns copies of all messages sent so far.
func (c *Conn) Sent() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.sent))
	copy(out, c.sent)
	return out
}

// Last returns the most recent message, or nil.
func (c *Conn) Last() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sent) == 0 {
		return nil
	}
	return c.sent[len(c.sent)-1]
}

// Reset forgets recorded messages.
func (c *Conn) Reset() {
	c.mu.Lock()
	c.sent = c.sent[:0]
	c.mu.Unlock()
}

// Closes returns the recorded Close calls.
func (c *Conn) Closes() []CloseRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]CloseRecord, len(c.closes))
	copy(out, c.closes)
	return out
}

// CloseCode returns the code of the first Close call and whether one happened.
func (c *Conn) CloseCode() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.closes) == 0 {
		return 0, false
	}
	return c.closes[0].Code, true
}

var _ api.Conn = (*Conn)(nil)
