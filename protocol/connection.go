// File: protocol/connection.go
// Package protocol implements the core WebSocket connection handling.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// WSConnection encapsulates a full-duplex server-side WebSocket session.
// One goroutine reads through ReadMessage; all writes go through an
// unbounded-by-default FIFO drained by a single writer goroutine, so Send
// and Close never block the caller on network I/O.

package protocol

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/eapache/queue"

	"github.com/momentics/hioload-relay/api"
)

// outbound is one queued frame. last marks the close frame after which the
// socket is shut down.
type outbound struct {
	frame *WSFrame
	last  bool
}

// ConnOption tunes a WSConnection.
type ConnOption func(*WSConnection)

// WithReadLimit caps the size of one reassembled inbound message.
func WithReadLimit(n int64) ConnOption {
	return func(c *WSConnection) { c.readLimit = n }
}

// WithQueueLimit caps the number of data frames waiting to be written.
// Zero means unlimited.
func WithQueueLimit(n int) ConnOption {
	return func(c *WSConnection) { c.queueLimit = n }
}

// WithKeepAlive pings the peer every interval and fails reads after two
// intervals without any inbound frame. Zero disables both.
func WithKeepAlive(interval time.Duration) ConnOption {
	return func(c *WSConnection) { c.pingInterval = interval }
}

// WithWriteTimeout bounds each socket write.
func WithWriteTimeout(d time.Duration) ConnOption {
	return func(c *WSConnection) { c.writeTimeout = d }
}

// WSConnection encapsulates a full-duplex WebSocket session.
type WSConnection struct {
	conn         net.Conn
	br           *bufio.Reader
	readLimit    int64
	queueLimit   int
	writeTimeout time.Duration
	pingInterval time.Duration

	mu      sync.Mutex
	outbox  *queue.Queue
	closing bool // close frame queued or socket shut
	wake    chan struct{}

	done     chan struct{}
	shutOnce sync.Once
	started  atomic.Bool

	// reader-goroutine state for fragmented messages
	fragOpcode byte
	fragBuf    []byte

	bytesReceived  int64
	bytesSent      int64
	framesReceived int64
	framesSent     int64
}

// NewWSConnection wraps an upgraded net.Conn. br may carry bytes buffered
// during the handshake; nil means read straight from conn.
func NewWSConnection(conn net.Conn, br *bufio.Reader, opts ...ConnOption) *WSConnection {
	if br == nil {
		br = bufio.NewReader(conn)
	}
	c := &WSConnection{
		conn:      conn,
		br:        br,
		readLimit: 32 << 20, // 32MB default
		outbox:    queue.New(),
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start launches the writer goroutine. It is safe to call once; later calls
// are ignored.
func (c *WSConnection) Start() {
	if c.started.CompareAndSwap(false, true) {
		go c.writeLoop()
		if c.pingInterval > 0 {
			go c.pingLoop()
		}
	}
}

// RemoteAddr returns the peer address.
func (c *WSConnection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Done returns channel closed when the socket has been shut down.
func (c *WSConnection) Done() <-chan struct{} {
	return c.done
}

// IsOpen reports whether data frames are still accepted.
func (c *WSConnection) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closing
}

// Send queues one text message.
func (c *WSConnection) Send(data []byte) error {
	return c.SendFrame(&WSFrame{IsFinal: true, Opcode: OpcodeText, PayloadLen: int64(len(data)), Payload: data})
}

// SendFrame queues an arbitrary frame.
func (c *WSConnection) SendFrame(f *WSFrame) error {
	return c.enqueue(f, false)
}

// Close queues a close frame after everything already queued and shuts the
// socket once it is written. code 0 sends a close frame without a status.
// Repeated calls are no-ops.
func (c *WSConnection) Close(code int, reason string) error {
	if code != 0 && !api.ValidCloseCode(code) {
		return fmt.Errorf("%w: %d", api.ErrInvalidCloseCode, code)
	}
	payload := EncodeClosePayload(code, reason)
	err := c.enqueue(&WSFrame{IsFinal: true, Opcode: OpcodeClose, PayloadLen: int64(len(payload)), Payload: payload}, true)
	if errors.Is(err, api.ErrConnClosed) {
		return nil
	}
	if err == nil && !c.started.Load() {
		// Nobody will drain the queue.
		c.Abort()
	}
	return err
}

// Abort shuts the socket down immediately, dropping queued frames.
func (c *WSConnection) Abort() {
	c.shutOnce.Do(func() {
		c.mu.Lock()
		c.closing = true
		c.mu.Unlock()
		close(c.done)
		c.conn.Close()
	})
}

func (c *WSConnection) enqueue(f *WSFrame, last bool) error {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return api.ErrConnClosed
	}
	if !f.IsControl() && c.queueLimit > 0 && c.outbox.Length() >= c.queueLimit {
		c.mu.Unlock()
		return api.ErrQueueFull
	}
	c.outbox.Add(outbound{frame: f, last: last})
	if last {
		c.closing = true
	}
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
	return nil
}

// writeLoop drains the outbox until the close frame has been written or the
// socket fails.
func (c *WSConnection) writeLoop() {
	buf := make([]byte, 0, 4096)
	for {
		select {
		case <-c.done:
			return
		case <-c.wake:
		}

		for {
			c.mu.Lock()
			if c.outbox.Length() == 0 {
				c.mu.Unlock()
				break
			}
			item := c.outbox.Remove().(outbound)
			c.mu.Unlock()

			buf = AppendFrame(buf[:0], item.frame)
			if c.writeTimeout > 0 {
				_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			}
			if _, err := c.conn.Write(buf); err != nil {
				c.Abort()
				return
			}
			atomic.AddInt64(&c.framesSent, 1)
			atomic.AddInt64(&c.bytesSent, int64(len(item.frame.Payload)))

			// The server drops TCP right after its close frame instead of
			// waiting for the echo (RFC 6455 7.1.1).
			if item.last {
				c.Abort()
				return
			}
		}
	}
}

func (c *WSConnection) pingLoop() {
	t := time.NewTicker(c.pingInterval)
	defer t.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-t.C:
			if err := c.SendFrame(&WSFrame{IsFinal: true, Opcode: OpcodePing}); err != nil {
				return
			}
		}
	}
}

// ReadMessage returns the next complete data message. Ping frames are
// answered, pong frames are discarded. A close frame from the peer is echoed
// and reported as *CloseError. Oversized messages close the connection with
// 1009, text that is not UTF-8 with 1007, and framing violations (unmasked
// frames included) with 1002.
//
// ReadMessage must be called from a single goroutine.
func (c *WSConnection) ReadMessage() (byte, []byte, error) {
	for {
		if c.pingInterval > 0 {
			_ = c.conn.SetReadDeadline(time.Now().Add(2 * c.pingInterval))
		}
		f, err := DecodeFrame(c.br, c.readLimit)
		if err != nil {
			return 0, nil, c.failRead(err)
		}
		atomic.AddInt64(&c.framesReceived, 1)
		atomic.AddInt64(&c.bytesReceived, f.PayloadLen)
		if !f.Masked {
			return 0, nil, c.failRead(fmt.Errorf("%w: unmasked client frame", ErrProtocolViolation))
		}

		switch f.Opcode {
		case OpcodePing:
			_ = c.SendFrame(&WSFrame{IsFinal: true, Opcode: OpcodePong, PayloadLen: f.PayloadLen, Payload: f.Payload})
			continue
		case OpcodePong:
			continue
		case OpcodeClose:
			code, reason, err := DecodeClosePayload(f.Payload)
			if err != nil {
				return 0, nil, c.failRead(err)
			}
			echo := code
			if echo == api.CloseNoStatus {
				echo = 0
			}
			_ = c.Close(echo, "")
			return 0, nil, &CloseError{Code: code, Reason: reason}
		case OpcodeText, OpcodeBinary:
			if c.fragOpcode != 0 {
				return 0, nil, c.failRead(fmt.Errorf("%w: data frame inside fragmented message", ErrProtocolViolation))
			}
			if f.IsFinal {
				return c.complete(f.Opcode, f.Payload)
			}
			c.fragOpcode = f.Opcode
			c.fragBuf = append(c.fragBuf[:0], f.Payload...)
		case OpcodeContinuation:
			if c.fragOpcode == 0 {
				return 0, nil, c.failRead(fmt.Errorf("%w: unexpected continuation frame", ErrProtocolViolation))
			}
			if c.readLimit > 0 && int64(len(c.fragBuf))+f.PayloadLen > c.readLimit {
				return 0, nil, c.failRead(api.ErrMessageTooLarge)
			}
			c.fragBuf = append(c.fragBuf, f.Payload...)
			if f.IsFinal {
				op := c.fragOpcode
				msg := c.fragBuf
				c.fragOpcode = 0
				c.fragBuf = nil
				return c.complete(op, msg)
			}
		}
	}
}

// complete checks a reassembled data message before handing it out.
func (c *WSConnection) complete(op byte, data []byte) (byte, []byte, error) {
	if op == OpcodeText && !utf8.Valid(data) {
		return 0, nil, c.failRead(ErrInvalidUTF8)
	}
	return op, data, nil
}

// failRead closes the connection with the status matching err.
func (c *WSConnection) failRead(err error) error {
	switch {
	case errors.Is(err, api.ErrMessageTooLarge):
		_ = c.Close(api.CloseMessageTooBig, "message too big")
	case errors.Is(err, ErrInvalidUTF8):
		_ = c.Close(api.CloseInvalidData, "invalid UTF-8")
	case errors.Is(err, ErrProtocolViolation):
		_ = c.Close(api.CloseProtocolError, "protocol error")
	default:
		c.Abort()
	}
	return err
}

// GetStats returns a snapshot of connection statistics for metrics reporting.
func (c *WSConnection) GetStats() map[string]int64 {
	return map[string]int64{
		"bytes_received":  atomic.LoadInt64(&c.bytesReceived),
		"bytes_sent":      atomic.LoadInt64(&c.bytesSent),
		"frames_received": atomic.LoadInt64(&c.framesReceived),
		"frames_sent":     atomic.LoadInt64(&c.framesSent),
	}
}

var _ api.Conn = (*WSConnection)(nil)
