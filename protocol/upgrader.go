// File: protocol/upgrader.go
// Package protocol implements HTTP→WebSocket handshake logic with strict validation.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// UpgradeToWebSocket validates the HTTP request headers for a WebSocket upgrade,
// enforces required headers, computes the Sec-WebSocket-Accept key per RFC6455,
// and returns the response headers needed to complete the WebSocket handshake.
// Upgrade performs the full server-side switch on top of net/http.

package protocol

import (
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	WebSocketGUID            = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"
	MaxHandshakeHeadersSize  = 8192
	RequiredWebSocketVersion = "13"
)

var (
	ErrBadHandshakeMethod    = errors.New("websocket handshake requires GET")
	ErrInvalidUpgradeHeaders = errors.New("invalid WebSocket upgrade headers")
	ErrMissingWebSocketKey   = errors.New("missing Sec-WebSocket-Key header")
	ErrBadWebSocketVersion   = errors.New("unsupported WebSocket version; only '13' is supported")
	ErrHeadersTooLarge       = errors.New("handshake headers too large")
	ErrHijackUnsupported     = errors.New("response writer does not support hijacking")
)

// UpgradeToWebSocket performs the WebSocket handshake validation and header generation.
func UpgradeToWebSocket(r *http.Request) (http.Header, error) {
	if r.Method != http.MethodGet {
		return nil, ErrBadHandshakeMethod
	}

	// Enforce maximum header size to mitigate header injection attacks.
	total := 0
	for k, vs := range r.Header {
		total += len(k)
		for _, v := range vs {
			total += len(v)
		}
		if total > MaxHandshakeHeadersSize {
			return nil, ErrHeadersTooLarge
		}
	}

	if !headerContainsToken(r.Header, "Connection", "Upgrade") ||
		!headerContainsToken(r.Header, "Upgrade", "websocket") {
		return nil, ErrInvalidUpgradeHeaders
	}
	if r.Header.Get("Sec-WebSocket-Version") != RequiredWebSocketVersion {
		return nil, ErrBadWebSocketVersion
	}
	key := strings.TrimSpace(r.Header.Get("Sec-WebSocket-Key"))
	if key == "" {
		return nil, ErrMissingWebSocketKey
	}

	resp := make(http.Header)
	resp.Set("Upgrade", "websocket")
	resp.Set("Connection", "Upgrade")
	resp.Set("Sec-WebSocket-Accept", AcceptKey(key))
	return resp, nil
}

// AcceptKey computes the Sec-WebSocket-Accept value for a client key.
func AcceptKey(key string) string {
	h := sha1.New()
	h.Write([]byte(key + WebSocketGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// WriteHandshakeResponse writes the 101 status line and hdr to w.
func WriteHandshakeResponse(w io.Writer, hdr http.Header) error {
	var b strings.Builder
	b.WriteString("HTTP/1.1 101 Switching Protocols\r\n")
	if err := hdr.Write(&b); err != nil {
		return err
	}
	b.WriteString("\r\n")
	_, err := io.WriteString(w, b.String())
	return err
}

// Upgrade validates r, hijacks the underlying connection and completes the
// handshake. On validation failure an HTTP error has already been written to
// w. The returned connection is not started.
func Upgrade(w http.ResponseWriter, r *http.Request, opts ...ConnOption) (*WSConnection, error) {
	hdr, err := UpgradeToWebSocket(r)
	if err != nil {
		status := http.StatusBadRequest
		switch {
		case errors.Is(err, ErrBadHandshakeMethod):
			status = http.StatusMethodNotAllowed
		case errors.Is(err, ErrInvalidUpgradeHeaders):
			status = http.StatusUpgradeRequired
			w.Header().Set("Upgrade", "websocket")
		case errors.Is(err, ErrBadWebSocketVersion):
			w.Header().Set("Sec-WebSocket-Version", RequiredWebSocketVersion)
		}
		http.Error(w, err.Error(), status)
		return nil, err
	}

	hj, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, ErrHijackUnsupported.Error(), http.StatusInternalServerError)
		return nil, ErrHijackUnsupported
	}
	conn, rw, err := hj.Hijack()
	if err != nil {
		return nil, fmt.Errorf("hijack: %w", err)
	}
	// Drop any deadline left behind by the HTTP server.
	_ = conn.SetDeadline(time.Time{})

	if err := WriteHandshakeResponse(conn, hdr); err != nil {
		conn.Close()
		return nil, fmt.Errorf("handshake resp: %w", err)
	}
	return NewWSConnection(conn, rw.Reader, opts...), nil
}

// headerContainsToken checks if headerName contains the given token, case-insensitive.
func headerContainsToken(h http.Header, headerName, token string) bool {
	vals := h[http.CanonicalHeaderKey(headerName)]
	for _, v := range vals {
		for _, p := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(p), token) {
				return true
			}
		}
	}
	return false
}
