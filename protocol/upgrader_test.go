package protocol

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func handshakeRequest() *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/any/path", nil)
	r.Header.Set("Connection", "keep-alive, Upgrade")
	r.Header.Set("Upgrade", "websocket")
	r.Header.Set("Sec-WebSocket-Version", "13")
	r.Header.Set("Sec-WebSocket-Key", "dGhlIHNhbXBsZSBub25jZQ==")
	return r
}

func TestUpgradeToWebSocket(t *testing.T) {
	hdr, err := UpgradeToWebSocket(handshakeRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// RFC 6455 §1.3 sample.
	if got := hdr.Get("Sec-WebSocket-Accept"); got != "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=" {
		t.Fatalf("accept key = %q", got)
	}
}

func TestUpgradeToWebSocketErrors(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(r *http.Request)
		want   error
	}{
		{"post", func(r *http.Request) { r.Method = http.MethodPost }, ErrBadHandshakeMethod},
		{"no upgrade", func(r *http.Request) { r.Header.Del("Upgrade") }, ErrInvalidUpgradeHeaders},
		{"version", func(r *http.Request) { r.Header.Set("Sec-WebSocket-Version", "8") }, ErrBadWebSocketVersion},
		{"no key", func(r *http.Request) { r.Header.Del("Sec-WebSocket-Key") }, ErrMissingWebSocketKey},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := handshakeRequest()
			tc.mutate(r)
			if _, err := UpgradeToWebSocket(r); !errors.Is(err, tc.want) {
				t.Fatalf("got %v, want %v", err, tc.want)
			}
		})
	}
}

func TestUpgradePlainRequestGets426(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, err := Upgrade(w, r); !errors.Is(err, ErrInvalidUpgradeHeaders) {
		t.Fatalf("got %v", err)
	}
	if w.Code != http.StatusUpgradeRequired {
		t.Fatalf("status = %d, want 426", w.Code)
	}
}
