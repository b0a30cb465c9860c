// File: server/server_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// End-to-end tests: a real listener on 127.0.0.1 driven by gorilla/websocket
// peers.

package server_test

import (
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap/zaptest"

	"github.com/momentics/hioload-relay/api"
	"github.com/momentics/hioload-relay/server"
)

const timeout = 3 * time.Second

func startServer(t *testing.T, mutate func(*server.Config), opts ...server.ServerOption) *server.Server {
	t.Helper()
	cfg := server.DefaultConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.ShutdownTimeout = 2 * time.Second
	if mutate != nil {
		mutate(cfg)
	}
	s := server.New(cfg, append([]server.ServerOption{server.WithLogger(zaptest.NewLogger(t))}, opts...)...)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = s.Stop() })
	return s
}

func dial(t *testing.T, s *server.Server) *websocket.Conn {
	t.Helper()
	hdr := http.Header{"User-Agent": {"relay-test"}}
	c, _, err := websocket.DefaultDialer.Dial("ws://"+s.Addr().String()+"/ws", hdr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func write(t *testing.T, c *websocket.Conn, msg string) {
	t.Helper()
	if err := c.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func read(t *testing.T, c *websocket.Conn) string {
	t.Helper()
	c.SetReadDeadline(time.Now().Add(timeout))
	_, data, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return string(data)
}

func expectClosed(t *testing.T, c *websocket.Conn, code int, reason string) {
	t.Helper()
	c.SetReadDeadline(time.Now().Add(timeout))
	for {
		_, _, err := c.ReadMessage()
		if err == nil {
			continue
		}
		var ce *websocket.CloseError
		if !errors.As(err, &ce) {
			t.Fatalf("expected close %d, got %v", code, err)
		}
		if ce.Code != code || ce.Text != reason {
			t.Fatalf("close = %d %q, want %d %q", ce.Code, ce.Text, code, reason)
		}
		return
	}
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

const logged = `{"action":"logged","payload":{}}`

func registerDevice(t *testing.T, s *server.Server, deviceID, password string) *websocket.Conn {
	t.Helper()
	c := dial(t, s)
	write(t, c, `{"action":"registerDevice","payload":{"deviceId":"`+deviceID+`","platform":"ADR","password":"`+password+`"}}`)
	if got := read(t, c); got != logged {
		t.Fatalf("registerDevice reply = %s", got)
	}
	return c
}

func registerClient(t *testing.T, s *server.Server, deviceID, password string) *websocket.Conn {
	t.Helper()
	c := dial(t, s)
	write(t, c, `{"action":"registerClient","payload":{"deviceId":"`+deviceID+`","platform":"WEB","password":"`+password+`"}}`)
	if got := read(t, c); got != logged {
		t.Fatalf("registerClient reply = %s", got)
	}
	return c
}

func TestStartStopLifecycle(t *testing.T) {
	cfg := server.DefaultConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	s := server.New(cfg, server.WithLogger(zaptest.NewLogger(t)))

	if err := s.Stop(); !errors.Is(err, api.ErrNotRunning) {
		t.Fatalf("Stop before Start: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(); !errors.Is(err, api.ErrAlreadyRunning) {
		t.Fatalf("second Start: %v", err)
	}
	if s.Addr() == nil {
		t.Fatal("no address while running")
	}
	if err := s.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := s.Stop(); !errors.Is(err, api.ErrNotRunning) {
		t.Fatalf("second Stop: %v", err)
	}
	if s.Addr() != nil {
		t.Fatal("address reported after Stop")
	}

	// A stopped server can be started again.
	if err := s.Start(); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatal(err)
	}
}

func TestBindFailureRollsBack(t *testing.T) {
	blocker, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer blocker.Close()

	cfg := server.DefaultConfig()
	cfg.ListenAddr = blocker.Addr().String()
	s := server.New(cfg)
	if err := s.Start(); err == nil {
		s.Stop()
		t.Fatal("Start on a busy port should fail")
	}
	if s.Addr() != nil {
		t.Fatal("listener left behind after failed Start")
	}
	if err := s.Stop(); !errors.Is(err, api.ErrNotRunning) {
		t.Fatalf("Stop after failed Start: %v", err)
	}
}

func TestPlainHTTPRequestGets426(t *testing.T) {
	s := startServer(t, nil)
	resp, err := http.Get("http://" + s.Addr().String() + "/")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUpgradeRequired {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestRelayEndToEnd(t *testing.T) {
	s := startServer(t, nil)
	dev := registerDevice(t, s, "dev-1", "pw")
	cli := registerClient(t, s, "dev-1", "pw")

	up := `{"action":"clientMsg","payload":{"eventType":"click","x":10,"y":20}}`
	write(t, cli, up)
	if got := read(t, dev); got != up {
		t.Fatalf("device got %s", got)
	}

	down := `{"action":"deviceMsg","payload":{"image":"iVBORw0KGgo="}}`
	write(t, dev, down)
	if got := read(t, cli); got != down {
		t.Fatalf("client got %s", got)
	}

	bad := dial(t, s)
	write(t, bad, `{"action":"registerClient","payload":{"deviceId":"dev-1","password":"nope"}}`)
	if got := read(t, bad); got != `{"action":"loginError","errCode":"PASSWORD_NOT_VALID"}` {
		t.Fatalf("bad client got %s", got)
	}

	mgr := dial(t, s)
	write(t, mgr, `{"action":"registerManager"}`)
	if got := read(t, mgr); got != logged {
		t.Fatalf("manager got %s", got)
	}
	write(t, mgr, `{"action":"getClients"}`)
	listing := read(t, mgr)
	if n := strings.Count(listing, `"userAgent":"relay-test"`); n != 4 {
		t.Fatalf("listing has %d entries, want 4: %s", n, listing)
	}
}

func TestDeviceReplacementAndDisconnect(t *testing.T) {
	s := startServer(t, nil)
	d1 := registerDevice(t, s, "dev-1", "pw")
	d2 := registerDevice(t, s, "dev-1", "pw")
	expectClosed(t, d1, api.CloseStopReconnect, "WS_CLOSE_STOP_RECONNECT")

	cli := registerClient(t, s, "dev-1", "pw")
	eventually(t, func() bool { return s.Sessions() == 2 })

	d2.Close()
	expectClosed(t, cli, api.CloseStopReconnect, "DEVICE_NOT_EXISTS")
	eventually(t, func() bool { return s.Sessions() == 0 })
}

func TestManagerReplaced(t *testing.T) {
	s := startServer(t, nil)
	m1 := dial(t, s)
	write(t, m1, `{"action":"registerManager"}`)
	read(t, m1)
	m2 := dial(t, s)
	write(t, m2, `{"action":"registerManager"}`)
	read(t, m2)
	expectClosed(t, m1, api.CloseNormal, "MANAGER_REPLACED")
}

func TestStopPushingImageAfterLastClient(t *testing.T) {
	s := startServer(t, nil)
	dev := registerDevice(t, s, "dev-1", "pw")
	c1 := registerClient(t, s, "dev-1", "pw")
	c2 := registerClient(t, s, "dev-1", "pw")

	c1.Close()
	eventually(t, func() bool { return s.Sessions() == 2 })

	// Anything the hub sent on c1's departure would arrive before this.
	marker := `{"action":"clientMsg","payload":{"eventType":"marker"}}`
	write(t, c2, marker)
	if got := read(t, dev); got != marker {
		t.Fatalf("device got %s before marker", got)
	}

	c2.Close()
	if got := read(t, dev); got != `{"action":"clientMsg","payload":{"eventType":"stopPushingImage"}}` {
		t.Fatalf("device got %s", got)
	}
}

func TestCloseActionAndMalformedInput(t *testing.T) {
	s := startServer(t, nil)
	c := dial(t, s)
	write(t, c, "not json")
	write(t, c, `{"action":"teleport"}`)
	if err := c.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	write(t, c, `{"action":"getClients"}`)
	if got := read(t, c); !strings.HasPrefix(got, `{"action":"getClients"`) {
		t.Fatalf("got %s", got)
	}
	write(t, c, `{"action":"close","payload":{"code":4000,"reason":"done"}}`)
	expectClosed(t, c, 4000, "done")
}

func TestStopClosesSessionsWithReconnect(t *testing.T) {
	cfg := server.DefaultConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	s := server.New(cfg, server.WithLogger(zaptest.NewLogger(t)))
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	a := dial(t, s)
	b := dial(t, s)
	eventually(t, func() bool { return s.Sessions() == 2 })

	if err := s.Stop(); err != nil {
		t.Fatal(err)
	}
	expectClosed(t, a, api.CloseReconnect, server.ReasonServerStopping)
	expectClosed(t, b, api.CloseReconnect, server.ReasonServerStopping)
	if s.Sessions() != 0 {
		t.Fatal("sessions left after Stop")
	}
}

func TestOversizedMessageCloses1009(t *testing.T) {
	s := startServer(t, nil, server.WithMaxMessageBytes(64))
	c := dial(t, s)
	write(t, c, `{"action":"getClients","payload":"`+strings.Repeat("x", 100)+`"}`)
	expectClosed(t, c, api.CloseMessageTooBig, "message too big")
}

func TestMetricsEndpoint(t *testing.T) {
	s := startServer(t, func(c *server.Config) { c.MetricsAddr = "127.0.0.1:0" })
	registerDevice(t, s, "dev-1", "pw")

	base := "http://" + s.MetricsAddr().String()
	body := get(t, base+"/metrics")
	for _, want := range []string{
		"relay_sessions_accepted_total 1",
		`relay_hub_messages_total{action="registerDevice"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
	if state := get(t, base+"/debug/state"); !strings.Contains(state, `"sessions.active":1`) {
		t.Errorf("debug state = %s", state)
	}
}

func get(t *testing.T, url string) string {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}
