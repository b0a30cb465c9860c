package control

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsCounters(t *testing.T) {
	m := NewMetrics()
	m.SessionOpened()
	m.SessionOpened()
	m.SessionClosed()
	m.Relayed(DirectionToDevice)
	m.Relayed(DirectionToDevice)
	m.LoginError("PASSWORD_NOT_VALID")
	m.ForcedClose(3001)

	if got := testutil.ToFloat64(m.activeSessions); got != 1 {
		t.Errorf("active = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.sessionsAccepted); got != 2 {
		t.Errorf("accepted = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.relayed.WithLabelValues(DirectionToDevice)); got != 2 {
		t.Errorf("relayed = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.forcedCloses.WithLabelValues("3001")); got != 1 {
		t.Errorf("forced closes = %v, want 1", got)
	}
	m.SetActive(0)
	if got := testutil.ToFloat64(m.activeSessions); got != 0 {
		t.Errorf("active after reset = %v", got)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.SessionOpened()
	m.MessageReceived("getClients")
	m.DeliveryFailed(DirectionToClients)
	m.RateLimited()
	m.HandshakeFailed()
	if m.Registry() != nil {
		t.Fatal("nil metrics should have no registry")
	}
}

func TestMetricsHandler(t *testing.T) {
	m := NewMetrics()
	m.MessageReceived("registerDevice")
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	if !strings.Contains(body, `relay_hub_messages_total{action="registerDevice"} 1`) {
		t.Fatalf("exposition missing counter:\n%s", body)
	}
}

func TestDebugProbes(t *testing.T) {
	dp := NewDebugProbes()
	dp.RegisterProbe("sessions.active", func() any { return 3 })

	rec := httptest.NewRecorder()
	dp.ServeHTTP(rec, httptest.NewRequest("GET", "/debug/state", nil))
	var state map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &state); err != nil {
		t.Fatal(err)
	}
	if state["sessions.active"] != float64(3) {
		t.Fatalf("probe value = %v", state["sessions.active"])
	}
	if _, ok := state["platform.cpus"]; !ok {
		t.Fatal("platform probes missing")
	}
}
