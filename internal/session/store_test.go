// Copyright 2025 momentics@gmail.com
// Licensed under the Apache License, Version 2.0.

// store_test.go: Registry CRUD and snapshot stability tests.
package session

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/momentics/hioload-relay/api"
	"github.com/momentics/hioload-relay/fake"
)

func newTestSession(id string, at time.Time) *Session {
	return New(id, fake.NewConn(), api.Metadata{UserAgent: "test"}, at)
}

func TestRegistry_SingleThreaded(t *testing.T) {
	r := NewRegistry(8)
	s := newTestSession("client-123", time.Now())
	r.Put(s.ID, s)

	got, ok := r.Get("client-123")
	if !ok || got != s {
		t.Fatal("Get did not return stored session")
	}
	if r.Len() != 1 {
		t.Errorf("Len = %d, want 1", r.Len())
	}
	if !r.Remove("client-123") {
		t.Error("Remove reported missing session")
	}
	if r.Remove("client-123") {
		t.Error("second Remove reported success")
	}
	if _, ok := r.Get("client-123"); ok {
		t.Error("expected session deleted")
	}
}

func TestRegistry_SnapshotOrder(t *testing.T) {
	r := NewRegistry(4)
	base := time.Unix(1700000000, 0)
	ids := []string{"c", "a", "b", "d"}
	for i, id := range ids {
		r.Put(id, newTestSession(id, base.Add(time.Duration(i)*time.Second)))
	}
	// same timestamp as "c": ordered by id
	r.Put("0", newTestSession("0", base))

	want := []string{"0", "c", "a", "b", "d"}
	got := r.Snapshot()
	if len(got) != len(want) {
		t.Fatalf("snapshot len %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].ID != want[i] {
			t.Errorf("snapshot[%d] = %s, want %s", i, got[i].ID, want[i])
		}
	}
}

// TestRegistry_SnapshotStableUnderMutation removes and adds entries while
// iterating a snapshot; every entry present at snapshot time must be visited exactly once.
func TestRegistry_SnapshotStableUnderMutation(t *testing.T) {
	r := NewRegistry(2)
	now := time.Now()
	for i := 0; i < 50; i++ {
		id := fmt.Sprintf("s%02d", i)
		r.Put(id, newTestSession(id, now))
	}

	seen := make(map[string]int)
	for _, s := range r.Snapshot() {
		seen[s.ID]++
		r.Remove(s.ID)
		next := "new-" + s.ID
		r.Put(next, newTestSession(next, now))
	}

	if len(seen) != 50 {
		t.Fatalf("visited %d sessions, want 50", len(seen))
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("%s visited %d times", id, n)
		}
	}
	if r.Len() != 50 {
		t.Errorf("Len = %d after replace, want 50", r.Len())
	}
}

func TestRegistry_Select(t *testing.T) {
	r := NewRegistry(4)
	now := time.Now()
	dev := newTestSession("dev", now)
	dev.Device = &Identity{DeviceID: "D1", Password: "p"}
	cli := newTestSession("cli", now.Add(time.Millisecond))
	cli.Client = &Identity{DeviceID: "D1", Password: "p"}
	other := newTestSession("other", now.Add(2*time.Millisecond))
	for _, s := range []*Session{dev, cli, other} {
		r.Put(s.ID, s)
	}

	paired := r.Select(func(s *Session) bool { return s.PairedTo("D1") })
	if len(paired) != 1 || paired[0] != cli {
		t.Errorf("Select paired = %v", paired)
	}
	holders := r.Select(func(s *Session) bool { return s.HoldsDevice("D1") })
	if len(holders) != 1 || holders[0] != dev {
		t.Errorf("Select holders = %v", holders)
	}
}

func TestRegistry_Clear(t *testing.T) {
	r := NewRegistry(4)
	now := time.Now()
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("x%d", i)
		r.Put(id, newTestSession(id, now))
	}
	removed := r.Clear()
	if len(removed) != 5 {
		t.Errorf("Clear returned %d sessions, want 5", len(removed))
	}
	if r.Len() != 0 {
		t.Errorf("Len = %d after Clear", r.Len())
	}
}

// TestRegistry_ConcurrentAccess validates thread-safe operation.
func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := NewRegistry(32)
	var wg sync.WaitGroup
	now := time.Now()
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("sess-%d", i)
			r.Put(id, newTestSession(id, now))
			_ = r.Snapshot()
		}(i)
	}
	wg.Wait()
	if r.Len() != 100 {
		t.Errorf("Len = %d, want 100", r.Len())
	}
}

func TestSession_CloseAndSend(t *testing.T) {
	conn := fake.NewConn()
	s := New("id", conn, api.Metadata{}, time.Now())
	if err := s.Send([]byte("hi")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := s.Close(api.CloseStopReconnect, "bye"); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if s.IsOpen() {
		t.Error("session still open after Close")
	}
	if err := s.Send([]byte("late")); err != api.ErrConnClosed {
		t.Errorf("Send after close = %v, want ErrConnClosed", err)
	}
	if code, ok := conn.CloseCode(); !ok || code != api.CloseStopReconnect {
		t.Errorf("close code = %d (%v)", code, ok)
	}
}
