// Copyright 2025 momentics@gmail.com
// Licensed under the Apache License, Version 2.0.

package concurrency

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/momentics/hioload-relay/api"
)

type recordingHandler struct {
	mu     sync.Mutex
	events []api.Event
	inside int
	maxIn  int
}

func (h *recordingHandler) HandleEvent(ev api.Event) {
	h.mu.Lock()
	h.inside++
	if h.inside > h.maxIn {
		h.maxIn = h.inside
	}
	h.events = append(h.events, ev)
	h.mu.Unlock()

	time.Sleep(50 * time.Microsecond)

	h.mu.Lock()
	h.inside--
	h.mu.Unlock()
}

func (h *recordingHandler) snapshot() []api.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]api.Event, len(h.events))
	copy(out, h.events)
	return out
}

func startLoop(t *testing.T, h EventHandler, batch, capacity int) *EventLoop {
	t.Helper()
	el := NewEventLoop(h, batch, capacity)
	go el.Run()
	t.Cleanup(el.Stop)
	return el
}

// TestEventLoop_FIFOPerProducer checks that events from one producer keep their order.
func TestEventLoop_FIFOPerProducer(t *testing.T) {
	h := &recordingHandler{}
	el := startLoop(t, h, 4, 2)

	const n = 200
	for i := 0; i < n; i++ {
		if !el.Post(api.MessageEvent{ID: "a", Data: []byte{byte(i)}}) {
			t.Fatalf("Post %d rejected", i)
		}
	}
	if err := el.Do(func() {}); err != nil {
		t.Fatalf("Do: %v", err)
	}

	got := h.snapshot()
	if len(got) != n {
		t.Fatalf("expected %d events, got %d", n, len(got))
	}
	for i, ev := range got {
		if b := ev.(api.MessageEvent).Data[0]; b != byte(i) {
			t.Fatalf("event %d out of order: %d", i, b)
		}
	}
}

// TestEventLoop_NoConcurrentHandlers verifies handlers never overlap.
func TestEventLoop_NoConcurrentHandlers(t *testing.T) {
	h := &recordingHandler{}
	el := startLoop(t, h, 8, 16)

	var wg sync.WaitGroup
	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				el.Post(api.CloseEvent{ID: "x"})
			}
		}()
	}
	wg.Wait()
	if err := el.Do(func() {}); err != nil {
		t.Fatalf("Do: %v", err)
	}

	if len(h.snapshot()) != 200 {
		t.Errorf("expected 200 events, got %d", len(h.snapshot()))
	}
	if h.maxIn != 1 {
		t.Errorf("handlers overlapped: max concurrent %d", h.maxIn)
	}
}

func TestEventLoop_DoRunsOnLoop(t *testing.T) {
	el := startLoop(t, &recordingHandler{}, 1, 1)
	var v int
	if err := el.Do(func() { v = 42 }); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if v != 42 {
		t.Errorf("closure did not run, v=%d", v)
	}
}

func TestEventLoop_PostAfterStop(t *testing.T) {
	el := NewEventLoop(&recordingHandler{}, 1, 1)
	go el.Run()
	el.Stop()
	el.Stop()

	if el.Post(api.CloseEvent{ID: "late"}) {
		t.Error("Post accepted after Stop")
	}
	if err := el.Do(func() {}); !errors.Is(err, ErrLoopStopped) {
		t.Errorf("expected ErrLoopStopped, got %v", err)
	}
}

func TestEventLoop_StopUnblocksProducer(t *testing.T) {
	block := make(chan struct{})
	h := handlerFunc(func(api.Event) { <-block })
	el := NewEventLoop(h, 1, 1)
	go el.Run()

	el.Post(api.CloseEvent{ID: "1"}) // taken by Run, blocks in handler
	el.Post(api.CloseEvent{ID: "2"}) // fills inbox

	res := make(chan bool, 1)
	go func() { res <- el.Post(api.CloseEvent{ID: "3"}) }()

	time.Sleep(10 * time.Millisecond)
	go el.Stop()
	close(block)

	select {
	case <-res:
	case <-time.After(time.Second):
		t.Fatal("producer still blocked after Stop")
	}
}

func TestEventLoop_RunTwice(t *testing.T) {
	el := startLoop(t, &recordingHandler{}, 1, 1)
	if err := el.Do(func() {}); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if err := el.Run(); !errors.Is(err, ErrLoopRunning) {
		t.Errorf("expected ErrLoopRunning, got %v", err)
	}
}

type handlerFunc func(api.Event)

func (f handlerFunc) HandleEvent(ev api.Event) { f(ev) }
