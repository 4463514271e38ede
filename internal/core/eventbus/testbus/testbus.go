// Package testbus provides test utilities for the event bus.
// It wraps a real EventBus with event recording and assertion helpers.
package testbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kartik102005/ecolearn/internal/core/eventbus"
)

// Bus wraps a real EventBus with event recording for tests.
type Bus struct {
	*eventbus.EventBus
	cancel context.CancelFunc

	mu     sync.Mutex
	events []eventbus.Event
}

// New creates a test bus, starts it in a background goroutine and records
// every dispatched event. The bus is stopped when the test completes.
func New(t *testing.T) *Bus {
	t.Helper()

	bus := eventbus.New(64)
	ctx, cancel := context.WithCancel(context.Background())

	tb := &Bus{
		EventBus: bus,
		cancel:   cancel,
	}

	bus.Subscribe(tb.record)

	go bus.Start(ctx)

	t.Cleanup(func() {
		cancel()
		<-bus.Done()
	})

	return tb
}

func (tb *Bus) record(e eventbus.Event) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.events = append(tb.events, e)
}

// Events returns a copy of all recorded events.
func (tb *Bus) Events() []eventbus.Event {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	out := make([]eventbus.Event, len(tb.events))
	copy(out, tb.events)
	return out
}

// Reset clears all recorded events.
func (tb *Bus) Reset() {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.events = nil
}

// WaitFor blocks until n events of the given type are recorded or the timeout
// expires. Returns true if they were found.
func (tb *Bus) WaitFor(eventType string, n int, timeout time.Duration) bool {
	deadline := time.After(timeout)
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		if tb.count(eventType) >= n {
			return true
		}
		select {
		case <-deadline:
			return false
		case <-ticker.C:
		}
	}
}

func (tb *Bus) count(eventType string) int {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	n := 0
	for _, e := range tb.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

// AssertPublished asserts that an event of the given type was recorded.
func (tb *Bus) AssertPublished(t *testing.T, eventType string) {
	t.Helper()
	if !tb.WaitFor(eventType, 1, 500*time.Millisecond) {
		t.Errorf("expected event %q to be published, but it was not", eventType)
	}
}

// AssertNotPublished asserts that an event of the given type was NOT recorded
// within the given wait period.
func (tb *Bus) AssertNotPublished(t *testing.T, eventType string, wait time.Duration) {
	t.Helper()
	time.Sleep(wait)
	if tb.count(eventType) > 0 {
		t.Errorf("expected event %q to NOT be published, but it was", eventType)
	}
}
