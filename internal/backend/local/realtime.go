package local

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/kartik102005/ecolearn/internal/core/realtime"
)

// Hub fans row changes from the demo store out to in-process subscribers.
type Hub struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]hubSub
	log    zerolog.Logger
}

type hubSub struct {
	filter  realtime.Filter
	column  string
	value   string
	handler func(realtime.Change)
}

var _ realtime.Channel = (*Hub)(nil)

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{subs: make(map[int]hubSub), log: logger}
}

// Subscribe registers handler for changes matching f. Only "col=eq.value"
// filters are supported. The subscription ends when ctx is done or
// Unsubscribe is called.
func (h *Hub) Subscribe(ctx context.Context, f realtime.Filter, handler func(realtime.Change)) (realtime.Subscription, error) {
	column, value, err := parseEq(f.Expr)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = hubSub{filter: f, column: column, value: value, handler: handler}
	h.mu.Unlock()

	h.log.Debug().Str("topic", f.Topic()).Int("sub_id", id).Msg("realtime subscribed")

	var once sync.Once
	cancel := func() error {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			h.log.Debug().Str("topic", f.Topic()).Int("sub_id", id).Msg("realtime unsubscribed")
		})
		return nil
	}

	go func() {
		<-ctx.Done()
		_ = cancel()
	}()

	return realtime.SubscriptionFunc(cancel), nil
}

// Publish delivers a change to every matching subscriber. Handlers run on the
// caller's goroutine after the hub lock is released.
func (h *Hub) Publish(table, changeType string, record map[string]any) {
	h.mu.RLock()
	var targets []func(realtime.Change)
	for _, s := range h.subs {
		if s.filter.Table != table {
			continue
		}
		if fmt.Sprint(record[s.column]) != s.value {
			continue
		}
		targets = append(targets, s.handler)
	}
	h.mu.RUnlock()

	change := realtime.Change{Type: changeType, Table: table, Record: record}
	for _, fn := range targets {
		fn(change)
	}
}

// Len returns the number of live subscriptions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func parseEq(expr string) (column, value string, err error) {
	column, rest, ok := strings.Cut(expr, "=")
	if !ok || column == "" {
		return "", "", fmt.Errorf("invalid realtime filter %q", expr)
	}
	value, ok = strings.CutPrefix(rest, "eq.")
	if !ok {
		return "", "", fmt.Errorf("unsupported realtime filter operator in %q", expr)
	}
	return column, value, nil
}
