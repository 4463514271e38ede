package kv

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"
)

// Memory is an in-process KV with the same semantics as the SQLite store,
// including lazy TTL expiry. Used in tests and when the database is unavailable.
type Memory struct {
	mu   sync.Mutex
	now  func() time.Time
	data map[string]Entry
}

var _ KV = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{now: time.Now, data: make(map[string]Entry)}
}

func (m *Memory) lookup(key string) (Entry, bool) {
	e, ok := m.data[key]
	if !ok {
		return Entry{}, false
	}
	if e.ExpiresAt != nil && !m.now().Before(*e.ExpiresAt) {
		delete(m.data, key)
		return Entry{}, false
	}
	return e, true
}

func (m *Memory) Get(_ context.Context, key string, dest any) error {
	m.mu.Lock()
	e, ok := m.lookup(key)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("kv get %q: %w", key, sql.ErrNoRows)
	}
	if err := json.Unmarshal(e.Value, dest); err != nil {
		return fmt.Errorf("kv get %q: unmarshal: %w", key, err)
	}
	return nil
}

func (m *Memory) Set(ctx context.Context, key string, value any) error {
	return m.set(key, value, nil)
}

func (m *Memory) SetTTL(_ context.Context, key string, value any, ttl time.Duration) error {
	exp := m.now().Add(ttl)
	return m.set(key, value, &exp)
}

func (m *Memory) set(key string, value any, exp *time.Time) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("kv set %q: marshal: %w", key, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	e, ok := m.data[key]
	if !ok {
		e.CreatedAt = now
	}
	e.Key = key
	e.Value = raw
	e.ExpiresAt = exp
	e.UpdatedAt = now
	m.data[key] = e
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Has(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.lookup(key)
	return ok, nil
}

func (m *Memory) ListKeys(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		if _, ok := m.lookup(k); ok {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys, nil
}

func (m *Memory) GetRaw(_ context.Context, key string) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.lookup(key)
	if !ok {
		return Entry{}, fmt.Errorf("kv get raw %q: %w", key, sql.ErrNoRows)
	}
	return e, nil
}

// SetRaw stores raw bytes without JSON validation. Tests use it to plant
// corrupt values.
func (m *Memory) SetRaw(key string, raw []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.data[key] = Entry{Key: key, Value: raw, CreatedAt: now, UpdatedAt: now}
}
