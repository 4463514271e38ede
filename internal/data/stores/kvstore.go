package stores

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kartik102005/ecolearn/internal/core/kv"
	"github.com/kartik102005/ecolearn/internal/data/db"
)

// KVStore implements kv.KV on the kv_store table.
type KVStore struct {
	db  *db.DB
	now func() time.Time
}

var _ kv.KV = (*KVStore)(nil)

func NewKVStore(db *db.DB) *KVStore {
	return &KVStore{db: db, now: time.Now}
}

type kvRow struct {
	key       string
	value     []byte
	expiresAt sql.NullInt64
	createdAt int64
	updatedAt int64
}

func (s *KVStore) getRow(ctx context.Context, key string) (kvRow, error) {
	var r kvRow
	err := s.db.Conn().QueryRowContext(ctx,
		`SELECT key, value, expires_at, created_at, updated_at FROM kv_store WHERE key = ?`, key,
	).Scan(&r.key, &r.value, &r.expiresAt, &r.createdAt, &r.updatedAt)
	if err != nil {
		return kvRow{}, err
	}
	if s.isExpired(r) {
		_ = s.Delete(ctx, key)
		return kvRow{}, sql.ErrNoRows
	}
	return r, nil
}

// Get deserializes the value at key into dest. Expired entries are deleted
// lazily and reported as sql.ErrNoRows.
func (s *KVStore) Get(ctx context.Context, key string, dest any) error {
	r, err := s.getRow(ctx, key)
	if err != nil {
		return fmt.Errorf("kv get %q: %w", key, err)
	}
	if err := json.Unmarshal(r.value, dest); err != nil {
		return fmt.Errorf("kv get %q unmarshal: %w", key, err)
	}
	return nil
}

func (s *KVStore) Set(ctx context.Context, key string, value any) error {
	return s.set(ctx, key, value, sql.NullInt64{})
}

// SetTTL stores a value that expires after ttl.
func (s *KVStore) SetTTL(ctx context.Context, key string, value any, ttl time.Duration) error {
	expiresAt := s.now().Add(ttl).UnixNano()
	return s.set(ctx, key, value, sql.NullInt64{Int64: expiresAt, Valid: true})
}

func (s *KVStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.Conn().ExecContext(ctx, `DELETE FROM kv_store WHERE key = ?`, key); err != nil {
		return fmt.Errorf("kv delete %q: %w", key, err)
	}
	return nil
}

func (s *KVStore) Has(ctx context.Context, key string) (bool, error) {
	_, err := s.getRow(ctx, key)
	switch {
	case err == nil:
		return true, nil
	case IsNotFoundError(err):
		return false, nil
	default:
		return false, fmt.Errorf("kv has %q: %w", key, err)
	}
}

// ListKeys returns all non-expired keys in sorted order.
func (s *KVStore) ListKeys(ctx context.Context) ([]string, error) {
	rows, err := s.db.Conn().QueryContext(ctx,
		`SELECT key FROM kv_store WHERE expires_at IS NULL OR expires_at > ? ORDER BY key`,
		s.now().UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("kv list keys: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("kv list keys scan: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// GetRaw returns the entry with its metadata.
func (s *KVStore) GetRaw(ctx context.Context, key string) (kv.Entry, error) {
	r, err := s.getRow(ctx, key)
	if err != nil {
		return kv.Entry{}, fmt.Errorf("kv get raw %q: %w", key, err)
	}

	entry := kv.Entry{
		Key:       r.key,
		Value:     json.RawMessage(r.value),
		CreatedAt: time.Unix(0, r.createdAt),
		UpdatedAt: time.Unix(0, r.updatedAt),
	}
	if r.expiresAt.Valid {
		t := time.Unix(0, r.expiresAt.Int64)
		entry.ExpiresAt = &t
	}
	return entry, nil
}

// SweepExpired deletes every entry whose TTL has passed and returns how many went.
func (s *KVStore) SweepExpired(ctx context.Context) (int64, error) {
	res, err := s.db.Conn().ExecContext(ctx,
		`DELETE FROM kv_store WHERE expires_at IS NOT NULL AND expires_at <= ?`, s.now().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("kv sweep expired: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

const upsertKV = `
	INSERT INTO kv_store (key, value, expires_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT (key) DO UPDATE SET
		value = excluded.value,
		expires_at = excluded.expires_at,
		updated_at = excluded.updated_at`

func (s *KVStore) set(ctx context.Context, key string, value any, expiresAt sql.NullInt64) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("kv set %q marshal: %w", key, err)
	}

	now := s.now().UnixNano()
	err = retryBusy(func() error {
		_, err := s.db.Conn().ExecContext(ctx, upsertKV, key, string(data), expiresAt, now, now)
		return err
	})
	if err != nil {
		return fmt.Errorf("kv set %q: %w", key, err)
	}
	return nil
}

func (s *KVStore) isExpired(r kvRow) bool {
	return r.expiresAt.Valid && r.expiresAt.Int64 <= s.now().UnixNano()
}
