package stores

import (
	"context"
	"fmt"

	"github.com/kartik102005/ecolearn/internal/core/kv"
	"github.com/kartik102005/ecolearn/internal/core/notify"
)

// NotifyStore persists each user's inbox as one JSON document under
// eco-notifications-<userId>.
type NotifyStore struct {
	kv    kv.KV
	limit int
}

var _ notify.Repository = (*NotifyStore)(nil)

func NewNotifyStore(store kv.KV, limit int) *NotifyStore {
	if limit <= 0 {
		limit = notify.MaxEntries
	}
	return &NotifyStore{kv: store, limit: limit}
}

// Load returns the sanitized store. A missing key is an empty store; corrupt
// data is repaired and the repairs are returned as problems.
func (s *NotifyStore) Load(ctx context.Context, userID string) (notify.Store, []string, error) {
	entry, err := s.kv.GetRaw(ctx, notify.StorageKey(userID))
	if kv.IsNotFound(err) {
		return notify.New(), nil, nil
	}
	if err != nil {
		return notify.New(), nil, fmt.Errorf("load notifications: %w", err)
	}

	st, problems := notify.Sanitize(entry.Value, s.limit)
	return st, problems, nil
}

func (s *NotifyStore) Save(ctx context.Context, userID string, st notify.Store) error {
	if err := s.kv.Set(ctx, notify.StorageKey(userID), st); err != nil {
		return fmt.Errorf("save notifications: %w", err)
	}
	return nil
}
