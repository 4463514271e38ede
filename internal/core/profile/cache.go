package profile

import (
	"context"
	"fmt"

	"github.com/kartik102005/ecolearn/internal/core/kv"
)

// CacheNamespace prefixes cached profiles: ecolearn-profile-cache:<userId>.
const CacheNamespace = "ecolearn-profile-cache"

// Cache mirrors profiles into the local KV store for instant display.
type Cache struct {
	typed *kv.TypedKV[Profile]
}

func NewCache(store kv.KV) *Cache {
	return &Cache{typed: kv.Scoped[Profile](store, CacheNamespace)}
}

// Get returns the cached profile for userID, or nil when none is cached.
func (c *Cache) Get(ctx context.Context, userID string) (*Profile, error) {
	if userID == "" {
		return nil, nil
	}
	p, ok, err := c.typed.Lookup(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("read cached profile: %w", err)
	}
	if !ok || p.ID != userID {
		return nil, nil
	}
	return &p, nil
}

func (c *Cache) Put(ctx context.Context, p Profile) error {
	if p.ID == "" {
		return fmt.Errorf("cache profile: missing id")
	}
	if err := c.typed.Set(ctx, p.ID, p); err != nil {
		return fmt.Errorf("cache profile: %w", err)
	}
	return nil
}

func (c *Cache) Drop(ctx context.Context, userID string) error {
	if userID == "" {
		return nil
	}
	return c.typed.Delete(ctx, userID)
}
