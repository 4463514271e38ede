package local

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/kartik102005/ecolearn/internal/core/auth"
	"github.com/kartik102005/ecolearn/internal/data/db"
	"github.com/kartik102005/ecolearn/internal/data/stores"
)

// fastArgon keeps hashing cheap in tests.
var fastArgon = Argon2Params{Time: 1, Memory: 1024, Threads: 1, KeyLen: 16, SaltLen: 8}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	db      *db.DB
	kv      *stores.KVStore
	backend *Backend
	clock   *clock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	database, err := db.Open(t.TempDir(), db.DefaultOpenOptions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	c := &clock{now: time.Now().UTC()}
	store := stores.NewKVStore(database)

	return &fixture{
		db:    database,
		kv:    store,
		clock: c,
		backend: New(database, store, Options{
			Secret:     "test-secret-0123456789",
			SessionTTL: 24 * time.Hour,
			Argon2:     fastArgon,
			Now:        c.Now,
		}, zerolog.Nop()),
	}
}

// changes records auth changes delivered to a handler.
type changes struct {
	mu  sync.Mutex
	got []auth.Change
}

func (c *changes) handler(ch auth.Change) {
	c.mu.Lock()
	c.got = append(c.got, ch)
	c.mu.Unlock()
}

func (c *changes) events() []auth.ChangeEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]auth.ChangeEvent, 0, len(c.got))
	for _, ch := range c.got {
		out = append(out, ch.Event)
	}
	return out
}
