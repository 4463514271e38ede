package local

import (
	"github.com/rs/zerolog"

	"github.com/kartik102005/ecolearn/internal/core/kv"
	"github.com/kartik102005/ecolearn/internal/data/db"
	"github.com/kartik102005/ecolearn/internal/data/stores"
)

// Backend bundles the demo collaborators that share one database.
type Backend struct {
	Auth     *Auth
	Profiles *Profiles
	Realtime *Hub
}

// New wires the demo backend onto database, keeping sessions in store.
func New(database *db.DB, store kv.KV, opts Options, logger zerolog.Logger) *Backend {
	hub := NewHub(logger.With().Str("cmp", "local.realtime").Logger())
	return &Backend{
		Auth:     NewAuth(stores.NewUserStore(database), store, opts, logger.With().Str("cmp", "local.auth").Logger()),
		Profiles: NewProfiles(stores.NewProfileRows(database), hub),
		Realtime: hub,
	}
}
