package remote

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/kartik102005/ecolearn/internal/core/kv"
)

// Backend bundles the hosted collaborators sharing one client.
type Backend struct {
	Auth     *Auth
	Profiles *Profiles
	Realtime *Realtime
}

// New wires the hosted backend for the project at baseURL. The session is
// persisted in store.
func New(baseURL, anonKey string, httpClient *http.Client, store kv.KV, logger zerolog.Logger) (*Backend, error) {
	client, err := NewClient(baseURL, anonKey, httpClient, logger.With().Str("cmp", "remote.http").Logger())
	if err != nil {
		return nil, err
	}

	authp := NewAuth(client, store, logger.With().Str("cmp", "remote.auth").Logger())
	return &Backend{
		Auth:     authp,
		Profiles: NewProfiles(client, authp),
		Realtime: NewRealtime(client, authp, logger.With().Str("cmp", "remote.realtime").Logger()),
	}, nil
}
