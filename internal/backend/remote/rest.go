package remote

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/kartik102005/ecolearn/internal/core/profile"
)

const (
	profilesPath = "/rest/v1/profiles"
	singleObject = "application/vnd.pgrst.object+json"
)

// TokenSource supplies the signed-in user's bearer token. An empty token
// falls back to the anon key.
type TokenSource interface {
	AccessToken(ctx context.Context) string
}

// Profiles is a profile.Store over PostgREST.
type Profiles struct {
	client *Client
	tokens TokenSource
	now    func() time.Time
}

var _ profile.Store = (*Profiles)(nil)

func NewProfiles(client *Client, tokens TokenSource) *Profiles {
	return &Profiles{client: client, tokens: tokens, now: time.Now}
}

func (p *Profiles) Select(ctx context.Context, id string) (*profile.Profile, error) {
	var out profile.Profile
	err := p.client.do(ctx, request{
		op:     "profiles.select",
		method: http.MethodGet,
		path:   profilesPath,
		query:  url.Values{"id": {"eq." + id}, "select": {"*"}},
		header: http.Header{"Accept": {singleObject}},
		token:  p.token(ctx),
		out:    &out,
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (p *Profiles) Insert(ctx context.Context, in profile.Profile) (*profile.Profile, error) {
	var out profile.Profile
	err := p.client.do(ctx, request{
		op:     "profiles.insert",
		method: http.MethodPost,
		path:   profilesPath,
		header: http.Header{"Accept": {singleObject}, "Prefer": {"return=representation"}},
		token:  p.token(ctx),
		body:   in,
		out:    &out,
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (p *Profiles) Update(ctx context.Context, id string, patch profile.Patch) (*profile.Profile, error) {
	if patch.UpdatedAt.IsZero() {
		patch.UpdatedAt = p.now().UTC()
	}

	var out profile.Profile
	err := p.client.do(ctx, request{
		op:     "profiles.update",
		method: http.MethodPatch,
		path:   profilesPath,
		query:  url.Values{"id": {"eq." + id}},
		header: http.Header{"Accept": {singleObject}, "Prefer": {"return=representation"}},
		token:  p.token(ctx),
		body:   patch,
		out:    &out,
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (p *Profiles) token(ctx context.Context) string {
	if p.tokens == nil {
		return ""
	}
	return p.tokens.AccessToken(ctx)
}
