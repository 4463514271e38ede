package remote

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/kartik102005/ecolearn/internal/core/auth"
	"github.com/kartik102005/ecolearn/internal/core/fault"
	"github.com/kartik102005/ecolearn/internal/core/kv"
)

// TokenNamespace is the KV namespace holding the persisted session.
const TokenNamespace = "ecolearn-auth-token"

const (
	sessionKey    = "session"
	refreshMargin = 60 * time.Second
)

// Auth is an auth.Provider for a GoTrue-compatible service.
type Auth struct {
	client   *Client
	sessions *kv.TypedKV[auth.Session]
	now      func() time.Time
	log      zerolog.Logger

	mu       sync.Mutex // serializes session reads that may refresh
	handlers auth.Handlers
}

var _ auth.Provider = (*Auth)(nil)

func NewAuth(client *Client, store kv.KV, logger zerolog.Logger) *Auth {
	return &Auth{
		client:   client,
		sessions: kv.Scoped[auth.Session](store, TokenNamespace),
		now:      time.Now,
		log:      logger,
	}
}

// tokenResponse is the body of /token and of /signup with auto-confirm.
type tokenResponse struct {
	AccessToken  string    `json:"access_token"`
	TokenType    string    `json:"token_type"`
	ExpiresIn    int64     `json:"expires_in"`
	ExpiresAt    int64     `json:"expires_at"`
	RefreshToken string    `json:"refresh_token"`
	User         auth.User `json:"user"`

	// Present when /signup returns the bare user pending confirmation.
	ID    string         `json:"id"`
	Email string         `json:"email"`
	Meta  map[string]any `json:"user_metadata"`
}

func (r tokenResponse) session(now time.Time) *auth.Session {
	return &auth.Session{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		TokenType:    r.TokenType,
		ExpiresAt:    expiry(r, now),
		User:         r.User,
	}
}

// expiry prefers the token's own exp claim and falls back to the response fields.
func expiry(r tokenResponse, now time.Time) time.Time {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(r.AccessToken, claims); err == nil && claims.ExpiresAt != nil {
		return claims.ExpiresAt.Time.UTC()
	}
	switch {
	case r.ExpiresAt > 0:
		return time.Unix(r.ExpiresAt, 0).UTC()
	case r.ExpiresIn > 0:
		return now.Add(time.Duration(r.ExpiresIn) * time.Second).UTC()
	default:
		return time.Time{}
	}
}

// GetSession returns the persisted session, refreshing it first when it
// expires within a minute. A refresh the service rejects signs the user out.
func (a *Auth) GetSession(ctx context.Context) (*auth.Session, error) {
	const op = "auth.get_session"

	a.mu.Lock()
	sess, ok, err := a.sessions.Lookup(ctx, sessionKey)
	if err != nil {
		a.mu.Unlock()
		return nil, fault.Classify(op, err)
	}
	if !ok {
		a.mu.Unlock()
		return nil, nil
	}

	if sess.ExpiresAt.IsZero() || a.now().Add(refreshMargin).Before(sess.ExpiresAt) {
		a.mu.Unlock()
		return &sess, nil
	}

	refreshed, err := a.refresh(ctx, sess.RefreshToken)
	if err != nil {
		if fault.Is(err, fault.KindProviderRejected) {
			a.log.Info().Err(err).Str("user_id", sess.User.ID).Msg("refresh rejected, dropping session")
			_ = a.sessions.Delete(ctx, sessionKey)
			a.mu.Unlock()
			a.handlers.Emit(auth.Change{Event: auth.EventSignedOut})
			return nil, nil
		}
		a.mu.Unlock()
		if !sess.Expired(a.now()) {
			a.log.Warn().Err(err).Msg("token refresh failed, keeping current session")
			return &sess, nil
		}
		return nil, err
	}
	a.mu.Unlock()

	a.handlers.Emit(auth.Change{Event: auth.EventTokenRefreshed, Session: refreshed})
	return refreshed, nil
}

// refresh exchanges a refresh token. Caller holds a.mu.
func (a *Auth) refresh(ctx context.Context, refreshToken string) (*auth.Session, error) {
	const op = "auth.refresh"

	var out tokenResponse
	err := a.client.do(ctx, request{
		op:     op,
		method: http.MethodPost,
		path:   "/auth/v1/token",
		query:  url.Values{"grant_type": {"refresh_token"}},
		body:   map[string]string{"refresh_token": refreshToken},
		out:    &out,
	})
	if err != nil {
		return nil, err
	}

	sess := out.session(a.now())
	if err := a.sessions.Set(ctx, sessionKey, *sess); err != nil {
		return nil, fault.Classify(op, err)
	}
	return sess, nil
}

func (a *Auth) SignInWithPassword(ctx context.Context, email, password string) (*auth.Session, error) {
	const op = "auth.sign_in"

	var out tokenResponse
	err := a.client.do(ctx, request{
		op:     op,
		method: http.MethodPost,
		path:   "/auth/v1/token",
		query:  url.Values{"grant_type": {"password"}},
		body:   map[string]string{"email": email, "password": password},
		out:    &out,
	})
	if err != nil {
		return nil, err
	}

	sess := out.session(a.now())
	if err := a.store(ctx, sess); err != nil {
		return nil, fault.Classify(op, err)
	}

	a.handlers.Emit(auth.Change{Event: auth.EventSignedIn, Session: sess})
	return sess, nil
}

// SignUp registers the user. When the project requires email confirmation
// the returned session is nil.
func (a *Auth) SignUp(ctx context.Context, email, password string, opts auth.SignUpOptions) (*auth.User, *auth.Session, error) {
	const op = "auth.sign_up"

	var out tokenResponse
	err := a.client.do(ctx, request{
		op:     op,
		method: http.MethodPost,
		path:   "/auth/v1/signup",
		body: map[string]any{
			"email":    email,
			"password": password,
			"data":     opts.Data,
		},
		out: &out,
	})
	if err != nil {
		return nil, nil, err
	}

	if out.AccessToken == "" {
		user := out.User
		if user.ID == "" {
			user = auth.User{ID: out.ID, Email: out.Email, Metadata: out.Meta}
		}
		return &user, nil, nil
	}

	sess := out.session(a.now())
	if err := a.store(ctx, sess); err != nil {
		return &sess.User, nil, fault.Classify(op, err)
	}

	a.handlers.Emit(auth.Change{Event: auth.EventSignedIn, Session: sess})
	return &sess.User, sess, nil
}

// SignOut revokes the session remotely and always drops it locally. The
// remote error, if any, is returned after local cleanup.
func (a *Auth) SignOut(ctx context.Context) error {
	const op = "auth.sign_out"

	a.mu.Lock()
	sess, ok, lookupErr := a.sessions.Lookup(ctx, sessionKey)
	a.mu.Unlock()

	var remoteErr error
	if ok && sess.AccessToken != "" {
		remoteErr = a.client.do(ctx, request{
			op:     op,
			method: http.MethodPost,
			path:   "/auth/v1/logout",
			token:  sess.AccessToken,
		})
		// An already revoked token is as good as a successful logout.
		if fe, isFault := remoteErr.(*fault.Error); isFault && (fe.Status == http.StatusUnauthorized || fe.Kind == fault.KindNotFound) {
			remoteErr = nil
		}
	}

	a.mu.Lock()
	delErr := a.sessions.Delete(ctx, sessionKey)
	a.mu.Unlock()

	if ok {
		a.handlers.Emit(auth.Change{Event: auth.EventSignedOut})
	}

	switch {
	case remoteErr != nil:
		return remoteErr
	case lookupErr != nil:
		return fault.Classify(op, lookupErr)
	case delErr != nil:
		return fault.Classify(op, delErr)
	}
	return nil
}

func (a *Auth) OnAuthStateChange(h auth.ChangeHandler) func() {
	return a.handlers.Add(h)
}

// AccessToken returns the current bearer token, or "" when signed out.
func (a *Auth) AccessToken(ctx context.Context) string {
	sess, err := a.GetSession(ctx)
	if err != nil || sess == nil {
		return ""
	}
	return sess.AccessToken
}

func (a *Auth) store(ctx context.Context, sess *auth.Session) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessions.Set(ctx, sessionKey, *sess)
}
