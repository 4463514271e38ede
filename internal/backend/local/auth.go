// Package local implements the demo-mode backend on the local SQLite
// database. It mirrors the hosted service closely enough that the session
// manager cannot tell the two apart.
package local

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kartik102005/ecolearn/internal/core/auth"
	"github.com/kartik102005/ecolearn/internal/core/fault"
	"github.com/kartik102005/ecolearn/internal/core/kv"
	"github.com/kartik102005/ecolearn/internal/data/stores"
)

// SessionNamespace is the KV namespace holding the signed-in session.
const SessionNamespace = "ecolearn-local-session"

const currentSessionKey = "current"

// Provider messages, matching the hosted auth service.
const (
	MsgInvalidCredentials = "Invalid login credentials"
	MsgAlreadyRegistered  = "User already registered"
	MsgWeakPassword       = "Password should be at least 6 characters"
	MsgInvalidEmail       = "Unable to validate email address: invalid format"
)

const minPasswordLen = 6

// Options configures the demo auth provider.
type Options struct {
	Secret     string
	SessionTTL time.Duration
	Argon2     Argon2Params
	Now        func() time.Time
}

// Auth is an auth.Provider backed by the auth_users table. Sessions are HS256
// JWTs persisted in the KV store so they survive process restarts.
type Auth struct {
	users    *stores.UserStore
	sessions *kv.TypedKV[auth.Session]
	signer   signer
	ttl      time.Duration
	argon    Argon2Params
	now      func() time.Time
	log      zerolog.Logger

	mu       sync.Mutex // serializes session writes
	handlers auth.Handlers
}

var _ auth.Provider = (*Auth)(nil)

func NewAuth(users *stores.UserStore, store kv.KV, opts Options, logger zerolog.Logger) *Auth {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Argon2 == (Argon2Params{}) {
		opts.Argon2 = DefaultArgon2Params
	}
	return &Auth{
		users:    users,
		sessions: kv.Scoped[auth.Session](store, SessionNamespace),
		signer:   signer{secret: []byte(opts.Secret)},
		ttl:      opts.SessionTTL,
		argon:    opts.Argon2,
		now:      opts.Now,
		log:      logger,
	}
}

// GetSession returns the persisted session. An expired access token is
// reissued from the stored refresh token and announced as TOKEN_REFRESHED.
func (a *Auth) GetSession(ctx context.Context) (*auth.Session, error) {
	const op = "auth.get_session"

	a.mu.Lock()
	sess, ok, err := a.sessions.Lookup(ctx, currentSessionKey)
	if err != nil {
		a.mu.Unlock()
		return nil, fault.Classify(op, err)
	}
	if !ok {
		a.mu.Unlock()
		return nil, nil
	}

	now := a.now()
	_, err = a.signer.parse(sess.AccessToken, now)
	switch {
	case err == nil:
		a.mu.Unlock()
		return &sess, nil
	case !errors.Is(err, jwt.ErrTokenExpired):
		a.log.Warn().Err(err).Msg("discarding unverifiable local session")
		_ = a.sessions.Delete(ctx, currentSessionKey)
		a.mu.Unlock()
		return nil, nil
	}

	rec, err := a.users.ByID(ctx, sess.User.ID)
	if stores.IsNotFoundError(err) {
		_ = a.sessions.Delete(ctx, currentSessionKey)
		a.mu.Unlock()
		return nil, nil
	}
	if err != nil {
		a.mu.Unlock()
		return nil, fault.Classify(op, err)
	}

	refreshed, err := a.persist(ctx, userFromRecord(rec), now)
	a.mu.Unlock()
	if err != nil {
		return nil, fault.Classify(op, err)
	}

	a.handlers.Emit(auth.Change{Event: auth.EventTokenRefreshed, Session: refreshed})
	return refreshed, nil
}

func (a *Auth) SignInWithPassword(ctx context.Context, email, password string) (*auth.Session, error) {
	const op = "auth.sign_in"

	rec, err := a.users.ByEmail(ctx, email)
	if stores.IsNotFoundError(err) {
		return nil, fault.Rejected(op, 400, MsgInvalidCredentials)
	}
	if err != nil {
		return nil, fault.Classify(op, err)
	}

	ok, err := verifyPassword(password, rec.PasswordHash)
	if err != nil {
		a.log.Error().Err(err).Str("user_id", rec.ID).Msg("stored password hash is unreadable")
	}
	if !ok {
		return nil, fault.Rejected(op, 400, MsgInvalidCredentials)
	}

	a.mu.Lock()
	sess, err := a.persist(ctx, userFromRecord(rec), a.now())
	a.mu.Unlock()
	if err != nil {
		return nil, fault.Classify(op, err)
	}

	a.handlers.Emit(auth.Change{Event: auth.EventSignedIn, Session: sess})
	return sess, nil
}

// SignUp registers and immediately signs in the user; demo mode has no
// email confirmation step.
func (a *Auth) SignUp(ctx context.Context, email, password string, opts auth.SignUpOptions) (*auth.User, *auth.Session, error) {
	const op = "auth.sign_up"

	email = strings.TrimSpace(email)
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, nil, fault.Rejected(op, 400, MsgInvalidEmail)
	}
	if len(password) < minPasswordLen {
		return nil, nil, fault.Rejected(op, 422, MsgWeakPassword)
	}

	hash, err := hashPassword(password, a.argon)
	if err != nil {
		return nil, nil, fault.Classify(op, err)
	}

	now := a.now()
	rec := stores.UserRecord{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		Metadata:     opts.Data,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err = a.users.Create(ctx, rec)
	if errors.Is(err, stores.ErrDuplicateEmail) {
		return nil, nil, fault.Rejected(op, 422, MsgAlreadyRegistered)
	}
	if err != nil {
		return nil, nil, fault.Classify(op, err)
	}

	user := userFromRecord(rec)

	a.mu.Lock()
	sess, err := a.persist(ctx, user, now)
	a.mu.Unlock()
	if err != nil {
		return &user, nil, fault.Classify(op, err)
	}

	a.handlers.Emit(auth.Change{Event: auth.EventSignedIn, Session: sess})
	return &user, sess, nil
}

// SignOut drops the stored session. Signing out twice is not an error.
func (a *Auth) SignOut(ctx context.Context) error {
	const op = "auth.sign_out"

	a.mu.Lock()
	had, err := a.sessions.Has(ctx, currentSessionKey)
	if err == nil && had {
		err = a.sessions.Delete(ctx, currentSessionKey)
	}
	a.mu.Unlock()
	if err != nil {
		return fault.Classify(op, err)
	}

	if had {
		a.handlers.Emit(auth.Change{Event: auth.EventSignedOut})
	}
	return nil
}

func (a *Auth) OnAuthStateChange(h auth.ChangeHandler) func() {
	return a.handlers.Add(h)
}

// persist issues a session for user and stores it. Caller holds a.mu.
func (a *Auth) persist(ctx context.Context, user auth.User, now time.Time) (*auth.Session, error) {
	sess, err := a.signer.issue(user, now)
	if err != nil {
		return nil, err
	}
	if a.ttl <= 0 {
		err = a.sessions.Set(ctx, currentSessionKey, *sess)
	} else {
		err = a.sessions.SetTTL(ctx, currentSessionKey, *sess, a.ttl)
	}
	if err != nil {
		return nil, err
	}
	return sess, nil
}

func userFromRecord(rec stores.UserRecord) auth.User {
	return auth.User{ID: rec.ID, Email: rec.Email, Metadata: rec.Metadata}
}
