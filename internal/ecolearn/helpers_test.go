package ecolearn

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/kartik102005/ecolearn/internal/core/auth"
	"github.com/kartik102005/ecolearn/internal/core/config"
	"github.com/kartik102005/ecolearn/internal/core/fault"
	"github.com/kartik102005/ecolearn/internal/core/kv"
	"github.com/kartik102005/ecolearn/internal/core/profile"
	"github.com/kartik102005/ecolearn/internal/core/realtime"
)

var testTimeouts = config.TimeoutConfig{
	SessionSoft:  40 * time.Millisecond,
	SessionHard:  150 * time.Millisecond,
	ProfileFetch: 80 * time.Millisecond,
	SignIn:       60 * time.Millisecond,
	SignOut:      60 * time.Millisecond,
}

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// fakeAuth is an in-memory auth.Provider. The block* flags make the matching
// call wait for its context.
type fakeAuth struct {
	mu          sync.Mutex
	session     *auth.Session
	passwords   map[string]string
	getErr      error
	getGate     chan struct{}
	blockGet    bool
	blockSignIn bool
	blockSignUp bool
	blockOut    bool
	gets        atomic.Int32
	signOuts    atomic.Int32

	handlers auth.Handlers
}

var _ auth.Provider = (*fakeAuth)(nil)

func newFakeAuth() *fakeAuth {
	return &fakeAuth{passwords: map[string]string{}}
}

func sessionFor(userID string) *auth.Session {
	return &auth.Session{
		AccessToken: "token-" + userID,
		TokenType:   "bearer",
		ExpiresAt:   t0.Add(time.Hour),
		User:        auth.User{ID: userID, Email: userID + "@example.com"},
	}
}

func (f *fakeAuth) setSession(s *auth.Session) {
	f.mu.Lock()
	f.session = s
	f.mu.Unlock()
}

func (f *fakeAuth) GetSession(ctx context.Context) (*auth.Session, error) {
	f.gets.Add(1)
	if f.blockGet {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.getGate != nil {
		select {
		case <-f.getGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.session, nil
}

func (f *fakeAuth) SignInWithPassword(ctx context.Context, email, password string) (*auth.Session, error) {
	if f.blockSignIn {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	f.mu.Lock()
	want, ok := f.passwords[email]
	if !ok || want != password {
		f.mu.Unlock()
		return nil, fault.Rejected("auth.sign_in", 400, "Invalid login credentials")
	}
	sess := sessionFor(userIDFor(email))
	f.session = sess
	f.mu.Unlock()

	f.handlers.Emit(auth.Change{Event: auth.EventSignedIn, Session: sess})
	return sess, nil
}

func (f *fakeAuth) SignUp(ctx context.Context, email, password string, opts auth.SignUpOptions) (*auth.User, *auth.Session, error) {
	if f.blockSignUp {
		<-ctx.Done()
		return nil, nil, ctx.Err()
	}
	f.mu.Lock()
	if _, exists := f.passwords[email]; exists {
		f.mu.Unlock()
		return nil, nil, fault.Rejected("auth.sign_up", 422, "User already registered")
	}
	f.passwords[email] = password
	sess := sessionFor(userIDFor(email))
	sess.User.Email = email
	sess.User.Metadata = opts.Data
	f.session = sess
	f.mu.Unlock()

	f.handlers.Emit(auth.Change{Event: auth.EventSignedIn, Session: sess})
	return &sess.User, sess, nil
}

func (f *fakeAuth) SignOut(ctx context.Context) error {
	f.signOuts.Add(1)
	if f.blockOut {
		<-ctx.Done()
		return ctx.Err()
	}
	f.mu.Lock()
	had := f.session != nil
	f.session = nil
	f.mu.Unlock()
	if had {
		f.handlers.Emit(auth.Change{Event: auth.EventSignedOut})
	}
	return nil
}

func (f *fakeAuth) OnAuthStateChange(h auth.ChangeHandler) func() {
	return f.handlers.Add(h)
}

func userIDFor(email string) string {
	return "user-" + email
}

// fakeProfiles is an in-memory profile.Store. When gate is set, Select waits
// for it (or for its context) before answering.
type fakeProfiles struct {
	mu        sync.Mutex
	rows      map[string]profile.Profile
	gate      chan struct{}
	selectErr error

	selects atomic.Int32
	updates atomic.Int32
}

var _ profile.Store = (*fakeProfiles)(nil)

func newFakeProfiles() *fakeProfiles {
	return &fakeProfiles{rows: map[string]profile.Profile{}}
}

func (f *fakeProfiles) put(p profile.Profile) {
	f.mu.Lock()
	f.rows[p.ID] = p
	f.mu.Unlock()
}

func (f *fakeProfiles) Select(ctx context.Context, id string) (*profile.Profile, error) {
	f.selects.Add(1)

	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, fault.Classify("profiles.select", ctx.Err())
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.selectErr != nil {
		return nil, f.selectErr
	}
	p, ok := f.rows[id]
	if !ok {
		return nil, fault.NotFound("profiles.select", fault.CodeNoRows)
	}
	return &p, nil
}

func (f *fakeProfiles) Insert(_ context.Context, p profile.Profile) (*profile.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rows[p.ID]; ok {
		return nil, &fault.Error{Kind: fault.KindProviderRejected, Op: "profiles.insert", Message: "duplicate key", Status: 409, Code: "23505"}
	}
	f.rows[p.ID] = p
	return &p, nil
}

func (f *fakeProfiles) Update(_ context.Context, id string, patch profile.Patch) (*profile.Profile, error) {
	f.updates.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.rows[id]
	if !ok {
		return nil, fault.NotFound("profiles.update", fault.CodeNoRows)
	}
	p = patch.Apply(p)
	f.rows[id] = p
	return &p, nil
}

// fakeRealtime records subscriptions and lets tests push changes.
type fakeRealtime struct {
	mu   sync.Mutex
	subs []*fakeSub
}

type fakeSub struct {
	filter  realtime.Filter
	handler func(realtime.Change)
	closed  atomic.Bool
}

func (s *fakeSub) Unsubscribe() error {
	s.closed.Store(true)
	return nil
}

func (f *fakeRealtime) Subscribe(_ context.Context, filter realtime.Filter, handler func(realtime.Change)) (realtime.Subscription, error) {
	sub := &fakeSub{filter: filter, handler: handler}
	f.mu.Lock()
	f.subs = append(f.subs, sub)
	f.mu.Unlock()
	return sub, nil
}

// live returns the filter expressions of open subscriptions.
func (f *fakeRealtime) live() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, s := range f.subs {
		if !s.closed.Load() {
			out = append(out, s.filter.Expr)
		}
	}
	return out
}

func (f *fakeRealtime) push(c realtime.Change) {
	f.mu.Lock()
	subs := append([]*fakeSub(nil), f.subs...)
	f.mu.Unlock()
	for _, s := range subs {
		if !s.closed.Load() {
			s.handler(c)
		}
	}
}

type managerFixture struct {
	manager  *SessionManager
	auth     *fakeAuth
	profiles *fakeProfiles
	realtime *fakeRealtime
	store    *kv.Memory
	cache    *profile.Cache
	query    *QueryCache
}

func newManagerFixture(t *testing.T) *managerFixture {
	t.Helper()

	store := kv.NewMemory()
	f := &managerFixture{
		auth:     newFakeAuth(),
		profiles: newFakeProfiles(),
		realtime: &fakeRealtime{},
		store:    store,
		cache:    profile.NewCache(store),
		query:    NewQueryCache(),
	}
	f.manager = NewSessionManager(SessionDeps{
		Auth:       f.auth,
		Profiles:   f.profiles,
		Realtime:   f.realtime,
		Store:      store,
		QueryCache: f.query,
		Timeouts:   testTimeouts,
		LegacyKeys: []string{"user", "profile"},
		Logger:     zerolog.Nop(),
		Now:        func() time.Time { return t0 },
	})
	t.Cleanup(f.manager.Close)
	return f
}

// signedIn initializes the manager anonymous and signs in a user with a
// profile row, waiting for the profile to load.
func (f *managerFixture) signedIn(t *testing.T, email string) profile.Profile {
	t.Helper()

	row := profile.Profile{ID: userIDFor(email), Email: email, Username: "maya", Level: 2, UpdatedAt: t0}
	f.profiles.put(row)
	f.auth.passwords[email] = "secret-pass"

	require.NoError(t, f.manager.Initialize(context.Background()))
	require.NoError(t, f.manager.SignIn(context.Background(), email, "secret-pass"))
	f.waitProfile(t, func(p *profile.Profile) bool { return p != nil && p.ID == row.ID })
	return row
}

func (f *managerFixture) waitProfile(t *testing.T, ok func(*profile.Profile) bool) {
	t.Helper()
	require.Eventually(t, func() bool { return ok(f.manager.Snapshot().Profile) }, time.Second, 2*time.Millisecond)
}

func waitReady(t *testing.T, m *SessionManager) {
	t.Helper()
	select {
	case <-m.Ready():
	case <-time.After(time.Second):
		t.Fatal("session manager never became ready")
	}
}
