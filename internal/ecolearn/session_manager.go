// Package ecolearn wires the client core: the session manager, the inbox that
// follows it, and the App container that owns both for the process lifetime.
package ecolearn

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/kartik102005/ecolearn/internal/core/auth"
	"github.com/kartik102005/ecolearn/internal/core/config"
	"github.com/kartik102005/ecolearn/internal/core/fault"
	"github.com/kartik102005/ecolearn/internal/core/kv"
	"github.com/kartik102005/ecolearn/internal/core/profile"
	"github.com/kartik102005/ecolearn/internal/core/realtime"
	"github.com/kartik102005/ecolearn/internal/core/session"
	querykv "github.com/kartik102005/ecolearn/pkg/kv"
)

// User-visible messages for unrecoverable initialization failures.
const (
	MsgSessionTimeout = "Timed out while restoring your session. Please sign in again."
	msgRestoreFailed  = "Unable to restore your session"
)

// QueryCache memoizes backend reads for the lifetime of a signed-in session.
type QueryCache = querykv.Store[string, profile.Profile]

// NewQueryCache returns an empty query cache.
func NewQueryCache() *QueryCache {
	return querykv.New[string, profile.Profile]()
}

func profileQueryKey(userID string) string { return "profile:" + userID }

// SessionDeps are the collaborators of a SessionManager. Realtime, QueryCache
// and Observer are optional.
type SessionDeps struct {
	Auth       auth.Provider
	Profiles   profile.Store
	Realtime   realtime.Channel
	Store      kv.KV
	QueryCache *QueryCache
	Timeouts   config.TimeoutConfig
	LegacyKeys []string
	Observer   Observer
	Logger     zerolog.Logger
	Now        func() time.Time
}

// FetchOptions tunes FetchProfile.
type FetchOptions struct {
	// SkipNetworkIfCached returns a cache hit without refreshing it.
	SkipNetworkIfCached bool
	// Force always goes to the network, even with SkipNetworkIfCached set.
	Force bool
}

// SignUpInput is the registration form.
type SignUpInput struct {
	Email    string
	Password string
	Username string
	FullName string
}

// SessionManager is the single source of truth for who is signed in. Every
// public operation returns an error instead of panicking, and every network
// call is bounded by a timeout from config.TimeoutConfig.
type SessionManager struct {
	auth       auth.Provider
	profiles   profile.Store
	realtime   realtime.Channel
	store      kv.KV
	cache      *profile.Cache
	query      *QueryCache
	timeouts   config.TimeoutConfig
	legacyKeys []string
	obs        Observer
	log        zerolog.Logger
	now        func() time.Time

	life   context.Context
	cancel context.CancelFunc
	flight singleflight.Group
	wg     sync.WaitGroup

	mu        sync.Mutex
	state     session.State
	gen       uint64 // bumped whenever the active user changes
	closed    bool
	sub       realtime.Subscription
	unsubAuth func()
	hard      *time.Timer

	cacheMu sync.Mutex // held by cache writes and by clearLocal's cache drop

	pubMu   sync.Mutex // serializes snapshot delivery
	subsMu  sync.Mutex
	nextSub int
	subs    map[int]func(session.State)

	ready     chan struct{}
	readyOnce sync.Once
}

func NewSessionManager(deps SessionDeps) *SessionManager {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}
	if deps.QueryCache == nil {
		deps.QueryCache = NewQueryCache()
	}
	if deps.Store == nil {
		deps.Store = kv.NewMemory()
	}

	life, cancel := context.WithCancel(context.Background())
	return &SessionManager{
		auth:       deps.Auth,
		profiles:   deps.Profiles,
		realtime:   deps.Realtime,
		store:      deps.Store,
		cache:      profile.NewCache(deps.Store),
		query:      deps.QueryCache,
		timeouts:   deps.Timeouts,
		legacyKeys: slices.Clone(deps.LegacyKeys),
		obs:        deps.Observer,
		log:        deps.Logger,
		now:        deps.Now,
		life:       life,
		cancel:     cancel,
		state:      session.State{Phase: session.PhaseUninitialized, Loading: true},
		subs:       make(map[int]func(session.State)),
		ready:      make(chan struct{}),
	}
}

// Initialize restores the session exactly once. The provider lookup is given
// the soft timeout; if it is slower, Initialize returns nil and the late
// result is applied as an INITIAL_SESSION change. After the hard timeout the
// manager leaves the loading state with MsgSessionTimeout regardless.
func (m *SessionManager) Initialize(ctx context.Context) error {
	const op = "session.initialize"

	m.mu.Lock()
	if m.closed || m.state.Phase != session.PhaseUninitialized {
		m.mu.Unlock()
		return nil
	}
	m.state.Phase = session.PhaseInitializing
	m.state.Loading = true
	m.hard = time.AfterFunc(m.timeouts.SessionHard, m.expireInit)
	m.unsubAuth = m.auth.OnAuthStateChange(m.handleAuthChange)
	m.mu.Unlock()
	m.publish()

	type result struct {
		sess *auth.Session
		err  error
	}
	results := make(chan result, 1)
	lookupCtx, cancelLookup := context.WithTimeout(m.life, m.timeouts.SessionHard)
	go func() {
		defer cancelLookup()
		sess, err := m.auth.GetSession(lookupCtx)
		results <- result{sess: sess, err: err}
	}()

	// A late lookup result is delivered like a pushed change; the hard
	// ceiling covers a lookup that never answers.
	late := func() {
		m.goAsync(func() {
			r := <-results
			if r.err != nil {
				m.log.Warn().Err(r.err).Msg("late session lookup failed")
				return
			}
			m.handleAuthChange(auth.Change{Event: auth.EventInitialSession, Session: r.sess})
		})
	}

	soft := time.NewTimer(m.timeouts.SessionSoft)
	defer soft.Stop()

	select {
	case r := <-results:
		return m.resolveInit(r.sess, r.err)
	case <-soft.C:
		m.log.Warn().Dur("after", m.timeouts.SessionSoft).Msg("session lookup is slow, waiting for auth change")
		late()
		return nil
	case <-ctx.Done():
		late()
		return fault.Classify(op, ctx.Err())
	}
}

// Ready is closed once the manager first leaves the loading state.
func (m *SessionManager) Ready() <-chan struct{} {
	return m.ready
}

func (m *SessionManager) resolveInit(sess *auth.Session, err error) error {
	const op = "session.initialize"

	switch {
	case err != nil:
		fe := fault.Classify(op, err)
		m.log.Error().Err(fe).Msg("session lookup failed")
		m.failInit(fmt.Sprintf("%s: %s", msgRestoreFailed, fe.Message))
		return fe
	case sess == nil:
		m.settleAnonymous()
		return nil
	default:
		return m.adopt(sess, true)
	}
}

func (m *SessionManager) expireInit() {
	m.mu.Lock()
	stuck := m.state.Phase == session.PhaseInitializing
	m.mu.Unlock()
	if stuck {
		m.log.Error().Dur("after", m.timeouts.SessionHard).Msg("session initialization hit the hard ceiling")
		m.failInit(MsgSessionTimeout)
	}
}

func (m *SessionManager) failInit(msg string) {
	m.mu.Lock()
	if m.closed || m.state.Phase != session.PhaseInitializing {
		m.mu.Unlock()
		return
	}
	m.state.Phase = session.PhaseInitFailed
	m.state.Loading = false
	m.state.Error = msg
	m.mu.Unlock()

	m.markReady()
	m.publish()
}

func (m *SessionManager) settleAnonymous() {
	m.mu.Lock()
	switch m.state.Phase {
	case session.PhaseInitializing, session.PhaseInitFailed:
	default:
		m.mu.Unlock()
		return
	}
	m.state.Phase = session.PhaseAnonymous
	m.state.Loading = false
	m.state.Error = ""
	m.mu.Unlock()

	m.markReady()
	m.publish()
}

// handleAuthChange applies provider-pushed changes. It runs on whatever
// goroutine the provider emits from.
func (m *SessionManager) handleAuthChange(c auth.Change) {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return
	}

	m.log.Debug().Str("event", string(c.Event)).Msg("auth change")

	switch c.Event {
	case auth.EventSignedOut:
		m.clearLocal(m.life)
	case auth.EventSignedIn, auth.EventTokenRefreshed, auth.EventUserUpdated, auth.EventInitialSession:
		if c.Session == nil {
			if c.Event == auth.EventInitialSession {
				m.settleAnonymous()
			}
			return
		}
		if err := m.adopt(c.Session, false); err != nil {
			m.log.Debug().Err(err).Str("event", string(c.Event)).Msg("auth change ignored")
		}
	}
}

// adopt makes sess the current session. A new user id paints the cached
// profile, replaces the realtime subscription and refreshes the profile;
// force refreshes even when the user is unchanged.
func (m *SessionManager) adopt(sess *auth.Session, force bool) error {
	user := sess.User

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	from := m.state.Phase
	if !session.CanTransition(from, session.PhaseAuthenticated) {
		m.mu.Unlock()
		return session.ErrIllegalTransition{From: from, To: session.PhaseAuthenticated}
	}

	changed := m.state.UserID() != user.ID
	var old realtime.Subscription
	if changed {
		m.gen++
		m.state.Profile = nil
		old, m.sub = m.sub, nil
	}
	m.state.Phase = session.PhaseAuthenticated
	m.state.Loading = false
	m.state.Session = sess
	m.state.User = &user
	m.state.Error = ""
	gen := m.gen
	m.mu.Unlock()

	if old != nil {
		if err := old.Unsubscribe(); err != nil {
			m.log.Debug().Err(err).Msg("realtime unsubscribe failed")
		}
	}
	if changed {
		if cached := m.cached(m.life, gen, user.ID); cached != nil {
			m.apply(gen, cached)
		}
		m.log.Info().Str("user_id", user.ID).Msg("session adopted")
	}

	m.markReady()
	m.publish()

	if changed {
		m.goAsync(func() { m.subscribe(user.ID, gen) })
	}
	if changed || force {
		m.goAsync(func() { m.refresh(user.ID, gen) })
	}
	return nil
}

// subscribe opens the single profile-row subscription for userID.
func (m *SessionManager) subscribe(userID string, gen uint64) {
	if m.realtime == nil || !m.current(gen) {
		return
	}

	sub, err := m.realtime.Subscribe(m.life, realtime.ProfileRow(userID), func(realtime.Change) {
		m.goAsync(func() { m.refresh(userID, gen) })
	})
	if err != nil {
		if m.life.Err() == nil {
			m.log.Warn().Err(err).Str("user_id", userID).Msg("realtime subscribe failed")
		}
		return
	}

	m.mu.Lock()
	if m.closed || m.gen != gen || m.sub != nil {
		m.mu.Unlock()
		_ = sub.Unsubscribe()
		return
	}
	m.sub = sub
	m.mu.Unlock()
}

func (m *SessionManager) refresh(userID string, gen uint64) {
	if !m.current(gen) {
		return
	}
	_, _ = m.FetchProfile(m.life, userID, FetchOptions{Force: true})
}

// generation returns the active user generation.
func (m *SessionManager) generation() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gen
}

// current reports whether gen is still the active user generation.
func (m *SessionManager) current(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.closed && m.gen == gen
}

// apply sets p as the in-memory profile when gen is still current.
func (m *SessionManager) apply(gen uint64, p *profile.Profile) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.gen != gen || m.state.UserID() != p.ID {
		return false
	}
	cp := *p
	m.state.Profile = &cp
	return true
}

// FetchProfile returns the freshest profile known for userID. A cache hit is
// served first; network failures degrade to it (or to nil) and a missing row
// is (nil, nil). Concurrent calls for the same user share one request.
func (m *SessionManager) FetchProfile(ctx context.Context, userID string, opts FetchOptions) (*profile.Profile, error) {
	const op = "profile.fetch"

	if userID == "" {
		return nil, fault.ErrNoUser
	}

	gen := m.generation()
	cached := m.cached(ctx, gen, userID)
	if cached != nil && opts.SkipNetworkIfCached && !opts.Force {
		m.obs.ObserveProfileFetch("cached")
		return cached, nil
	}

	ch := m.flight.DoChan(userID, func() (any, error) {
		return fault.Race(m.life, m.timeouts.ProfileFetch, op, func(ctx context.Context) (*profile.Profile, error) {
			return m.profiles.Select(ctx, userID)
		})
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		m.obs.ObserveProfileFetch("degraded")
		return cached, nil
	}

	log := m.log.With().Str("user_id", userID).Logger()
	if res.Err != nil {
		switch {
		case fault.Is(res.Err, fault.KindNotFound):
			log.Debug().Msg("no profile row yet")
			m.obs.ObserveProfileFetch("not_found")
			return nil, nil
		case fault.IsTransient(res.Err):
			log.Warn().Err(res.Err).Bool("cached", cached != nil).Msg("profile fetch degraded to cache")
			m.obs.ObserveProfileFetch("degraded")
			return cached, nil
		default:
			log.Warn().Err(res.Err).Msg("profile fetch failed")
			m.obs.ObserveProfileFetch("error")
			return cached, fault.Classify(op, res.Err)
		}
	}

	p, _ := res.Val.(*profile.Profile)
	if p == nil {
		m.obs.ObserveProfileFetch("not_found")
		return nil, nil
	}
	m.obs.ObserveProfileFetch("network")
	return m.remember(ctx, gen, p), nil
}

// cached returns the query-cache copy, falling back to the persistent cache.
// The query cache is only warmed while gen is current.
func (m *SessionManager) cached(ctx context.Context, gen uint64, userID string) *profile.Profile {
	if p, ok := m.query.Get(profileQueryKey(userID)); ok {
		return &p
	}
	p, err := m.cache.Get(ctx, userID)
	if err != nil {
		m.log.Warn().Err(err).Str("user_id", userID).Msg("profile cache unreadable")
		return nil
	}
	if p != nil {
		m.cacheMu.Lock()
		if m.current(gen) {
			m.query.Set(profileQueryKey(userID), *p)
		}
		m.cacheMu.Unlock()
	}
	return p
}

// remember stores a fetched or written profile. A row older than the cached
// copy is ignored in favour of the cache. Nothing is written once gen has
// been superseded by a sign-out or a user change.
func (m *SessionManager) remember(ctx context.Context, gen uint64, p *profile.Profile) *profile.Profile {
	current := m.cached(ctx, gen, p.ID)
	switch {
	case current != nil && p.UpdatedAt.Before(current.UpdatedAt):
		m.log.Debug().Str("user_id", p.ID).Msg("ignoring profile older than cached copy")
		p = current
	case current == nil || !sameProfile(*current, *p):
		m.cacheMu.Lock()
		if m.current(gen) {
			m.query.Set(profileQueryKey(p.ID), *p)
			if err := m.cache.Put(ctx, *p); err != nil {
				m.log.Warn().Err(err).Str("user_id", p.ID).Msg("profile cache write failed")
			}
		} else {
			m.log.Debug().Str("user_id", p.ID).Msg("dropping profile from a finished session")
		}
		m.cacheMu.Unlock()
	}

	m.mu.Lock()
	changed := !m.closed && m.gen == gen && m.state.UserID() == p.ID &&
		(m.state.Profile == nil || !sameProfile(*m.state.Profile, *p))
	if changed {
		cp := *p
		m.state.Profile = &cp
	}
	m.mu.Unlock()

	if changed {
		m.publish()
	}
	return p
}

func sameProfile(a, b profile.Profile) bool {
	return a.ID == b.ID &&
		a.Email == b.Email &&
		a.Username == b.Username &&
		a.FullName == b.FullName &&
		a.AvatarURL == b.AvatarURL &&
		a.Bio == b.Bio &&
		a.Level == b.Level &&
		a.TotalXP == b.TotalXP &&
		a.EcoCoins == b.EcoCoins &&
		a.CreatedAt.Equal(b.CreatedAt) &&
		a.UpdatedAt.Equal(b.UpdatedAt)
}

// SignUp registers the user and creates their profile row. When the provider
// issues a session immediately the manager becomes authenticated.
func (m *SessionManager) SignUp(ctx context.Context, in SignUpInput) error {
	start := time.Now()
	err := m.signUp(ctx, in)
	m.obs.ObserveAuth("sign_up", time.Since(start), err)
	return err
}

func (m *SessionManager) signUp(ctx context.Context, in SignUpInput) error {
	const op = "session.sign_up"

	user, sess, err := m.auth.SignUp(ctx, in.Email, in.Password, auth.SignUpOptions{
		Data: map[string]any{"username": in.Username, "full_name": in.FullName},
	})
	if err != nil {
		return fault.Classify(op, err)
	}
	if user == nil || user.ID == "" {
		return fault.Classify(op, errors.New("provider returned no user"))
	}

	gen := m.generation()
	now := m.now().UTC()
	created, insertErr := m.profiles.Insert(ctx, profile.Profile{
		ID:        user.ID,
		Email:     user.Email,
		Username:  in.Username,
		FullName:  in.FullName,
		Level:     1,
		CreatedAt: now,
		UpdatedAt: now,
	})
	var fe *fault.Error
	switch {
	case insertErr == nil:
		m.remember(ctx, gen, created)
	case errors.As(insertErr, &fe) && fe.Status == 409:
		m.log.Debug().Str("user_id", user.ID).Msg("profile row already exists")
		insertErr = nil
	default:
		m.log.Warn().Err(insertErr).Str("user_id", user.ID).Msg("profile insert failed")
	}

	if sess != nil {
		if err := m.adopt(sess, false); err != nil {
			return err
		}
	}
	if insertErr != nil {
		return fault.Classify(op, insertErr)
	}
	return nil
}

// SignIn authenticates under the sign-in timeout. A timeout leaves the
// manager signed out and not loading.
func (m *SessionManager) SignIn(ctx context.Context, email, password string) error {
	const op = "session.sign_in"

	start := time.Now()
	m.setLoading(true)

	sess, err := fault.Race(ctx, m.timeouts.SignIn, op, func(ctx context.Context) (*auth.Session, error) {
		return m.auth.SignInWithPassword(ctx, email, password)
	})
	if err == nil && sess == nil {
		err = fault.Classify(op, errors.New("provider returned no session"))
	}
	if err == nil {
		err = m.adopt(sess, true)
	}

	m.setLoading(false)
	m.obs.ObserveAuth("sign_in", time.Since(start), err)
	if err != nil {
		m.log.Info().Err(err).Msg("sign in failed")
	}
	return err
}

func (m *SessionManager) setLoading(v bool) {
	m.mu.Lock()
	prev := m.state.Loading
	m.state.Loading = v || m.state.Phase.Loading()
	changed := prev != m.state.Loading
	m.mu.Unlock()
	if changed {
		m.publish()
	}
}

// SignOut revokes the session remotely under the sign-out timeout and then
// clears all local state, whatever the remote outcome. The remote error is
// returned after cleanup.
func (m *SessionManager) SignOut(ctx context.Context) error {
	const op = "session.sign_out"

	start := time.Now()
	_, err := fault.Race(ctx, m.timeouts.SignOut, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, m.auth.SignOut(ctx)
	})
	if err != nil {
		m.log.Warn().Err(err).Msg("remote sign out failed, clearing local state anyway")
	}

	m.clearLocal(context.WithoutCancel(ctx))
	m.obs.ObserveAuth("sign_out", time.Since(start), err)
	if err != nil {
		return fault.Classify(op, err)
	}
	return nil
}

// clearLocal drops every trace of the current user. It is idempotent.
func (m *SessionManager) clearLocal(ctx context.Context) {
	m.mu.Lock()
	userID := m.state.UserID()
	sub := m.sub
	m.sub = nil
	m.gen++
	if session.CanTransition(m.state.Phase, session.PhaseAnonymous) {
		m.state.Phase = session.PhaseAnonymous
	}
	m.state.Loading = m.state.Phase.Loading()
	m.state.Session = nil
	m.state.User = nil
	m.state.Profile = nil
	m.state.Error = ""
	m.mu.Unlock()

	if sub != nil {
		if err := sub.Unsubscribe(); err != nil {
			m.log.Debug().Err(err).Msg("realtime unsubscribe failed")
		}
	}
	m.cacheMu.Lock()
	m.query.Clear()
	if err := m.cache.Drop(ctx, userID); err != nil {
		m.log.Warn().Err(err).Str("user_id", userID).Msg("drop cached profile")
	}
	m.cacheMu.Unlock()
	for _, key := range m.legacyKeys {
		if err := m.store.Delete(ctx, key); err != nil {
			m.log.Warn().Err(err).Str("key", key).Msg("drop legacy key")
		}
	}

	if userID != "" {
		m.log.Info().Str("user_id", userID).Msg("local session cleared")
	}
	m.markReady()
	m.publish()
}

// UpdateProfile writes patch for the signed-in user, stamping updated_at.
func (m *SessionManager) UpdateProfile(ctx context.Context, patch profile.Patch) (*profile.Profile, error) {
	const op = "profile.update"

	m.mu.Lock()
	user, current, gen := m.state.User, m.state.Profile, m.gen
	m.mu.Unlock()
	if user == nil || current == nil {
		return nil, fault.ErrNoUser
	}
	if patch.Empty() {
		cp := *current
		return &cp, nil
	}

	patch.UpdatedAt = m.now().UTC()
	updated, err := m.profiles.Update(ctx, user.ID, patch)
	if err != nil {
		return nil, fault.Classify(op, err)
	}
	return m.remember(ctx, gen, updated), nil
}

// Snapshot returns the current state.
func (m *SessionManager) Snapshot() session.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Subscribe registers fn for every state change. fn runs synchronously and
// must not call the mutating methods of the manager.
func (m *SessionManager) Subscribe(fn func(session.State)) (unsubscribe func()) {
	m.subsMu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.subsMu.Lock()
			delete(m.subs, id)
			m.subsMu.Unlock()
		})
	}
}

func (m *SessionManager) publish() {
	m.pubMu.Lock()
	defer m.pubMu.Unlock()

	st := m.Snapshot()

	m.subsMu.Lock()
	ids := make([]int, 0, len(m.subs))
	for id := range m.subs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]func(session.State), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, m.subs[id])
	}
	m.subsMu.Unlock()

	for _, fn := range fns {
		fn(st)
	}
}

func (m *SessionManager) markReady() {
	m.mu.Lock()
	loading := m.state.Phase.Loading()
	hard := m.hard
	m.mu.Unlock()
	if loading {
		return
	}
	m.readyOnce.Do(func() {
		if hard != nil {
			hard.Stop()
		}
		close(m.ready)
	})
}

// goAsync runs fn on a goroutine tracked by Close.
func (m *SessionManager) goAsync(fn func()) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		fn()
	}()
}

// Close tears down the realtime subscription and the auth listener, cancels
// in-flight background work and waits for it. Late completions are dropped.
func (m *SessionManager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	sub := m.sub
	m.sub = nil
	unsubAuth := m.unsubAuth
	m.unsubAuth = nil
	if m.hard != nil {
		m.hard.Stop()
	}
	m.mu.Unlock()

	m.cancel()
	if unsubAuth != nil {
		unsubAuth()
	}
	if sub != nil {
		_ = sub.Unsubscribe()
	}
	m.wg.Wait()
}
