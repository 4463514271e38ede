package ecolearn

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kartik102005/ecolearn/internal/core/auth"
	"github.com/kartik102005/ecolearn/internal/core/fault"
	"github.com/kartik102005/ecolearn/internal/core/profile"
	"github.com/kartik102005/ecolearn/internal/core/realtime"
	"github.com/kartik102005/ecolearn/internal/core/session"
)

func strPtr(s string) *string { return &s }

func TestInitialize_NoSessionIsAnonymous(t *testing.T) {
	f := newManagerFixture(t)

	require.NoError(t, f.manager.Initialize(context.Background()))
	waitReady(t, f.manager)

	st := f.manager.Snapshot()
	assert.Equal(t, session.PhaseAnonymous, st.Phase)
	assert.False(t, st.Loading)
	assert.Nil(t, st.User)
	assert.Empty(t, st.Error)
}

func TestInitialize_RunsOnce(t *testing.T) {
	f := newManagerFixture(t)

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = f.manager.Initialize(context.Background())
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), f.auth.gets.Load())
}

func TestInitialize_PaintsCacheThenRefreshes(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	cached := profile.Profile{ID: "u1", Username: "cached", UpdatedAt: t0}
	require.NoError(t, f.cache.Put(ctx, cached))
	fresh := profile.Profile{ID: "u1", Username: "fresh", UpdatedAt: t0.Add(time.Minute)}
	f.profiles.put(fresh)
	f.profiles.gate = make(chan struct{})
	f.auth.setSession(sessionFor("u1"))

	require.NoError(t, f.manager.Initialize(ctx))

	st := f.manager.Snapshot()
	require.Equal(t, session.PhaseAuthenticated, st.Phase)
	assert.False(t, st.Loading)
	require.NotNil(t, st.Profile)
	assert.Equal(t, "cached", st.Profile.Username)

	close(f.profiles.gate)
	f.waitProfile(t, func(p *profile.Profile) bool { return p != nil && p.Username == "fresh" })

	got, err := f.cache.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "fresh", got.Username)
	assert.Eventually(t, func() bool { return len(f.realtime.live()) == 1 }, time.Second, 2*time.Millisecond)
	assert.Equal(t, []string{"id=eq.u1"}, f.realtime.live())
}

func TestInitialize_SoftTimeoutWaitsForLateSession(t *testing.T) {
	f := newManagerFixture(t)
	f.auth.getGate = make(chan struct{})
	f.auth.setSession(sessionFor("u1"))

	require.NoError(t, f.manager.Initialize(context.Background()))

	st := f.manager.Snapshot()
	assert.Equal(t, session.PhaseInitializing, st.Phase)
	assert.True(t, st.Loading)

	close(f.auth.getGate)
	waitReady(t, f.manager)
	assert.Equal(t, session.PhaseAuthenticated, f.manager.Snapshot().Phase)
	assert.Equal(t, "u1", f.manager.Snapshot().UserID())
}

func TestInitialize_HardCeilingForcesOutOfLoading(t *testing.T) {
	f := newManagerFixture(t)
	f.auth.blockGet = true

	require.NoError(t, f.manager.Initialize(context.Background()))
	waitReady(t, f.manager)

	st := f.manager.Snapshot()
	assert.Equal(t, session.PhaseInitFailed, st.Phase)
	assert.False(t, st.Loading)
	assert.Equal(t, MsgSessionTimeout, st.Error)
}

func TestInitialize_LookupFailureIsVisible(t *testing.T) {
	f := newManagerFixture(t)
	f.auth.getErr = fault.Rejected("auth.get_session", 500, "database unavailable")

	err := f.manager.Initialize(context.Background())
	require.Error(t, err)

	st := f.manager.Snapshot()
	assert.Equal(t, session.PhaseInitFailed, st.Phase)
	assert.False(t, st.Loading)
	assert.Contains(t, st.Error, "database unavailable")
}

func TestFetchProfile_ConcurrentCallsShareOneRequest(t *testing.T) {
	f := newManagerFixture(t)
	f.profiles.put(profile.Profile{ID: "u1", Username: "maya", UpdatedAt: t0})
	f.profiles.gate = make(chan struct{})

	results := make([]*profile.Profile, 2)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := f.manager.FetchProfile(context.Background(), "u1", FetchOptions{})
			assert.NoError(t, err)
			results[i] = p
		}()
	}

	require.Eventually(t, func() bool { return f.profiles.selects.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	close(f.profiles.gate)
	wg.Wait()

	assert.Equal(t, int32(1), f.profiles.selects.Load())
	require.NotNil(t, results[0])
	assert.Equal(t, results[0], results[1])
}

func TestFetchProfile_MissingRowIsNoProfile(t *testing.T) {
	f := newManagerFixture(t)

	p, err := f.manager.FetchProfile(context.Background(), "nobody", FetchOptions{})
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestFetchProfile_TimeoutDegradesToCache(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()
	require.NoError(t, f.cache.Put(ctx, profile.Profile{ID: "u1", Username: "cached"}))
	f.profiles.gate = make(chan struct{}) // never released

	p, err := f.manager.FetchProfile(ctx, "u1", FetchOptions{Force: true})
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "cached", p.Username)
}

func TestFetchProfile_NetworkErrorWithoutCacheIsNil(t *testing.T) {
	f := newManagerFixture(t)
	f.profiles.selectErr = fault.Network("profiles.select", errors.New("connection refused"))

	p, err := f.manager.FetchProfile(context.Background(), "u1", FetchOptions{})
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestFetchProfile_SkipNetworkIfCached(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()
	require.NoError(t, f.cache.Put(ctx, profile.Profile{ID: "u1", Username: "cached"}))

	p, err := f.manager.FetchProfile(ctx, "u1", FetchOptions{SkipNetworkIfCached: true})
	require.NoError(t, err)
	assert.Equal(t, "cached", p.Username)
	assert.Zero(t, f.profiles.selects.Load())

	_, err = f.manager.FetchProfile(ctx, "u1", FetchOptions{SkipNetworkIfCached: true, Force: true})
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.profiles.selects.Load())
}

func TestFetchProfile_OlderRowDoesNotReplaceCache(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()
	require.NoError(t, f.cache.Put(ctx, profile.Profile{ID: "u1", Username: "newer", UpdatedAt: t0.Add(time.Hour)}))
	f.profiles.put(profile.Profile{ID: "u1", Username: "older", UpdatedAt: t0})

	p, err := f.manager.FetchProfile(ctx, "u1", FetchOptions{Force: true})
	require.NoError(t, err)
	assert.Equal(t, "newer", p.Username)
}

func TestSignIn_Success(t *testing.T) {
	f := newManagerFixture(t)
	row := f.signedIn(t, "maya@example.com")

	st := f.manager.Snapshot()
	assert.True(t, st.Authenticated())
	assert.False(t, st.Loading)
	assert.Equal(t, row.ID, st.UserID())
	assert.Eventually(t, func() bool {
		live := f.realtime.live()
		return len(live) == 1 && live[0] == "id=eq."+row.ID
	}, time.Second, 2*time.Millisecond)
}

func TestSignIn_RejectedMessageIsVerbatim(t *testing.T) {
	f := newManagerFixture(t)
	require.NoError(t, f.manager.Initialize(context.Background()))

	err := f.manager.SignIn(context.Background(), "maya@example.com", "wrong")
	require.Error(t, err)

	var fe *fault.Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, fault.KindProviderRejected, fe.Kind)
	assert.Equal(t, "Invalid login credentials", fe.Message)
	assert.Equal(t, session.PhaseAnonymous, f.manager.Snapshot().Phase)
}

func TestSignIn_TimeoutLeavesAnonymousWithoutFetching(t *testing.T) {
	f := newManagerFixture(t)
	require.NoError(t, f.manager.Initialize(context.Background()))
	f.auth.blockSignIn = true

	err := f.manager.SignIn(context.Background(), "maya@example.com", "secret-pass")
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.KindTimeout))

	st := f.manager.Snapshot()
	assert.False(t, st.Loading)
	assert.Equal(t, session.PhaseAnonymous, st.Phase)
	assert.Nil(t, st.User)

	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, f.profiles.selects.Load())
}

func TestSignIn_BeforeInitializeIsIllegal(t *testing.T) {
	f := newManagerFixture(t)
	f.auth.passwords["maya@example.com"] = "secret-pass"

	err := f.manager.SignIn(context.Background(), "maya@example.com", "secret-pass")

	var illegal session.ErrIllegalTransition
	require.ErrorAs(t, err, &illegal)
	assert.Equal(t, session.PhaseUninitialized, illegal.From)
}

func TestSignUp_CreatesProfileRow(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()
	require.NoError(t, f.manager.Initialize(ctx))

	err := f.manager.SignUp(ctx, SignUpInput{
		Email:    "leo@example.com",
		Password: "secret-pass",
		Username: "leo",
		FullName: "Leo Martins",
	})
	require.NoError(t, err)

	st := f.manager.Snapshot()
	assert.True(t, st.Authenticated())
	f.waitProfile(t, func(p *profile.Profile) bool { return p != nil && p.Username == "leo" })

	row, err := f.profiles.Select(ctx, userIDFor("leo@example.com"))
	require.NoError(t, err)
	assert.Equal(t, "Leo Martins", row.FullName)
	assert.Equal(t, 1, row.Level)
	assert.Equal(t, t0, row.CreatedAt)
}

func TestSignUp_DuplicateReturnsProviderMessage(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()
	require.NoError(t, f.manager.Initialize(ctx))
	f.auth.passwords["leo@example.com"] = "x"

	err := f.manager.SignUp(ctx, SignUpInput{Email: "leo@example.com", Password: "secret-pass"})
	require.Error(t, err)
	assert.Equal(t, "User already registered", err.(*fault.Error).Message)
}

func TestUpdateProfile_NoUser(t *testing.T) {
	f := newManagerFixture(t)
	require.NoError(t, f.manager.Initialize(context.Background()))

	_, err := f.manager.UpdateProfile(context.Background(), profile.Patch{Username: strPtr("x")})
	require.Error(t, err)
	assert.Equal(t, "No user logged in", err.Error())
	assert.Zero(t, f.profiles.updates.Load())
}

func TestUpdateProfile_WritesThrough(t *testing.T) {
	f := newManagerFixture(t)
	row := f.signedIn(t, "maya@example.com")
	ctx := context.Background()

	updated, err := f.manager.UpdateProfile(ctx, profile.Patch{Bio: strPtr("Composting since 2019")})
	require.NoError(t, err)
	assert.Equal(t, "Composting since 2019", updated.Bio)
	assert.Equal(t, t0, updated.UpdatedAt)

	assert.Equal(t, "Composting since 2019", f.manager.Snapshot().Profile.Bio)
	cached, err := f.cache.Get(ctx, row.ID)
	require.NoError(t, err)
	assert.Equal(t, "Composting since 2019", cached.Bio)
}

func TestSignOut_HangingRemoteStillClearsEverything(t *testing.T) {
	f := newManagerFixture(t)
	row := f.signedIn(t, "maya@example.com")
	ctx := context.Background()

	require.NoError(t, f.store.Set(ctx, "user", map[string]string{"id": row.ID}))
	require.NoError(t, f.store.Set(ctx, "profile", map[string]string{"id": row.ID}))
	require.Eventually(t, func() bool { return len(f.realtime.live()) == 1 }, time.Second, 2*time.Millisecond)
	f.auth.blockOut = true

	err := f.manager.SignOut(ctx)
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.KindTimeout))

	st := f.manager.Snapshot()
	assert.Equal(t, session.PhaseAnonymous, st.Phase)
	assert.Nil(t, st.Session)
	assert.Nil(t, st.User)
	assert.Nil(t, st.Profile)

	cached, err := f.cache.Get(ctx, row.ID)
	require.NoError(t, err)
	assert.Nil(t, cached)
	for _, key := range []string{"user", "profile"} {
		has, err := f.store.Has(ctx, key)
		require.NoError(t, err)
		assert.False(t, has, key)
	}
	assert.Zero(t, f.query.Len())
	assert.Empty(t, f.realtime.live())
}

func TestSignOut_Idempotent(t *testing.T) {
	f := newManagerFixture(t)
	f.signedIn(t, "maya@example.com")

	require.NoError(t, f.manager.SignOut(context.Background()))
	require.NoError(t, f.manager.SignOut(context.Background()))
	assert.Equal(t, session.PhaseAnonymous, f.manager.Snapshot().Phase)
}

func TestSignOut_InFlightFetchDoesNotRefillCaches(t *testing.T) {
	f := newManagerFixture(t)
	row := f.signedIn(t, "maya@example.com")

	row.TotalXP = 900
	row.UpdatedAt = t0.Add(time.Minute)
	f.profiles.put(row)

	gate := make(chan struct{})
	f.profiles.mu.Lock()
	f.profiles.gate = gate
	f.profiles.mu.Unlock()
	before := f.profiles.selects.Load()

	done := make(chan *profile.Profile, 1)
	go func() {
		p, _ := f.manager.FetchProfile(context.Background(), row.ID, FetchOptions{Force: true})
		done <- p
	}()
	require.Eventually(t, func() bool { return f.profiles.selects.Load() > before }, time.Second, time.Millisecond)

	require.NoError(t, f.manager.SignOut(context.Background()))
	close(gate)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("fetch never finished")
	}

	cached, err := f.cache.Get(context.Background(), row.ID)
	require.NoError(t, err)
	assert.Nil(t, cached)
	_, ok := f.query.Get(profileQueryKey(row.ID))
	assert.False(t, ok)
	assert.Nil(t, f.manager.Snapshot().Profile)
}

func TestRealtimePush_RefetchesProfile(t *testing.T) {
	f := newManagerFixture(t)
	row := f.signedIn(t, "maya@example.com")
	require.Eventually(t, func() bool { return len(f.realtime.live()) == 1 }, time.Second, 2*time.Millisecond)

	row.TotalXP = 450
	row.UpdatedAt = t0.Add(time.Minute)
	f.profiles.put(row)
	f.realtime.push(realtime.Change{Type: "UPDATE", Table: "profiles"})

	f.waitProfile(t, func(p *profile.Profile) bool { return p != nil && p.TotalXP == 450 })
}

func TestRealtime_OneSubscriptionPerUser(t *testing.T) {
	f := newManagerFixture(t)
	f.signedIn(t, "maya@example.com")

	f.profiles.put(profile.Profile{ID: userIDFor("leo@example.com"), Username: "leo"})
	f.auth.passwords["leo@example.com"] = "other-pass"
	require.NoError(t, f.manager.SignIn(context.Background(), "leo@example.com", "other-pass"))

	assert.Eventually(t, func() bool {
		live := f.realtime.live()
		return len(live) == 1 && live[0] == "id=eq."+userIDFor("leo@example.com")
	}, time.Second, 2*time.Millisecond)
}

func TestPushedSignOutClearsState(t *testing.T) {
	f := newManagerFixture(t)
	f.signedIn(t, "maya@example.com")

	f.auth.handlers.Emit(auth.Change{Event: auth.EventSignedOut})

	st := f.manager.Snapshot()
	assert.Equal(t, session.PhaseAnonymous, st.Phase)
	assert.Nil(t, st.User)
}

func TestSubscribe_ReceivesTransitions(t *testing.T) {
	f := newManagerFixture(t)

	var mu sync.Mutex
	var phases []session.Phase
	unsub := f.manager.Subscribe(func(st session.State) {
		mu.Lock()
		phases = append(phases, st.Phase)
		mu.Unlock()
	})
	defer unsub()

	require.NoError(t, f.manager.Initialize(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(phases), 2)
	assert.Equal(t, session.PhaseInitializing, phases[0])
	assert.Equal(t, session.PhaseAnonymous, phases[len(phases)-1])
}

func TestClose_DropsLateCompletions(t *testing.T) {
	f := newManagerFixture(t)
	f.auth.setSession(sessionFor("u1"))
	f.profiles.put(profile.Profile{ID: "u1", Username: "late"})
	f.profiles.gate = make(chan struct{})

	require.NoError(t, f.manager.Initialize(context.Background()))
	f.manager.Close()
	close(f.profiles.gate)

	assert.Nil(t, f.manager.Snapshot().Profile)
}
