package local

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kartik102005/ecolearn/internal/core/auth"
	"github.com/kartik102005/ecolearn/internal/core/fault"
	"github.com/kartik102005/ecolearn/internal/core/profile"
	"github.com/kartik102005/ecolearn/internal/core/realtime"
)

func signUp(t *testing.T, f *fixture, email string) auth.User {
	t.Helper()
	user, _, err := f.backend.Auth.SignUp(context.Background(), email, "secret1", auth.SignUpOptions{})
	require.NoError(t, err)
	return *user
}

func TestProfiles_SelectMissing(t *testing.T) {
	f := newFixture(t)

	p, err := f.backend.Profiles.Select(context.Background(), "nobody")
	assert.Nil(t, p)

	var fe *fault.Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, fault.KindNotFound, fe.Kind)
	assert.Equal(t, fault.CodeNoRows, fe.Code)
}

func TestProfiles_InsertUpdatePublish(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := signUp(t, f, "mo@example.com")

	var (
		mu  sync.Mutex
		got []realtime.Change
	)
	sub, err := f.backend.Realtime.Subscribe(ctx, realtime.ProfileRow(user.ID), func(c realtime.Change) {
		mu.Lock()
		got = append(got, c)
		mu.Unlock()
	})
	require.NoError(t, err)
	defer func() { _ = sub.Unsubscribe() }()

	now := time.Now().UTC().Truncate(time.Second)
	inserted, err := f.backend.Profiles.Insert(ctx, profile.Profile{
		ID: user.ID, Email: user.Email, Username: "mo", Level: 1, CreatedAt: now, UpdatedAt: now,
	})
	require.NoError(t, err)
	assert.Equal(t, "mo", inserted.Username)

	bio := "river cleanups"
	updated, err := f.backend.Profiles.Update(ctx, user.ID, profile.Patch{Bio: &bio, UpdatedAt: now.Add(time.Minute)})
	require.NoError(t, err)
	assert.Equal(t, bio, updated.Bio)
	assert.Equal(t, now.Add(time.Minute), updated.UpdatedAt)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 2)
	assert.Equal(t, "INSERT", got[0].Type)
	assert.Equal(t, "UPDATE", got[1].Type)
	assert.Equal(t, user.ID, got[1].Record["id"])
}

func TestProfiles_DuplicateInsert(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := signUp(t, f, "dup@example.com")

	p := profile.Profile{ID: user.ID, Email: user.Email, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	_, err := f.backend.Profiles.Insert(ctx, p)
	require.NoError(t, err)

	_, err = f.backend.Profiles.Insert(ctx, p)
	var fe *fault.Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, fault.KindProviderRejected, fe.Kind)
	assert.Equal(t, "23505", fe.Code)
}

func TestProfiles_UpdateMissing(t *testing.T) {
	f := newFixture(t)
	name := "x"

	_, err := f.backend.Profiles.Update(context.Background(), "nobody", profile.Patch{Username: &name})
	assert.True(t, fault.Is(err, fault.KindNotFound))
}
