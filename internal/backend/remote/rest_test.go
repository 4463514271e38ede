package remote

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kartik102005/ecolearn/internal/core/fault"
	"github.com/kartik102005/ecolearn/internal/core/profile"
)

func TestProfiles_SelectMissingIsNotFound(t *testing.T) {
	_, srv := newFakeProject(t)
	b, _ := newTestBackend(t, srv)

	p, err := b.Profiles.Select(context.Background(), "nobody")
	assert.Nil(t, p)

	var fe *fault.Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, fault.KindNotFound, fe.Kind)
	assert.Equal(t, fault.CodeNoRows, fe.Code)
}

func TestProfiles_InsertSelectUpdate(t *testing.T) {
	fp, srv := newFakeProject(t)
	b, _ := newTestBackend(t, srv)
	ctx := context.Background()

	sess, err := b.Auth.SignInWithPassword(ctx, "maya@example.com", "secret1")
	require.NoError(t, err)

	now := time.Now().UTC().Truncate(time.Second)
	_, err = b.Profiles.Insert(ctx, profile.Profile{
		ID: sess.User.ID, Email: sess.User.Email, Username: "maya", Level: 1, CreatedAt: now, UpdatedAt: now,
	})
	require.NoError(t, err)
	assert.Equal(t, "Bearer "+sess.AccessToken, fp.authz(), "user token used for rows")

	got, err := b.Profiles.Select(ctx, sess.User.ID)
	require.NoError(t, err)
	assert.Equal(t, "maya", got.Username)

	name := "Maya Patel"
	updated, err := b.Profiles.Update(ctx, sess.User.ID, profile.Patch{FullName: &name})
	require.NoError(t, err)
	assert.Equal(t, name, updated.FullName)
	assert.False(t, updated.UpdatedAt.Before(now), "update stamps updated_at")
}

func TestProfiles_AnonKeyWhenSignedOut(t *testing.T) {
	fp, srv := newFakeProject(t)
	b, _ := newTestBackend(t, srv)

	_, _ = b.Profiles.Select(context.Background(), "x")
	assert.Equal(t, "Bearer "+testAnonKey, fp.authz())
}

func TestClient_UnknownPathIsNotFound(t *testing.T) {
	_, srv := newFakeProject(t)
	b, _ := newTestBackend(t, srv)

	err := b.Auth.client.do(context.Background(), request{op: "test", method: "GET", path: "/does/not/exist"})
	assert.True(t, fault.Is(err, fault.KindNotFound))
}

func TestClient_TimeoutClassified(t *testing.T) {
	_, srv := newFakeProject(t)
	b, _ := newTestBackend(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)

	_, err := b.Profiles.Select(ctx, "x")
	assert.True(t, fault.Is(err, fault.KindTimeout), "got %v", err)
}

func TestNewClient_RejectsBadScheme(t *testing.T) {
	_, err := NewClient("ftp://example.com", "", nil, zerolog.Nop())
	assert.Error(t, err)
}
