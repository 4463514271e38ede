package local

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kartik102005/ecolearn/internal/core/auth"
	"github.com/kartik102005/ecolearn/internal/core/fault"
	"github.com/kartik102005/ecolearn/internal/data/stores"
)

func TestAuth_SignUpThenSignIn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := &changes{}
	f.backend.Auth.OnAuthStateChange(rec.handler)

	user, sess, err := f.backend.Auth.SignUp(ctx, "maya@example.com", "secret1", auth.SignUpOptions{
		Data: map[string]any{"username": "maya"},
	})
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, user.ID, sess.User.ID)
	assert.Equal(t, "maya", user.Metadata["username"])
	assert.Equal(t, "bearer", sess.TokenType)

	require.NoError(t, f.backend.Auth.SignOut(ctx))

	sess, err = f.backend.Auth.SignInWithPassword(ctx, "MAYA@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, user.ID, sess.User.ID)

	assert.Equal(t, []auth.ChangeEvent{auth.EventSignedIn, auth.EventSignedOut, auth.EventSignedIn}, rec.events())
}

func TestAuth_SignUpRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.backend.Auth.SignUp(ctx, "leo@example.com", "secret1", auth.SignUpOptions{})
	require.NoError(t, err)

	tests := []struct {
		name     string
		email    string
		password string
		want     string
	}{
		{"duplicate", "leo@example.com", "secret1", MsgAlreadyRegistered},
		{"duplicate case-insensitive", "LEO@example.com", "secret1", MsgAlreadyRegistered},
		{"short password", "new@example.com", "12345", MsgWeakPassword},
		{"bad email", "not-an-email", "secret1", MsgInvalidEmail},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, sess, err := f.backend.Auth.SignUp(ctx, tt.email, tt.password, auth.SignUpOptions{})
			assert.Nil(t, sess)

			var fe *fault.Error
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, fault.KindProviderRejected, fe.Kind)
			assert.Equal(t, tt.want, fe.Message)
		})
	}
}

func TestAuth_SignInInvalidCredentials(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.backend.Auth.SignUp(ctx, "ana@example.com", "secret1", auth.SignUpOptions{})
	require.NoError(t, err)

	for _, pw := range []string{"wrong-password", ""} {
		_, err := f.backend.Auth.SignInWithPassword(ctx, "ana@example.com", pw)
		require.Error(t, err)
		assert.Equal(t, MsgInvalidCredentials, err.(*fault.Error).Message)
	}

	_, err = f.backend.Auth.SignInWithPassword(ctx, "ghost@example.com", "secret1")
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.KindProviderRejected))
	assert.Equal(t, MsgInvalidCredentials, err.(*fault.Error).Message)
}

func TestAuth_SessionSurvivesRestart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	user, _, err := f.backend.Auth.SignUp(ctx, "kai@example.com", "secret1", auth.SignUpOptions{})
	require.NoError(t, err)

	// A second provider over the same storage sees the session.
	again := NewAuth(stores.NewUserStore(f.db), f.kv, Options{
		Secret: "test-secret-0123456789", SessionTTL: time.Hour, Argon2: fastArgon, Now: f.clock.Now,
	}, zerolog.Nop())

	sess, err := again.GetSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, user.ID, sess.User.ID)
}

func TestAuth_GetSessionRefreshesExpiredToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := &changes{}

	_, first, err := f.backend.Auth.SignUp(ctx, "zoe@example.com", "secret1", auth.SignUpOptions{})
	require.NoError(t, err)
	f.backend.Auth.OnAuthStateChange(rec.handler)

	f.clock.Advance(2 * accessTTL)

	sess, err := f.backend.Auth.GetSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.NotEqual(t, first.AccessToken, sess.AccessToken)
	assert.True(t, sess.ExpiresAt.After(first.ExpiresAt))
	assert.Equal(t, []auth.ChangeEvent{auth.EventTokenRefreshed}, rec.events())
}

func TestAuth_GetSessionDiscardsForeignToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.backend.Auth.SignUp(ctx, "eli@example.com", "secret1", auth.SignUpOptions{})
	require.NoError(t, err)

	rotated := NewAuth(stores.NewUserStore(f.db), f.kv, Options{
		Secret: "another-secret-9876543210", SessionTTL: time.Hour, Argon2: fastArgon,
	}, zerolog.Nop())

	sess, err := rotated.GetSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, sess)

	sess, err = f.backend.Auth.GetSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, sess, "session was dropped")
}

func TestAuth_SignOutIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := &changes{}
	f.backend.Auth.OnAuthStateChange(rec.handler)

	require.NoError(t, f.backend.Auth.SignOut(ctx))
	require.NoError(t, f.backend.Auth.SignOut(ctx))
	assert.Empty(t, rec.events())

	sess, err := f.backend.Auth.GetSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, sess)
}

func TestAuth_UnsubscribeStopsDelivery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := &changes{}
	unsubscribe := f.backend.Auth.OnAuthStateChange(rec.handler)
	unsubscribe()
	unsubscribe()

	_, _, err := f.backend.Auth.SignUp(ctx, "ivy@example.com", "secret1", auth.SignUpOptions{})
	require.NoError(t, err)
	assert.Empty(t, rec.events())
}
