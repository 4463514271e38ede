package stores

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserStore(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	users := NewUserStore(openTestDB(t))

	rec := UserRecord{
		ID:           "u-1",
		Email:        "learner@example.com",
		PasswordHash: "hash",
		Metadata:     map[string]any{"username": "leafy"},
		CreatedAt:    clock.now,
		UpdatedAt:    clock.now,
	}
	require.NoError(t, users.Create(ctx, rec))

	t.Run("lookup by email ignores case", func(t *testing.T) {
		got, err := users.ByEmail(ctx, "Learner@Example.com")
		require.NoError(t, err)
		assert.Equal(t, "u-1", got.ID)
		assert.Equal(t, "leafy", got.Metadata["username"])
		assert.True(t, got.CreatedAt.Equal(clock.now))
	})

	t.Run("duplicate email", func(t *testing.T) {
		dup := rec
		dup.ID = "u-2"
		dup.Email = "LEARNER@example.com"
		assert.ErrorIs(t, users.Create(ctx, dup), ErrDuplicateEmail)
	})

	t.Run("missing", func(t *testing.T) {
		_, err := users.ByID(ctx, "nobody")
		assert.True(t, IsNotFoundError(err))
	})
}
