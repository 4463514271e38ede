package fault

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type timeoutNetErr struct{ timeout bool }

func (e timeoutNetErr) Error() string   { return "net fail" }
func (e timeoutNetErr) Timeout() bool   { return e.timeout }
func (e timeoutNetErr) Temporary() bool { return false }

var _ net.Error = timeoutNetErr{}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"deadline", context.DeadlineExceeded, KindTimeout},
		{"wrapped deadline", errors.Join(errors.New("x"), context.DeadlineExceeded), KindTimeout},
		{"net timeout", timeoutNetErr{timeout: true}, KindTimeout},
		{"net error", timeoutNetErr{}, KindNetwork},
		{"already classified", Rejected("auth", 400, "Invalid login credentials"), KindProviderRejected},
		{"plain", errors.New("boom"), KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify("op", tt.err)
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.Kind)
		})
	}

	assert.Nil(t, Classify("op", nil))
}

func TestRejected_KeepsProviderMessage(t *testing.T) {
	err := Rejected("auth.sign_in", 400, "Invalid login credentials")
	assert.Equal(t, "Invalid login credentials", err.Message)
	assert.True(t, Is(err, KindProviderRejected))
	assert.False(t, IsTransient(err))
}

func TestRace_ReturnsResult(t *testing.T) {
	got, err := Race(context.Background(), time.Second, "op", func(context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, got)
}

func TestRace_TimesOutWhenFnIgnoresContext(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	start := time.Now()
	_, err := Race(context.Background(), 20*time.Millisecond, "slow", func(context.Context) (string, error) {
		<-block
		return "late", nil
	})

	require.Error(t, err)
	assert.True(t, Is(err, KindTimeout))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRace_ParentCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Race(ctx, time.Second, "op", func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	assert.ErrorIs(t, err, context.Canceled)
}
