package randid

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var idPattern = regexp.MustCompile(`^[a-z0-9]*$`)

func TestGenerate(t *testing.T) {
	tests := []struct {
		name string
		n    int
		want int
	}{
		{name: "negative", n: -3, want: 0},
		{name: "zero", n: 0, want: 0},
		{name: "single", n: 1, want: 1},
		{name: "invite id", n: 8, want: 8},
		{name: "long", n: 32, want: 32},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Generate(tt.n)
			assert.Len(t, got, tt.want)
			assert.Regexp(t, idPattern, got)
		})
	}
}

// Invite ids become part of the team-invite notification id, so a batch of
// them must not collide.
func TestGenerate_InviteNotificationIDs(t *testing.T) {
	notification := regexp.MustCompile(`^team-invite-[a-z0-9]{8}$`)

	seen := make(map[string]bool, 200)
	for range 200 {
		id := "team-invite-" + Generate(8)
		require.Regexp(t, notification, id)
		seen[id] = true
	}
	assert.Len(t, seen, 200)
}

func TestGenerate_UsesWholeAlphabet(t *testing.T) {
	seen := make(map[rune]bool, len(alphabet))
	for range 500 {
		for _, c := range Generate(16) {
			seen[c] = true
		}
	}
	// 8000 draws over 36 symbols: every symbol shows up.
	assert.Len(t, seen, len(alphabet))
}
