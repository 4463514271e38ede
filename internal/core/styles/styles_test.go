package styles

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kartik102005/ecolearn/internal/core/notify"
)

func TestThemeNames(t *testing.T) {
	names := ThemeNames()
	assert.IsIncreasing(t, names)
	assert.Contains(t, names, DefaultTheme)

	for _, name := range names {
		p, ok := GetPalette(name)
		require.True(t, ok, name)
		assert.NotEmpty(t, p.Primary, name)
		assert.NotEmpty(t, p.Foreground, name)
	}
}

func TestSetTheme_RebuildsStyles(t *testing.T) {
	t.Cleanup(func() { SetTheme(themes[DefaultTheme]) })

	p, _ := GetPalette("gruvbox")
	SetTheme(p)

	assert.Equal(t, p, CurrentPalette)
	assert.Equal(t, p.Warning, CategoryStyle(notify.CategoryStreak).GetForeground())
	assert.Equal(t, p.Muted, CategoryStyle("unknown").GetForeground())

	g := GlamourStyle()
	require.NotNil(t, g.Heading.Color)
	assert.Equal(t, string(p.Primary), *g.Heading.Color)
}
