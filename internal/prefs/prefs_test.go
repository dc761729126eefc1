package prefs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nuwan94/leaf/internal/storage"
)

func TestDefaults(t *testing.T) {
	s := NewStore(storage.NewMemoryStore())

	p, err := s.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, Preferences{
		Language:    "en",
		DarkMode:    false,
		FontScale:   1.0,
		A11yFilters: []string{},
	}, p)
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemoryStore()
	s := NewStore(kv)

	require.NoError(t, s.SetLanguage(ctx, " SI "))
	require.NoError(t, s.SetDarkMode(ctx, true))
	scale, err := s.SetFontScale(ctx, 1.25)
	require.NoError(t, err)
	require.Equal(t, 1.25, scale)
	_, err = s.SetA11yFilter(ctx, "high-contrast", true)
	require.NoError(t, err)
	filters, err := s.SetA11yFilter(ctx, "Deuteranopia", true)
	require.NoError(t, err)
	require.Equal(t, []string{"deuteranopia", "high-contrast"}, filters)

	p, err := NewStore(kv).Load(ctx)
	require.NoError(t, err)
	require.Equal(t, Preferences{
		Language:    "si",
		DarkMode:    true,
		FontScale:   1.25,
		A11yFilters: []string{"deuteranopia", "high-contrast"},
	}, p)

	filters, err = s.SetA11yFilter(ctx, "high-contrast", false)
	require.NoError(t, err)
	require.Equal(t, []string{"deuteranopia"}, filters)

	// Each preference has its own key.
	require.ElementsMatch(t, []string{KeyLanguage, KeyDarkMode, KeyFontScale, KeyA11yFilters}, kv.Keys())
}

func TestFontScaleClamped(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemoryStore()
	s := NewStore(kv)

	got, err := s.SetFontScale(ctx, 5)
	require.NoError(t, err)
	require.Equal(t, MaxFontScale, got)

	got, err = s.SetFontScale(ctx, 0.1)
	require.NoError(t, err)
	require.Equal(t, MinFontScale, got)

	require.NoError(t, kv.Set(ctx, KeyFontScale, "huge"))
	got, err = s.FontScale(ctx)
	require.NoError(t, err)
	require.Equal(t, DefaultFontScale, got)
}

func TestRejectsEmptyValues(t *testing.T) {
	s := NewStore(storage.NewMemoryStore())
	require.Error(t, s.SetLanguage(context.Background(), "  "))
	_, err := s.SetA11yFilter(context.Background(), "", true)
	require.Error(t, err)
}
