// Package prefs stores standalone display preferences. Each preference lives
// under its own storage key and survives logout.
package prefs

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/nuwan94/leaf/internal/storage"
)

// Storage keys.
const (
	KeyLanguage    = "language"
	KeyDarkMode    = "dark_mode"
	KeyFontScale   = "font_scale"
	KeyA11yFilters = "a11y_filters"
)

// Defaults and bounds.
const (
	DefaultLanguage  = "en"
	DefaultFontScale = 1.0
	MinFontScale     = 0.75
	MaxFontScale     = 2.0
)

// Preferences is a snapshot of every preference.
type Preferences struct {
	Language    string   `json:"language" yaml:"language"`
	DarkMode    bool     `json:"dark_mode" yaml:"dark_mode"`
	FontScale   float64  `json:"font_scale" yaml:"font_scale"`
	A11yFilters []string `json:"a11y_filters" yaml:"a11y_filters"`
}

// Store reads and writes preferences.
type Store struct {
	kv storage.Store
	mu sync.Mutex
}

// NewStore returns a Store persisting to kv.
func NewStore(kv storage.Store) *Store {
	return &Store{kv: kv}
}

// Load returns all preferences, substituting defaults for missing or
// unreadable values.
func (s *Store) Load(ctx context.Context) (Preferences, error) {
	lang, err := s.Language(ctx)
	if err != nil {
		return Preferences{}, err
	}
	dark, err := s.DarkMode(ctx)
	if err != nil {
		return Preferences{}, err
	}
	scale, err := s.FontScale(ctx)
	if err != nil {
		return Preferences{}, err
	}
	filters, err := s.A11yFilters(ctx)
	if err != nil {
		return Preferences{}, err
	}
	return Preferences{Language: lang, DarkMode: dark, FontScale: scale, A11yFilters: filters}, nil
}

// Language returns the UI language code.
func (s *Store) Language(ctx context.Context) (string, error) {
	v, ok, err := s.kv.Get(ctx, KeyLanguage)
	if err != nil {
		return "", err
	}
	if !ok || strings.TrimSpace(v) == "" {
		return DefaultLanguage, nil
	}
	return v, nil
}

// SetLanguage stores the UI language code.
func (s *Store) SetLanguage(ctx context.Context, lang string) error {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if lang == "" {
		return fmt.Errorf("language must not be empty")
	}
	return s.kv.Set(ctx, KeyLanguage, lang)
}

// DarkMode reports whether the dark theme is on.
func (s *Store) DarkMode(ctx context.Context) (bool, error) {
	v, ok, err := s.kv.Get(ctx, KeyDarkMode)
	if err != nil || !ok {
		return false, err
	}
	on, perr := strconv.ParseBool(v)
	return perr == nil && on, nil
}

// SetDarkMode turns the dark theme on or off.
func (s *Store) SetDarkMode(ctx context.Context, on bool) error {
	return s.kv.Set(ctx, KeyDarkMode, strconv.FormatBool(on))
}

// FontScale returns the text scale factor.
func (s *Store) FontScale(ctx context.Context) (float64, error) {
	v, ok, err := s.kv.Get(ctx, KeyFontScale)
	if err != nil {
		return 0, err
	}
	if !ok {
		return DefaultFontScale, nil
	}
	f, perr := strconv.ParseFloat(v, 64)
	if perr != nil {
		return DefaultFontScale, nil
	}
	return clampScale(f), nil
}

// SetFontScale stores the text scale factor clamped to
// [MinFontScale, MaxFontScale] and returns the stored value.
func (s *Store) SetFontScale(ctx context.Context, scale float64) (float64, error) {
	scale = clampScale(scale)
	if err := s.kv.Set(ctx, KeyFontScale, strconv.FormatFloat(scale, 'f', -1, 64)); err != nil {
		return 0, err
	}
	return scale, nil
}

func clampScale(f float64) float64 {
	switch {
	case f < MinFontScale:
		return MinFontScale
	case f > MaxFontScale:
		return MaxFontScale
	}
	return f
}

// A11yFilters returns the enabled accessibility filters, sorted.
func (s *Store) A11yFilters(ctx context.Context) ([]string, error) {
	var out []string
	if _, err := storage.GetJSON(ctx, s.kv, KeyA11yFilters, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []string{}
	}
	return out, nil
}

// SetA11yFilter enables or disables one accessibility filter.
func (s *Store) SetA11yFilter(ctx context.Context, name string, on bool) ([]string, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return nil, fmt.Errorf("filter name must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.A11yFilters(ctx)
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(cur)+1)
	for _, f := range cur {
		set[f] = struct{}{}
	}
	if on {
		set[name] = struct{}{}
	} else {
		delete(set, name)
	}
	next := make([]string, 0, len(set))
	for f := range set {
		next = append(next, f)
	}
	sort.Strings(next)

	if err := storage.SetJSON(ctx, s.kv, KeyA11yFilters, next); err != nil {
		return nil, err
	}
	return next, nil
}
