package theme

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// SettingKey is where the selected theme is persisted.
const SettingKey = "theme"

var ErrUnknownTheme = errors.New("unknown theme")

type Name string

const (
	Dark  Name = "dark"
	Light Name = "light"

	Default = Dark
)

// Palette defines the colors a renderer draws with. Values are #rrggbb.
type Palette struct {
	// Background is the widget background
	Background string
	// Text is the primary text color
	Text string
	// TextMuted is used for secondary details and stale data
	TextMuted string
	// Accent highlights the current temperature
	Accent string
	// AccentAlt marks daily highs
	AccentAlt string
	// Warning is used for cache fallback and missing data
	Warning string
}

type Theme struct {
	Name    Name
	Palette Palette
}

var themes = map[Name]Theme{
	Dark: {
		Name: Dark,
		Palette: Palette{
			Background: "#0f0f1a",
			Text:       "#eeeeee",
			TextMuted:  "#808080",
			Accent:     "#4fc3f7",
			AccentAlt:  "#ff7043",
			Warning:    "#ffca28",
		},
	},
	Light: {
		Name: Light,
		Palette: Palette{
			Background: "#f5f0e8",
			Text:       "#2a2520",
			TextMuted:  "#706050",
			Accent:     "#1565c0",
			AccentAlt:  "#c04010",
			Warning:    "#b26a00",
		},
	},
}

// Lookup parses a theme name, ignoring case and surrounding space.
func Lookup(name string) (Theme, error) {
	t, ok := themes[Name(strings.ToLower(strings.TrimSpace(name)))]
	if !ok {
		return Theme{}, fmt.Errorf("%w: %q", ErrUnknownTheme, name)
	}
	return t, nil
}

// Names lists the available themes.
func Names() []Name {
	return []Name{Dark, Light}
}

// Applier is anything that restyles itself when the theme changes.
type Applier interface {
	ApplyTheme(Theme)
}

// SettingsStore is satisfied by *store.Store.
type SettingsStore interface {
	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error
}

// Service owns the selected theme and notifies registered appliers when it
// changes.
type Service struct {
	settings SettingsStore
	log      zerolog.Logger

	mu       sync.Mutex
	appliers []Applier
}

func NewService(settings SettingsStore, logger zerolog.Logger) *Service {
	return &Service{
		settings: settings,
		log:      logger.With().Str("component", "theme").Logger(),
	}
}

// Register adds an applier and immediately applies the current theme to it.
func (s *Service) Register(ctx context.Context, a Applier) {
	s.mu.Lock()
	s.appliers = append(s.appliers, a)
	s.mu.Unlock()
	a.ApplyTheme(s.Current(ctx))
}

// Current returns the persisted theme. Missing, unreadable or unknown values
// fall back to the default.
func (s *Service) Current(ctx context.Context) Theme {
	value, ok, err := s.settings.GetSetting(ctx, SettingKey)
	if err != nil {
		s.log.Warn().Err(err).Msg("read theme setting")
		return themes[Default]
	}
	if !ok {
		return themes[Default]
	}
	t, err := Lookup(value)
	if err != nil {
		s.log.Warn().Str("value", value).Msg("ignoring unknown persisted theme")
		return themes[Default]
	}
	return t
}

// Apply validates and persists name, then restyles every applier.
func (s *Service) Apply(ctx context.Context, name string) (Theme, error) {
	t, err := Lookup(name)
	if err != nil {
		return Theme{}, err
	}
	if err := s.settings.SetSetting(ctx, SettingKey, string(t.Name)); err != nil {
		return Theme{}, fmt.Errorf("persist theme: %w", err)
	}

	s.mu.Lock()
	appliers := append([]Applier(nil), s.appliers...)
	s.mu.Unlock()

	for _, a := range appliers {
		a.ApplyTheme(t)
	}
	s.log.Info().Str("theme", string(t.Name)).Int("appliers", len(appliers)).Msg("theme applied")
	return t, nil
}
