// Package prefs stores the two presentation switches the front-end keeps
// next to favorites: colour theme and rebel mode.
package prefs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/example/activity-radar/internal/observability"
	"github.com/example/activity-radar/internal/storage"
)

const (
	ThemeKey     = "theme"
	RebelModeKey = "rebel_mode"
)

type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
)

var ErrInvalidTheme = errors.New("theme must be light or dark")

type Prefs struct {
	Theme     Theme `json:"theme"`
	RebelMode bool  `json:"rebel_mode"`
}

// Store reads and writes preferences. Writes that fail are logged and the
// value is still served for the rest of the session.
type Store struct {
	kv      storage.KV
	logger  *slog.Logger
	current Prefs
}

func Load(ctx context.Context, kv storage.KV, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{kv: kv, logger: logger, current: Prefs{Theme: ThemeDark}}
	if v, ok := s.read(ctx, ThemeKey); ok {
		if t, err := ParseTheme(v); err == nil {
			s.current.Theme = t
		}
	}
	if v, ok := s.read(ctx, RebelModeKey); ok {
		s.current.RebelMode = v == "1"
	}
	return s
}

func (s *Store) read(ctx context.Context, key string) (string, bool) {
	v, err := s.kv.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn("prefs read failed", "key", key, "error", err)
		}
		return "", false
	}
	return v, true
}

func ParseTheme(v string) (Theme, error) {
	switch Theme(v) {
	case ThemeLight, ThemeDark:
		return Theme(v), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidTheme, v)
	}
}

func (s *Store) Get() Prefs { return s.current }

func (s *Store) SetTheme(ctx context.Context, t Theme) error {
	if _, err := ParseTheme(string(t)); err != nil {
		return err
	}
	s.current.Theme = t
	s.write(ctx, ThemeKey, string(t))
	return nil
}

func (s *Store) SetRebelMode(ctx context.Context, on bool) {
	s.current.RebelMode = on
	v := "0"
	if on {
		v = "1"
	}
	s.write(ctx, RebelModeKey, v)
}

func (s *Store) write(ctx context.Context, key, value string) {
	if err := s.kv.Set(ctx, key, value); err != nil {
		observability.StorageWriteFailures.WithLabelValues(key).Inc()
		s.logger.Warn("prefs write failed, keeping session-only state", "key", key, "error", err)
	}
}
