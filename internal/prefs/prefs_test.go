package prefs

import (
	"context"
	"errors"
	"testing"

	"github.com/example/activity-radar/internal/storage"
)

type brokenKV struct{}

func (brokenKV) Get(context.Context, string) (string, error) { return "", errors.New("disabled") }
func (brokenKV) Set(context.Context, string, string) error { return errors.New("disabled") }

func TestDefaultsAndRoundTrip(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemoryKV()
	s := Load(ctx, kv, nil)
	if got := s.Get(); got.Theme != ThemeDark || got.RebelMode {
		t.Fatalf("unexpected defaults %+v", got)
	}
	if err := s.SetTheme(ctx, ThemeLight); err != nil {
		t.Fatalf("SetTheme: %v", err)
	}
	s.SetRebelMode(ctx, true)

	if v, _ := kv.Get(ctx, ThemeKey); v != "light" {
		t.Fatalf("expected light persisted, got %q", v)
	}
	if v, _ := kv.Get(ctx, RebelModeKey); v != "1" {
		t.Fatalf("expected rebel mode 1, got %q", v)
	}
	reloaded := Load(ctx, kv, nil).Get()
	if reloaded.Theme != ThemeLight || !reloaded.RebelMode {
		t.Fatalf("unexpected reloaded prefs %+v", reloaded)
	}
}

func TestInvalidTheme(t *testing.T) {
	s := Load(context.Background(), storage.NewMemoryKV(), nil)
	err := s.SetTheme(context.Background(), Theme("neon"))
	if !errors.Is(err, ErrInvalidTheme) {
		t.Fatalf("expected ErrInvalidTheme, got %v", err)
	}
}

func TestBrokenStorageIsSessionOnly(t *testing.T) {
	ctx := context.Background()
	s := Load(ctx, brokenKV{}, nil)
	if err := s.SetTheme(ctx, ThemeLight); err != nil {
		t.Fatalf("write failure must not surface, got %v", err)
	}
	s.SetRebelMode(ctx, true)
	if got := s.Get(); got.Theme != ThemeLight || !got.RebelMode {
		t.Fatalf("expected session-only values, got %+v", got)
	}
}
