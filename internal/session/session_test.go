package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/example/activity-radar/internal/catalog"
	"github.com/example/activity-radar/internal/events"
	"github.com/example/activity-radar/internal/filter"
	"github.com/example/activity-radar/internal/gamification"
	"github.com/example/activity-radar/internal/locate"
	"github.com/example/activity-radar/internal/mapbridge"
	"github.com/example/activity-radar/internal/models"
	"github.com/example/activity-radar/internal/prefs"
	"github.com/example/activity-radar/internal/storage"
)

func coord(lat, lng float64) *models.Coord { return &models.Coord{Lat: lat, Lng: lng} }

func testCatalog() *catalog.Catalog {
	return catalog.New([]models.Item{
		{ID: "far", Title: "Far", Type: models.TypeOffline, Coords: coord(41.0, 44.0), Categories: []string{"спорт"}},
		{ID: "near", Title: "Near", Type: models.TypeOffline, Coords: coord(41.70, 44.80), Categories: []string{"рисование"}},
		{ID: "web", Title: "Web", Type: models.TypeOnline, Categories: []string{"программирование"}},
		{ID: "mid", Title: "Mid", Type: models.TypeOffline, Coords: coord(41.6, 44.7), Languages: []string{"en"}},
	})
}

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(_ context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) Close() error { return nil }

func (r *recorder) types() []events.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Type
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type stubStrategy struct {
	pos models.Coord
	err error
}

func (s *stubStrategy) Name() string                  { return "stub" }
func (s *stubStrategy) Source() models.PositionSource { return models.SourceIP }
func (s *stubStrategy) Zoom() int                     { return locate.IPZoom }
func (s *stubStrategy) Resolve(context.Context) (models.Coord, error) {
	return s.pos, s.err
}

func newSession(t *testing.T, opts Options) (*Session, storage.KV) {
	t.Helper()
	kv := storage.NewMemoryKV()
	s := New(context.Background(), "s1", testCatalog(), kv, opts)
	t.Cleanup(s.Close)
	return s, kv
}

func ids(rs []Result) []models.ItemID {
	out := make([]models.ItemID, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.ID)
	}
	return out
}

func equalIDs(a []models.ItemID, b ...models.ItemID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestItems_CatalogOrderWithoutPosition(t *testing.T) {
	s, _ := newSession(t, Options{})
	got := s.Items(filter.Criteria{})
	if !equalIDs(ids(got), "far", "near", "web", "mid") {
		t.Fatalf("unexpected order %v", ids(got))
	}
	for _, r := range got {
		if r.DistanceKm != nil {
			t.Fatalf("no distance expected without position, got %v for %s", *r.DistanceKm, r.ID)
		}
	}
}

func TestSetPosition_SortsAndReplacesDistances(t *testing.T) {
	s, _ := newSession(t, Options{})
	s.SetPosition(models.Position{Coord: models.Coord{Lat: 41.71, Lng: 44.81}, Source: models.SourceManual})
	got := s.Results()
	if !equalIDs(ids(got), "near", "mid", "far", "web") {
		t.Fatalf("unexpected order %v", ids(got))
	}
	if got[3].DistanceKm != nil {
		t.Fatalf("item without coords must not carry a distance")
	}
	first := *got[0].DistanceKm

	s.SetPosition(models.Position{Coord: models.Coord{Lat: 41.0, Lng: 44.0}, Source: models.SourceManual})
	got = s.Results()
	if got[0].ID != "far" {
		t.Fatalf("expected far first after moving, got %v", ids(got))
	}
	for _, r := range got {
		if r.ID == "near" && *r.DistanceKm == first {
			t.Fatalf("stale distance served after position change")
		}
	}
}

func TestSetPosition_DistanceFilter(t *testing.T) {
	s, _ := newSession(t, Options{})
	s.SetPosition(models.Position{Coord: models.Coord{Lat: 41.71, Lng: 44.81}})
	got := s.Items(filter.Criteria{MaxDistanceKm: 20})
	if !equalIDs(ids(got), "near", "mid") {
		t.Fatalf("unexpected result %v", ids(got))
	}
	s.ClearPosition()
	got = s.Results()
	if len(got) != 4 {
		t.Fatalf("distance filter must not apply without a position, got %v", ids(got))
	}
}

func TestSetCriteria_Debounced(t *testing.T) {
	s, _ := newSession(t, Options{ListDebounce: time.Hour})
	s.SetCriteria(filter.Criteria{OnlineOnly: true})
	s.SetCriteria(filter.Criteria{Languages: []string{"en"}})
	if got := s.Results(); len(got) != 4 {
		t.Fatalf("recompute must wait for the debounce, got %v", ids(got))
	}
	if !s.Pending() {
		t.Fatal("expected a pending recompute")
	}
	s.Flush()
	if s.Pending() {
		t.Fatal("flush must clear the pending recompute")
	}
	if got := s.Results(); !equalIDs(ids(got), "mid") {
		t.Fatalf("expected last criteria to win, got %v", ids(got))
	}
}

func TestSetCriteria_TrailingEdgeFires(t *testing.T) {
	s, _ := newSession(t, Options{ListDebounce: 10 * time.Millisecond})
	s.SetCriteria(filter.Criteria{OnlineOnly: true})
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := s.Results(); equalIDs(ids(got), "web") {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("debounced recompute never ran, results %v", ids(s.Results()))
}

func TestToggleFavorite(t *testing.T) {
	rec := &recorder{}
	s, kv := newSession(t, Options{Publisher: rec})
	s.Items(filter.Criteria{FavoritesOnly: true})
	if got := s.Results(); len(got) != 0 {
		t.Fatalf("expected no favorites yet, got %v", ids(got))
	}

	liked, fresh, err := s.ToggleFavorite(context.Background(), "near")
	if err != nil || !liked {
		t.Fatalf("ToggleFavorite = %v, %v", liked, err)
	}
	if len(fresh) != 1 || fresh[0].ID != gamification.FirstLike {
		t.Fatalf("expected first_like unlock, got %+v", fresh)
	}
	if got := s.Results(); !equalIDs(ids(got), "near") || !got[0].Favorite {
		t.Fatalf("favorites-only list not refreshed, got %+v", got)
	}
	if v, err := kv.Get(context.Background(), "liked_ids"); err != nil || v != `["near"]` {
		t.Fatalf("expected persisted favorites, got %q err=%v", v, err)
	}

	liked, fresh, _ = s.ToggleFavorite(context.Background(), "near")
	if liked || len(fresh) != 0 {
		t.Fatalf("unlike must not re-unlock, liked=%v fresh=%v", liked, fresh)
	}
	want := []events.Type{events.FavoriteToggled, events.AchievementUnlocked, events.FavoriteToggled}
	got := rec.types()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}
}

func TestToggleFavorite_UnknownItem(t *testing.T) {
	s, _ := newSession(t, Options{})
	if _, _, err := s.ToggleFavorite(context.Background(), "nope"); !errors.Is(err, catalog.ErrUnknownItem) {
		t.Fatalf("expected ErrUnknownItem, got %v", err)
	}
}

func TestRecordView_AchievementsAndCounters(t *testing.T) {
	s, _ := newSession(t, Options{})
	fresh, err := s.RecordView(context.Background(), "far")
	if err != nil {
		t.Fatalf("RecordView: %v", err)
	}
	unlocked := map[string]bool{}
	for _, a := range fresh {
		unlocked[a.ID] = true
	}
	if !unlocked[gamification.FirstView] || !unlocked[gamification.Sporty] {
		t.Fatalf("expected first_view and sporty, got %+v", fresh)
	}
	again, _ := s.RecordView(context.Background(), "far")
	if len(again) != 0 {
		t.Fatalf("achievements must fire once, got %+v", again)
	}

	c := s.Counters()
	want := Counters{Results: 4, Online: 1, Offline: 3, Mapped: 3, Favorites: 0, PlacesViewed: 2, Achievements: 2}
	if c != want {
		t.Fatalf("Counters = %+v, want %+v", c, want)
	}
	if st := s.Achievements(); st.PlacesViewed != 2 || len(st.CategoriesExplored) != 1 {
		t.Fatalf("unexpected state %+v", st)
	}
}

func TestLocate_AppliesFix(t *testing.T) {
	s, _ := newSession(t, Options{Stages: func(*mapbridge.Bridge) []locate.Stage {
		return []locate.Stage{{Strategy: &stubStrategy{pos: models.Coord{Lat: 41.0, Lng: 44.0}}}}
	}})
	fix, err := s.Locate(context.Background())
	if err != nil {
		t.Fatalf("Locate: %v", err)
	}
	if fix.Zoom != locate.IPZoom {
		t.Fatalf("expected ip zoom, got %d", fix.Zoom)
	}
	p, ok := s.Position()
	if !ok || p.Source != models.SourceIP || p.Lat != 41.0 {
		t.Fatalf("position not applied: %+v ok=%v", p, ok)
	}
	if got := s.Results(); got[0].ID != "far" {
		t.Fatalf("expected recompute around the fix, got %v", ids(got))
	}
	if st, _ := s.LocateState(); st != locate.StateResolved {
		t.Fatalf("expected resolved state, got %s", st)
	}
}

func TestLocate_FailureKeepsPosition(t *testing.T) {
	s, _ := newSession(t, Options{Stages: func(*mapbridge.Bridge) []locate.Stage {
		return []locate.Stage{{Strategy: &stubStrategy{err: &mapbridge.GeoError{Code: mapbridge.CodePermissionDenied}}}}
	}})
	s.SetPosition(models.Position{Coord: models.Coord{Lat: 41.7, Lng: 44.8}, Source: models.SourceManual})
	_, err := s.Locate(context.Background())
	var lerr *locate.Error
	if !errors.As(err, &lerr) || lerr.Reason != locate.PermissionDenied {
		t.Fatalf("expected permission denied, got %v", err)
	}
	if p, ok := s.Position(); !ok || p.Source != models.SourceManual {
		t.Fatalf("failed locate must keep the manual position, got %+v", p)
	}
}

func TestUpdatePrefs(t *testing.T) {
	s, kv := newSession(t, Options{})
	if s.Prefs().Theme != "dark" {
		t.Fatalf("expected dark default")
	}
	theme, on := prefs.ThemeLight, true
	p, err := s.UpdatePrefs(context.Background(), &theme, &on)
	if err != nil || p.Theme != theme || !p.RebelMode {
		t.Fatalf("UpdatePrefs = %+v, %v", p, err)
	}
	if v, _ := kv.Get(context.Background(), "theme"); v != "light" {
		t.Fatalf("theme not persisted, got %q", v)
	}
	bad := prefs.Theme("neon")
	if _, err := s.UpdatePrefs(context.Background(), &bad, nil); err == nil {
		t.Fatal("expected invalid theme error")
	}
}

func TestResult_JSONRoundTrip(t *testing.T) {
	d := 1.5
	tests := []struct {
		name string
		in   Result
	}{
		{"with distance", Result{Item: models.Item{ID: "near", Title: "Near", Type: models.TypeOffline, Coords: coord(41.7, 44.8)}, DistanceKm: &d, Favorite: true}},
		{"online", Result{Item: models.Item{ID: "web", Title: "Web", Type: models.TypeOnline}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := json.Marshal(tt.in)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			var got Result
			if err := json.Unmarshal(b, &got); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if got.ID != tt.in.ID || got.Title != tt.in.Title || got.Favorite != tt.in.Favorite {
				t.Fatalf("got %+v from %s", got, b)
			}
			if (got.DistanceKm == nil) != (tt.in.DistanceKm == nil) {
				t.Fatalf("distance mismatch: got %v from %s", got.DistanceKm, b)
			}
			if got.DistanceKm != nil && *got.DistanceKm != *tt.in.DistanceKm {
				t.Fatalf("distance: got %v want %v", *got.DistanceKm, *tt.in.DistanceKm)
			}
		})
	}
}
