// Package session holds one visitor's engine state: position, distance
// cache, criteria, favorites, preferences, achievements and the map bridge.
// Every mutation goes through the session mutex, so a recompute always sees
// a consistent position, cache and favorite set.
package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/example/activity-radar/internal/catalog"
	"github.com/example/activity-radar/internal/debounce"
	"github.com/example/activity-radar/internal/events"
	"github.com/example/activity-radar/internal/favorites"
	"github.com/example/activity-radar/internal/filter"
	"github.com/example/activity-radar/internal/gamification"
	"github.com/example/activity-radar/internal/geo"
	"github.com/example/activity-radar/internal/locate"
	"github.com/example/activity-radar/internal/mapbridge"
	"github.com/example/activity-radar/internal/markers"
	"github.com/example/activity-radar/internal/models"
	"github.com/example/activity-radar/internal/observability"
	"github.com/example/activity-radar/internal/prefs"
	"github.com/example/activity-radar/internal/storage"
	"github.com/example/activity-radar/internal/taxonomy"
)

// StagesFunc builds the location chain for a session's bridge.
type StagesFunc func(b *mapbridge.Bridge) []locate.Stage

type Options struct {
	ListDebounce   time.Duration
	MarkerDebounce time.Duration
	Stages         StagesFunc
	Publisher      events.Publisher
	Logger         *slog.Logger
}

// Result is a located item as served to the UI. Distance is nil when no
// position is known or the item has no coordinates.
type Result struct {
	models.Item
	DistanceKm *float64 `json:"distance_km,omitempty"`
	Favorite   bool     `json:"favorite"`
}

// UnmarshalJSON keeps the embedded item's lenient decoding from swallowing
// the result fields.
func (r *Result) UnmarshalJSON(b []byte) error {
	if err := json.Unmarshal(b, &r.Item); err != nil {
		return err
	}
	var extra struct {
		DistanceKm *float64 `json:"distance_km"`
		Favorite   bool     `json:"favorite"`
	}
	if err := json.Unmarshal(b, &extra); err != nil {
		return err
	}
	r.DistanceKm = extra.DistanceKm
	r.Favorite = extra.Favorite
	return nil
}

type Counters struct {
	Results      int `json:"results"`
	Online       int `json:"online"`
	Offline      int `json:"offline"`
	Mapped       int `json:"mapped"`
	Favorites    int `json:"favorites"`
	PlacesViewed int `json:"places_viewed"`
	Achievements int `json:"achievements"`
}

type Session struct {
	ID string

	catalog   *catalog.Catalog
	bridge    *mapbridge.Bridge
	projector *markers.Projector
	chain     *locate.Chain
	publisher events.Publisher
	logger    *slog.Logger

	listDebounce   *debounce.Debouncer
	markerDebounce *debounce.Debouncer

	// latest is what the marker refresh projects; it never takes mu.
	latest atomic.Pointer[[]models.Item]

	mu       sync.Mutex
	cache    *geo.Cache
	position *models.Position
	criteria filter.Criteria
	results  []models.Item
	favs     *favorites.Store
	prefs    *prefs.Store
	tracker  *gamification.Tracker
	touched  time.Time
}

// New builds a session over kv, which should already be scoped to the
// visitor. Favorites and preferences are read once here.
func New(ctx context.Context, id string, cat *catalog.Catalog, kv storage.KV, opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("session", id)
	pub := opts.Publisher
	if pub == nil {
		pub = events.Nop{}
	}

	s := &Session{
		ID:        id,
		catalog:   cat,
		bridge:    mapbridge.New(logger),
		publisher: pub,
		logger:    logger,
		cache:     geo.NewCache(),
		favs:      favorites.Load(ctx, kv, logger),
		prefs:     prefs.Load(ctx, kv, logger),
		touched:   time.Now(),
	}
	s.tracker = gamification.NewTracker(s.favs)
	s.projector = markers.NewProjector(s.bridge, logger)
	var stages []locate.Stage
	if opts.Stages != nil {
		stages = opts.Stages(s.bridge)
	}
	s.chain = locate.NewChain(logger, stages...)
	s.markerDebounce = debounce.New(opts.MarkerDebounce, s.publishMarkers)
	s.listDebounce = debounce.New(opts.ListDebounce, func() {
		s.mu.Lock()
		s.recomputeLocked()
		s.mu.Unlock()
	})

	s.mu.Lock()
	s.recomputeLocked()
	s.mu.Unlock()
	return s
}

func (s *Session) Bridge() *mapbridge.Bridge { return s.bridge }

func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.touched
}

// recomputeLocked runs the filter pipeline over the whole catalog and
// schedules a trailing marker refresh.
func (s *Session) recomputeLocked() {
	start := time.Now()
	s.results = filter.Apply(s.catalog.Items(), s.criteria, s.favs, s.cache)
	items := s.results
	s.latest.Store(&items)
	observability.RecomputesTotal.Inc()
	observability.RecomputeLatency.Observe(time.Since(start).Seconds())
	observability.ResultSize.Observe(float64(len(s.results)))
	hits, misses := s.cache.Stats()
	s.logger.Debug("recomputed", "results", len(s.results),
		"cached_distances", s.cache.Len(), "cache_hits", hits, "cache_misses", misses)
	s.markerDebounce.Trigger()
}

func (s *Session) publishMarkers() {
	if items := s.latest.Load(); items != nil {
		s.projector.Publish(*items)
	}
}

func (s *Session) touchLocked() { s.touched = time.Now() }

// Items filters with c right away and makes c the current criteria.
func (s *Session) Items(c filter.Criteria) []Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchLocked()
	s.listDebounce.Cancel()
	s.criteria = c
	s.recomputeLocked()
	return s.resultsLocked()
}

// Results returns the last computed list without recomputing.
func (s *Session) Results() []Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resultsLocked()
}

func (s *Session) resultsLocked() []Result {
	out := make([]Result, 0, len(s.results))
	hasPos := s.cache.HasPosition()
	for _, it := range s.results {
		r := Result{Item: it, Favorite: s.favs.Has(it.ID)}
		if hasPos && it.Coords != nil {
			d := s.cache.Get(it)
			r.DistanceKm = &d
		}
		out = append(out, r)
	}
	return out
}

// SetCriteria stores c and schedules a debounced recompute. Bursts of
// calls produce a single recompute after the last one.
func (s *Session) SetCriteria(c filter.Criteria) {
	s.mu.Lock()
	s.touchLocked()
	s.criteria = c
	s.mu.Unlock()
	s.listDebounce.Trigger()
}

// Flush runs any pending debounced recompute and marker refresh now.
func (s *Session) Flush() {
	s.listDebounce.Flush()
	s.markerDebounce.Flush()
}

// Pending reports that a criteria change is waiting on the list debounce,
// so Results still shows the previous list.
func (s *Session) Pending() bool { return s.listDebounce.Pending() }

func (s *Session) Criteria() filter.Criteria {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.criteria
}

// SetPosition replaces the position, drops every cached distance and
// recomputes before returning.
func (s *Session) SetPosition(p models.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchLocked()
	s.setPositionLocked(p)
}

func (s *Session) setPositionLocked(p models.Position) {
	s.position = &p
	c := p.Coord
	s.cache.SetPosition(&c)
	s.listDebounce.Cancel()
	s.recomputeLocked()
}

// ClearPosition forgets the position; distance filtering and sorting stop.
func (s *Session) ClearPosition() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchLocked()
	s.position = nil
	s.cache.SetPosition(nil)
	s.recomputeLocked()
}

func (s *Session) Position() (models.Position, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.position == nil {
		return models.Position{}, false
	}
	return *s.position, true
}

// Locate runs the location chain outside the session lock, then applies
// the fix and recentres the map at the zoom the source deserves.
func (s *Session) Locate(ctx context.Context) (locate.Fix, error) {
	fix, err := s.chain.Resolve(ctx)
	if err != nil {
		return locate.Fix{}, err
	}
	s.mu.Lock()
	s.touchLocked()
	s.setPositionLocked(fix.Position)
	s.mu.Unlock()
	if err := s.bridge.Center(fix.Position.Coord, fix.Zoom); err != nil {
		s.logger.Warn("map recentre failed", "error", err)
	}
	return fix, nil
}

func (s *Session) LocateState() (locate.State, *locate.Error) {
	return s.chain.State(), s.chain.LastError()
}

// ToggleFavorite flips id in the favorite set. The list is recomputed
// only when the favorites-only filter is active.
func (s *Session) ToggleFavorite(ctx context.Context, id models.ItemID) (bool, []gamification.Achievement, error) {
	if _, err := s.catalog.ByID(id); err != nil {
		return false, nil, err
	}
	s.mu.Lock()
	s.touchLocked()
	liked := s.favs.Toggle(ctx, id)
	fresh := s.tracker.CheckFavorites()
	if s.criteria.FavoritesOnly {
		s.recomputeLocked()
	}
	s.mu.Unlock()

	e := events.New(events.FavoriteToggled, s.ID)
	e.ItemID = id
	e.Liked = &liked
	s.emit(ctx, e)
	s.emitUnlocks(ctx, fresh)
	return liked, fresh, nil
}

func (s *Session) Favorites() []models.ItemID {
	return s.favs.IDs()
}

// RecordView counts a detail view of id and returns achievements it unlocked.
func (s *Session) RecordView(ctx context.Context, id models.ItemID) ([]gamification.Achievement, error) {
	it, err := s.catalog.ByID(id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.touchLocked()
	fresh := s.tracker.RecordView(it)
	s.mu.Unlock()

	e := events.New(events.ItemViewed, s.ID)
	e.ItemID = id
	e.Zones = taxonomy.ZonesOf(it.Categories)
	s.emit(ctx, e)
	s.emitUnlocks(ctx, fresh)
	return fresh, nil
}

func (s *Session) Achievements() gamification.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracker.State()
}

func (s *Session) Counters() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := Counters{Results: len(s.results), Favorites: s.favs.Count()}
	for _, it := range s.results {
		if it.Online() {
			c.Online++
		} else {
			c.Offline++
		}
		if it.Coords != nil {
			c.Mapped++
		}
	}
	st := s.tracker.State()
	c.PlacesViewed = st.PlacesViewed
	c.Achievements = len(st.Unlocked)
	return c
}

func (s *Session) Prefs() prefs.Prefs {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prefs.Get()
}

// UpdatePrefs applies the non-nil fields.
func (s *Session) UpdatePrefs(ctx context.Context, theme *prefs.Theme, rebel *bool) (prefs.Prefs, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchLocked()
	if theme != nil {
		if err := s.prefs.SetTheme(ctx, *theme); err != nil {
			return s.prefs.Get(), err
		}
	}
	if rebel != nil {
		s.prefs.SetRebelMode(ctx, *rebel)
	}
	return s.prefs.Get(), nil
}

// Close cancels pending timers. The bridge's widget connection is owned
// by its websocket handler.
func (s *Session) Close() {
	s.listDebounce.Cancel()
	s.markerDebounce.Cancel()
}

func (s *Session) emit(ctx context.Context, e events.Event) {
	if err := s.publisher.Publish(context.WithoutCancel(ctx), e); err != nil {
		s.logger.Warn("event publish failed", "type", e.Type, "error", err)
	}
}

func (s *Session) emitUnlocks(ctx context.Context, fresh []gamification.Achievement) {
	for _, a := range fresh {
		e := events.New(events.AchievementUnlocked, s.ID)
		e.Achievement = a.ID
		s.emit(ctx, e)
	}
}
