// Package gamification derives achievements from item views and the
// favorite count.
package gamification

import (
	"sort"

	"github.com/example/activity-radar/internal/models"
	"github.com/example/activity-radar/internal/observability"
	"github.com/example/activity-radar/internal/taxonomy"
)

type Achievement struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Emoji       string `json:"emoji"`
}

const (
	FirstView = "first_view"
	Explorer  = "explorer"
	Sporty    = "sporty"
	Creative  = "creative"
	Geek      = "geek"
	Polyglot  = "polyglot"
	FirstLike = "first_like"
	Collector = "collector"
)

const (
	explorerViews  = 10
	collectorLikes = 5
	firstLikeLikes = 1
	firstViewViews = 1
)

var achievements = []Achievement{
	{ID: FirstView, Title: "Первый шаг", Description: "Открыл первое место", Emoji: "👀"},
	{ID: Explorer, Title: "Исследователь", Description: "Посмотрел 10 мест", Emoji: "🧭"},
	{ID: Sporty, Title: "Спортсмен", Description: "Заглянул в спортивную секцию", Emoji: "🏅"},
	{ID: Creative, Title: "Творец", Description: "Посмотрел творческое или музыкальное место", Emoji: "🎨"},
	{ID: Geek, Title: "Гик", Description: "Интересуешься IT или наукой", Emoji: "🤖"},
	{ID: Polyglot, Title: "Полиглот", Description: "Нашёл языковой клуб", Emoji: "🗣️"},
	{ID: FirstLike, Title: "Первая любовь", Description: "Добавил первое место в избранное", Emoji: "💖"},
	{ID: Collector, Title: "Коллекционер", Description: "5 мест в избранном", Emoji: "📌"},
}

var byID = func() map[string]Achievement {
	m := make(map[string]Achievement, len(achievements))
	for _, a := range achievements {
		m[a.ID] = a
	}
	return m
}()

// All lists every achievement in display order.
func All() []Achievement {
	out := make([]Achievement, len(achievements))
	copy(out, achievements)
	return out
}

func Lookup(id string) (Achievement, bool) {
	a, ok := byID[id]
	return a, ok
}

// FavoriteCounter is read live on every evaluation; the tracker keeps no
// copy of the favorite count.
type FavoriteCounter interface {
	Count() int
}

// Tracker holds session-scoped progress. Not safe for concurrent use; the
// owning session serialises access.
type Tracker struct {
	favs     FavoriteCounter
	views    int
	explored map[string]struct{}
	zones    map[string]struct{}
	unlocked map[string]struct{}
	order    []string
}

func NewTracker(favs FavoriteCounter) *Tracker {
	return &Tracker{
		favs:     favs,
		explored: make(map[string]struct{}),
		zones:    make(map[string]struct{}),
		unlocked: make(map[string]struct{}),
	}
}

// RecordView counts a view of it and returns achievements unlocked by it.
func (t *Tracker) RecordView(it models.Item) []Achievement {
	t.views++
	for _, c := range it.Categories {
		t.explored[c] = struct{}{}
	}
	for _, z := range taxonomy.ZonesOf(it.Categories) {
		t.zones[z] = struct{}{}
	}
	return t.evaluate()
}

// CheckFavorites re-evaluates after the favorite set changed.
func (t *Tracker) CheckFavorites() []Achievement {
	return t.evaluate()
}

func (t *Tracker) evaluate() []Achievement {
	likes := 0
	if t.favs != nil {
		likes = t.favs.Count()
	}
	checks := []struct {
		id string
		ok bool
	}{
		{FirstView, t.views >= firstViewViews},
		{Explorer, t.views >= explorerViews},
		{Sporty, t.zoneExplored("sport")},
		{Creative, t.zoneExplored("art") || t.zoneExplored("music")},
		{Geek, t.zoneExplored("it") || t.zoneExplored("science")},
		{Polyglot, t.zoneExplored("languages")},
		{FirstLike, likes >= firstLikeLikes},
		{Collector, likes >= collectorLikes},
	}
	var fresh []Achievement
	for _, c := range checks {
		if !c.ok {
			continue
		}
		if t.Unlocked(c.id) {
			continue
		}
		t.unlocked[c.id] = struct{}{}
		t.order = append(t.order, c.id)
		observability.AchievementsUnlocked.WithLabelValues(c.id).Inc()
		fresh = append(fresh, byID[c.id])
	}
	return fresh
}

func (t *Tracker) zoneExplored(zone string) bool {
	_, ok := t.zones[zone]
	return ok
}

// State is a read-only snapshot for the UI.
type State struct {
	PlacesViewed       int           `json:"places_viewed"`
	CategoriesExplored []string      `json:"categories_explored"`
	Unlocked           []Achievement `json:"unlocked"`
}

func (t *Tracker) State() State {
	cats := make([]string, 0, len(t.explored))
	for c := range t.explored {
		cats = append(cats, c)
	}
	sort.Strings(cats)
	unlocked := make([]Achievement, 0, len(t.order))
	for _, id := range t.order {
		unlocked = append(unlocked, byID[id])
	}
	return State{PlacesViewed: t.views, CategoriesExplored: cats, Unlocked: unlocked}
}

func (t *Tracker) Unlocked(id string) bool {
	_, ok := t.unlocked[id]
	return ok
}
