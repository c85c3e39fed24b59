// Package filter turns the catalog plus the current criteria into the
// ordered list the front-end renders.
package filter

import (
	"slices"
	"sort"
	"strings"

	"github.com/example/activity-radar/internal/geo"
	"github.com/example/activity-radar/internal/models"
	"github.com/example/activity-radar/internal/taxonomy"
)

// Favorites is the read side of the favorites store.
type Favorites interface {
	Has(id models.ItemID) bool
}

// Distances is the read side of the distance cache.
type Distances interface {
	HasPosition() bool
	Get(it models.Item) float64
}

// Apply filters and sorts the catalog. It never mutates catalog and
// returns a fresh slice on every call. Predicates are conjunctive; the
// result is sorted by distance with a stable sort so ties keep catalog
// order.
func Apply(catalog []models.Item, c Criteria, favs Favorites, dist Distances) []models.Item {
	res := make([]models.Item, 0, len(catalog))
	query := strings.ToLower(strings.TrimSpace(c.Query))
	useDistance := dist != nil && dist.HasPosition() && c.MaxDistanceKm > 0

	for _, it := range catalog {
		if c.OnlineOnly && !it.Online() {
			continue
		}
		if c.FavoritesOnly && (favs == nil || !favs.Has(it.ID)) {
			continue
		}
		if len(c.Zones) > 0 && !taxonomy.MatchZones(it, c.Zones) {
			continue
		}
		if len(c.Languages) > 0 && !anyLanguage(it.Languages, c.Languages) {
			continue
		}
		if c.Vibe != "" && !taxonomy.MatchVibe(it, c.Vibe) {
			continue
		}
		if query != "" && !strings.Contains(queryText(it), query) {
			continue
		}
		if useDistance {
			if it.Coords == nil || dist.Get(it) > c.MaxDistanceKm {
				continue
			}
		}
		res = append(res, it)
	}

	if dist == nil || !dist.HasPosition() {
		return res
	}
	keys := make([]float64, len(res))
	for i, it := range res {
		if it.Coords == nil {
			keys[i] = geo.Unknown
			continue
		}
		keys[i] = dist.Get(it)
	}
	sort.Stable(byDistance{items: res, keys: keys})
	return res
}

type byDistance struct {
	items []models.Item
	keys  []float64
}

func (b byDistance) Len() int           { return len(b.items) }
func (b byDistance) Less(i, j int) bool { return b.keys[i] < b.keys[j] }
func (b byDistance) Swap(i, j int) {
	b.items[i], b.items[j] = b.items[j], b.items[i]
	b.keys[i], b.keys[j] = b.keys[j], b.keys[i]
}

func anyLanguage(have, want []string) bool {
	for _, w := range want {
		if slices.Contains(have, w) {
			return true
		}
	}
	return false
}

func queryText(it models.Item) string {
	return taxonomy.SearchText(it) + " " + strings.ToLower(it.Address)
}
