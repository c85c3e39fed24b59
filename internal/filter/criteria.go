package filter

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Criteria is a snapshot of the filter controls. It is rebuilt on every
// recompute and never persisted.
type Criteria struct {
	OnlineOnly    bool     `json:"online_only"`
	FavoritesOnly bool     `json:"favorites_only"`
	MaxDistanceKm float64  `json:"max_distance_km"`
	Zones         []string `json:"zones,omitempty"`
	Languages     []string `json:"languages,omitempty"`
	Vibe          string   `json:"vibe,omitempty"`
	Query         string   `json:"query,omitempty"`
}

// SelectVibe makes id the only active vibe. Selecting the active vibe
// again clears it, like a radio group that can be switched off.
func (c *Criteria) SelectVibe(id string) {
	if c.Vibe == id {
		c.Vibe = ""
		return
	}
	c.Vibe = id
}

// Empty reports whether no predicate is active.
func (c Criteria) Empty() bool {
	return !c.OnlineOnly && !c.FavoritesOnly && c.MaxDistanceKm <= 0 &&
		len(c.Zones) == 0 && len(c.Languages) == 0 && c.Vibe == "" && strings.TrimSpace(c.Query) == ""
}

// ParseQuery builds criteria from UI control parameters:
// online, favorites, distance, zone (repeatable or comma separated),
// lang, vibe and q.
func ParseQuery(v url.Values) (Criteria, error) {
	var c Criteria
	var err error
	if c.OnlineOnly, err = parseFlag(v, "online"); err != nil {
		return Criteria{}, err
	}
	if c.FavoritesOnly, err = parseFlag(v, "favorites"); err != nil {
		return Criteria{}, err
	}
	if s := strings.TrimSpace(v.Get("distance")); s != "" {
		d, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Criteria{}, fmt.Errorf("invalid distance %q: %w", s, err)
		}
		if d < 0 {
			return Criteria{}, fmt.Errorf("distance must be >= 0")
		}
		c.MaxDistanceKm = d
	}
	c.Zones = multi(v, "zone")
	c.Languages = multi(v, "lang")
	if vibes := multi(v, "vibe"); len(vibes) > 0 {
		if len(vibes) > 1 {
			return Criteria{}, fmt.Errorf("only one vibe may be selected, got %d", len(vibes))
		}
		c.Vibe = vibes[0]
	}
	c.Query = strings.TrimSpace(v.Get("q"))
	return c, nil
}

func parseFlag(v url.Values, key string) (bool, error) {
	s := strings.TrimSpace(v.Get(key))
	if s == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return b, nil
}

func multi(v url.Values, key string) []string {
	var out []string
	seen := map[string]bool{}
	for _, raw := range v[key] {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" || seen[part] {
				continue
			}
			seen[part] = true
			out = append(out, part)
		}
	}
	return out
}
