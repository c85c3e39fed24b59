package geo

import (
	"math"
	"sync"

	"github.com/example/activity-radar/internal/models"
	"github.com/example/activity-radar/internal/observability"
)

const earthRadiusKm = 6371.0

var (
	cacheHits   = observability.DistanceCacheLookups.WithLabelValues("hit")
	cacheMisses = observability.DistanceCacheLookups.WithLabelValues("miss")
)

// Unknown is the distance reported for items that cannot be placed
// relative to the user. It sorts after every real distance.
const Unknown = 1e9

// DistanceKm is the haversine distance between a and b in kilometres.
// It reports false when either point is absent.
func DistanceKm(a, b *models.Coord) (float64, bool) {
	if a == nil || b == nil {
		return 0, false
	}
	return Haversine(a.Lat, a.Lng, b.Lat, b.Lng), true
}

// Haversine distance in kilometres
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c
}

// DistanceFunc computes the distance between two present points.
type DistanceFunc func(a, b models.Coord) float64

func haversineCoords(a, b models.Coord) float64 { return Haversine(a.Lat, a.Lng, b.Lat, b.Lng) }

// Cache memoizes per-item distances from the current user position.
// Entries are never evicted one by one; a position change clears them all.
type Cache struct {
	mu     sync.Mutex
	pos    *models.Coord
	store  map[models.ItemID]float64
	dist   DistanceFunc
	hits   uint64
	misses uint64
}

func NewCache() *Cache {
	return NewCacheWithFunc(haversineCoords)
}

// NewCacheWithFunc lets tests count calls to the underlying distance function.
func NewCacheWithFunc(fn DistanceFunc) *Cache {
	return &Cache{store: make(map[models.ItemID]float64), dist: fn}
}

// SetPosition replaces the user position and drops every cached distance.
// A nil position returns the cache to the "no position" state.
func (c *Cache) SetPosition(p *models.Coord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p == nil {
		c.pos = nil
	} else {
		cp := *p
		c.pos = &cp
	}
	clear(c.store)
}

func (c *Cache) HasPosition() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pos != nil
}

func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.store)
}

// Get returns the distance from the user to the item, or Unknown.
func (c *Cache) Get(it models.Item) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pos == nil || it.Coords == nil {
		return Unknown
	}
	if d, ok := c.store[it.ID]; ok {
		c.hits++
		cacheHits.Inc()
		return d
	}
	c.misses++
	cacheMisses.Inc()
	d := c.dist(*c.pos, *it.Coords)
	c.store[it.ID] = d
	return d
}

// Len is the number of memoized entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.store)
}

// Stats returns hit and miss totals since creation.
func (c *Cache) Stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}
