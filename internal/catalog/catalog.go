// Package catalog loads the static activity list once at startup.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/example/activity-radar/internal/models"
)

var ErrUnknownItem = errors.New("unknown item")

// Audience band the directory is built for.
const (
	AudienceMin = 13
	AudienceMax = 18
)

// teenMarkers admit an item regardless of its age range.
var teenMarkers = []string{"подрост", "тинейдж", "teen", "13+"}

// Catalog is read-only after construction and safe to share.
type Catalog struct {
	items []models.Item
	byID  map[models.ItemID]int
}

func New(items []models.Item) *Catalog {
	c := &Catalog{byID: make(map[models.ItemID]int, len(items))}
	for _, it := range items {
		if it.ID == "" {
			continue
		}
		if _, dup := c.byID[it.ID]; dup {
			continue
		}
		if it.Categories == nil {
			it.Categories = []string{}
		}
		if it.Languages == nil {
			it.Languages = []string{}
		}
		c.byID[it.ID] = len(c.items)
		c.items = append(c.items, it)
	}
	return c
}

// Items returns the catalog in load order. Callers must not modify it.
func (c *Catalog) Items() []models.Item { return c.items }

func (c *Catalog) Len() int { return len(c.items) }

func (c *Catalog) ByID(id models.ItemID) (models.Item, error) {
	i, ok := c.byID[id]
	if !ok {
		return models.Item{}, fmt.Errorf("%w: %s", ErrUnknownItem, id)
	}
	return c.items[i], nil
}

// ForAudience reports whether it overlaps the teen band or carries a teen
// marker tag. Items without a readable age range need the marker.
func ForAudience(it models.Item) bool {
	if it.Age != nil && it.Age.Min <= AudienceMax && it.Age.Max >= AudienceMin {
		return true
	}
	for _, c := range it.Categories {
		lc := strings.ToLower(c)
		for _, m := range teenMarkers {
			if strings.Contains(lc, m) {
				return true
			}
		}
	}
	return false
}

// Decode reads a JSON array of items. Elements that are not objects or
// lack an id are skipped; the rest go through the audience gate.
func Decode(r io.Reader, logger *slog.Logger) (*Catalog, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var raw []json.RawMessage
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	items := make([]models.Item, 0, len(raw))
	skipped, excluded := 0, 0
	for i, el := range raw {
		var it models.Item
		if err := json.Unmarshal(el, &it); err != nil || it.ID == "" {
			skipped++
			logger.Debug("catalog entry skipped", "index", i, "error", err)
			continue
		}
		if !ForAudience(it) {
			excluded++
			continue
		}
		items = append(items, it)
	}
	c := New(items)
	logger.Info("catalog loaded", "items", c.Len(), "skipped", skipped, "excluded", excluded)
	return c, nil
}

func LoadFile(path string, logger *slog.Logger) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()
	return Decode(f, logger)
}

// Fetch downloads the catalog with a single GET.
func Fetch(ctx context.Context, client *http.Client, url string, logger *slog.Logger) (*Catalog, error) {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create catalog request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch catalog: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch catalog: status %d", resp.StatusCode)
	}
	return Decode(resp.Body, logger)
}
