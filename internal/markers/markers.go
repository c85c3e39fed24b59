// Package markers derives the map marker set from a filtered item list.
package markers

import (
	"log/slog"

	"github.com/example/activity-radar/internal/models"
	"github.com/example/activity-radar/internal/observability"
)

type Variant string

const (
	VariantOnline  Variant = "online"
	VariantOffline Variant = "offline"
)

// Style is what the widget needs to draw a marker icon.
type Style struct {
	Preset string `json:"preset"`
	Color  string `json:"color"`
}

var styles = map[Variant]Style{
	VariantOnline:  {Preset: "islands#blueCircleIcon", Color: "#3b82f6"},
	VariantOffline: {Preset: "islands#redCircleIcon", Color: "#ff6e6c"},
}

type Popup struct {
	Title      string            `json:"title"`
	Blurb      string            `json:"blurb"`
	Address    string            `json:"address,omitempty"`
	Languages  []string          `json:"languages,omitempty"`
	Links      map[string]string `json:"links,omitempty"`
	Categories []string          `json:"categories,omitempty"`
}

type Marker struct {
	ItemID   models.ItemID `json:"item_id"`
	Position models.Coord  `json:"position"`
	Variant  Variant       `json:"variant"`
	Style    Style         `json:"style"`
	Popup    Popup         `json:"popup"`
}

// Project builds one marker per item that has coordinates, in list order.
func Project(items []models.Item) []Marker {
	out := make([]Marker, 0, len(items))
	for _, it := range items {
		if it.Coords == nil {
			continue
		}
		v := VariantOffline
		if it.Online() {
			v = VariantOnline
		}
		out = append(out, Marker{
			ItemID:   it.ID,
			Position: *it.Coords,
			Variant:  v,
			Style:    styles[v],
			Popup: Popup{
				Title:      it.Title,
				Blurb:      it.Blurb,
				Address:    it.Address,
				Languages:  it.Languages,
				Links:      it.Links,
				Categories: it.Categories,
			},
		})
	}
	return out
}

// Sink receives complete marker sets. Each call replaces everything the
// sink showed before.
type Sink interface {
	ReplaceMarkers(markers []Marker) error
}

type Projector struct {
	sink   Sink
	logger *slog.Logger
}

func NewProjector(sink Sink, logger *slog.Logger) *Projector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Projector{sink: sink, logger: logger}
}

// Publish projects items and hands the whole set to the sink. A sink
// error leaves the list path untouched; the map just keeps its old set.
func (p *Projector) Publish(items []models.Item) []Marker {
	ms := Project(items)
	if p.sink == nil {
		return ms
	}
	if err := p.sink.ReplaceMarkers(ms); err != nil {
		p.logger.Warn("marker publish failed", "markers", len(ms), "error", err)
		return ms
	}
	observability.MarkerProjections.Inc()
	return ms
}
