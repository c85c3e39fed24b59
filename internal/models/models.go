package models

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

type Coord struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type ItemType string

const (
	TypeOnline  ItemType = "online"
	TypeOffline ItemType = "offline"
)

type AgeRange struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// ItemID is kept as a string; catalogs use both numeric and string ids.
type ItemID string

func (id *ItemID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ItemID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = ItemID(n.String())
	return nil
}

// Item is one catalog entry. It is immutable after load.
type Item struct {
	ID         ItemID            `json:"id"`
	Title      string            `json:"title"`
	Blurb      string            `json:"blurb"`
	Address    string            `json:"address,omitempty"`
	Type       ItemType          `json:"type"`
	Age        *AgeRange         `json:"age,omitempty"`
	Coords     *Coord            `json:"coords,omitempty"`
	Categories []string          `json:"categories"`
	Languages  []string          `json:"languages"`
	Links      map[string]string `json:"links,omitempty"`
}

func (it Item) Online() bool { return it.Type == TypeOnline }

// UnmarshalJSON decodes leniently: malformed optional fields are dropped
// instead of failing the whole item.
func (it *Item) UnmarshalJSON(b []byte) error {
	var raw struct {
		ID         ItemID          `json:"id"`
		Title      json.RawMessage `json:"title"`
		Blurb      json.RawMessage `json:"blurb"`
		Address    json.RawMessage `json:"address"`
		Type       json.RawMessage `json:"type"`
		Age        json.RawMessage `json:"age"`
		Coords     json.RawMessage `json:"coords"`
		Categories json.RawMessage `json:"categories"`
		Languages  json.RawMessage `json:"languages"`
		Links      json.RawMessage `json:"links"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*it = Item{
		ID:         raw.ID,
		Title:      looseString(raw.Title),
		Blurb:      looseString(raw.Blurb),
		Address:    looseString(raw.Address),
		Type:       parseType(looseString(raw.Type)),
		Age:        parseAge(raw.Age),
		Coords:     parseCoords(raw.Coords),
		Categories: looseStrings(raw.Categories),
		Languages:  looseStrings(raw.Languages),
		Links:      looseLinks(raw.Links),
	}
	return nil
}

func parseType(s string) ItemType {
	if strings.EqualFold(strings.TrimSpace(s), string(TypeOnline)) {
		return TypeOnline
	}
	return TypeOffline
}

func looseString(b json.RawMessage) string {
	var s string
	if len(b) == 0 || json.Unmarshal(b, &s) != nil {
		return ""
	}
	return s
}

func looseStrings(b json.RawMessage) []string {
	var vals []json.RawMessage
	if len(b) == 0 || json.Unmarshal(b, &vals) != nil {
		return []string{}
	}
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		var s string
		if json.Unmarshal(v, &s) == nil && s != "" {
			out = append(out, s)
		}
	}
	return out
}

func looseLinks(b json.RawMessage) map[string]string {
	var vals map[string]json.RawMessage
	if len(b) == 0 || json.Unmarshal(b, &vals) != nil {
		return nil
	}
	out := make(map[string]string, len(vals))
	for k, v := range vals {
		var s string
		if json.Unmarshal(v, &s) == nil && s != "" {
			out[k] = s
		}
	}
	return out
}

func looseNumber(b json.RawMessage) (float64, bool) {
	if len(b) == 0 {
		return 0, false
	}
	var f float64
	if json.Unmarshal(b, &f) == nil {
		return f, true
	}
	var s string
	if json.Unmarshal(b, &s) == nil {
		if v, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return v, true
		}
	}
	return 0, false
}

func parseAge(b json.RawMessage) *AgeRange {
	var raw struct {
		Min json.RawMessage `json:"min"`
		Max json.RawMessage `json:"max"`
	}
	if len(b) == 0 || json.Unmarshal(b, &raw) != nil {
		return nil
	}
	lo, okLo := looseNumber(raw.Min)
	hi, okHi := looseNumber(raw.Max)
	if !okLo || !okHi || lo > hi {
		return nil
	}
	return &AgeRange{Min: int(lo), Max: int(hi)}
}

func parseCoords(b json.RawMessage) *Coord {
	var raw struct {
		Lat json.RawMessage `json:"lat"`
		Lng json.RawMessage `json:"lng"`
	}
	if len(b) == 0 || json.Unmarshal(b, &raw) != nil {
		return nil
	}
	lat, okLat := looseNumber(raw.Lat)
	lng, okLng := looseNumber(raw.Lng)
	if !okLat || !okLng || lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return nil
	}
	return &Coord{Lat: lat, Lng: lng}
}

// PositionSource tells where a user position came from.
type PositionSource string

const (
	SourceManual PositionSource = "manual"
	SourceDevice PositionSource = "device"
	SourceWidget PositionSource = "widget"
	SourceIP     PositionSource = "ip"
)

type Position struct {
	Coord
	Source PositionSource `json:"source"`
}
