// Package events publishes visitor activity (views, likes, unlocks) for
// downstream aggregation. Publishing is fire-and-forget from the session's
// point of view; a failed publish never blocks the UI path.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/example/activity-radar/internal/models"
)

type Type string

const (
	ItemViewed          Type = "item_viewed"
	FavoriteToggled     Type = "favorite_toggled"
	AchievementUnlocked Type = "achievement_unlocked"
)

type Event struct {
	ID          string        `json:"id"`
	Type        Type          `json:"type"`
	SessionID   string        `json:"session_id"`
	ItemID      models.ItemID `json:"item_id,omitempty"`
	Zones       []string      `json:"zones,omitempty"`
	Liked       *bool         `json:"liked,omitempty"`
	Achievement string        `json:"achievement,omitempty"`
	At          time.Time     `json:"at"`
}

func New(t Type, sessionID string) Event {
	return Event{ID: uuid.NewString(), Type: t, SessionID: sessionID, At: time.Now().UTC()}
}

// Key groups events per item so one partition sees every view of it.
func (e Event) Key() []byte {
	if e.ItemID != "" {
		return []byte(e.ItemID)
	}
	return []byte(e.SessionID)
}

func (e Event) Encode() ([]byte, error) { return json.Marshal(e) }

func Decode(b []byte) (Event, error) {
	var e Event
	err := json.Unmarshal(b, &e)
	return e, err
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }
