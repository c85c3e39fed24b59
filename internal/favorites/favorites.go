// Package favorites keeps the visitor's liked item ids in durable storage.
package favorites

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"slices"
	"sync"

	"github.com/example/activity-radar/internal/models"
	"github.com/example/activity-radar/internal/observability"
	"github.com/example/activity-radar/internal/storage"
)

// Key is the storage key holding the JSON array of liked ids.
const Key = "liked_ids"

// Store is the in-memory view of the favorite set, written through to
// storage on every toggle. A failed write is logged and the in-memory set
// keeps serving the session.
type Store struct {
	mu     sync.RWMutex
	kv     storage.KV
	logger *slog.Logger
	order  []models.ItemID
	set    map[models.ItemID]struct{}
}

// Load reads the persisted set. Missing or unreadable data yields an
// empty set rather than an error.
func Load(ctx context.Context, kv storage.KV, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{kv: kv, logger: logger, set: make(map[models.ItemID]struct{})}
	raw, err := kv.Get(ctx, Key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			logger.Warn("favorites read failed", "key", Key, "error", err)
		}
		return s
	}
	var ids []models.ItemID
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		logger.Warn("favorites value malformed", "key", Key, "error", err)
		return s
	}
	for _, id := range ids {
		s.add(id)
	}
	return s
}

func (s *Store) add(id models.ItemID) {
	if _, ok := s.set[id]; ok {
		return
	}
	s.set[id] = struct{}{}
	s.order = append(s.order, id)
}

// Toggle flips the liked state of id and returns the new state.
func (s *Store) Toggle(ctx context.Context, id models.ItemID) bool {
	s.mu.Lock()
	liked := false
	if _, ok := s.set[id]; ok {
		delete(s.set, id)
		s.order = slices.DeleteFunc(s.order, func(x models.ItemID) bool { return x == id })
	} else {
		s.add(id)
		liked = true
	}
	snapshot := slices.Clone(s.order)
	s.mu.Unlock()

	s.persist(ctx, snapshot)
	return liked
}

func (s *Store) persist(ctx context.Context, ids []models.ItemID) {
	if ids == nil {
		ids = []models.ItemID{}
	}
	b, err := json.Marshal(ids)
	if err == nil {
		err = s.kv.Set(ctx, Key, string(b))
	}
	if err != nil {
		observability.StorageWriteFailures.WithLabelValues(Key).Inc()
		s.logger.Warn("favorites write failed, keeping session-only state", "key", Key, "error", err)
	}
}

func (s *Store) Has(id models.ItemID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.set[id]
	return ok
}

func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.set)
}

// IDs returns the liked ids in the order they were liked.
func (s *Store) IDs() []models.ItemID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.order)
}
