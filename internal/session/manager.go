package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/activity-radar/internal/catalog"
	"github.com/example/activity-radar/internal/observability"
	"github.com/example/activity-radar/internal/storage"
)

var ErrNotFound = errors.New("session not found")

// Manager keeps live sessions in memory. Durable per-visitor state lives
// in the KV under the session id, so a visitor that comes back with the
// same id gets their favorites and preferences again.
type Manager struct {
	catalog *catalog.Catalog
	kv      storage.KV
	opts    Options

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewManager(cat *catalog.Catalog, kv storage.KV, opts Options) *Manager {
	return &Manager{catalog: cat, kv: kv, opts: opts, sessions: make(map[string]*Session)}
}

// Create starts a session. An empty id gets a fresh uuid; a known id
// returns the live session.
func (m *Manager) Create(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		id = uuid.NewString()
	} else if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("invalid session id %q: %w", id, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		return s, nil
	}
	s := New(ctx, id, m.catalog, storage.NewScoped(m.kv, id), m.opts)
	m.sessions[id] = s
	observability.SessionsActive.Inc()
	return s, nil
}

func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s, nil
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Evict drops sessions idle for longer than ttl and returns how many went.
func (m *Manager) Evict(ttl time.Duration) int {
	cutoff := time.Now().Add(-ttl)
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, s := range m.sessions {
		if s.LastActive().Before(cutoff) && !s.Bridge().Attached() {
			s.Close()
			delete(m.sessions, id)
			observability.SessionsActive.Dec()
			n++
		}
	}
	return n
}

// RunEvictor evicts idle sessions every interval until ctx is done.
func (m *Manager) RunEvictor(ctx context.Context, interval, ttl time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.Evict(ttl)
		}
	}
}

func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.sessions {
		s.Close()
		delete(m.sessions, id)
		observability.SessionsActive.Dec()
	}
}
