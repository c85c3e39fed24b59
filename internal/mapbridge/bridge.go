// Package mapbridge links a session to the browser map widget over a
// websocket. The widget may connect late or never; commands sent before
// it attaches are queued and the list path never waits on it.
package mapbridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/example/activity-radar/internal/markers"
	"github.com/example/activity-radar/internal/models"
	"github.com/example/activity-radar/internal/observability"
)

var (
	ErrNoWidget = errors.New("map widget not attached")
	ErrDetached = errors.New("map widget detached")
)

// Message types exchanged with the widget.
const (
	TypeMarkers         = "markers"
	TypeCenter          = "center"
	TypeGeolocate       = "geolocate"
	TypeWidgetGeolocate = "widget_geolocate"
	TypePosition        = "position"
	TypeGeoError        = "geo_error"
)

// Geolocation error codes as reported by the browser Geolocation API.
const (
	CodePermissionDenied    = 1
	CodePositionUnavailable = 2
	CodeTimeout             = 3
)

type GeoError struct {
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
}

func (e *GeoError) Error() string { return fmt.Sprintf("geolocation error %d: %s", e.Code, e.Message) }

type Message struct {
	Type      string           `json:"type"`
	ID        string           `json:"id,omitempty"`
	Markers   []markers.Marker `json:"markers,omitempty"`
	Center    *models.Coord    `json:"center,omitempty"`
	Zoom      int              `json:"zoom,omitempty"`
	Accuracy  string           `json:"accuracy,omitempty"`
	TimeoutMs int64            `json:"timeout_ms,omitempty"`
	Position  *models.Coord    `json:"position,omitempty"`
	Error     *GeoError        `json:"error,omitempty"`
}

// Conn is the subset of *websocket.Conn the bridge uses.
type Conn interface {
	WriteJSON(v any) error
	ReadJSON(v any) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

const maxMessageSize = 64 << 10

// Keepalive bounds how long a silent or stalled widget stays attached.
// PingPeriod must be shorter than PongWait.
type Keepalive struct {
	PongWait   time.Duration
	PingPeriod time.Duration
	WriteWait  time.Duration
}

func DefaultKeepalive() Keepalive {
	const pongWait = 60 * time.Second
	return Keepalive{PongWait: pongWait, PingPeriod: pongWait * 9 / 10, WriteWait: 10 * time.Second}
}

// AwaitPolicy bounds how long a caller waits for a late widget: a few
// retries with doubling delay, then fixed polling up to a hard ceiling.
type AwaitPolicy struct {
	Retries      int
	InitialDelay time.Duration
	PollInterval time.Duration
	PollCeiling  time.Duration
}

func DefaultAwaitPolicy() AwaitPolicy {
	return AwaitPolicy{Retries: 5, InitialDelay: 100 * time.Millisecond, PollInterval: 500 * time.Millisecond, PollCeiling: 10 * time.Second}
}

type Option func(*Bridge)

func WithKeepalive(k Keepalive) Option {
	return func(b *Bridge) { b.keepalive = k }
}

type Bridge struct {
	keepalive Keepalive

	mu            sync.Mutex
	conn          Conn
	gone          chan struct{}
	queuedMarkers *Message
	queuedCenter  *Message
	waiters       map[string]chan Message
	degraded      bool
	logger        *slog.Logger
}

func New(logger *slog.Logger, opts ...Option) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bridge{keepalive: DefaultKeepalive(), waiters: make(map[string]chan Message), logger: logger}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Serve attaches conn, flushes queued commands and dispatches replies
// until the connection fails. It replaces any previously attached widget.
// A widget that stops answering pings is dropped after PongWait.
func (b *Bridge) Serve(conn Conn) error {
	conn.SetReadLimit(maxMessageSize)
	if err := conn.SetReadDeadline(time.Now().Add(b.keepalive.PongWait)); err != nil {
		_ = conn.Close()
		return err
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(b.keepalive.PongWait))
	})

	b.mu.Lock()
	if b.conn != nil {
		_ = b.conn.Close()
		b.detachLocked()
	}
	b.conn = conn
	b.gone = make(chan struct{})
	b.degraded = false
	gone := b.gone
	queued := []*Message{b.queuedMarkers, b.queuedCenter}
	b.queuedMarkers, b.queuedCenter = nil, nil
	for _, m := range queued {
		if m == nil {
			continue
		}
		if err := b.write(conn, m); err != nil {
			b.logger.Warn("flush to map widget failed", "type", m.Type, "error", err)
		}
	}
	b.mu.Unlock()
	go b.ping(conn, gone)
	observability.WidgetsAttached.Inc()
	defer observability.WidgetsAttached.Dec()

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			b.mu.Lock()
			if b.gone == gone {
				b.detachLocked()
			}
			b.mu.Unlock()
			return err
		}
		b.dispatch(msg)
	}
}

func (b *Bridge) ping(conn Conn, gone <-chan struct{}) {
	ticker := time.NewTicker(b.keepalive.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-gone:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(b.keepalive.WriteWait)); err != nil {
				b.logger.Debug("ping to map widget failed", "error", err)
				_ = conn.Close()
				return
			}
		}
	}
}

// write bounds every frame by WriteWait so a stalled widget cannot hold mu.
func (b *Bridge) write(conn Conn, m *Message) error {
	if err := conn.SetWriteDeadline(time.Now().Add(b.keepalive.WriteWait)); err != nil {
		return err
	}
	return conn.WriteJSON(m)
}

func (b *Bridge) dispatch(msg Message) {
	if msg.ID == "" {
		return
	}
	b.mu.Lock()
	ch, ok := b.waiters[msg.ID]
	if ok {
		delete(b.waiters, msg.ID)
	}
	b.mu.Unlock()
	if ok {
		ch <- msg
	}
}

func (b *Bridge) detachLocked() {
	b.conn = nil
	if b.gone != nil {
		close(b.gone)
		b.gone = nil
	}
}

func (b *Bridge) Attached() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn != nil
}

// Degraded reports that AwaitWidget gave up; the map is considered absent
// until a widget attaches.
func (b *Bridge) Degraded() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.degraded
}

// ReplaceMarkers implements markers.Sink. Without a widget the set is
// queued; only the latest set is kept.
func (b *Bridge) ReplaceMarkers(ms []markers.Marker) error {
	if ms == nil {
		ms = []markers.Marker{}
	}
	return b.sendOrQueue(&Message{Type: TypeMarkers, Markers: ms}, &b.queuedMarkers)
}

// Center recentres the map.
func (b *Bridge) Center(c models.Coord, zoom int) error {
	return b.sendOrQueue(&Message{Type: TypeCenter, Center: &c, Zoom: zoom}, &b.queuedCenter)
}

func (b *Bridge) sendOrQueue(m *Message, slot **Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		*slot = m
		return nil
	}
	if err := b.write(b.conn, m); err != nil {
		*slot = m
		_ = b.conn.Close()
		b.detachLocked()
		return fmt.Errorf("write %s: %w", m.Type, err)
	}
	return nil
}

// Request sends m and waits for the reply carrying the same id.
func (b *Bridge) Request(ctx context.Context, m Message) (Message, error) {
	b.mu.Lock()
	if b.conn == nil {
		b.mu.Unlock()
		return Message{}, ErrNoWidget
	}
	m.ID = uuid.NewString()
	ch := make(chan Message, 1)
	b.waiters[m.ID] = ch
	gone := b.gone
	err := b.write(b.conn, &m)
	if err != nil {
		delete(b.waiters, m.ID)
		_ = b.conn.Close()
		b.detachLocked()
	}
	b.mu.Unlock()
	if err != nil {
		return Message{}, fmt.Errorf("write %s: %w", m.Type, err)
	}

	select {
	case reply := <-ch:
		return reply, nil
	case <-gone:
		b.forget(m.ID)
		return Message{}, ErrDetached
	case <-ctx.Done():
		b.forget(m.ID)
		return Message{}, ctx.Err()
	}
}

func (b *Bridge) forget(id string) {
	b.mu.Lock()
	delete(b.waiters, id)
	b.mu.Unlock()
}

// AwaitWidget blocks until a widget is attached or the policy is
// exhausted, in which case the bridge is marked degraded.
func (b *Bridge) AwaitWidget(ctx context.Context, p AwaitPolicy) error {
	if b.Attached() {
		return nil
	}
	delay := p.InitialDelay
	for i := 0; i < p.Retries; i++ {
		if err := sleep(ctx, delay); err != nil {
			return err
		}
		if b.Attached() {
			return nil
		}
		b.logger.Debug("map widget not attached yet", "attempt", i+1, "retries", p.Retries)
		delay *= 2
	}
	if p.PollInterval > 0 {
		deadline := time.Now().Add(p.PollCeiling)
		for time.Now().Before(deadline) {
			if err := sleep(ctx, p.PollInterval); err != nil {
				return err
			}
			if b.Attached() {
				return nil
			}
		}
	}
	b.mu.Lock()
	b.degraded = true
	b.mu.Unlock()
	b.logger.Warn("map widget unavailable, continuing without map")
	return ErrNoWidget
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
