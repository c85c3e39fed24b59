// Package locate resolves the visitor position through an ordered list of
// strategies: device geolocation, the map widget, then IP lookup.
package locate

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/example/activity-radar/internal/models"
	"github.com/example/activity-radar/internal/observability"
)

// Strategy is one way of obtaining a position.
type Strategy interface {
	Name() string
	Source() models.PositionSource
	// Zoom is the map zoom that fits the precision of this source.
	Zoom() int
	Resolve(ctx context.Context) (models.Coord, error)
}

// Stage pairs a strategy with its own time budget.
type Stage struct {
	Strategy Strategy
	Timeout  time.Duration
}

// Fix is a resolved position.
type Fix struct {
	Position models.Position `json:"position"`
	Zoom     int             `json:"zoom"`
	Stage    string          `json:"stage"`
}

type State string

const (
	StateIdle       State = "idle"
	StateRequesting State = "requesting"
	StateResolved   State = "resolved"
	StateFailed     State = "failed"
)

// Chain tries stages in order until one succeeds.
type Chain struct {
	stages []Stage
	logger *slog.Logger

	mu      sync.Mutex
	state   State
	lastErr *Error
}

func NewChain(logger *slog.Logger, stages ...Stage) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{stages: stages, logger: logger, state: StateIdle}
}

func (c *Chain) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastError is the failure of the most recent run, if it failed.
func (c *Chain) LastError() *Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Resolve runs the stages. On exhaustion it returns *Error carrying the
// most informative reason seen across stages.
func (c *Chain) Resolve(ctx context.Context) (Fix, error) {
	c.mu.Lock()
	if c.state == StateRequesting {
		c.mu.Unlock()
		return Fix{}, ErrInProgress
	}
	c.state = StateRequesting
	c.lastErr = nil
	c.mu.Unlock()

	fix, err := c.run(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.state = StateFailed
		c.lastErr = err
		return Fix{}, err
	}
	c.state = StateResolved
	return fix, nil
}

func (c *Chain) run(ctx context.Context) (Fix, *Error) {
	worst := &Error{Reason: NoCapability, Err: ErrNoCapability}
	for _, st := range c.stages {
		name := st.Strategy.Name()
		sctx, cancel := ctx, context.CancelFunc(func() {})
		if st.Timeout > 0 {
			sctx, cancel = context.WithTimeout(ctx, st.Timeout)
		}
		pos, err := st.Strategy.Resolve(sctx)
		cancel()
		if err == nil {
			observability.LocateOutcomes.WithLabelValues(name, "resolved").Inc()
			c.logger.Info("location resolved", "stage", name, "lat", pos.Lat, "lng", pos.Lng)
			return Fix{
				Position: models.Position{Coord: pos, Source: st.Strategy.Source()},
				Zoom:     st.Strategy.Zoom(),
				Stage:    name,
			}, nil
		}
		reason := Classify(err)
		observability.LocateOutcomes.WithLabelValues(name, string(reason)).Inc()
		c.logger.Warn("location stage failed", "stage", name, "reason", reason, "error", err)
		if rank(reason) >= rank(worst.Reason) {
			worst = &Error{Reason: reason, Stage: name, Err: err}
		}
		if ctx.Err() != nil {
			return Fix{}, &Error{Reason: Timeout, Stage: name, Err: ctx.Err()}
		}
	}
	if len(c.stages) == 0 {
		worst.Err = fmt.Errorf("no strategies configured: %w", ErrNoCapability)
	}
	return Fix{}, worst
}
