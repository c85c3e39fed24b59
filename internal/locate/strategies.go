package locate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/activity-radar/internal/mapbridge"
	"github.com/example/activity-radar/internal/models"
)

// Zoom levels per source; a precise device fix zooms closer than an IP estimate.
const (
	DeviceZoom = 15
	WidgetZoom = 13
	IPZoom     = 10
)

// Requester sends a command to the browser and waits for its reply.
type Requester interface {
	Request(ctx context.Context, m mapbridge.Message) (mapbridge.Message, error)
}

// Attempt is one device geolocation call.
type Attempt struct {
	Accuracy string
	Timeout  time.Duration
}

// DefaultDeviceAttempts asks for a coarse fix first, retries with high
// accuracy, and finally keeps a watch open longer; some platforms report
// "position unavailable" once and then succeed with relaxed settings.
func DefaultDeviceAttempts() []Attempt {
	return []Attempt{
		{Accuracy: "low", Timeout: 6 * time.Second},
		{Accuracy: "high", Timeout: 8 * time.Second},
		{Accuracy: "watch", Timeout: 15 * time.Second},
	}
}

type DeviceStrategy struct {
	Browser  Requester
	Attempts []Attempt
}

func (d *DeviceStrategy) Name() string                  { return "device" }
func (d *DeviceStrategy) Source() models.PositionSource { return models.SourceDevice }
func (d *DeviceStrategy) Zoom() int                     { return DeviceZoom }

func (d *DeviceStrategy) Resolve(ctx context.Context) (models.Coord, error) {
	attempts := d.Attempts
	if len(attempts) == 0 {
		attempts = DefaultDeviceAttempts()
	}
	var lastErr error
	for _, a := range attempts {
		msg := mapbridge.Message{Type: mapbridge.TypeGeolocate, Accuracy: a.Accuracy, TimeoutMs: a.Timeout.Milliseconds()}
		pos, err := ask(ctx, d.Browser, msg, a.Timeout)
		if err == nil {
			return pos, nil
		}
		lastErr = fmt.Errorf("%s accuracy: %w", a.Accuracy, err)
		// the visitor said no; asking again will not change that
		if r := Classify(err); r == PermissionDenied || r == NoCapability {
			return models.Coord{}, lastErr
		}
		if ctx.Err() != nil {
			return models.Coord{}, lastErr
		}
	}
	return models.Coord{}, lastErr
}

// WidgetStrategy uses the map widget's own network geolocation.
type WidgetStrategy struct {
	Browser Requester
}

func (w *WidgetStrategy) Name() string                  { return "widget" }
func (w *WidgetStrategy) Source() models.PositionSource { return models.SourceWidget }
func (w *WidgetStrategy) Zoom() int                     { return WidgetZoom }

func (w *WidgetStrategy) Resolve(ctx context.Context) (models.Coord, error) {
	return ask(ctx, w.Browser, mapbridge.Message{Type: mapbridge.TypeWidgetGeolocate}, 0)
}

func ask(ctx context.Context, r Requester, msg mapbridge.Message, timeout time.Duration) (models.Coord, error) {
	if r == nil {
		return models.Coord{}, ErrNoCapability
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	reply, err := r.Request(ctx, msg)
	if err != nil {
		return models.Coord{}, err
	}
	switch {
	case reply.Error != nil:
		return models.Coord{}, reply.Error
	case reply.Type == mapbridge.TypePosition && reply.Position != nil:
		return *reply.Position, nil
	default:
		return models.Coord{}, errors.New("widget reply carried no position")
	}
}

// IPStrategy asks an IP-geolocation service. Best effort, no retry.
type IPStrategy struct {
	Client *IPClient
}

func (s *IPStrategy) Name() string                  { return "ip" }
func (s *IPStrategy) Source() models.PositionSource { return models.SourceIP }
func (s *IPStrategy) Zoom() int                     { return IPZoom }

func (s *IPStrategy) Resolve(ctx context.Context) (models.Coord, error) {
	if s.Client == nil {
		return models.Coord{}, ErrNoCapability
	}
	return s.Client.Lookup(ctx)
}
