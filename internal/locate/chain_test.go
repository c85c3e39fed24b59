package locate

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/example/activity-radar/internal/mapbridge"
	"github.com/example/activity-radar/internal/models"
)

type stubStrategy struct {
	name  string
	pos   models.Coord
	err   error
	delay time.Duration
	calls int
}

func (s *stubStrategy) Name() string                  { return s.name }
func (s *stubStrategy) Source() models.PositionSource { return models.PositionSource(s.name) }
func (s *stubStrategy) Zoom() int                     { return len(s.name) }

func (s *stubStrategy) Resolve(ctx context.Context) (models.Coord, error) {
	s.calls++
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return models.Coord{}, ctx.Err()
		}
	}
	return s.pos, s.err
}

// scriptedBrowser answers geolocation requests from a fixed script.
type scriptedBrowser struct {
	replies []mapbridge.Message
	errs    []error
	seen    []mapbridge.Message
}

func (b *scriptedBrowser) Request(_ context.Context, m mapbridge.Message) (mapbridge.Message, error) {
	i := len(b.seen)
	b.seen = append(b.seen, m)
	if i < len(b.errs) && b.errs[i] != nil {
		return mapbridge.Message{}, b.errs[i]
	}
	if i < len(b.replies) {
		return b.replies[i], nil
	}
	return mapbridge.Message{}, mapbridge.ErrNoWidget
}

func TestChain_FallsThroughInOrder(t *testing.T) {
	device := &stubStrategy{name: "device", err: &mapbridge.GeoError{Code: mapbridge.CodePositionUnavailable}}
	widget := &stubStrategy{name: "widget", err: mapbridge.ErrNoWidget}
	ip := &stubStrategy{name: "ip", pos: models.Coord{Lat: 41.7, Lng: 44.8}}
	c := NewChain(nil, Stage{Strategy: device}, Stage{Strategy: widget}, Stage{Strategy: ip})

	fix, err := c.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if fix.Stage != "ip" || fix.Position.Source != "ip" || fix.Position.Lat != 41.7 {
		t.Fatalf("unexpected fix %+v", fix)
	}
	if device.calls != 1 || widget.calls != 1 || ip.calls != 1 {
		t.Fatalf("expected each stage once, got %d %d %d", device.calls, widget.calls, ip.calls)
	}
	if c.State() != StateResolved {
		t.Fatalf("expected resolved state, got %s", c.State())
	}
}

func TestChain_StopsAtFirstSuccess(t *testing.T) {
	device := &stubStrategy{name: "device", pos: models.Coord{Lat: 1, Lng: 1}}
	ip := &stubStrategy{name: "ip"}
	fix, err := NewChain(nil, Stage{Strategy: device}, Stage{Strategy: ip}).Resolve(context.Background())
	if err != nil || fix.Stage != "device" {
		t.Fatalf("expected device fix, got %+v err=%v", fix, err)
	}
	if ip.calls != 0 {
		t.Fatal("ip stage must not run after a device fix")
	}
}

func TestChain_ExhaustionClassifiesReason(t *testing.T) {
	tests := []struct {
		name string
		errs []error
		want Reason
	}{
		{"all missing", []error{ErrNoCapability, mapbridge.ErrNoWidget, ErrNoCapability}, NoCapability},
		{"permission wins", []error{&mapbridge.GeoError{Code: mapbridge.CodePermissionDenied}, mapbridge.ErrNoWidget, errors.New("dns")}, PermissionDenied},
		{"timeout", []error{&mapbridge.GeoError{Code: mapbridge.CodeTimeout}, mapbridge.ErrNoWidget, ErrNoCapability}, Timeout},
		{"unavailable beats timeout", []error{context.DeadlineExceeded, errors.New("connection refused"), ErrNoCapability}, PositionUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stages []Stage
			for i, e := range tt.errs {
				stages = append(stages, Stage{Strategy: &stubStrategy{name: string(rune('a' + i)), err: e}})
			}
			c := NewChain(nil, stages...)
			_, err := c.Resolve(context.Background())
			var le *Error
			if !errors.As(err, &le) {
				t.Fatalf("expected *Error, got %v", err)
			}
			if le.Reason != tt.want {
				t.Fatalf("reason = %s, want %s", le.Reason, tt.want)
			}
			if le.Message() == "" {
				t.Fatal("expected a human message")
			}
			if c.State() != StateFailed || c.LastError() == nil {
				t.Fatalf("expected failed state with last error")
			}
		})
	}
}

func TestChain_StageTimeout(t *testing.T) {
	slow := &stubStrategy{name: "device", delay: time.Second}
	fast := &stubStrategy{name: "ip", pos: models.Coord{Lat: 2, Lng: 2}}
	c := NewChain(nil, Stage{Strategy: slow, Timeout: 20 * time.Millisecond}, Stage{Strategy: fast})
	start := time.Now()
	fix, err := c.Resolve(context.Background())
	if err != nil || fix.Stage != "ip" {
		t.Fatalf("expected ip fix after device timeout, got %+v err=%v", fix, err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatal("stage timeout not enforced")
	}
}

func TestChain_NoStages(t *testing.T) {
	_, err := NewChain(nil).Resolve(context.Background())
	var le *Error
	if !errors.As(err, &le) || le.Reason != NoCapability {
		t.Fatalf("expected no_capability, got %v", err)
	}
}

func TestDeviceStrategy_GraduatedAttempts(t *testing.T) {
	browser := &scriptedBrowser{replies: []mapbridge.Message{
		{Type: mapbridge.TypeGeoError, Error: &mapbridge.GeoError{Code: mapbridge.CodePositionUnavailable}},
		{Type: mapbridge.TypeGeoError, Error: &mapbridge.GeoError{Code: mapbridge.CodeTimeout}},
		{Type: mapbridge.TypePosition, Position: &models.Coord{Lat: 5, Lng: 6}},
	}}
	d := &DeviceStrategy{Browser: browser, Attempts: []Attempt{
		{Accuracy: "low", Timeout: time.Second},
		{Accuracy: "high", Timeout: time.Second},
		{Accuracy: "watch", Timeout: time.Second},
	}}
	pos, err := d.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if pos.Lat != 5 {
		t.Fatalf("unexpected position %+v", pos)
	}
	if len(browser.seen) != 3 || browser.seen[0].Accuracy != "low" || browser.seen[2].Accuracy != "watch" {
		t.Fatalf("unexpected attempts %+v", browser.seen)
	}
}

func TestDeviceStrategy_PermissionDeniedStopsRetries(t *testing.T) {
	browser := &scriptedBrowser{replies: []mapbridge.Message{
		{Type: mapbridge.TypeGeoError, Error: &mapbridge.GeoError{Code: mapbridge.CodePermissionDenied}},
	}}
	_, err := (&DeviceStrategy{Browser: browser}).Resolve(context.Background())
	if Classify(err) != PermissionDenied {
		t.Fatalf("expected permission denied, got %v", err)
	}
	if len(browser.seen) != 1 {
		t.Fatalf("expected a single attempt, got %d", len(browser.seen))
	}
}

func TestWidgetStrategy(t *testing.T) {
	browser := &scriptedBrowser{replies: []mapbridge.Message{{Type: mapbridge.TypePosition, Position: &models.Coord{Lat: 7, Lng: 8}}}}
	w := &WidgetStrategy{Browser: browser}
	pos, err := w.Resolve(context.Background())
	if err != nil || pos.Lng != 8 {
		t.Fatalf("unexpected %+v err=%v", pos, err)
	}
	if browser.seen[0].Type != mapbridge.TypeWidgetGeolocate {
		t.Fatalf("unexpected request %+v", browser.seen[0])
	}
	if _, err := (&WidgetStrategy{}).Resolve(context.Background()); Classify(err) != NoCapability {
		t.Fatalf("expected no capability without browser, got %v", err)
	}
}

func TestIPStrategy_EndToEnd(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"latitude": 41.69, "longitude": 44.80}`))
	}))
	defer server.Close()

	c := NewChain(nil,
		Stage{Strategy: &DeviceStrategy{Browser: &scriptedBrowser{}}},
		Stage{Strategy: &IPStrategy{Client: NewIPClient(WithURL(server.URL))}, Timeout: time.Second},
	)
	fix, err := c.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if fix.Zoom != IPZoom || fix.Position.Source != models.SourceIP {
		t.Fatalf("unexpected fix %+v", fix)
	}
}
