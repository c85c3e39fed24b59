package locate

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestIPClient_Formats(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		lat     float64
		lng     float64
		wantErr bool
	}{
		{"numeric fields", `{"latitude":41.7,"longitude":44.8}`, 41.7, 44.8, false},
		{"string fields", `{"latitude":"41.7","longitude":"44.8"}`, 41.7, 44.8, false},
		{"loc field", `{"ip":"1.2.3.4","loc":"41.7,44.8"}`, 41.7, 44.8, false},
		{"bare pair", "41.7, 44.8\n", 41.7, 44.8, false},
		{"quoted pair", `"41.7,44.8"`, 41.7, 44.8, false},
		{"no coordinates", `{"ip":"1.2.3.4"}`, 0, 0, true},
		{"out of range", `{"latitude":141,"longitude":44}`, 0, 0, true},
		{"garbage", `<html>`, 0, 0, true},
		{"empty", ``, 0, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			pos, err := NewIPClient(WithURL(server.URL)).Lookup(context.Background())
			if (err != nil) != tt.wantErr {
				t.Fatalf("Lookup error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && (pos.Lat != tt.lat || pos.Lng != tt.lng) {
				t.Fatalf("got %+v, want %f,%f", pos, tt.lat, tt.lng)
			}
		})
	}
}

func TestIPClient_NoRetryOnServerError(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := NewIPClient(WithURL(server.URL)).Lookup(context.Background())
	var le *LookupError
	if !errors.As(err, &le) || le.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected LookupError with 503, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly one request, got %d", calls)
	}
	if Classify(err) != PositionUnavailable {
		t.Fatalf("expected position_unavailable, got %s", Classify(err))
	}
}

func TestIPClient_UserAgent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ua := r.Header.Get("User-Agent"); !strings.HasPrefix(ua, "activity-radar/") {
			t.Errorf("unexpected User-Agent %q", ua)
		}
		_, _ = w.Write([]byte(`{"loc":"1,2"}`))
	}))
	defer server.Close()

	if _, err := NewIPClient(WithURL(server.URL), WithVersion("1.2.3")).Lookup(context.Background()); err != nil {
		t.Fatalf("Lookup: %v", err)
	}
}
