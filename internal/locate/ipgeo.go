package locate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/example/activity-radar/internal/models"
)

const (
	defaultIPURL     = "https://ipapi.co/json/"
	defaultIPTimeout = 5 * time.Second
	defaultVersion   = "dev"
	maxBodyBytes     = 64 << 10
)

// IPClient looks up an approximate position for the caller's IP.
type IPClient struct {
	httpClient *http.Client
	url        string
	version    string
	logger     *slog.Logger
}

type IPOption func(*IPClient)

// WithURL sets a custom lookup URL
func WithURL(url string) IPOption {
	return func(c *IPClient) {
		if url != "" {
			c.url = url
		}
	}
}

// WithTimeout sets a custom timeout for HTTP requests
func WithTimeout(timeout time.Duration) IPOption {
	return func(c *IPClient) {
		c.httpClient.Timeout = timeout
	}
}

// WithVersion sets the version string for the User-Agent header
func WithVersion(version string) IPOption {
	return func(c *IPClient) {
		c.version = version
	}
}

func WithLogger(logger *slog.Logger) IPOption {
	return func(c *IPClient) {
		c.logger = logger
	}
}

func NewIPClient(opts ...IPOption) *IPClient {
	c := &IPClient{
		httpClient: &http.Client{Timeout: defaultIPTimeout},
		url:        defaultIPURL,
		version:    defaultVersion,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// LookupError is a failed lookup; StatusCode is 0 for transport errors.
type LookupError struct {
	StatusCode int
	Err        error
}

func (e *LookupError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("ip lookup error (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("ip lookup error: %v", e.Err)
}

func (e *LookupError) Unwrap() error { return e.Err }

// Lookup performs one GET. The body may be JSON with latitude/longitude,
// JSON with a "loc" field holding "lat,lng", or a bare "lat,lng" string.
func (c *IPClient) Lookup(ctx context.Context) (models.Coord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return models.Coord{}, &LookupError{Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("User-Agent", fmt.Sprintf("activity-radar/%s", c.version))
	req.Header.Set("Accept", "application/json, text/plain")

	c.logger.Debug("ip lookup", "url", c.url)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.Coord{}, &LookupError{Err: fmt.Errorf("failed to fetch location: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return models.Coord{}, &LookupError{StatusCode: resp.StatusCode, Err: fmt.Errorf("unexpected status code %d", resp.StatusCode)}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return models.Coord{}, &LookupError{Err: fmt.Errorf("failed to read response: %w", err)}
	}
	pos, err := parseIPBody(body)
	if err != nil {
		return models.Coord{}, &LookupError{Err: err}
	}
	return pos, nil
}

func parseIPBody(body []byte) (models.Coord, error) {
	text := strings.TrimSpace(string(body))
	if text == "" {
		return models.Coord{}, errors.New("empty response")
	}
	if !strings.HasPrefix(text, "{") {
		return parseLatLng(strings.Trim(text, `"`))
	}
	var out struct {
		Latitude  json.RawMessage `json:"latitude"`
		Longitude json.RawMessage `json:"longitude"`
		Loc       string          `json:"loc"`
	}
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return models.Coord{}, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(out.Latitude) > 0 && len(out.Longitude) > 0 {
		lat, errLat := number(out.Latitude)
		lng, errLng := number(out.Longitude)
		if errLat == nil && errLng == nil {
			return validate(lat, lng)
		}
	}
	if out.Loc != "" {
		return parseLatLng(out.Loc)
	}
	return models.Coord{}, errors.New("response carries no coordinates")
}

func number(raw json.RawMessage) (float64, error) {
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, err
	}
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

func parseLatLng(s string) (models.Coord, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return models.Coord{}, fmt.Errorf("malformed lat,lng %q", s)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return models.Coord{}, fmt.Errorf("malformed latitude %q: %w", parts[0], err)
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return models.Coord{}, fmt.Errorf("malformed longitude %q: %w", parts[1], err)
	}
	return validate(lat, lng)
}

func validate(lat, lng float64) (models.Coord, error) {
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return models.Coord{}, fmt.Errorf("coordinates out of range: %f,%f", lat, lng)
	}
	return models.Coord{Lat: lat, Lng: lng}, nil
}
