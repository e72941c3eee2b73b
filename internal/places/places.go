// Package places finds hospitals and clinics near a free-text location using the
// OpenStreetMap Nominatim search API. Lookups never fail the caller: any error yields an
// empty result and a warning in the log.
package places

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Defaults used when options are not supplied.
const (
	DefaultBaseURL   = "https://nominatim.openstreetmap.org"
	DefaultUserAgent = "HealBee/1.0 (health app; nominatim usage)"
	DefaultTimeout   = 15 * time.Second
	// DefaultInterval keeps to the public instance's one request per second policy.
	DefaultInterval = time.Second

	DefaultLimitPerType = 8
	// MaxResults caps the combined list across all place types.
	MaxResults = 30

	searchPath   = "/search"
	maxErrorBody = 512
	// dedupPrefix is how much of the display name takes part in duplicate detection.
	dedupPrefix = 80
)

// Place is one health facility returned by a search. Coordinates are kept as the
// decimal strings Nominatim returns.
type Place struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Address string `json:"address"`
	Lat     string `json:"lat"`
	Lon     string `json:"lon"`
	MapURL  string `json:"map_url,omitempty"`
}

// Finder looks up health facilities near a location.
type Finder interface {
	Search(ctx context.Context, location string, limitPerType int) []Place
}

// facilityQueries are searched in order; earlier types win duplicates.
var facilityQueries = []struct {
	kind   string
	prefix string
}{
	{kind: "hospital", prefix: "hospital in "},
	{kind: "clinic", prefix: "clinic in "},
	{kind: "primary health centre", prefix: "primary health centre in "},
	{kind: "PHC", prefix: "PHC in "},
}

// Opts holds configuration for the Nominatim client.
type Opts struct {
	BaseURL    string
	UserAgent  string
	Timeout    time.Duration
	Interval   time.Duration
	HTTPClient *http.Client
}

// Option configures the client.
type Option func(*Opts)

// WithBaseURL points the client at another Nominatim instance.
func WithBaseURL(url string) Option {
	return func(o *Opts) { o.BaseURL = url }
}

// WithUserAgent sets the identifying User-Agent the usage policy requires.
func WithUserAgent(ua string) Option {
	return func(o *Opts) { o.UserAgent = ua }
}

// WithTimeout bounds every request.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// WithInterval sets the pause before each search request. Zero disables it.
func WithInterval(d time.Duration) Option {
	return func(o *Opts) { o.Interval = d }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// Client implements Finder over HTTP.
type Client struct {
	baseURL   string
	userAgent string
	interval  time.Duration
	http      *http.Client
}

var _ Finder = (*Client)(nil)

// NewClient creates a Nominatim client. No key is needed.
func NewClient(opts ...Option) *Client {
	cfg := Opts{
		BaseURL:   DefaultBaseURL,
		UserAgent: DefaultUserAgent,
		Timeout:   DefaultTimeout,
		Interval:  DefaultInterval,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Interval < 0 {
		cfg.Interval = 0
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}

	slog.Debug("Places client created", "baseURL", cfg.BaseURL, "timeout", cfg.Timeout, "interval", cfg.Interval)
	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		userAgent: cfg.UserAgent,
		interval:  cfg.Interval,
		http:      hc,
	}
}

type searchResult struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
}

type dedupKey struct {
	lat, lon, name string
}

// Search returns hospitals, clinics and primary health centres near location, at most
// MaxResults in total. A blank location, a cancelled context, or a failing service all
// give whatever was collected so far, possibly nothing.
func (c *Client) Search(ctx context.Context, location string, limitPerType int) []Place {
	loc := strings.TrimSpace(location)
	if loc == "" {
		return nil
	}
	if limitPerType <= 0 {
		limitPerType = DefaultLimitPerType
	}

	start := time.Now()
	seen := make(map[dedupKey]bool)
	var out []Place
	for _, fq := range facilityQueries {
		if err := c.wait(ctx); err != nil {
			slog.Warn("Places search interrupted", "location", loc, "error", err)
			break
		}
		rows, err := c.search(ctx, fq.prefix+loc, limitPerType)
		if err != nil {
			slog.Warn("Places search failed", "query", fq.prefix+loc, "error", err)
			continue
		}
		for _, r := range rows {
			key := dedupKey{lat: r.Lat, lon: r.Lon, name: truncate(r.DisplayName, dedupPrefix)}
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, Place{
				Name:    placeName(r),
				Type:    fq.kind,
				Address: r.DisplayName,
				Lat:     r.Lat,
				Lon:     r.Lon,
				MapURL:  OSMLink(r.Lat, r.Lon),
			})
		}
	}
	if len(out) > MaxResults {
		out = out[:MaxResults]
	}
	slog.Debug("Places search done", "location", loc, "results", len(out), "elapsed", time.Since(start))
	return out
}

func (c *Client) wait(ctx context.Context) error {
	if c.interval <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(c.interval)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (c *Client) search(ctx context.Context, q string, limit int) ([]searchResult, error) {
	params := url.Values{}
	params.Set("q", q)
	params.Set("format", "json")
	params.Set("limit", strconv.Itoa(limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+searchPath+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("nominatim error: %s - %s", resp.Status, strings.TrimSpace(string(msg)))
	}
	var rows []searchResult
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return rows, nil
}

func placeName(r searchResult) string {
	if n := strings.TrimSpace(r.Name); n != "" {
		return n
	}
	first, _, _ := strings.Cut(r.DisplayName, ",")
	if first = strings.TrimSpace(first); first != "" {
		return first
	}
	return "Unnamed facility"
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// OSMLink returns an OpenStreetMap directions link ending at the coordinates, or "" when
// either is missing.
func OSMLink(lat, lon string) string {
	if lat == "" || lon == "" {
		return ""
	}
	return "https://www.openstreetmap.org/directions?from=&to=" + lat + "%2C" + lon
}
