// Package geo converts between addresses and coordinates and computes
// driving routes. Every lookup degrades to an approximate fallback instead
// of failing, and successful results are memoized for the process
// lifetime.
package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/zulandar/droptrack/internal/models"
)

// ErrEmptyAddress is returned for blank geocoding input.
var ErrEmptyAddress = errors.New("geo: address is empty")

// suggestionMinRunes is the shortest query Suggestions sends upstream.
const suggestionMinRunes = 3

// Location is a resolved address.
type Location struct {
	models.LatLng
	Formatted   string `json:"formatted"`
	Approximate bool   `json:"approximate"`
}

// Address is a reverse-geocoded address decomposed for form filling.
type Address struct {
	Formatted    string  `json:"formatted"`
	Street       string  `json:"street"`
	Number       string  `json:"number"`
	Neighborhood string  `json:"neighborhood"`
	City         string  `json:"city"`
	State        string  `json:"state"`
	PostalCode   string  `json:"postal_code"`
	Country      string  `json:"country"`
	Lat          float64 `json:"lat"`
	Lng          float64 `json:"lng"`
	Approximate  bool    `json:"approximate"`
}

// cache is an append-only memo table.
type cache[V any] struct {
	mu sync.Mutex
	m  map[string]V
}

func (c *cache[V]) get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.m[key]
	return v, ok
}

func (c *cache[V]) add(key string, v V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.m == nil {
		c.m = make(map[string]V)
	}
	if _, ok := c.m[key]; !ok {
		c.m[key] = v
	}
}

func (c *cache[V]) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.m)
}

// Client talks to an OpenCage-compatible geocoder and an OSRM-compatible
// router.
type Client struct {
	http        *http.Client
	geocodeURL  string
	apiKey      string
	countryCode string
	language    string
	bounds      models.Bounds
	routeURL    string
	retries     int
	retryDelay  time.Duration
	logger      *zerolog.Logger
	sleep       func(ctx context.Context, d time.Duration) error

	forward    cache[Location]
	reverse    cache[string]
	structured cache[Address]
}

// Opts holds parameters for creating a Client.
type Opts struct {
	HTTPClient  *http.Client
	GeocodeURL  string
	APIKey      string
	CountryCode string
	Language    string
	Bounds      models.Bounds
	RouteURL    string
	Retries     int // additional attempts after the first
	RetryDelay  time.Duration
	Timeout     time.Duration
	Logger      *zerolog.Logger
}

// NewClient creates a Client.
func NewClient(opts Opts) (*Client, error) {
	if opts.GeocodeURL == "" {
		return nil, fmt.Errorf("geo: geocode url is required")
	}
	if opts.RouteURL == "" {
		return nil, fmt.Errorf("geo: route url is required")
	}
	if opts.Bounds.Empty() {
		return nil, fmt.Errorf("geo: bounds are required")
	}
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = &log.Logger
	}
	retries := opts.Retries
	if retries < 0 {
		retries = 0
	}
	return &Client{
		http:        hc,
		geocodeURL:  opts.GeocodeURL,
		apiKey:      opts.APIKey,
		countryCode: opts.CountryCode,
		language:    opts.Language,
		bounds:      opts.Bounds,
		routeURL:    strings.TrimRight(opts.RouteURL, "/"),
		retries:     retries,
		retryDelay:  opts.RetryDelay,
		logger:      logger,
		sleep:       sleepCtx,
	}, nil
}

// CacheSize returns the number of memoized forward, reverse and structured
// entries.
func (c *Client) CacheSize() int {
	return c.forward.len() + c.reverse.len() + c.structured.len()
}

// --- upstream response ---

type ocResponse struct {
	Results []ocResult `json:"results"`
}

type ocResult struct {
	Formatted  string         `json:"formatted"`
	Geometry   map[string]any `json:"geometry"`
	Components map[string]any `json:"components"`
}

// point returns the numeric geometry of r.
func (r ocResult) point() (models.LatLng, bool) {
	lat, ok1 := r.Geometry["lat"].(float64)
	lng, ok2 := r.Geometry["lng"].(float64)
	if !ok1 || !ok2 {
		return models.LatLng{}, false
	}
	p := models.LatLng{Lat: lat, Lng: lng}
	return p, p.Valid()
}

// component returns the first non-empty component among keys.
func (r ocResult) component(keys ...string) string {
	for _, k := range keys {
		switch v := r.Components[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

// query calls the geocoder with retries and linear backoff. Only transport
// and HTTP failures are retried.
func (c *Client) query(ctx context.Context, q string, limit int) ([]ocResult, error) {
	params := url.Values{}
	params.Set("q", q)
	params.Set("key", c.apiKey)
	if c.language != "" {
		params.Set("language", c.language)
	}
	if c.countryCode != "" {
		params.Set("countrycode", c.countryCode)
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	u := c.geocodeURL + "?" + params.Encode()

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		results, err := c.get(ctx, u)
		if err == nil {
			return results, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt < c.retries {
			wait := c.retryDelay * time.Duration(attempt+1)
			c.logger.Debug().Err(err).Int("attempt", attempt+1).Dur("wait", wait).Msg("geo: geocode failed, retrying")
			if err := c.sleep(ctx, wait); err != nil {
				return nil, err
			}
		}
	}
	return nil, lastErr
}

func (c *Client) get(ctx context.Context, u string) ([]ocResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("geo: build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geo: geocode: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geo: geocode: status %d", resp.StatusCode)
	}
	var body ocResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("geo: decode: %w", err)
	}
	return body.Results, nil
}

// accept returns the first result with in-bounds numeric coordinates.
func (c *Client) accept(results []ocResult) (ocResult, models.LatLng, bool) {
	if len(results) == 0 {
		return ocResult{}, models.LatLng{}, false
	}
	r := results[0]
	p, ok := r.point()
	if !ok {
		c.logger.Warn().Interface("geometry", r.Geometry).Msg("geo: non-numeric coordinates")
		return ocResult{}, models.LatLng{}, false
	}
	if !c.bounds.Contains(p) {
		c.logger.Warn().Stringer("point", p).Msg("geo: result outside operating bounds")
		return ocResult{}, models.LatLng{}, false
	}
	return r, p, true
}

// --- forward ---

// Geocode resolves an address. Only blank input is an error; an unresolved
// address returns the matching fallback city flagged Approximate.
func (c *Client) Geocode(ctx context.Context, address string) (Location, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return Location{}, ErrEmptyAddress
	}
	key := strings.ToLower(address)
	if loc, ok := c.forward.get(key); ok {
		return loc, nil
	}

	results, err := c.query(ctx, address, 1)
	if err != nil {
		c.logger.Warn().Err(err).Str("address", address).Msg("geo: geocode exhausted retries")
		return fallbackLocation(address), nil
	}
	r, p, ok := c.accept(results)
	if !ok {
		return fallbackLocation(address), nil
	}
	loc := Location{LatLng: p, Formatted: r.Formatted}
	if loc.Formatted == "" {
		loc.Formatted = address
	}
	c.forward.add(key, loc)
	return loc, nil
}

func fallbackLocation(address string) Location {
	city := MatchCity(address)
	return Location{LatLng: city.Point, Formatted: city.Formatted, Approximate: true}
}

// Suggestions returns up to five in-bounds candidates for an address
// prefix. Short queries and failures yield nil.
func (c *Client) Suggestions(ctx context.Context, query string) []Location {
	query = strings.TrimSpace(query)
	if len([]rune(query)) < suggestionMinRunes {
		return nil
	}
	results, err := c.query(ctx, query, 5)
	if err != nil {
		c.logger.Debug().Err(err).Msg("geo: suggestions failed")
		return nil
	}
	var out []Location
	for _, r := range results {
		p, ok := r.point()
		if !ok || !c.bounds.Contains(p) {
			continue
		}
		out = append(out, Location{LatLng: p, Formatted: r.Formatted})
	}
	return out
}

// --- reverse ---

func coordKey(p models.LatLng) string {
	return fmt.Sprintf("%.5f,%.5f", p.Lat, p.Lng)
}

func coordQuery(p models.LatLng) string {
	return strconv.FormatFloat(p.Lat, 'f', -1, 64) + "+" + strconv.FormatFloat(p.Lng, 'f', -1, 64)
}

// Reverse returns the formatted address at lat/lng, or the coordinates
// themselves when it cannot be resolved.
func (c *Client) Reverse(ctx context.Context, lat, lng float64) string {
	p := models.LatLng{Lat: lat, Lng: lng}
	if !p.Valid() {
		return p.String()
	}
	key := coordKey(p)
	if s, ok := c.reverse.get(key); ok {
		return s
	}
	results, err := c.query(ctx, coordQuery(p), 1)
	if err != nil || len(results) == 0 || results[0].Formatted == "" {
		if err != nil {
			c.logger.Warn().Err(err).Stringer("point", p).Msg("geo: reverse geocode exhausted retries")
		}
		return p.String()
	}
	c.reverse.add(key, results[0].Formatted)
	return results[0].Formatted
}

// ReverseStructured is Reverse decomposed into address fields. The
// fallback carries the coordinates as Formatted and is flagged Approximate.
func (c *Client) ReverseStructured(ctx context.Context, lat, lng float64) Address {
	p := models.LatLng{Lat: lat, Lng: lng}
	fallback := Address{Formatted: p.String(), Number: "S/N", Lat: lat, Lng: lng, Approximate: true}
	if !p.Valid() {
		return fallback
	}
	key := coordKey(p)
	if a, ok := c.structured.get(key); ok {
		return a
	}
	results, err := c.query(ctx, coordQuery(p), 1)
	if err != nil || len(results) == 0 {
		if err != nil {
			c.logger.Warn().Err(err).Stringer("point", p).Msg("geo: structured reverse exhausted retries")
		}
		return fallback
	}
	r := results[0]
	a := Address{
		Formatted:    r.Formatted,
		Street:       r.component("road", "street", "pedestrian"),
		Number:       r.component("house_number"),
		Neighborhood: r.component("suburb", "neighbourhood", "quarter"),
		City:         r.component("city", "town", "village", "municipality"),
		State:        r.component("state_code", "state"),
		PostalCode:   r.component("postcode"),
		Country:      r.component("country"),
		Lat:          lat,
		Lng:          lng,
	}
	if a.Number == "" {
		a.Number = "S/N"
	}
	if a.Formatted == "" {
		a.Formatted = p.String()
	}
	c.structured.add(key, a)
	return a
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

