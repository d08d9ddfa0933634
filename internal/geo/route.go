package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"

	"github.com/zulandar/droptrack/internal/models"
)

const earthRadiusMeters = 6371000.0

// Route is a driving route. DurationSeconds is 0 when unknown.
type Route struct {
	Points          []models.LatLng `json:"points"`
	DistanceMeters  float64         `json:"distance_meters"`
	DurationSeconds float64         `json:"duration_seconds"`
	Approximate     bool            `json:"approximate"`
}

// DurationKnown reports whether the duration came from the routing service.
func (r Route) DurationKnown() bool { return !r.Approximate && r.DurationSeconds > 0 }

// Haversine returns the great-circle distance between a and b in meters.
func Haversine(a, b models.LatLng) float64 {
	toRad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := toRad(b.Lat - a.Lat)
	dLng := toRad(b.Lng - a.Lng)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return earthRadiusMeters * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// StraightLine is the fallback route between two points.
func StraightLine(from, to models.LatLng) Route {
	return Route{
		Points:         []models.LatLng{from, to},
		DistanceMeters: Haversine(from, to),
		Approximate:    true,
	}
}

// FormatDistance renders meters as "850 m" or "2.35 km".
func FormatDistance(meters float64) string {
	if meters < 1000 {
		return fmt.Sprintf("%d m", int(math.Round(meters)))
	}
	return fmt.Sprintf("%.2f km", meters/1000)
}

// FormatDuration renders seconds as "12 min" or "1h 5min". Zero is the
// fallback value and renders as "unknown".
func FormatDuration(seconds float64) string {
	if seconds <= 0 {
		return "unknown"
	}
	minutes := int(math.Round(seconds / 60))
	if minutes < 60 {
		return fmt.Sprintf("%d min", minutes)
	}
	return fmt.Sprintf("%dh %dmin", minutes/60, minutes%60)
}

type osrmResponse struct {
	Code   string `json:"code"`
	Routes []struct {
		Distance float64 `json:"distance"`
		Duration float64 `json:"duration"`
		Geometry struct {
			Coordinates [][]float64 `json:"coordinates"` // [lng, lat]
		} `json:"geometry"`
	} `json:"routes"`
}

// Route asks the routing service for a driving route. Any failure yields
// the straight-line fallback.
func (c *Client) Route(ctx context.Context, from, to models.LatLng) Route {
	if !from.Valid() || !to.Valid() {
		c.logger.Warn().Stringer("from", from).Stringer("to", to).Msg("geo: invalid route endpoints")
		return StraightLine(from, to)
	}
	r, err := c.fetchRoute(ctx, from, to)
	if err != nil {
		c.logger.Warn().Err(err).Msg("geo: routing failed, using straight line")
		return StraightLine(from, to)
	}
	return r
}

func (c *Client) fetchRoute(ctx context.Context, from, to models.LatLng) (Route, error) {
	u := fmt.Sprintf("%s/route/v1/driving/%f,%f;%f,%f?overview=full&geometries=geojson",
		c.routeURL, from.Lng, from.Lat, to.Lng, to.Lat)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Route{}, fmt.Errorf("geo: build route request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return Route{}, fmt.Errorf("geo: route: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Route{}, fmt.Errorf("geo: route: status %d", resp.StatusCode)
	}
	var body osrmResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Route{}, fmt.Errorf("geo: decode route: %w", err)
	}
	if body.Code != "Ok" || len(body.Routes) == 0 {
		return Route{}, fmt.Errorf("geo: route: code %q", body.Code)
	}
	best := body.Routes[0]
	points := make([]models.LatLng, 0, len(best.Geometry.Coordinates))
	for _, pair := range best.Geometry.Coordinates {
		if len(pair) < 2 {
			continue
		}
		points = append(points, models.LatLng{Lat: pair[1], Lng: pair[0]})
	}
	if len(points) < 2 {
		return Route{}, fmt.Errorf("geo: route: geometry has %d points", len(points))
	}
	return Route{Points: points, DistanceMeters: best.Distance, DurationSeconds: best.Duration}, nil
}
