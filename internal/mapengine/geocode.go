package mapengine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/herald-labs/herald/internal/herr"
)

// Location is a geocoded place.
type Location struct {
	Lat         float64
	Lng         float64
	DisplayName string
}

// geocode resolves a free-form query through the configured
// nominatim-style service. The first result wins.
func (e *Engine) geocode(ctx context.Context, query string) (*Location, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("format", "jsonv2")
	q.Set("limit", "1")

	body, err := e.getter.Get(ctx, e.cfg.GeocodeURL+"?"+q.Encode(), "application/json")
	if err != nil {
		return nil, fmt.Errorf("geocode %q: %w", query, err)
	}

	// Nominatim serializes coordinates as strings.
	var results []struct {
		Lat         string `json:"lat"`
		Lon         string `json:"lon"`
		DisplayName string `json:"display_name"`
	}
	if err := json.Unmarshal(body, &results); err != nil {
		return nil, fmt.Errorf("geocode %q: %w", query, err)
	}
	if len(results) == 0 {
		return nil, herr.Newf(herr.NotFound, "no location found for %q", query)
	}

	lat, err := strconv.ParseFloat(results[0].Lat, 64)
	if err != nil {
		return nil, fmt.Errorf("geocode %q: bad latitude %q", query, results[0].Lat)
	}
	lng, err := strconv.ParseFloat(results[0].Lon, 64)
	if err != nil {
		return nil, fmt.Errorf("geocode %q: bad longitude %q", query, results[0].Lon)
	}
	return &Location{Lat: lat, Lng: lng, DisplayName: results[0].DisplayName}, nil
}
