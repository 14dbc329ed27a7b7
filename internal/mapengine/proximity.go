package mapengine

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"sort"
	"time"

	"github.com/fogleman/gg"

	"github.com/herald-labs/herald/internal/geo"
	"github.com/herald-labs/herald/internal/herr"
	"github.com/herald-labs/herald/internal/metrics"
	"github.com/herald-labs/herald/internal/storage"
)

// Neighbor is one pin within the query radius.
type Neighbor struct {
	Pin        *storage.MapPin
	DistanceKm float64
}

// ProximityResult is a cropped map centered on the requester plus the
// sorted list of nearby pins.
type ProximityResult struct {
	Image     []byte
	Neighbors []Neighbor
}

// Proximity finds all pins within radiusKm of the requesting user's pin
// by haversine distance, nearest first. The returned image is a cropped
// map around the user with the radius drawn as a red circle and the
// user's own pin in green.
func (e *Engine) Proximity(ctx context.Context, guildID, userID uint64, radiusKm float64) (*ProximityResult, error) {
	settings, err := e.store.MapSettings(ctx, guildID)
	if err != nil {
		return nil, err
	}
	if !settings.AllowProximity {
		return nil, herr.Newf(herr.PermanentSource, "proximity queries are disabled for this guild")
	}

	self, err := e.store.GetPin(ctx, guildID, userID)
	if err != nil {
		return nil, err
	}
	if self == nil {
		return nil, herr.Newf(herr.NotFound, "you have no pin on the map")
	}

	// Bounding-box prefilter, exact haversine check after.
	box := geo.BoundsAround(self.Lat, self.Lng, radiusKm)
	candidates, err := e.store.PinsInBounds(ctx, guildID, box.MinLat, box.MaxLat, box.MinLng, box.MaxLng)
	if err != nil {
		return nil, err
	}

	var neighbors []Neighbor
	for _, p := range candidates {
		if p.UserID == userID {
			continue
		}
		d := geo.HaversineKm(self.Lat, self.Lng, p.Lat, p.Lng)
		if d <= radiusKm {
			neighbors = append(neighbors, Neighbor{Pin: p, DistanceKm: d})
		}
	}
	sort.Slice(neighbors, func(i, j int) bool { return neighbors[i].DistanceKm < neighbors[j].DistanceKm })

	img, err := e.renderProximity(ctx, settings, self, neighbors, radiusKm)
	if err != nil {
		return nil, err
	}
	return &ProximityResult{Image: img, Neighbors: neighbors}, nil
}

// renderProximity rasterizes a crop around the user's pin. The crop gets
// 20% margin beyond the radius so the circle never touches the edge.
func (e *Engine) renderProximity(ctx context.Context, settings *storage.MapSettings, self *storage.MapPin, neighbors []Neighbor, radiusKm float64) ([]byte, error) {
	bounds := geo.BoundsAround(self.Lat, self.Lng, radiusKm*1.2)

	var out []byte
	err := e.withWorker(ctx, func() error {
		start := time.Now()
		defer func() { metrics.MapRenderSeconds.Observe(time.Since(start).Seconds()) }()

		base, err := e.renderer.RenderBase(geo.RegionCustom, bounds, settings.Visual)
		if err != nil {
			return err
		}

		width, height := e.cfg.BaseWidth, geo.ImageHeight(bounds, e.cfg.BaseWidth)
		proj := geo.NewProjection(bounds, width, height)
		dc := gg.NewContextForImage(base)

		cx, cy := proj.Pixel(self.Lat, self.Lng)
		// The circle's pixel radius comes from projecting a point radiusKm
		// due east of the user.
		edge := geo.BoundsAround(self.Lat, self.Lng, radiusKm)
		ex, _ := proj.Pixel(self.Lat, edge.MaxLng)
		dc.SetHexColor("#d62828")
		dc.SetLineWidth(2.5)
		dc.DrawCircle(cx, cy, ex-cx)
		dc.Stroke()

		pins := make([]*storage.MapPin, 0, len(neighbors))
		for _, n := range neighbors {
			pins = append(pins, n.Pin)
		}
		drawPins(dc, groupPins(proj, pins, settings.Visual.PinSize), settings.Visual)
		drawSinglePin(dc, cx, cy, float64(settings.Visual.PinSize)/2, "#2a9d2a")

		var buf bytes.Buffer
		if err := png.Encode(&buf, dc.Image()); err != nil {
			return err
		}
		out = buf.Bytes()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("proximity render: %w", err)
	}
	return out, nil
}
