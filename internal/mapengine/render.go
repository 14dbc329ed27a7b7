package mapengine

import (
	"image"
	"math"

	"github.com/fogleman/gg"
	"github.com/jonas-p/go-shp"

	"github.com/herald-labs/herald/internal/geo"
	"github.com/herald-labs/herald/internal/storage"
)

// Renderer rasterizes a region from the atlas layers. It is stateless
// apart from the atlas and safe for concurrent use; the engine bounds
// concurrency with its worker pool.
type Renderer struct {
	atlas     *Atlas
	baseWidth int
}

func NewRenderer(atlas *Atlas, baseWidth int) *Renderer {
	return &Renderer{atlas: atlas, baseWidth: baseWidth}
}

// lineScale derives stroke widths from the region's area relative to
// Germany. Larger regions get proportionally thicker strokes so borders
// stay visible; world maps are thinned to avoid clutter.
func lineScale(region geo.Region, b geo.Bounds) float64 {
	ref, _ := geo.RegionBounds(geo.RegionGermany)
	ratio := b.Area() / ref.Area()
	if ratio < 1 {
		ratio = 1
	}
	w := 1 + math.Log10(ratio)*0.5
	if w < 0.3 {
		w = 0.3
	}
	if w > 8.0 {
		w = 8.0
	}
	if region == geo.RegionWorld {
		w *= 0.5
	}
	if region == geo.RegionGermany {
		w *= 1.5
	}
	return w
}

// RenderBase draws the pin-free region image: ocean, land, lakes,
// rivers, then state and country borders.
func (r *Renderer) RenderBase(region geo.Region, bounds geo.Bounds, visual storage.VisualSettings) (image.Image, error) {
	width := r.baseWidth
	height := geo.ImageHeight(bounds, width)
	proj := geo.NewProjection(bounds, width, height)
	scale := lineScale(region, bounds)

	dc := gg.NewContext(width, height)
	dc.SetHexColor(visual.WaterColor)
	dc.Clear()

	if err := r.fillLayer(dc, proj, LayerLand, visual.LandColor); err != nil {
		return nil, err
	}
	if err := r.fillLayer(dc, proj, LayerLakes, visual.WaterColor); err != nil {
		return nil, err
	}
	if err := r.strokeLayer(dc, proj, LayerRivers, visual.RiverColor, 0.8*scale); err != nil {
		return nil, err
	}
	if err := r.strokeLayer(dc, proj, LayerStates, visual.StateColor, 0.6*scale); err != nil {
		return nil, err
	}
	if err := r.strokeLayer(dc, proj, LayerCountries, visual.CountryColor, 1.0*scale); err != nil {
		return nil, err
	}

	return dc.Image(), nil
}

func (r *Renderer) fillLayer(dc *gg.Context, proj *geo.Projection, layer Layer, hexColor string) error {
	shapes, err := r.atlas.Layer(layer)
	if err != nil {
		return err
	}
	dc.SetFillRuleEvenOdd()
	dc.SetHexColor(hexColor)
	for _, s := range shapes {
		if !intersects(s.Box, proj.Bounds()) {
			continue
		}
		for _, ring := range s.Parts {
			tracePart(dc, proj, ring)
			dc.ClosePath()
		}
		dc.Fill()
	}
	return nil
}

func (r *Renderer) strokeLayer(dc *gg.Context, proj *geo.Projection, layer Layer, hexColor string, width float64) error {
	shapes, err := r.atlas.Layer(layer)
	if err != nil {
		return err
	}
	dc.SetHexColor(hexColor)
	dc.SetLineWidth(width)
	for _, s := range shapes {
		if !intersects(s.Box, proj.Bounds()) {
			continue
		}
		for _, part := range s.Parts {
			tracePart(dc, proj, part)
			dc.Stroke()
		}
	}
	return nil
}

func tracePart(dc *gg.Context, proj *geo.Projection, points []shp.Point) {
	dc.NewSubPath()
	for i, pt := range points {
		x, y := proj.Pixel(pt.Y, pt.X)
		if i == 0 {
			dc.MoveTo(x, y)
		} else {
			dc.LineTo(x, y)
		}
	}
}
