// Package geo holds the WGS84 region catalog and the Web-Mercator
// projection used by the map renderer.
package geo

import (
	"fmt"
	"math"
	"strings"
)

// Bounds is a WGS84 bounding box. Latitudes are clamped to the Mercator
// usable range before projection.
type Bounds struct {
	MinLat float64
	MaxLat float64
	MinLng float64
	MaxLng float64
}

func (b Bounds) Contains(lat, lng float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lng >= b.MinLng && lng <= b.MaxLng
}

// Width returns the longitudinal extent in degrees.
func (b Bounds) Width() float64 { return b.MaxLng - b.MinLng }

// Area is a rough surface measure (degree² scaled by mid-latitude
// cosine), good enough for relative line-width scaling.
func (b Bounds) Area() float64 {
	midLat := (b.MinLat + b.MaxLat) / 2
	return (b.MaxLat - b.MinLat) * b.Width() * math.Cos(midLat*math.Pi/180)
}

// Region names a predefined bounding box. Custom carries its own box.
type Region string

const (
	RegionGermany      Region = "germany"
	RegionEurope       Region = "europe"
	RegionNorthAmerica Region = "north-america"
	RegionSouthAmerica Region = "south-america"
	RegionAsia         Region = "asia"
	RegionAfrica       Region = "africa"
	RegionOceania      Region = "oceania"
	RegionWorld        Region = "world"
	RegionCustom       Region = "custom"
)

var regionBounds = map[Region]Bounds{
	RegionGermany:      {MinLat: 47.2, MaxLat: 55.1, MinLng: 5.8, MaxLng: 15.1},
	RegionEurope:       {MinLat: 34.5, MaxLat: 71.5, MinLng: -11.0, MaxLng: 41.0},
	RegionNorthAmerica: {MinLat: 7.0, MaxLat: 72.0, MinLng: -168.0, MaxLng: -52.0},
	RegionSouthAmerica: {MinLat: -56.0, MaxLat: 13.0, MinLng: -82.0, MaxLng: -34.0},
	RegionAsia:         {MinLat: -11.0, MaxLat: 62.0, MinLng: 25.0, MaxLng: 150.0},
	RegionAfrica:       {MinLat: -35.0, MaxLat: 37.5, MinLng: -18.0, MaxLng: 52.0},
	RegionOceania:      {MinLat: -48.0, MaxLat: 0.0, MinLng: 110.0, MaxLng: 180.0},
	RegionWorld:        {MinLat: -60.0, MaxLat: 75.0, MinLng: -180.0, MaxLng: 180.0},
}

// ParseRegion normalizes a user-supplied region name.
func ParseRegion(s string) (Region, error) {
	r := Region(strings.ToLower(strings.TrimSpace(s)))
	if r == RegionCustom {
		return r, nil
	}
	if _, ok := regionBounds[r]; !ok {
		return "", fmt.Errorf("unknown region %q", s)
	}
	return r, nil
}

// RegionBounds returns the box for a named region. Custom regions carry
// their bounds elsewhere and are not resolvable here.
func RegionBounds(r Region) (Bounds, bool) {
	b, ok := regionBounds[r]
	return b, ok
}

// Regions lists the predefined region names.
func Regions() []Region {
	return []Region{
		RegionGermany, RegionEurope, RegionNorthAmerica, RegionSouthAmerica,
		RegionAsia, RegionAfrica, RegionOceania, RegionWorld,
	}
}

// mercatorY is the unscaled Web-Mercator ordinate for a latitude.
func mercatorY(lat float64) float64 {
	return math.Log(math.Tan((90 + lat) * math.Pi / 360))
}

// ImageHeight derives the pixel height that keeps the region's
// Web-Mercator aspect ratio at the given width.
func ImageHeight(b Bounds, width int) int {
	h := float64(width) * (mercatorY(b.MaxLat) - mercatorY(b.MinLat)) / (b.Width() * math.Pi / 180)
	if h < 1 {
		h = 1
	}
	return int(math.Round(h))
}

// Projection maps WGS84 coordinates into pixel space for one rendered
// region image.
type Projection struct {
	bounds Bounds
	width  int
	height int

	yMin, yMax float64
}

func NewProjection(b Bounds, width, height int) *Projection {
	return &Projection{
		bounds: b,
		width:  width,
		height: height,
		yMin:   mercatorY(b.MinLat),
		yMax:   mercatorY(b.MaxLat),
	}
}

func (p *Projection) Bounds() Bounds { return p.bounds }
func (p *Projection) Size() (int, int) { return p.width, p.height }

// Pixel projects a coordinate. Points outside the bounds project outside
// the image; callers clip.
func (p *Projection) Pixel(lat, lng float64) (float64, float64) {
	x := (lng - p.bounds.MinLng) / p.bounds.Width() * float64(p.width)
	y := (p.yMax - mercatorY(lat)) / (p.yMax - p.yMin) * float64(p.height)
	return x, y
}

const earthRadiusKm = 6371.0

// HaversineKm is the great-circle distance between two WGS84 points.
func HaversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLng := (lng2 - lng1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(a))
}

// BoundsAround returns the bounding box covering a radius around a
// point, used to prefetch proximity candidates before the exact
// haversine check.
func BoundsAround(lat, lng, radiusKm float64) Bounds {
	dLat := radiusKm / earthRadiusKm * 180 / math.Pi
	cos := math.Cos(lat * math.Pi / 180)
	if cos < 0.01 {
		cos = 0.01
	}
	dLng := dLat / cos
	return Bounds{
		MinLat: math.Max(lat-dLat, -89.9),
		MaxLat: math.Min(lat+dLat, 89.9),
		MinLng: math.Max(lng-dLng, -180),
		MaxLng: math.Min(lng+dLng, 180),
	}
}
