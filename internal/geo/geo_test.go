package geo

import (
	"math"
	"testing"
)

func TestHaversineBerlinParis(t *testing.T) {
	d := HaversineKm(52.52, 13.405, 48.857, 2.353)
	if d < 873 || d > 883 {
		t.Fatalf("Berlin-Paris = %.1f km, want ~878", d)
	}
}

func TestHaversineSymmetry(t *testing.T) {
	a := HaversineKm(52.52, 13.405, 48.857, 2.353)
	b := HaversineKm(48.857, 2.353, 52.52, 13.405)
	if math.Abs(a-b) > 0.01 {
		t.Fatalf("asymmetric distances: %.6f vs %.6f", a, b)
	}
}

func TestHaversineZero(t *testing.T) {
	if d := HaversineKm(52.52, 13.405, 52.52, 13.405); d != 0 {
		t.Fatalf("same point distance = %f, want 0", d)
	}
}

func TestParseRegion(t *testing.T) {
	r, err := ParseRegion(" Germany ")
	if err != nil || r != RegionGermany {
		t.Fatalf("ParseRegion = %v, %v", r, err)
	}
	if _, err := ParseRegion("atlantis"); err == nil {
		t.Fatal("want error for unknown region")
	}
}

func TestRegionBoundsCoverage(t *testing.T) {
	for _, r := range Regions() {
		b, ok := RegionBounds(r)
		if !ok {
			t.Fatalf("region %s has no bounds", r)
		}
		if b.MinLat >= b.MaxLat || b.MinLng >= b.MaxLng {
			t.Fatalf("region %s has degenerate bounds %+v", r, b)
		}
	}
	if _, ok := RegionBounds(RegionCustom); ok {
		t.Fatal("custom must not resolve to fixed bounds")
	}
}

func TestImageHeightMercatorRatio(t *testing.T) {
	b, _ := RegionBounds(RegionGermany)
	width := 1500
	got := ImageHeight(b, width)

	want := float64(width) *
		(math.Log(math.Tan((90+b.MaxLat)*math.Pi/360)) - math.Log(math.Tan((90+b.MinLat)*math.Pi/360))) /
		((b.MaxLng - b.MinLng) * math.Pi / 180)
	if math.Abs(float64(got)-want) > 1 {
		t.Fatalf("height = %d, want %.1f", got, want)
	}
	if got <= 0 {
		t.Fatal("height must be positive")
	}
}

func TestProjectionCorners(t *testing.T) {
	b, _ := RegionBounds(RegionGermany)
	w, h := 1500, ImageHeight(b, 1500)
	p := NewProjection(b, w, h)

	x, y := p.Pixel(b.MaxLat, b.MinLng)
	if math.Abs(x) > 0.001 || math.Abs(y) > 0.001 {
		t.Fatalf("top-left corner projected to (%.3f, %.3f)", x, y)
	}
	x, y = p.Pixel(b.MinLat, b.MaxLng)
	if math.Abs(x-float64(w)) > 0.001 || math.Abs(y-float64(h)) > 0.001 {
		t.Fatalf("bottom-right corner projected to (%.3f, %.3f), want (%d, %d)", x, y, w, h)
	}
}

func TestProjectionXMonotonic(t *testing.T) {
	b, _ := RegionBounds(RegionEurope)
	p := NewProjection(b, 1500, ImageHeight(b, 1500))
	x1, _ := p.Pixel(50, 0)
	x2, _ := p.Pixel(50, 10)
	if x2 <= x1 {
		t.Fatalf("x not increasing with longitude: %.1f then %.1f", x1, x2)
	}
	_, y1 := p.Pixel(40, 10)
	_, y2 := p.Pixel(60, 10)
	if y2 >= y1 {
		t.Fatalf("y not decreasing with latitude: %.1f then %.1f", y1, y2)
	}
}

func TestBoundsAroundContainsRadius(t *testing.T) {
	box := BoundsAround(52.52, 13.405, 100)
	if !box.Contains(52.52, 13.405) {
		t.Fatal("center outside its own box")
	}
	// Points ~100 km due north/east must fall inside the prefilter box.
	if !box.Contains(52.52+0.89, 13.405) {
		t.Error("north edge escaped box")
	}
	if !box.Contains(52.52, 13.405+1.45) {
		t.Error("east edge escaped box")
	}
	// A point well past the radius must be outside.
	if box.Contains(55.0, 13.405) {
		t.Error("far point inside box")
	}
}
