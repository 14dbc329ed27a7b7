package mapengine

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/jonas-p/go-shp"

	"github.com/herald-labs/herald/internal/geo"
)

// Layer identifies one of the vector layers the base map is drawn from.
type Layer int

const (
	LayerCountries Layer = iota
	LayerStates
	LayerLand
	LayerLakes
	LayerRivers
)

var layerFiles = map[Layer]string{
	LayerCountries: "countries.shp",
	LayerStates:    "states.shp",
	LayerLand:      "land.shp",
	LayerLakes:     "lakes.shp",
	LayerRivers:    "rivers.shp",
}

// Shape is one polygon or polyline, split into its parts (rings for
// polygons). Coordinates stay in WGS84 until projection.
type Shape struct {
	Box   geo.Bounds
	Parts [][]shp.Point
}

// Atlas lazily loads shapefile layers from the data directory and keeps
// them in memory. Layers are a few hundred MB at most and shared by
// every render.
type Atlas struct {
	dir string

	mu     sync.Mutex
	layers map[Layer][]Shape
}

func NewAtlas(dir string) *Atlas {
	return &Atlas{dir: dir, layers: make(map[Layer][]Shape)}
}

func (a *Atlas) Layer(l Layer) ([]Shape, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if shapes, ok := a.layers[l]; ok {
		return shapes, nil
	}
	shapes, err := loadShapes(filepath.Join(a.dir, layerFiles[l]))
	if err != nil {
		return nil, fmt.Errorf("load layer %s: %w", layerFiles[l], err)
	}
	a.layers[l] = shapes
	return shapes, nil
}

func loadShapes(path string) ([]Shape, error) {
	r, err := shp.Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var shapes []Shape
	for r.Next() {
		_, s := r.Shape()
		switch t := s.(type) {
		case *shp.Polygon:
			shapes = append(shapes, splitParts(t.Box, t.Parts, t.Points))
		case *shp.PolyLine:
			shapes = append(shapes, splitParts(t.Box, t.Parts, t.Points))
		}
	}
	return shapes, nil
}

func splitParts(box shp.Box, parts []int32, points []shp.Point) Shape {
	out := Shape{
		Box: geo.Bounds{MinLat: box.MinY, MaxLat: box.MaxY, MinLng: box.MinX, MaxLng: box.MaxX},
	}
	for i, start := range parts {
		end := len(points)
		if i+1 < len(parts) {
			end = int(parts[i+1])
		}
		if int(start) < end {
			out.Parts = append(out.Parts, points[start:end])
		}
	}
	return out
}

func intersects(a, b geo.Bounds) bool {
	return a.MinLng <= b.MaxLng && a.MaxLng >= b.MinLng &&
		a.MinLat <= b.MaxLat && a.MaxLat >= b.MinLat
}
