package mapengine

import (
	"fmt"
	"math"

	"github.com/fogleman/gg"
	"golang.org/x/image/font/basicfont"

	"github.com/herald-labs/herald/internal/geo"
	"github.com/herald-labs/herald/internal/storage"
)

// pinGroup is a cluster of pins that would overlap on screen. Singles
// are groups of one.
type pinGroup struct {
	X, Y float64
	Pins []*storage.MapPin
}

// groupPins clusters projected pins whose centers fall within twice the
// pin size of each other. Greedy single pass; the cluster center is the
// running mean of its members.
func groupPins(proj *geo.Projection, pins []*storage.MapPin, pinSize int) []pinGroup {
	threshold := float64(2 * pinSize)
	var groups []pinGroup
	for _, p := range pins {
		x, y := proj.Pixel(p.Lat, p.Lng)
		merged := false
		for i := range groups {
			g := &groups[i]
			if math.Hypot(g.X-x, g.Y-y) < threshold {
				n := float64(len(g.Pins))
				g.X = (g.X*n + x) / (n + 1)
				g.Y = (g.Y*n + y) / (n + 1)
				g.Pins = append(g.Pins, p)
				merged = true
				break
			}
		}
		if !merged {
			groups = append(groups, pinGroup{X: x, Y: y, Pins: []*storage.MapPin{p}})
		}
	}
	return groups
}

// drawPins renders the grouped pin set onto the context. Clusters are
// drawn as a larger circle with the member count centered inside.
func drawPins(dc *gg.Context, groups []pinGroup, visual storage.VisualSettings) {
	size := float64(visual.PinSize)
	w, h := float64(dc.Width()), float64(dc.Height())

	for _, g := range groups {
		if g.X < -size || g.X > w+size || g.Y < -size || g.Y > h+size {
			continue
		}
		if len(g.Pins) == 1 {
			drawSinglePin(dc, g.X, g.Y, size/2, pinColor(g.Pins[0], visual))
			continue
		}

		radius := size * 0.9
		dc.SetHexColor(visual.PinColor)
		dc.DrawCircle(g.X, g.Y, radius)
		dc.Fill()
		dc.SetHexColor("#ffffff")
		dc.SetLineWidth(1.5)
		dc.DrawCircle(g.X, g.Y, radius)
		dc.Stroke()

		dc.SetFontFace(basicfont.Face7x13)
		dc.DrawStringAnchored(fmt.Sprintf("%d", len(g.Pins)), g.X, g.Y, 0.5, 0.5)
	}
}

func drawSinglePin(dc *gg.Context, x, y, radius float64, hexColor string) {
	dc.SetHexColor(hexColor)
	dc.DrawCircle(x, y, radius)
	dc.Fill()
	dc.SetHexColor("#ffffff")
	dc.SetLineWidth(1.0)
	dc.DrawCircle(x, y, radius)
	dc.Stroke()
}

func pinColor(p *storage.MapPin, visual storage.VisualSettings) string {
	if p.Color != "" {
		return p.Color
	}
	return visual.PinColor
}
