// Package geoloc locates pixels in satellite swaths with curvilinear
// geolocation. Longitude and latitude are given as two congruent sample grids;
// the package answers pixel -> geo through rotated bilinear interpolation and
// geo -> pixel through a pruned quad-tree search followed by a local affine
// fit on three ground control points.
package geoloc

import (
	"errors"
	"fmt"
	"math"
)

// ErrDimensionMismatch is returned when the longitude and latitude sources
// do not have the same width and height.
var ErrDimensionMismatch = errors.New("longitude and latitude sources differ in size")

// SampleSource gives access to one geolocation axis of a swath.
// Sample returns NaN for missing values.
type SampleSource interface {
	Width() int
	Height() int
	Sample(x, y int) float64
}

// GeoPos is a geographic position in degrees.
type GeoPos struct{ Lon, Lat float64 }

// PixelPos is a fractional pixel position. The centre of pixel (i, j) is at
// (i+0.5, j+0.5).
type PixelPos struct{ X, Y float64 }

func (p GeoPos) String() string   { return fmt.Sprintf("(Lon: %f, Lat: %f)", p.Lon, p.Lat) }
func (p PixelPos) String() string { return fmt.Sprintf("(X: %f, Y: %f)", p.X, p.Y) }

// Grid is an in-memory, row-major SampleSource.
type Grid struct {
	width, height int
	data          []float64
}

// NewGrid wraps data, which must hold width*height values in row-major order.
// The slice is not copied and must not be modified afterwards.
func NewGrid(width, height int, data []float64) (*Grid, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid grid size %dx%d", width, height)
	}
	if len(data) != width*height {
		return nil, fmt.Errorf("grid %dx%d needs %d values, got %d", width, height, width*height, len(data))
	}
	return &Grid{width: width, height: height, data: data}, nil
}

// NewGridWithFill is NewGrid with every value equal to fill replaced by NaN.
func NewGridWithFill(width, height int, data []float64, fill float64) (*Grid, error) {
	g, err := NewGrid(width, height, data)
	if err != nil {
		return nil, err
	}
	for i, v := range g.data {
		if v == fill {
			g.data[i] = math.NaN()
		}
	}
	return g, nil
}

func (g *Grid) Width() int  { return g.width }
func (g *Grid) Height() int { return g.height }

// Sample returns NaN outside the grid.
func (g *Grid) Sample(x, y int) float64 {
	if x < 0 || x >= g.width || y < 0 || y >= g.height {
		return math.NaN()
	}
	return g.data[y*g.width+x]
}

// swath pairs the two axes and applies the longitude normalisation every
// consumer relies on.
type swath struct {
	lon, lat      SampleSource
	width, height int
}

func newSwath(lon, lat SampleSource) (swath, error) {
	if lon == nil || lat == nil {
		return swath{}, errors.New("nil sample source")
	}
	if lon.Width() != lat.Width() || lon.Height() != lat.Height() {
		return swath{}, fmt.Errorf("%w: lon %dx%d, lat %dx%d", ErrDimensionMismatch,
			lon.Width(), lon.Height(), lat.Width(), lat.Height())
	}
	return swath{lon: lon, lat: lat, width: lon.Width(), height: lon.Height()}, nil
}

// at returns the position at (x, y). ok is false when either value is missing.
func (s swath) at(x, y int) (lon, lat float64, ok bool) {
	lat = s.lat.Sample(x, y)
	if !validLat(lat) {
		return 0, 0, false
	}
	lon = s.lon.Sample(x, y)
	if math.IsNaN(lon) || math.IsInf(lon, 0) {
		return 0, 0, false
	}
	return normalizeLon(lon), lat, true
}

func validLat(lat float64) bool {
	return !math.IsNaN(lat) && lat >= -90 && lat <= 90
}

// normalizeLon folds lon into (-180, 180].
func normalizeLon(lon float64) float64 {
	if lon > 180 || lon <= -180 {
		lon = math.Mod(lon+180, 360)
		if lon <= 0 {
			lon += 360
		}
		lon -= 180
	}
	return lon
}

// lonDelta is the signed shorter-arc difference a-b in (-180, 180].
func lonDelta(a, b float64) float64 {
	return normalizeLon(a - b)
}
