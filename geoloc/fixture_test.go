package geoloc

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

// sampler returns the longitude and latitude observed by sample (i, j).
type sampler func(i, j int) (lon, lat float64)

func buildGrids(t *testing.T, w, h int, f sampler) (*Grid, *Grid) {
	t.Helper()
	lons := make([]float64, w*h)
	lats := make([]float64, w*h)
	for j := 0; j < h; j++ {
		for i := 0; i < w; i++ {
			lons[j*w+i], lats[j*w+i] = f(i, j)
		}
	}
	lonGrid, err := NewGrid(w, h, lons)
	require.NoError(t, err)
	latGrid, err := NewGrid(w, h, lats)
	require.NoError(t, err)
	return lonGrid, latGrid
}

// linear is a sheared, rotated swath similar to a cross-track scanner.
func linear(lon0, lat0 float64) sampler {
	return func(i, j int) (float64, float64) {
		return lon0 + 0.05*float64(i) + 0.01*float64(j),
			lat0 - 0.04*float64(j) + 0.008*float64(i)
	}
}

// acrossAntimeridian starts at 179E and runs east across the date line,
// folding longitudes once they pass 180.
func acrossAntimeridian(i, j int) (float64, float64) {
	lon := 179.0 + 0.05*float64(i) + 0.005*float64(j)
	if lon > 180 {
		lon -= 360
	}
	return lon, 10 - 0.05*float64(j)
}

// polar is an azimuthal equidistant grid centred on the north pole with
// 5 km spacing, centred on sample (40, 40).
func polar(i, j int) (float64, float64) {
	const kmPerDeg = 111.195
	x := float64(i-40) * 5
	y := float64(j-40) * 5
	r := math.Hypot(x, y)
	return math.Atan2(y, x) * radToDeg, 90 - r/kmPerDeg
}

func mask(g *Grid, pixels ...[2]int) {
	for _, p := range pixels {
		g.data[p[1]*g.width+p[0]] = math.NaN()
	}
}
