package geoloc

import (
	"math"
)

// geoLocation interpolates the position seen at the fractional pixel (px, py).
// The four surrounding samples are rotated into a frame centred on their own
// centroid before the bilinear step, which keeps cells spanning the
// antimeridian or close to a pole well behaved.
func (s swath) geoLocation(px, py float64) (GeoPos, bool) {
	if s.width == 1 && s.height == 1 {
		lon, lat := s.lon.Sample(0, 0), s.lat.Sample(0, 0)
		if !finite(lon) || !finite(lat) {
			return GeoPos{}, false
		}
		return GeoPos{Lon: lon, Lat: lat}, true
	}
	if !(px >= 0 && px < float64(s.width)) || !(py >= 0 && py < float64(s.height)) {
		return GeoPos{}, false
	}

	x0, tx := cellIndex(px, s.width)
	y0, ty := cellIndex(py, s.height)
	x1, y1 := min(x0+1, s.width-1), min(y0+1, s.height-1)

	var lons, lats [4]float64
	corners := [4][2]int{{x0, y0}, {x1, y0}, {x0, y1}, {x1, y1}}
	for i, c := range corners {
		lon, lat, ok := s.at(c[0], c[1])
		if !ok {
			return s.nearest(px, py, x0, x1, y0, y1)
		}
		lons[i], lats[i] = lon, lat
	}

	rot, ok := NewRotationFromPoints(lons[:], lats[:])
	if !ok {
		return s.nearest(px, py, x0, x1, y0, y1)
	}
	rot.Transform(lons[:], lats[:])
	u := bilinear(lons, tx, ty)
	v := bilinear(lats, tx, ty)
	lon, lat := rot.InverseTransformPoint(u, v)
	return GeoPos{Lon: normalizeLon(lon), Lat: lat}, true
}

// nearest returns the corner sample containing (px, py).
func (s swath) nearest(px, py float64, x0, x1, y0, y1 int) (GeoPos, bool) {
	x := clampInt(int(math.Floor(px)), x0, x1)
	y := clampInt(int(math.Floor(py)), y0, y1)
	lon, lat, ok := s.at(x, y)
	if !ok {
		return GeoPos{}, false
	}
	return GeoPos{Lon: lon, Lat: lat}, true
}

// cellIndex returns the lower sample index of the cell enclosing p and the
// fractional offset of p from that sample's centre. Offsets below 0.5 belong
// to the cell of the previous sample. Edge cells extrapolate.
func cellIndex(p float64, n int) (int, float64) {
	if n == 1 {
		return 0, 0
	}
	i := int(math.Floor(p))
	if p-float64(i) < 0.5 {
		i--
	}
	i = clampInt(i, 0, n-2)
	return i, p - (float64(i) + 0.5)
}

// bilinear interpolates corner values ordered (x0,y0), (x1,y0), (x0,y1), (x1,y1).
func bilinear(v [4]float64, tx, ty float64) float64 {
	return (1-tx)*(1-ty)*v[0] + tx*(1-ty)*v[1] + (1-tx)*ty*v[2] + tx*ty*v[3]
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
