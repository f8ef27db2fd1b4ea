package geoloc

import (
	"math"
)

const (
	degToRad = math.Pi / 180
	radToDeg = 180 / math.Pi
)

// Rotation re-expresses geographic coordinates in a frame whose origin
// (0, 0) is a chosen point on the sphere. Close to the origin the rotated
// coordinates behave like planar ones: there is no +/-180 wrap and no
// cos(lat) shrinking of longitude differences.
//
// A Rotation is immutable and safe for concurrent use.
type Rotation struct {
	m [3][3]float64
}

// NewRotation returns the rotation moving (lon, lat) to (0, 0): a rotation
// about the polar axis bringing lon to 0 followed by a rotation about the
// y axis bringing lat to 0.
func NewRotation(lon, lat float64) Rotation {
	return NewRotationWithRoll(lon, lat, 0)
}

// NewRotationWithRoll is NewRotation followed by a rotation of roll degrees
// about the x axis through the new origin.
func NewRotationWithRoll(lon, lat, roll float64) Rotation {
	su, cu := math.Sincos(lon * degToRad)
	sv, cv := math.Sincos(lat * degToRad)
	sw, cw := math.Sincos(roll * degToRad)

	// Ry(lat) * Rz(-lon)
	r := [3][3]float64{
		{cv * cu, cv * su, sv},
		{-su, cu, 0},
		{-sv * cu, -sv * su, cv},
	}
	if roll == 0 {
		return Rotation{m: r}
	}

	// Rx(roll) * r
	var m [3][3]float64
	m[0] = r[0]
	for j := 0; j < 3; j++ {
		m[1][j] = cw*r[1][j] + sw*r[2][j]
		m[2][j] = -sw*r[1][j] + cw*r[2][j]
	}
	return Rotation{m: m}
}

// NewRotationFromPoints centres the frame on the renormalised mean of the
// points' unit vectors. Entries with a NaN or infinite coordinate are skipped.
// ok is false when no usable point remains or the mean vector vanishes.
func NewRotationFromPoints(lons, lats []float64) (r Rotation, ok bool) {
	var sx, sy, sz float64
	n := min(len(lons), len(lats))
	count := 0
	for i := 0; i < n; i++ {
		if !finite(lons[i]) || !finite(lats[i]) {
			continue
		}
		x, y, z := toCartesian(lons[i], lats[i])
		sx += x
		sy += y
		sz += z
		count++
	}
	if count == 0 {
		return Rotation{}, false
	}
	norm := math.Sqrt(sx*sx + sy*sy + sz*sz)
	if norm < 1e-12 {
		return Rotation{}, false
	}
	lon, lat := fromCartesian(sx/norm, sy/norm, sz/norm)
	return NewRotation(lon, lat), true
}

// Transform rotates the points in place.
func (r Rotation) Transform(lons, lats []float64) {
	n := min(len(lons), len(lats))
	for i := 0; i < n; i++ {
		lons[i], lats[i] = r.apply(false, lons[i], lats[i])
	}
}

// InverseTransform undoes Transform in place.
func (r Rotation) InverseTransform(lons, lats []float64) {
	n := min(len(lons), len(lats))
	for i := 0; i < n; i++ {
		lons[i], lats[i] = r.apply(true, lons[i], lats[i])
	}
}

// TransformPoint rotates a single point.
func (r Rotation) TransformPoint(lon, lat float64) (float64, float64) {
	return r.apply(false, lon, lat)
}

// InverseTransformPoint undoes TransformPoint.
func (r Rotation) InverseTransformPoint(lon, lat float64) (float64, float64) {
	return r.apply(true, lon, lat)
}

func (r Rotation) apply(transpose bool, lon, lat float64) (float64, float64) {
	m := &r.m
	x, y, z := toCartesian(lon, lat)
	var u, v, w float64
	if transpose {
		u = m[0][0]*x + m[1][0]*y + m[2][0]*z
		v = m[0][1]*x + m[1][1]*y + m[2][1]*z
		w = m[0][2]*x + m[1][2]*y + m[2][2]*z
	} else {
		u = m[0][0]*x + m[0][1]*y + m[0][2]*z
		v = m[1][0]*x + m[1][1]*y + m[1][2]*z
		w = m[2][0]*x + m[2][1]*y + m[2][2]*z
	}
	return fromCartesian(u, v, w)
}

func toCartesian(lon, lat float64) (x, y, z float64) {
	sl, cl := math.Sincos(lon * degToRad)
	sp, cp := math.Sincos(lat * degToRad)
	return cp * cl, cp * sl, sp
}

// fromCartesian expects a unit vector.
func fromCartesian(x, y, z float64) (lon, lat float64) {
	z = math.Max(-1, math.Min(1, z))
	lat = math.Asin(z) * radToDeg
	lon = math.Atan2(y, x) * radToDeg
	if lon <= -180 {
		lon = 180
	}
	return lon, lat
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
