package geoloc

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// gcp is a ground control point: a pixel centre with its position in the
// query-centred rotated frame.
type gcp struct {
	px, py float64
	u, v   float64
	score  float64
}

// selectGCPs picks three well-conditioned control points from the winning
// window: the nearest, the farthest, and the point that best completes the
// triangle. All geometry is done in the frame centred on the query.
func selectGCPs(q *query) ([3]gcp, bool) {
	rot := NewRotation(q.lon, q.lat)

	var pts [maxLeafSamples]gcp
	n := 0
	for _, s := range q.window() {
		if !s.valid {
			continue
		}
		u, v := rot.TransformPoint(s.lon, s.lat)
		pts[n] = gcp{px: float64(s.x) + 0.5, py: float64(s.y) + 0.5, u: u, v: v, score: s.score}
		n++
	}
	if n < minLeafSamples {
		return [3]gcp{}, false
	}

	near, far := 0, 0
	for i := 1; i < n; i++ {
		if pts[i].score < pts[near].score {
			near = i
		}
		if pts[i].score > pts[far].score {
			far = i
		}
	}
	a, b := pts[near], pts[far]
	third := near
	best := triangleQuality(a, b, pts[third])
	for i := 0; i < n; i++ {
		// Strict comparison: on ties the first point in scan order stays.
		if v := triangleQuality(a, b, pts[i]); v > best {
			best = v
			third = i
		}
	}
	c := pts[third]
	cross := (b.u-a.u)*(c.v-a.v) - (b.v-a.v)*(c.u-a.u)
	ab2 := (b.u-a.u)*(b.u-a.u) + (b.v-a.v)*(b.v-a.v)
	if ab2 == 0 || math.Abs(cross) <= 1e-9*ab2 {
		return [3]gcp{}, false
	}
	return [3]gcp{a, b, c}, true
}

// triangleQuality is (AP+BP)/(AB+|AP-BP|). It grows as P moves away from
// the line AB while staying roughly equidistant from A and B.
func triangleQuality(a, b, p gcp) float64 {
	ab := math.Hypot(a.u-b.u, a.v-b.v)
	ap := math.Hypot(a.u-p.u, a.v-p.v)
	bp := math.Hypot(b.u-p.u, b.v-p.v)
	den := ab + math.Abs(ap-bp)
	if den == 0 {
		return 0
	}
	return (ap + bp) / den
}

// fitAffine solves the affine maps (u, v) -> px and (u, v) -> py through the
// control points and evaluates them at the frame origin. Three points give
// the exact solution, more a least-squares one.
func fitAffine(pts []gcp) (PixelPos, bool) {
	n := len(pts)
	if n < 3 {
		return PixelPos{}, false
	}
	a := mat.NewDense(n, 3, nil)
	b := mat.NewDense(n, 2, nil)
	for i, p := range pts {
		a.Set(i, 0, p.u)
		a.Set(i, 1, p.v)
		a.Set(i, 2, 1)
		b.Set(i, 0, p.px)
		b.Set(i, 1, p.py)
	}
	var coef mat.Dense
	if err := coef.Solve(a, b); err != nil {
		// Collinear or coincident control points.
		return PixelPos{}, false
	}
	pos := PixelPos{X: coef.At(2, 0), Y: coef.At(2, 1)}
	if !finite(pos.X) || !finite(pos.Y) {
		return PixelPos{}, false
	}
	return pos, true
}
