package geoloc

import (
	"math"
)

const (
	locatorLeafSize = 5
	finderLeafSize  = 2
	maxLeafSamples  = locatorLeafSize * locatorLeafSize

	// minLeafSamples is the number of valid samples a leaf needs to be kept.
	minLeafSamples = 3
)

// leafSample is one sample of a leaf window with its local-planar squared
// distance to the query.
type leafSample struct {
	x, y     int
	lon, lat float64
	score    float64
	valid    bool
}

// query is the per-lookup search state. It lives on the caller's stack.
type query struct {
	lon, lat float64
	cosLat   float64

	best float64
	n    int
	win  [maxLeafSamples]leafSample
}

func newQuery(lon, lat float64) query {
	return query{
		lon:    normalizeLon(lon),
		lat:    lat,
		cosLat: math.Cos(lat * degToRad),
		best:   math.Inf(1),
	}
}

// window returns the winning leaf's samples.
func (q *query) window() []leafSample { return q.win[:q.n] }

// score is the squared local-planar distance from the query to (lon, lat).
func (q *query) score(lon, lat float64) float64 {
	dLat := lat - q.lat
	dLon := q.cosLat * lonDelta(lon, q.lon)
	return dLat*dLat + dLon*dLon
}

// quadTree searches a swath for the leaf window closest to a query.
type quadTree struct {
	src      swath
	regions  *regionCache
	leafSize int
	tol      float64
	prune    bool
}

// find searches the whole swath. On success q holds the winning window.
func (t *quadTree) find(q *query) bool {
	return t.descend(q, rect{0, 0, t.src.width, t.src.height})
}

func (t *quadTree) descend(q *query, r rect) bool {
	if t.prune && (r.w > pruneThreshold || r.h > pruneThreshold) {
		if t.regions.get(r).isOutside(q.lat, q.lon, t.tol) {
			return false
		}
	}
	if r.w <= t.leafSize && r.h <= t.leafSize {
		return t.scoreLeaf(q, r)
	}

	splitW, splitH := r.w > t.leafSize, r.h > t.leafSize
	if r.w >= 2*r.h {
		splitH = false
	} else if r.h >= 2*r.w {
		splitW = false
	}
	xs, nx := halves(r.x, r.w, splitW, t.leafSize)
	ys, ny := halves(r.y, r.h, splitH, t.leafSize)

	found := false
	for j := 0; j < ny; j++ {
		for i := 0; i < nx; i++ {
			if t.descend(q, rect{xs[i].start, ys[j].start, xs[i].size, ys[j].size}) {
				found = true
			}
		}
	}
	return found
}

type span struct{ start, size int }

// halves splits [start, start+size) in two, each half at least leaf long and
// inside the parent. The halves overlap when size < 2*leaf.
func halves(start, size int, split bool, leaf int) ([2]span, int) {
	if !split {
		return [2]span{{start, size}}, 1
	}
	lo := max(size/2, leaf)
	hi := max(size-lo, leaf)
	return [2]span{{start, lo}, {start + size - hi, hi}}, 2
}

// scoreLeaf scores every sample of r and keeps the window when it beats the
// current best and has enough valid samples.
func (t *quadTree) scoreLeaf(q *query, r rect) bool {
	var win [maxLeafSamples]leafSample
	n, valid := 0, 0
	minScore := math.Inf(1)
	for y := r.y; y < r.y+r.h; y++ {
		for x := r.x; x < r.x+r.w; x++ {
			s := leafSample{x: x, y: y}
			if lon, lat, ok := t.src.at(x, y); ok {
				s.lon, s.lat, s.valid = lon, lat, true
				s.score = q.score(lon, lat)
				minScore = math.Min(minScore, s.score)
				valid++
			}
			win[n] = s
			n++
		}
	}
	if valid < minLeafSamples || math.IsInf(minScore, 0) || !(minScore < q.best) {
		return false
	}
	q.best = minScore
	q.win = win
	q.n = n
	return true
}
