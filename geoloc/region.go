package geoloc

import (
	"math"
	"sync"
)

const (
	// DefaultTolerance is roughly half the footprint of a 10 km pixel, in degrees.
	DefaultTolerance = 0.045

	// pruneThreshold is the rectangle size above which the region cache is consulted.
	pruneThreshold = 64
)

type rect struct{ x, y, w, h int }

type regionKind uint8

const (
	regionBounded regionKind = iota
	// regionUnbounded rectangles cannot be safely pruned and are always descended.
	regionUnbounded
)

// region is a conservative lat/lon box over the border of an index rectangle.
type region struct {
	kind                           regionKind
	minLat, maxLat, minLon, maxLon float64
}

var unbounded = region{kind: regionUnbounded}

// isOutside reports whether (lat, lon) lies more than tol degrees outside the
// region. Unbounded regions never report true.
func (r region) isOutside(lat, lon, tol float64) bool {
	if r.kind == regionUnbounded {
		return false
	}
	if lat < r.minLat-tol || lat > r.maxLat+tol {
		return true
	}
	// Longitude degrees shrink with cos(lat); near the poles the scaled
	// tolerance blows up and the test is skipped.
	lonTol := tol / math.Cos(lat*degToRad)
	if !(lonTol >= 0) || math.IsInf(lonTol, 0) {
		return false
	}
	if lon >= r.minLon && lon <= r.maxLon {
		return false
	}
	d := math.Min(math.Abs(lonDelta(lon, r.minLon)), math.Abs(lonDelta(lon, r.maxLon)))
	return d > lonTol
}

// regionCache memoises the region of every rectangle the search asks about.
// The sources never change so entries are never invalidated.
type regionCache struct {
	src swath

	mu      sync.Mutex
	regions map[rect]region
}

func newRegionCache(src swath) *regionCache {
	return &regionCache{src: src, regions: make(map[rect]region)}
}

// get returns the region for r, computing it at most once. The lock is held
// while computing so that concurrent callers never scan the same border twice.
func (c *regionCache) get(r rect) region {
	c.mu.Lock()
	defer c.mu.Unlock()
	if reg, ok := c.regions[r]; ok {
		return reg
	}
	reg := c.compute(r)
	c.regions[r] = reg
	return reg
}

func (c *regionCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.regions)
}

// compute walks the border of r clockwise from its top-left corner.
func (c *regionCache) compute(r rect) region {
	b := borderScan{
		minLat: math.Inf(1), maxLat: math.Inf(-1),
		minLon: math.Inf(1), maxLon: math.Inf(-1),
	}
	x1, y1 := r.x+r.w-1, r.y+r.h-1

	for x := r.x; x <= x1; x++ {
		if !b.add(c.src, x, r.y) {
			return unbounded
		}
	}
	for y := r.y + 1; y <= y1; y++ {
		if !b.add(c.src, x1, y) {
			return unbounded
		}
	}
	if y1 > r.y {
		for x := x1 - 1; x >= r.x; x-- {
			if !b.add(c.src, x, y1) {
				return unbounded
			}
		}
	}
	if x1 > r.x {
		for y := y1 - 1; y > r.y; y-- {
			if !b.add(c.src, r.x, y) {
				return unbounded
			}
		}
	}

	// Mixed signs stand in for "may contain a pole or be non-convex in
	// longitude".
	if b.negative && b.positive {
		return unbounded
	}
	return region{
		kind:   regionBounded,
		minLat: b.minLat, maxLat: b.maxLat,
		minLon: b.minLon, maxLon: b.maxLon,
	}
}

type borderScan struct {
	minLat, maxLat, minLon, maxLon float64
	lastLon                          float64
	started                          bool
	negative, positive               bool
}

// add folds the sample at (x, y) into the scan. It returns false when the
// rectangle has to be treated as unbounded.
func (b *borderScan) add(src swath, x, y int) bool {
	lon, lat, ok := src.at(x, y)
	if !ok {
		return false
	}
	if b.started && math.Abs(lon-b.lastLon) > 180 {
		return false
	}
	b.started = true
	b.lastLon = lon
	if lon < 0 {
		b.negative = true
	} else if lon > 0 {
		b.positive = true
	}
	b.minLat = math.Min(b.minLat, lat)
	b.maxLat = math.Max(b.maxLat, lat)
	b.minLon = math.Min(b.minLon, lon)
	b.maxLon = math.Max(b.maxLon, lon)
	return true
}
