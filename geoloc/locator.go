package geoloc

import (
	"log/slog"
)

// Options tunes a PixelLocator or PixelFinder. The zero value is usable.
type Options struct {
	// Tolerance in degrees by which a query may lie outside a rectangle's
	// bounding region before the rectangle is pruned. It is also the largest
	// distance at which PixelFinder reports a sample, so it should exceed
	// half the diagonal of a sample cell. Defaults to DefaultTolerance.
	Tolerance float64

	// DisablePruning makes the search descend into every rectangle.
	DisablePruning bool

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

func (o *Options) withDefaults() Options {
	var opts Options
	if o != nil {
		opts = *o
	}
	if opts.Tolerance <= 0 {
		opts.Tolerance = DefaultTolerance
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return opts
}

func newQuadTree(src swath, leafSize int, opts Options) *quadTree {
	return &quadTree{
		src:      src,
		regions:  newRegionCache(src),
		leafSize: leafSize,
		tol:      opts.Tolerance,
		prune:    !opts.DisablePruning,
	}
}

// PixelLocator converts between pixel and geographic positions with
// sub-pixel accuracy. It is safe for concurrent use.
type PixelLocator struct {
	src  swath
	tree *quadTree
}

// NewPixelLocator builds a locator over the longitude and latitude sources.
// The sources must not change for the lifetime of the locator.
func NewPixelLocator(lon, lat SampleSource, opts *Options) (*PixelLocator, error) {
	src, err := newSwath(lon, lat)
	if err != nil {
		return nil, err
	}
	o := opts.withDefaults()
	o.Logger.Debug("pixel locator ready", "width", src.width, "height", src.height,
		"tolerance", o.Tolerance, "pruning", !o.DisablePruning)
	return &PixelLocator{src: src, tree: newQuadTree(src, locatorLeafSize, o)}, nil
}

// Width and Height return the swath dimensions.
func (l *PixelLocator) Width() int  { return l.src.width }
func (l *PixelLocator) Height() int { return l.src.height }

// GetGeoLocation returns the geographic position observed at pixel (x, y).
func (l *PixelLocator) GetGeoLocation(x, y float64) (GeoPos, bool) {
	return l.src.geoLocation(x, y)
}

// GetPixelLocation returns the fractional pixel observing (lon, lat).
func (l *PixelLocator) GetPixelLocation(lon, lat float64) (PixelPos, bool) {
	if !finite(lon) || !validLat(lat) {
		return PixelPos{}, false
	}
	q := newQuery(lon, lat)
	if !l.tree.find(&q) {
		return PixelPos{}, false
	}
	pts, ok := selectGCPs(&q)
	if !ok {
		return PixelPos{}, false
	}
	pos, ok := fitAffine(pts[:])
	if !ok || !l.contains(pos) {
		return PixelPos{}, false
	}
	return pos, true
}

func (l *PixelLocator) contains(p PixelPos) bool {
	return p.X >= 0 && p.X < float64(l.src.width) && p.Y >= 0 && p.Y < float64(l.src.height)
}

// PixelFinder finds the pixel nearest to a geographic position without
// sub-pixel refinement. It is safe for concurrent use.
//
// A position counts as covered when its nearest sample lies within the
// search tolerance. The tolerance must exceed half the sample spacing for
// every position inside the swath to be found.
type PixelFinder struct {
	tree *quadTree
	// maxScore is the squared tolerance a winning sample must not exceed.
	maxScore float64
}

// NewPixelFinder builds a finder over the longitude and latitude sources.
func NewPixelFinder(lon, lat SampleSource, opts *Options) (*PixelFinder, error) {
	src, err := newSwath(lon, lat)
	if err != nil {
		return nil, err
	}
	o := opts.withDefaults()
	o.Logger.Debug("pixel finder ready", "width", src.width, "height", src.height)
	return &PixelFinder{tree: newQuadTree(src, finderLeafSize, o), maxScore: o.Tolerance * o.Tolerance}, nil
}

// FindPixel returns the centre of the pixel whose sample is nearest to (lon, lat).
// Positions farther than the tolerance from every sample are not found.
func (f *PixelFinder) FindPixel(lon, lat float64) (PixelPos, bool) {
	if !finite(lon) || !validLat(lat) {
		return PixelPos{}, false
	}
	q := newQuery(lon, lat)
	if !f.tree.find(&q) {
		return PixelPos{}, false
	}
	var best *leafSample
	for i, s := range q.window() {
		if s.valid && (best == nil || s.score < best.score) {
			best = &q.win[i]
		}
	}
	// Within the tolerance no rectangle holding the sample is pruned, so the
	// answer does not depend on pruning.
	if best == nil || best.score > f.maxScore {
		return PixelPos{}, false
	}
	return PixelPos{X: float64(best.x) + 0.5, Y: float64(best.y) + 0.5}, true
}
