package geoloc

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegionCompute(t *testing.T) {
	t.Parallel()

	t.Run("bounded box over border samples", func(t *testing.T) {
		t.Parallel()
		lon, lat := buildGrids(t, 20, 10, linear(10, 50))
		src, err := newSwath(lon, lat)
		require.NoError(t, err)

		reg := newRegionCache(src).get(rect{2, 3, 6, 4})
		require.Equal(t, regionBounded, reg.kind)
		// corners (2,3) and (7,6)
		assert.InDelta(t, 10+0.05*2+0.01*3, reg.minLon, 1e-12)
		assert.InDelta(t, 10+0.05*7+0.01*6, reg.maxLon, 1e-12)
		assert.InDelta(t, 50-0.04*6+0.008*2, reg.minLat, 1e-12)
		assert.InDelta(t, 50-0.04*3+0.008*7, reg.maxLat, 1e-12)
	})

	t.Run("invalid border sample", func(t *testing.T) {
		t.Parallel()
		lon, lat := buildGrids(t, 20, 10, linear(10, 50))
		mask(lat, [2]int{7, 5})
		src, err := newSwath(lon, lat)
		require.NoError(t, err)

		cache := newRegionCache(src)
		assert.Equal(t, regionUnbounded, cache.get(rect{2, 3, 6, 4}).kind)
		// the masked sample is interior to this one
		assert.Equal(t, regionBounded, cache.get(rect{5, 2, 5, 6}).kind)
	})

	t.Run("antimeridian crossing", func(t *testing.T) {
		t.Parallel()
		lon, lat := buildGrids(t, 40, 10, acrossAntimeridian)
		src, err := newSwath(lon, lat)
		require.NoError(t, err)

		cache := newRegionCache(src)
		assert.Equal(t, regionUnbounded, cache.get(rect{0, 0, 40, 10}).kind)
		assert.Equal(t, regionBounded, cache.get(rect{0, 0, 10, 10}).kind)
	})

	t.Run("longitudes of both signs", func(t *testing.T) {
		t.Parallel()
		lon, lat := buildGrids(t, 20, 10, linear(-0.3, 50))
		src, err := newSwath(lon, lat)
		require.NoError(t, err)

		assert.Equal(t, regionUnbounded, newRegionCache(src).get(rect{0, 0, 20, 10}).kind)
	})

	t.Run("single row and column", func(t *testing.T) {
		t.Parallel()
		lon, lat := buildGrids(t, 20, 10, linear(10, 50))
		src, err := newSwath(lon, lat)
		require.NoError(t, err)

		cache := newRegionCache(src)
		row := cache.get(rect{0, 4, 20, 1})
		require.Equal(t, regionBounded, row.kind)
		assert.InDelta(t, 10+0.04, row.minLon, 1e-12)
		assert.InDelta(t, 10+0.95+0.04, row.maxLon, 1e-12)
		col := cache.get(rect{3, 0, 1, 10})
		require.Equal(t, regionBounded, col.kind)
		assert.InDelta(t, 50-0.36+0.024, col.minLat, 1e-12)
	})
}

func TestRegionIsOutside(t *testing.T) {
	t.Parallel()

	reg := region{kind: regionBounded, minLat: 40, maxLat: 42, minLon: 170, maxLon: 179.99}
	tol := DefaultTolerance

	testCases := []struct {
		name     string
		lat, lon float64
		want     bool
	}{
		{"inside", 41, 175, false},
		{"within tolerance south", 40 - tol/2, 175, false},
		{"beyond tolerance south", 40 - 2*tol, 175, true},
		{"beyond tolerance north", 42 + 2*tol, 175, true},
		{"west by more than scaled tolerance", 41, 169.8, true},
		{"west within scaled tolerance", 41, 170 - tol, false},
		{"east across the antimeridian", 41, -179.99, false},
		{"far east across the antimeridian", 41, -170, true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, reg.isOutside(tc.lat, tc.lon, tol))
		})
	}

	t.Run("longitude test skipped at the pole", func(t *testing.T) {
		polarReg := region{kind: regionBounded, minLat: 80, maxLat: 90, minLon: 10, maxLon: 20}
		assert.False(t, polarReg.isOutside(90, -100, tol))
	})

	t.Run("unbounded never prunes", func(t *testing.T) {
		assert.False(t, unbounded.isOutside(-89, 0, tol))
	})
}

func TestRegionCacheComputesOnce(t *testing.T) {
	t.Parallel()

	lon, lat := buildGrids(t, 200, 100, linear(10, 50))
	src, err := newSwath(lon, &countingSource{SampleSource: lat})
	require.NoError(t, err)
	cache := newRegionCache(src)

	r := rect{0, 0, 200, 100}
	var wg sync.WaitGroup
	results := make([]region, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = cache.get(r)
		}(i)
	}
	wg.Wait()

	for _, reg := range results {
		assert.Equal(t, results[0], reg)
	}
	assert.Equal(t, 1, cache.len())
	// one pass over the border
	assert.Equal(t, int64(2*200+2*100-4), src.lat.(*countingSource).calls())
}

type countingSource struct {
	SampleSource
	mu sync.Mutex
	n  int64
}

func (c *countingSource) Sample(x, y int) float64 {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
	return c.SampleSource.Sample(x, y)
}

func (c *countingSource) calls() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}
