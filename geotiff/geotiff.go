// Package geotiff reads single-band tiled GeoTIFFs (COGs) holding swath
// geolocation, typically one file for longitude and one for latitude. A
// GeoTIFF satisfies geoloc.SampleSource.
package geotiff

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/karlseguin/ccache/v3"
	"golang.org/x/sync/singleflight"
)

const tileTTL = 10 * time.Minute

// GeoTIFF is a parsed GeoTIFF with a cache of decoded tiles. It is safe for
// concurrent use.
type GeoTIFF struct {
	// reader must also implement io.ReaderAt; tiles are fetched with ReadAt.
	reader    io.ReadSeeker
	byteOrder binary.ByteOrder
	tags      Tags
	isBigTIFF bool

	width, height          int
	tileWidth, tileHeight  int
	tilesAcross, tilesDown int
	tileKeys               []string
	tileOffsets            []uint64
	tileByteCounts         []uint64

	bitsPerSample uint16
	sampleFormat  uint16
	compression   uint16
	predictor     uint16

	noData    float64
	hasNoData bool

	// Scale multiplies integer samples, e.g. 1e-6 for micro-degrees.
	Scale float64

	// tileCache holds decoded tiles as []float64, so a cache hit costs
	// nothing beyond the lookup.
	tileCache *ccache.Cache[[]float64]

	// inflightData collapses concurrent loads of one tile into one read.
	inflightData singleflight.Group
	// inflightPrefetch makes sure the neighbours of a tile are prefetched once.
	inflightPrefetch singleflight.Group

	// last is the most recently sampled tile; consecutive samples mostly
	// fall in the same tile.
	last atomic.Pointer[decodedTile]

	logger *slog.Logger
	// failedTiles records tiles whose read failure was already logged.
	failedTiles sync.Map
}

type decodedTile struct {
	num  int
	data []float64
}

// Open parses the first IFD of r. cacheSize is the number of decoded tiles
// kept in memory; itemsToPrune is how many are dropped when the cache is full.
func Open(r io.ReadSeeker, cacheSize int64, itemsToPrune uint32) (*GeoTIFF, error) {
	tags, header, err := readTags(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read tiff tags: %w", err)
	}

	g := &GeoTIFF{
		reader:    r,
		tags:      tags,
		byteOrder: header.byteOrder,
		isBigTIFF: header.isBigTIFF,
		Scale:     1,
		tileCache: ccache.New(ccache.Configure[[]float64]().MaxSize(cacheSize).ItemsToPrune(itemsToPrune)),
		logger:    slog.Default(),
	}

	required := []struct {
		tag Tag
		dst *int
	}{
		{ImageWidth, &g.width},
		{ImageLength, &g.height},
		{TileWidth, &g.tileWidth},
		{TileLength, &g.tileHeight},
	}
	for _, f := range required {
		v, ok := tags.uint(f.tag)
		if !ok || v == 0 {
			return nil, fmt.Errorf("missing or invalid tag: %s", f.tag)
		}
		*f.dst = int(v)
	}
	g.tilesAcross = (g.width + g.tileWidth - 1) / g.tileWidth
	g.tilesDown = (g.height + g.tileHeight - 1) / g.tileHeight
	g.tileKeys = make([]string, g.tilesAcross*g.tilesDown)
	for i := range g.tileKeys {
		g.tileKeys[i] = strconv.Itoa(i)
	}

	if spp, ok := tags.uint(SamplesPerPixel); ok && spp != 1 {
		return nil, fmt.Errorf("unsupported samples per pixel: %d", spp)
	}

	g.bitsPerSample = uint16(tagOr(tags, BitsPerSample, 32))
	g.sampleFormat = uint16(tagOr(tags, SampleFormat, SampleFormatFloat))
	g.compression = uint16(tagOr(tags, Compression, Uncompressed))
	g.predictor = uint16(tagOr(tags, Predictor, PredictorNone))

	if _, err := g.decoder(); err != nil {
		return nil, err
	}
	switch g.compression {
	case Uncompressed, DEFLATE, AdobeDeflate:
	default:
		return nil, fmt.Errorf("unsupported compression type: %d", g.compression)
	}

	var ok bool
	if g.tileOffsets, ok = tags.uint64Slice(TileOffsets); !ok {
		return nil, errors.New("missing or invalid tag: TileOffsets")
	}
	if g.tileByteCounts, ok = tags.uint64Slice(TileByteCounts); !ok {
		return nil, errors.New("missing or invalid tag: TileByteCounts")
	}
	if n := g.tilesAcross * g.tilesDown; len(g.tileOffsets) < n || len(g.tileByteCounts) < n {
		return nil, fmt.Errorf("expected %d tiles, got %d offsets and %d byte counts",
			n, len(g.tileOffsets), len(g.tileByteCounts))
	}

	g.noData, g.hasNoData = tags.noData()
	return g, nil
}

func tagOr(tags Tags, tag Tag, def uint64) uint64 {
	if v, ok := tags.uint(tag); ok {
		return v
	}
	return def
}

// Width returns the image width in pixels.
func (g *GeoTIFF) Width() int { return g.width }

// Height returns the image height in pixels.
func (g *GeoTIFF) Height() int { return g.height }

// Tags returns the parsed fields of the first IFD.
func (g *GeoTIFF) Tags() Tags { return g.tags }

// Sample returns the value at (x, y), or NaN when the pixel is outside the
// image, equals the nodata value, or its tile cannot be read. A tile read
// failure is logged once per tile.
func (g *GeoTIFF) Sample(x, y int) float64 {
	if x < 0 || x >= g.width || y < 0 || y >= g.height {
		return math.NaN()
	}
	v, err := g.Value(x, y)
	if err != nil {
		tileNum := g.tileNum(x, y)
		if _, logged := g.failedTiles.LoadOrStore(tileNum, struct{}{}); !logged {
			g.logger.Warn("unreadable tile, its samples are missing",
				"tile", tileNum, "error", err)
		}
		return math.NaN()
	}
	return v
}

func (g *GeoTIFF) tileNum(x, y int) int {
	return (y/g.tileHeight)*g.tilesAcross + x/g.tileWidth
}

// Value returns the value at (x, y). Nodata pixels are NaN.
func (g *GeoTIFF) Value(x, y int) (float64, error) {
	if x < 0 || x >= g.width || y < 0 || y >= g.height {
		return 0, errors.New("point lies outside image")
	}

	tileNum := g.tileNum(x, y)
	var tile []float64
	if last := g.last.Load(); last != nil && last.num == tileNum {
		tile = last.data
	} else {
		data, cached, err := g.tileData(tileNum)
		if err != nil {
			return 0, fmt.Errorf("failed to get data for tile %d: %w", tileNum, err)
		}
		if !cached {
			g.prefetch(tileNum)
		}
		g.last.Store(&decodedTile{num: tileNum, data: data})
		tile = data
	}

	i := (y%g.tileHeight)*g.tileWidth + x%g.tileWidth
	if i >= len(tile) {
		return 0, fmt.Errorf("pixel index %d out of tile bounds (%d)", i, len(tile))
	}
	return tile[i], nil
}

// prefetch loads the neighbours of tileNum in the background, at most once
// per minute per tile. It is only triggered by cache misses.
func (g *GeoTIFF) prefetch(tileNum int) {
	key := "prefetch-" + g.tileKeys[tileNum]
	go g.inflightPrefetch.Do(key, func() (interface{}, error) {
		g.prefetchNeighbors(tileNum)
		time.AfterFunc(time.Minute, func() {
			g.inflightPrefetch.Forget(key)
		})
		return nil, nil
	})
}

// tileData returns the decoded tile, loading it on a cache miss. cached
// reports whether the tile was already in memory.
func (g *GeoTIFF) tileData(tileNum int) (tile []float64, cached bool, err error) {
	key := g.tileKeys[tileNum]
	if item := g.tileCache.Get(key); item != nil && !item.Expired() {
		return item.Value(), true, nil
	}

	v, err, _ := g.inflightData.Do(key, func() (interface{}, error) {
		raw, err := g.fetchAndDecompressTile(tileNum)
		if err != nil {
			return nil, err
		}
		decode, err := g.decoder()
		if err != nil {
			return nil, err
		}
		tile, err := decode(raw)
		if err != nil {
			return nil, err
		}
		if g.sampleFormat == SampleFormatFloat && g.hasNoData && !math.IsNaN(g.noData) {
			for i, s := range tile {
				if g.isNoData(s) {
					tile[i] = math.NaN()
				}
			}
		}
		g.tileCache.Set(key, tile, tileTTL)
		return tile, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.([]float64), false, nil
}

// isNoData compares at the sample's own precision.
func (g *GeoTIFF) isNoData(v float64) bool {
	if g.bitsPerSample == 32 {
		return float32(v) == float32(g.noData)
	}
	return v == g.noData
}

// decoder picks the conversion from decompressed tile bytes to samples.
func (g *GeoTIFF) decoder() (func([]byte) ([]float64, error), error) {
	order := g.byteOrder
	switch {
	case g.sampleFormat == SampleFormatFloat && g.bitsPerSample == 32:
		return func(b []byte) ([]float64, error) {
			out := make([]float64, len(b)/4)
			for i := range out {
				out[i] = float64(math.Float32frombits(order.Uint32(b[i*4:])))
			}
			return out, nil
		}, nil
	case g.sampleFormat == SampleFormatFloat && g.bitsPerSample == 64:
		return func(b []byte) ([]float64, error) {
			out := make([]float64, len(b)/8)
			for i := range out {
				out[i] = math.Float64frombits(order.Uint64(b[i*8:]))
			}
			return out, nil
		}, nil
	case g.sampleFormat == SampleFormatInt && g.bitsPerSample == 32:
		return func(b []byte) ([]float64, error) {
			raw := make([]int32, len(b)/4)
			if err := binary.Read(bytes.NewReader(b[:len(raw)*4]), order, raw); err != nil {
				return nil, err
			}
			if g.predictor == PredictorHorizontal {
				undoHorizontalPredictionForInt32(raw, g.tileWidth, g.tileHeight)
			}
			out := make([]float64, len(raw))
			for i, v := range raw {
				if g.hasNoData && float64(v) == g.noData {
					out[i] = math.NaN()
					continue
				}
				out[i] = float64(v) * g.Scale
			}
			return out, nil
		}, nil
	}
	return nil, fmt.Errorf("unsupported sample format (SampleFormat: %d, BitsPerSample: %d)", g.sampleFormat, g.bitsPerSample)
}

// fetchAndDecompressTile reads one tile and inflates it.
func (g *GeoTIFF) fetchAndDecompressTile(tileNum int) ([]byte, error) {
	if tileNum < 0 || tileNum >= len(g.tileOffsets) {
		return nil, fmt.Errorf("tile index %d out of bounds", tileNum)
	}
	readerAt, ok := g.reader.(io.ReaderAt)
	if !ok {
		return nil, errors.New("reader does not support ReadAt for tile fetching")
	}

	tileBytes := make([]byte, g.tileByteCounts[tileNum])
	if _, err := readerAt.ReadAt(tileBytes, int64(g.tileOffsets[tileNum])); err != nil {
		return nil, fmt.Errorf("failed to read tile %d from source: %w", tileNum, err)
	}

	switch g.compression {
	case Uncompressed:
		return tileBytes, nil
	case DEFLATE, AdobeDeflate:
		z, err := zlib.NewReader(bytes.NewReader(tileBytes))
		if err != nil {
			return nil, fmt.Errorf("failed to create zlib reader for tile: %w", err)
		}
		defer z.Close()
		out, err := io.ReadAll(z)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress tile data: %w", err)
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported compression type: %d", g.compression)
}

// prefetchNeighbors loads the eight tiles around tileNum without triggering
// further prefetches.
func (g *GeoTIFF) prefetchNeighbors(tileNum int) {
	tileY, tileX := tileNum/g.tilesAcross, tileNum%g.tilesAcross

	var wg sync.WaitGroup
	for j := -1; j <= 1; j++ {
		for i := -1; i <= 1; i++ {
			nx, ny := tileX+i, tileY+j
			if (i == 0 && j == 0) || nx < 0 || nx >= g.tilesAcross || ny < 0 || ny >= g.tilesDown {
				continue
			}
			wg.Add(1)
			go func(num int) {
				defer wg.Done()
				_, _, _ = g.tileData(num)
			}(ny*g.tilesAcross + nx)
		}
	}
	wg.Wait()
}

// undoHorizontalPredictionForInt32 reverses horizontal differencing in place.
func undoHorizontalPredictionForInt32(data []int32, tileWidth, tileHeight int) {
	for y := 0; y < tileHeight; y++ {
		row := y * tileWidth
		if row+tileWidth > len(data) {
			break
		}
		for x := 1; x < tileWidth; x++ {
			data[row+x] += data[row+x-1]
		}
	}
}
