package geotiff

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"math"
	"testing"
)

// tiffSpec describes a single-band tiled TIFF for encodeTIFF.
type tiffSpec struct {
	width, height int
	tileW, tileH  int
	format        uint16 // SampleFormat*
	bits          uint16
	deflate       bool
	predictor     bool
	noData        string
	bigEndian     bool
	bigTIFF       bool
	// value returns the sample at (x, y); integer formats are rounded.
	value func(x, y int) float64
}

type ifdEntry struct {
	tag   Tag
	typ   fieldType
	count uint64
	data  []byte
}

// encodeTIFF encodes s as a COG-like tiled TIFF held in memory.
func encodeTIFF(t *testing.T, s tiffSpec) []byte {
	t.Helper()
	var order binary.ByteOrder = binary.LittleEndian
	if s.bigEndian {
		order = binary.BigEndian
	}

	across := (s.width + s.tileW - 1) / s.tileW
	down := (s.height + s.tileH - 1) / s.tileH
	tiles := make([][]byte, 0, across*down)
	for ty := 0; ty < down; ty++ {
		for tx := 0; tx < across; tx++ {
			tiles = append(tiles, encodeTile(t, s, order, tx, ty))
		}
	}
	n := len(tiles)

	short := func(v uint16) []byte { b := make([]byte, 2); order.PutUint16(b, v); return b }
	long := func(v uint32) []byte { b := make([]byte, 4); order.PutUint32(b, v); return b }

	offType := LONG
	offSize := 4
	if s.bigTIFF {
		offType, offSize = LONG8, 8
	}
	entries := []ifdEntry{
		{ImageWidth, LONG, 1, long(uint32(s.width))},
		{ImageLength, LONG, 1, long(uint32(s.height))},
		{BitsPerSample, SHORT, 1, short(s.bits)},
		{Compression, SHORT, 1, short(map[bool]uint16{false: Uncompressed, true: DEFLATE}[s.deflate])},
		{SamplesPerPixel, SHORT, 1, short(1)},
	}
	if s.predictor {
		entries = append(entries, ifdEntry{Predictor, SHORT, 1, short(PredictorHorizontal)})
	}
	entries = append(entries,
		ifdEntry{TileWidth, LONG, 1, long(uint32(s.tileW))},
		ifdEntry{TileLength, LONG, 1, long(uint32(s.tileH))},
		ifdEntry{TileOffsets, offType, uint64(n), make([]byte, n*offSize)},
		ifdEntry{TileByteCounts, offType, uint64(n), make([]byte, n*offSize)},
		ifdEntry{SampleFormat, SHORT, 1, short(s.format)},
	)
	if s.noData != "" {
		ascii := append([]byte(s.noData), 0)
		entries = append(entries, ifdEntry{GDALNoData, ASCII, uint64(len(ascii)), ascii})
	}

	headerLen, countLen, entryLen, nextLen, inline := 8, 2, 12, 4, 4
	if s.bigTIFF {
		headerLen, countLen, entryLen, nextLen, inline = 16, 8, 20, 8, 8
	}
	ifdLen := countLen + entryLen*len(entries) + nextLen
	extraStart := headerLen + ifdLen

	// place out-of-line values, then tiles
	extraOffsets := make([]int, len(entries))
	pos := extraStart
	for i, e := range entries {
		if len(e.data) > inline {
			extraOffsets[i] = pos
			pos += len(e.data)
		}
	}
	for i, tile := range tiles {
		for _, e := range entries {
			switch e.tag {
			case TileOffsets:
				putOffset(order, e.data[i*offSize:], uint64(pos), s.bigTIFF)
			case TileByteCounts:
				putOffset(order, e.data[i*offSize:], uint64(len(tile)), s.bigTIFF)
			}
		}
		pos += len(tile)
	}

	var buf bytes.Buffer
	w := func(v any) {
		if err := binary.Write(&buf, order, v); err != nil {
			t.Fatalf("encoding tiff: %v", err)
		}
	}
	if s.bigEndian {
		buf.WriteString("MM")
	} else {
		buf.WriteString("II")
	}
	if s.bigTIFF {
		w(uint16(bigTiffIdentifier))
		w(uint16(8))
		w(uint16(0))
		w(uint64(headerLen))
		w(uint64(len(entries)))
	} else {
		w(uint16(tiffIdentifier))
		w(uint32(headerLen))
		w(uint16(len(entries)))
	}
	for i, e := range entries {
		w(uint16(e.tag))
		w(uint16(e.typ))
		if s.bigTIFF {
			w(e.count)
		} else {
			w(uint32(e.count))
		}
		field := make([]byte, inline)
		if len(e.data) > inline {
			putOffset(order, field, uint64(extraOffsets[i]), s.bigTIFF)
		} else {
			copy(field, e.data)
		}
		buf.Write(field)
	}
	buf.Write(make([]byte, nextLen))
	for _, e := range entries {
		if len(e.data) > inline {
			buf.Write(e.data)
		}
	}
	for _, tile := range tiles {
		buf.Write(tile)
	}
	return buf.Bytes()
}

func putOffset(order binary.ByteOrder, b []byte, v uint64, big bool) {
	if big {
		order.PutUint64(b, v)
	} else {
		order.PutUint32(b, uint32(v))
	}
}

// encodeTile lays out one full tile, padding past the image edge with zeros.
func encodeTile(t *testing.T, s tiffSpec, order binary.ByteOrder, tx, ty int) []byte {
	t.Helper()
	size := int(s.bits / 8)
	raw := make([]byte, s.tileW*s.tileH*size)
	for j := 0; j < s.tileH; j++ {
		prev := int32(0)
		for i := 0; i < s.tileW; i++ {
			x, y := tx*s.tileW+i, ty*s.tileH+j
			v := 0.0
			if x < s.width && y < s.height {
				v = s.value(x, y)
			}
			b := raw[(j*s.tileW+i)*size:]
			switch {
			case s.format == SampleFormatFloat && s.bits == 32:
				order.PutUint32(b, math.Float32bits(float32(v)))
			case s.format == SampleFormatFloat && s.bits == 64:
				order.PutUint64(b, math.Float64bits(v))
			case s.bits == 16:
				order.PutUint16(b, uint16(v))
			default:
				iv := int32(math.Round(v))
				stored := iv
				if s.predictor {
					stored = iv - prev
					prev = iv
				}
				order.PutUint32(b, uint32(stored))
			}
		}
	}
	if !s.deflate {
		return raw
	}
	var z bytes.Buffer
	zw := zlib.NewWriter(&z)
	if _, err := zw.Write(raw); err != nil {
		t.Fatalf("deflate: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("deflate: %v", err)
	}
	return z.Bytes()
}
