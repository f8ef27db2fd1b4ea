package geotiff

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
)

// head is the TIFF file header.
type head struct {
	byteOrder binary.ByteOrder
	isBigTIFF bool
	ifdOffset uint64
}

// tagData holds a parsed field. Only the slice matching fType is populated.
type tagData struct {
	fType      fieldType
	count      uint64
	byteData   []uint8
	asciiData  string
	shortData  []uint16
	longData   []uint32
	floatData  []float32
	doubleData []float64
	uint64Data []uint64
}

// Tags maps field identifiers to their values for one IFD.
type Tags map[Tag]tagData

func readHeader(r io.Reader) (head, error) {
	var h head
	var order uint16
	if err := binary.Read(r, binary.BigEndian, &order); err != nil {
		return h, fmt.Errorf("reading byte order: %w", err)
	}
	switch order {
	case littleEndian:
		h.byteOrder = binary.LittleEndian
	case bigEndian:
		h.byteOrder = binary.BigEndian
	default:
		return h, errors.New("invalid byte order")
	}

	var ident uint16
	if err := binary.Read(r, h.byteOrder, &ident); err != nil {
		return h, err
	}
	switch ident {
	case tiffIdentifier:
		var off uint32
		if err := binary.Read(r, h.byteOrder, &off); err != nil {
			return h, err
		}
		h.ifdOffset = uint64(off)
	case bigTiffIdentifier:
		h.isBigTIFF = true
		var fields struct{ Bytesize, Reserved uint16 }
		if err := binary.Read(r, h.byteOrder, &fields); err != nil {
			return h, err
		}
		if fields.Bytesize != bigTiffBytesize {
			return h, errors.New("invalid BigTIFF bytesize")
		}
		if err := binary.Read(r, h.byteOrder, &h.ifdOffset); err != nil {
			return h, err
		}
	default:
		return h, fmt.Errorf("invalid tiff identifier: %d", ident)
	}
	return h, nil
}

// readTags parses the first IFD, which holds the full resolution image of a
// COG. Overview IFDs are not read.
func readTags(r io.ReadSeeker) (Tags, head, error) {
	h, err := readHeader(r)
	if err != nil {
		return nil, h, err
	}
	if h.ifdOffset == 0 {
		return nil, h, errors.New("file contains no IFDs")
	}
	ra, ok := r.(io.ReaderAt)
	if !ok {
		return nil, h, errors.New("reader does not implement io.ReaderAt")
	}

	countLen, entryLen, inline := 2, 12, 4
	if h.isBigTIFF {
		countLen, entryLen, inline = 8, 20, 8
	}

	countBuf := make([]byte, countLen)
	if _, err := ra.ReadAt(countBuf, int64(h.ifdOffset)); err != nil {
		return nil, h, fmt.Errorf("failed to read IFD entry count: %w", err)
	}
	var numEntries uint64
	if h.isBigTIFF {
		numEntries = h.byteOrder.Uint64(countBuf)
	} else {
		numEntries = uint64(h.byteOrder.Uint16(countBuf))
	}

	block := make([]byte, entryLen*int(numEntries))
	if _, err := ra.ReadAt(block, int64(h.ifdOffset)+int64(countLen)); err != nil {
		return nil, h, fmt.Errorf("failed to read IFD block: %w", err)
	}

	tags := make(Tags, numEntries)
	for i := 0; i < int(numEntries); i++ {
		e := block[i*entryLen : (i+1)*entryLen]
		tag := Tag(h.byteOrder.Uint16(e[0:2]))
		ft := fieldType(h.byteOrder.Uint16(e[2:4]))
		if ft.bytes() == 0 {
			slog.Warn("skipping tag with unrecognized field type", "tag", tag, "type", uint16(ft))
			continue
		}

		var count uint64
		var valueField []byte
		if h.isBigTIFF {
			count = h.byteOrder.Uint64(e[4:12])
			valueField = e[12:20]
		} else {
			count = uint64(h.byteOrder.Uint32(e[4:8]))
			valueField = e[8:12]
		}

		size := uint64(ft.bytes()) * count
		var src io.Reader
		if size <= uint64(inline) {
			src = bytes.NewReader(valueField[:size])
		} else {
			var off uint64
			if h.isBigTIFF {
				off = h.byteOrder.Uint64(valueField)
			} else {
				off = uint64(h.byteOrder.Uint32(valueField))
			}
			src = io.NewSectionReader(ra, int64(off), int64(size))
		}

		td, err := decodeField(src, h.byteOrder, ft, count)
		if err != nil {
			return nil, h, fmt.Errorf("tag %s: %w", tag, err)
		}
		if td != nil {
			tags[tag] = *td
		}
	}
	return tags, h, nil
}

// decodeField reads count values of type ft. Types the reader has no use for
// yield a nil result.
func decodeField(r io.Reader, order binary.ByteOrder, ft fieldType, count uint64) (*tagData, error) {
	t := tagData{fType: ft, count: count}
	var err error
	switch ft {
	case BYTE, UNDEFINED:
		t.byteData = make([]uint8, count)
		_, err = io.ReadFull(r, t.byteData)
	case ASCII:
		p := make([]byte, count)
		if _, err = io.ReadFull(r, p); err == nil {
			t.asciiData = string(bytes.Trim(p, "\x00"))
		}
	case SHORT:
		t.shortData = make([]uint16, count)
		err = binary.Read(r, order, t.shortData)
	case LONG:
		t.longData = make([]uint32, count)
		err = binary.Read(r, order, t.longData)
	case FLOAT:
		t.floatData = make([]float32, count)
		err = binary.Read(r, order, t.floatData)
	case DOUBLE:
		t.doubleData = make([]float64, count)
		err = binary.Read(r, order, t.doubleData)
	case LONG8, IFD8:
		t.uint64Data = make([]uint64, count)
		err = binary.Read(r, order, t.uint64Data)
	default:
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (tags Tags) uint(tag Tag) (uint64, bool) {
	t, ok := tags[tag]
	if !ok {
		return 0, false
	}
	switch {
	case t.fType == SHORT && len(t.shortData) > 0:
		return uint64(t.shortData[0]), true
	case t.fType == LONG && len(t.longData) > 0:
		return uint64(t.longData[0]), true
	case (t.fType == LONG8 || t.fType == IFD8) && len(t.uint64Data) > 0:
		return t.uint64Data[0], true
	}
	return 0, false
}

func (tags Tags) uint64Slice(tag Tag) ([]uint64, bool) {
	t, ok := tags[tag]
	if !ok {
		return nil, false
	}
	switch t.fType {
	case LONG8, IFD8:
		return t.uint64Data, true
	case LONG:
		res := make([]uint64, len(t.longData))
		for i, v := range t.longData {
			res[i] = uint64(v)
		}
		return res, true
	case SHORT:
		res := make([]uint64, len(t.shortData))
		for i, v := range t.shortData {
			res[i] = uint64(v)
		}
		return res, true
	}
	return nil, false
}

// noData parses the GDAL_NODATA ASCII tag.
func (tags Tags) noData() (float64, bool) {
	t, ok := tags[GDALNoData]
	if !ok || t.fType != ASCII {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(t.asciiData), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
