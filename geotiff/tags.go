package geotiff

import "fmt"

// Tag is a TIFF field identifier.
type Tag uint16

const (
	ImageWidth      Tag = 256
	ImageLength     Tag = 257
	BitsPerSample   Tag = 258
	Compression     Tag = 259
	SamplesPerPixel Tag = 277
	Predictor       Tag = 317
	TileWidth       Tag = 322
	TileLength      Tag = 323
	TileOffsets     Tag = 324
	TileByteCounts  Tag = 325
	SampleFormat    Tag = 339
	ModelPixelScale Tag = 33550
	ModelTiepoint   Tag = 33922
	GDALMetadata    Tag = 42112
	GDALNoData      Tag = 42113
)

var tagToLabel = map[Tag]string{
	ImageWidth:      "ImageWidth",
	ImageLength:     "ImageLength",
	BitsPerSample:   "BitsPerSample",
	Compression:     "Compression",
	SamplesPerPixel: "SamplesPerPixel",
	Predictor:       "Predictor",
	TileWidth:       "TileWidth",
	TileLength:      "TileLength",
	TileOffsets:     "TileOffsets",
	TileByteCounts:  "TileByteCounts",
	SampleFormat:    "SampleFormat",
	ModelPixelScale: "ModelPixelScale",
	ModelTiepoint:   "ModelTiepoint",
	GDALMetadata:    "GDALMetadata",
	GDALNoData:      "GDALNoData",
}

func (t Tag) String() string {
	v, ok := tagToLabel[t]
	if !ok {
		return fmt.Sprintf("%d", t)
	}
	return v
}

// fieldType is the TIFF data type of a field.
type fieldType uint16

const (
	BYTE      fieldType = 1
	ASCII     fieldType = 2
	SHORT     fieldType = 3
	LONG      fieldType = 4
	RATIONAL  fieldType = 5
	SBYTE     fieldType = 6
	UNDEFINED fieldType = 7
	SSHORT    fieldType = 8
	SLONG     fieldType = 9
	SRATIONAL fieldType = 10
	FLOAT     fieldType = 11
	DOUBLE    fieldType = 12
	LONG8     fieldType = 16
	SLONG8    fieldType = 17
	IFD8      fieldType = 18
)

// fieldTypeLen is the size in bytes of each field type, indexed by type.
var fieldTypeLen = [...]uint32{
	0, 1, 1, 2, // 0-3
	4, 8, 1, 1, // 4-7
	2, 4, 8, 4, // 8-11
	8,       // 12
	0, 0, 0, // 13-15 reserved
	8, 8, 8, // 16-18
}

var fieldTypeToLabel = map[fieldType]string{
	BYTE:      "BYTE",
	ASCII:     "ASCII",
	SHORT:     "SHORT",
	LONG:      "LONG",
	RATIONAL:  "RATIONAL",
	SBYTE:     "SBYTE",
	UNDEFINED: "UNDEFINED",
	SSHORT:    "SSHORT",
	SLONG:     "SLONG",
	SRATIONAL: "SRATIONAL",
	FLOAT:     "FLOAT",
	DOUBLE:    "DOUBLE",
	LONG8:     "LONG8",
	SLONG8:    "SLONG8",
	IFD8:      "IFD8",
}

func (f fieldType) String() string {
	v, ok := fieldTypeToLabel[f]
	if !ok {
		return fmt.Sprintf("unrecognized field type %d", f)
	}
	return v
}

// bytes returns the size of one value of type f, or 0 if unrecognized.
func (f fieldType) bytes() uint32 {
	if int(f) >= len(fieldTypeLen) {
		return 0
	}
	return fieldTypeLen[f]
}

const (
	littleEndian      = 0x4949 // "II"
	bigEndian         = 0x4D4D // "MM"
	tiffIdentifier    = 42
	bigTiffIdentifier = 43
	bigTiffBytesize   = 8
)

// Compression schemes.
const (
	Uncompressed = 1
	DEFLATE      = 8
	AdobeDeflate = 32946
)

// Predictor values.
const (
	PredictorNone       = 1
	PredictorHorizontal = 2
)

// SampleFormat values.
const (
	SampleFormatUint  = 1
	SampleFormatInt   = 2
	SampleFormatFloat = 3
)
