package terrain

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/google/tiff"
	_ "github.com/google/tiff/bigtiff"
	_ "github.com/google/tiff/geotiff"
	"golang.org/x/image/tiff/lzw"
)

const (
	compressionNone = 1
	compressionLZW  = 5

	sampleFormatInt = 2
)

// A readAtSeeker is a GeoTIFF source.
type readAtSeeker interface {
	io.ReaderAt
	io.ReadSeeker
}

// A geoTIFFIFD is a struct into which github.com/google/tiff can unmarshal the
// IFD of a DEM tile.
type geoTIFFIFD struct {
	ImageWidth          uint16    `tiff:"field,tag=256"`
	ImageLength         uint16    `tiff:"field,tag=257"`
	BitsPerSample       uint16    `tiff:"field,tag=258"`
	Compression         uint16    `tiff:"field,tag=259"`
	StripOffsets        []uint64  `tiff:"field,tag=273"`
	SamplesPerPixel     uint16    `tiff:"field,tag=277"`
	RowsPerStrip        uint32    `tiff:"field,tag=278"`
	StripByteCounts     []uint64  `tiff:"field,tag=279"`
	PlanarConfiguration uint16    `tiff:"field,tag=284"`
	Predictor           uint16    `tiff:"field,tag=317"`
	TileWidth           uint16    `tiff:"field,tag=322"`
	TileLength          uint16    `tiff:"field,tag=323"`
	TileOffsets         []uint64  `tiff:"field,tag=324"`
	TileByteCounts      []uint64  `tiff:"field,tag=325"`
	SampleFormat        uint16    `tiff:"field,tag=339"`
	ModelPixelScaleTag  []float64 `tiff:"field,tag=33550"`
	ModelTiepointTag    []float64 `tiff:"field,tag=33922"`
	GeoKeyDirectoryTag  []uint16  `tiff:"field,tag=34735"`
	GeoDoubleParamsTag  []float64 `tiff:"field,tag=34736"`
	GeoASCIIParamsTag   string    `tiff:"field,tag=34737"`
	GDALNoData          string    `tiff:"field,tag=42113"`
}

// A geoTIFFLayout describes how a GeoTIFF image is split into chunks, which
// are either tiles or strips.
type geoTIFFLayout struct {
	order        binary.ByteOrder
	compression  uint16
	width        int
	length       int
	chunkWidth   int
	chunkLength  int
	chunksAcross int
	offsets      []uint64
	byteCounts   []uint64
	size         uint64
}

// DecodeGeoTIFF decodes a single band, signed 16-bit GeoTIFF DEM tile for key.
// The image must be square with a dimension matching one of resolutions.
// Samples are returned in file order, north to south and west to east. Samples
// equal to the GDAL nodata value are returned as NoData.
func DecodeGeoTIFF(r readAtSeeker, key TileKey, resolutions []Resolution) ([]int16, Resolution, error) {
	header := make([]byte, 2)
	if _, err := r.ReadAt(header, 0); err != nil {
		return nil, 0, &FormatError{Reason: "short header"}
	}
	var order binary.ByteOrder
	switch string(header) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return nil, 0, &FormatError{Reason: "not a TIFF file"}
	}

	tiffTIFF, err := tiff.Parse(r, tiff.GetTagSpace("GeoTIFF"), nil)
	if err != nil {
		return nil, 0, &FormatError{Reason: err.Error()}
	}
	if len(tiffTIFF.IFDs()) == 0 {
		return nil, 0, &FormatError{Reason: "no IFDs"}
	}
	var ifd geoTIFFIFD
	if err := tiff.UnmarshalIFD(tiffTIFF.IFDs()[0], &ifd); err != nil {
		return nil, 0, &FormatError{Reason: err.Error()}
	}

	if ifd.BitsPerSample != 16 ||
		ifd.SamplesPerPixel > 1 ||
		ifd.SampleFormat != sampleFormatInt ||
		ifd.PlanarConfiguration > 1 ||
		ifd.Predictor > 1 ||
		(ifd.Compression != compressionNone && ifd.Compression != compressionLZW) {
		return nil, 0, &FormatError{Reason: errors.ErrUnsupported.Error()}
	}

	if ifd.ImageWidth != ifd.ImageLength {
		return nil, 0, &FormatError{Reason: fmt.Sprintf("non-square image %dx%d", ifd.ImageWidth, ifd.ImageLength)}
	}
	dimension := int(ifd.ImageWidth)
	var resolution Resolution
	for _, candidate := range resolutions {
		if candidate.Dimension() == dimension {
			resolution = candidate
			break
		}
	}
	if resolution == 0 {
		return nil, 0, &FormatError{Reason: fmt.Sprintf("unsupported dimension %d", dimension)}
	}

	if err := checkGeoreferencing(&ifd, key, dimension); err != nil {
		return nil, 0, &FormatError{Reason: err.Error()}
	}

	size, err := r.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, 0, err
	}
	layout, err := newGeoTIFFLayout(&ifd, order, uint64(size))
	if err != nil {
		return nil, 0, &FormatError{Reason: err.Error()}
	}

	samples := make([]int16, dimension*dimension)
	for chunkIndex := range layout.offsets {
		if err := layout.decodeChunk(r, chunkIndex, samples); err != nil {
			return nil, 0, err
		}
	}

	if ifd.GDALNoData != "" {
		noData, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimRight(ifd.GDALNoData, "\x00")), 64)
		if err != nil {
			return nil, 0, &FormatError{Reason: fmt.Sprintf("invalid GDAL nodata value %q", ifd.GDALNoData)}
		}
		if noData != float64(NoData) && noData == math.Trunc(noData) && math.MinInt16 <= noData && noData <= math.MaxInt16 {
			for i, sample := range samples {
				if sample == int16(noData) {
					samples[i] = NoData
				}
			}
		}
	}

	return samples, resolution, nil
}

// checkGeoreferencing checks that ifd places its image on key's tile in a
// geographic WGS84 model. Absent georeferencing tags are accepted.
func checkGeoreferencing(ifd *geoTIFFIFD, key TileKey, dimension int) error {
	pixelSize := 1 / float64(dimension-1)
	if scale := ifd.ModelPixelScaleTag; len(scale) >= 2 {
		if math.Abs(scale[0]-pixelSize) > pixelSize/1000 || math.Abs(scale[1]-pixelSize) > pixelSize/1000 {
			return fmt.Errorf("pixel scale %gx%g does not match dimension %d", scale[0], scale[1], dimension)
		}
	}
	if tiepoint := ifd.ModelTiepointTag; len(tiepoint) >= 6 {
		// Pixel-is-area tiles are offset by half a pixel from the tile corner.
		x, y := tiepoint[3]-tiepoint[0]*pixelSize, tiepoint[4]+tiepoint[1]*pixelSize
		if math.Abs(x-float64(key.Lon)) > pixelSize || math.Abs(y-float64(key.Lat+1)) > pixelSize {
			return fmt.Errorf("tiepoint (%g, %g) is not on tile %s", x, y, key)
		}
	}
	if len(ifd.GeoKeyDirectoryTag) != 0 {
		geoKeys, err := ParseGeoKeys(ifd.GeoKeyDirectoryTag, ifd.GeoDoubleParamsTag, ifd.GeoASCIIParamsTag)
		if err != nil {
			return err
		}
		if err := geoKeys.CheckGeographicWGS84(); err != nil {
			return err
		}
	}
	return nil
}

func newGeoTIFFLayout(ifd *geoTIFFIFD, order binary.ByteOrder, size uint64) (*geoTIFFLayout, error) {
	l := &geoTIFFLayout{
		size:        size,
		order:       order,
		compression: ifd.Compression,
		width:       int(ifd.ImageWidth),
		length:      int(ifd.ImageLength),
	}
	if ifd.TileWidth != 0 {
		l.chunkWidth = int(ifd.TileWidth)
		l.chunkLength = int(ifd.TileLength)
		l.offsets = ifd.TileOffsets
		l.byteCounts = ifd.TileByteCounts
	} else {
		l.chunkWidth = l.width
		l.chunkLength = int(ifd.RowsPerStrip)
		if l.chunkLength == 0 || l.chunkLength > l.length {
			l.chunkLength = l.length
		}
		l.offsets = ifd.StripOffsets
		l.byteCounts = ifd.StripByteCounts
	}
	if l.chunkWidth <= 0 || l.chunkLength <= 0 {
		return nil, errors.New("invalid chunk size")
	}
	l.chunksAcross = (l.width + l.chunkWidth - 1) / l.chunkWidth
	chunksDown := (l.length + l.chunkLength - 1) / l.chunkLength
	if len(l.offsets) != l.chunksAcross*chunksDown || len(l.byteCounts) != len(l.offsets) {
		return nil, errors.New("incorrect number of chunk byte counts or offsets")
	}
	return l, nil
}

// decodeChunk decodes the chunk at chunkIndex into samples.
func (l *geoTIFFLayout) decodeChunk(r io.ReaderAt, chunkIndex int, samples []int16) error {
	col0 := l.chunkWidth * (chunkIndex % l.chunksAcross)
	row0 := l.chunkLength * (chunkIndex / l.chunksAcross)
	rows := l.chunkLength
	if l.chunkWidth == l.width {
		// The last strip may be short.
		rows = min(rows, l.length-row0)
	}

	offset, byteCount := l.offsets[chunkIndex], l.byteCounts[chunkIndex]
	if offset > l.size || byteCount > l.size-offset {
		return &FormatError{Reason: fmt.Sprintf("chunk %d: %d bytes at offset %d beyond end of file", chunkIndex, byteCount, offset)}
	}
	compressedData := make([]byte, byteCount)
	switch n, err := r.ReadAt(compressedData, int64(offset)); {
	case n != len(compressedData):
		return &FormatError{Reason: fmt.Sprintf("chunk %d: short read", chunkIndex)}
	case err != nil && !errors.Is(err, io.EOF):
		return err
	}

	chunkByteCount := sampleSize * l.chunkWidth * rows
	var chunkData []byte
	switch l.compression {
	case compressionLZW:
		chunkData = make([]byte, chunkByteCount)
		lzwReader := lzw.NewReader(bytes.NewReader(compressedData), lzw.MSB, 8)
		defer lzwReader.Close()
		if _, err := io.ReadFull(lzwReader, chunkData); err != nil {
			return &FormatError{Reason: fmt.Sprintf("chunk %d: %v", chunkIndex, err)}
		}
	default:
		if len(compressedData) < chunkByteCount {
			return &FormatError{Reason: fmt.Sprintf("chunk %d: short chunk", chunkIndex)}
		}
		chunkData = compressedData
	}

	for row := range rows {
		y := row0 + row
		if y >= l.length {
			break
		}
		for col := range l.chunkWidth {
			x := col0 + col
			if x >= l.width {
				break
			}
			i := sampleSize * (row*l.chunkWidth + col)
			samples[y*l.width+x] = int16(l.order.Uint16(chunkData[i:]))
		}
	}
	return nil
}
