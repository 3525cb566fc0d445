package terrain

import (
	"encoding/binary"
	"fmt"
	"io"
)

// NoData is the sample value that NASADEM and SRTM use for voids.
const NoData int16 = -32768

const sampleSize = 2 // Bytes per HGT sample.

// A Resolution is a tile resolution in arc-seconds per sample.
type Resolution int

// Standard resolutions.
const (
	OneArcSecond   Resolution = 1
	ThreeArcSecond Resolution = 3
)

// DefaultResolutions are the resolutions recognized by default.
var DefaultResolutions = []Resolution{OneArcSecond, ThreeArcSecond}

// Dimension returns the number of samples per side of a one degree tile at
// resolution r. Neighboring tiles share their edge rows and columns.
func (r Resolution) Dimension() int {
	return 3600/int(r) + 1
}

func (r Resolution) valid() bool {
	return r > 0 && 3600%int(r) == 0
}

// ResolutionForSize returns the resolution of an HGT file of size bytes, if it
// is one of resolutions.
func ResolutionForSize(size int64, resolutions []Resolution) (Resolution, bool) {
	for _, resolution := range resolutions {
		dimension := int64(resolution.Dimension())
		if size == dimension*dimension*sampleSize {
			return resolution, true
		}
	}
	return 0, false
}

// DecodeHGT decodes a square grid of dimension×dimension big-endian signed
// 16-bit samples from r, which contains size bytes. Samples are returned in
// file order, north to south and west to east. Void samples are returned
// unchanged.
func DecodeHGT(r io.Reader, size int64, dimension int) ([]int16, error) {
	if dimension < 2 {
		return nil, &FormatError{Reason: fmt.Sprintf("invalid dimension %d", dimension)}
	}
	if expected := int64(dimension) * int64(dimension) * sampleSize; size != expected {
		return nil, &FormatError{Reason: fmt.Sprintf("size mismatch: got %d bytes, expected %d", size, expected)}
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return decodeHGTSamples(data), nil
}

// decodeHGTSamples decodes big-endian samples from data.
func decodeHGTSamples(data []byte) []int16 {
	samples := make([]int16, len(data)/sampleSize)
	for i := range samples {
		samples[i] = int16(binary.BigEndian.Uint16(data[sampleSize*i:]))
	}
	return samples
}

// hgtSample returns the i-th big-endian sample in data.
func hgtSample(data []byte, i int) int16 {
	return int16(binary.BigEndian.Uint16(data[sampleSize*i:]))
}
