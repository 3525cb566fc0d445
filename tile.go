package terrain

import (
	"fmt"
	"math"
	"os"
	"runtime"
	"slices"
	"sync"

	"github.com/paulmach/orb"
)

// tileStorage holds a tile's samples in file order.
type tileStorage interface {
	sample(i int) int16
}

// memoryStorage holds decoded samples.
type memoryStorage []int16

func (s memoryStorage) sample(i int) int16 { return s[i] }

// mappedStorage holds the raw bytes of a memory-mapped HGT file.
type mappedStorage []byte

func (s mappedStorage) sample(i int) int16 { return hgtSample(s, i) }

// A Tile is an immutable grid of elevation samples covering one degree of
// longitude and latitude. Tiles are safe for concurrent use.
type Tile struct {
	key        TileKey
	resolution Resolution
	dimension  int
	storage    tileStorage

	extremaOnce  sync.Once
	minElevation int16
	maxElevation int16
	hasData      bool
}

// NewTile returns a new in-memory tile for key with samples in file order:
// rows from north to south, each row from west to east.
func NewTile(key TileKey, resolution Resolution, samples []int16) (*Tile, error) {
	if !resolution.valid() {
		return nil, &FormatError{Filename: key.String(), Reason: fmt.Sprintf("invalid resolution %d", resolution)}
	}
	dimension := resolution.Dimension()
	if len(samples) != dimension*dimension {
		return nil, &FormatError{
			Filename: key.String(),
			Reason:   fmt.Sprintf("got %d samples, expected %d", len(samples), dimension*dimension),
		}
	}
	return newTile(key, resolution, memoryStorage(slices.Clone(samples))), nil
}

func newTile(key TileKey, resolution Resolution, storage tileStorage) *Tile {
	return &Tile{
		key:        key,
		resolution: resolution,
		dimension:  resolution.Dimension(),
		storage:    storage,
	}
}

// mapTile returns a new tile backed by a read-only memory mapping of file,
// which must be an HGT file of size bytes at resolution. The mapping is
// released once the tile is unreachable.
func mapTile(key TileKey, resolution Resolution, file *os.File, size int64) (*Tile, error) {
	dimension := int64(resolution.Dimension())
	if expected := dimension * dimension * sampleSize; size != expected {
		return nil, &FormatError{
			Filename: file.Name(),
			Reason:   fmt.Sprintf("size mismatch: got %d bytes, expected %d", size, expected),
		}
	}
	data, unmap, err := mapFile(file, size)
	if err != nil {
		return nil, err
	}
	tile := newTile(key, resolution, mappedStorage(data))
	runtime.AddCleanup(tile, func(unmap func() error) {
		_ = unmap()
	}, unmap)
	return tile, nil
}

// Key returns t's key.
func (t *Tile) Key() TileKey {
	return t.key
}

// Resolution returns t's resolution.
func (t *Tile) Resolution() Resolution {
	return t.resolution
}

// Dimension returns the number of samples per side of t.
func (t *Tile) Dimension() int {
	return t.dimension
}

// Mapped returns whether t is backed by a memory-mapped file.
func (t *Tile) Mapped() bool {
	_, ok := t.storage.(mappedStorage)
	return ok
}

// Contains returns whether p lies within t, including its edges.
func (t *Tile) Contains(p orb.Point) bool {
	lon, lat := p.Lon(), p.Lat()
	west, south := float64(t.key.Lon), float64(t.key.Lat)
	return west <= lon && lon <= west+1 && south <= lat && lat <= south+1
}

// SampleAt returns the sample at row and col. Row 0 is the northern edge and
// column 0 is the western edge.
func (t *Tile) SampleAt(row, col int) (int16, error) {
	if row < 0 || t.dimension <= row || col < 0 || t.dimension <= col {
		return 0, &IndexError{
			Key:    t.key,
			Row:    row,
			Col:    col,
			Reason: fmt.Sprintf("index (%d, %d) out of range [0, %d)", row, col, t.dimension),
		}
	}
	sample := t.storage.sample(row*t.dimension + col)
	runtime.KeepAlive(t)
	return sample, nil
}

// Interpolate returns the bilinearly interpolated elevation at p in meters. It
// returns NaN if a void sample contributes to the result. Points on the
// northern or eastern edge of t use t's edge row or column.
func (t *Tile) Interpolate(p orb.Point) (float64, error) {
	if !t.Contains(p) {
		return 0, &IndexError{
			Key:    t.key,
			Point:  p,
			Reason: fmt.Sprintf("point %v outside tile", p),
		}
	}

	n := t.dimension - 1
	x := (p.Lon() - float64(t.key.Lon)) * float64(n)
	y := (float64(t.key.Lat+1) - p.Lat()) * float64(n)
	col := min(int(x), n-1)
	row := min(int(y), n-1)
	dx := min(x-float64(col), 1)
	dy := min(y-float64(row), 1)

	i := row*t.dimension + col
	samples := [4]int16{
		t.storage.sample(i),
		t.storage.sample(i + 1),
		t.storage.sample(i + t.dimension),
		t.storage.sample(i + t.dimension + 1),
	}
	runtime.KeepAlive(t)
	return interpolateBilinear(samples, dx, dy), nil
}

// Extrema returns the lowest and highest non-void samples in t. ok is false if
// every sample is void.
func (t *Tile) Extrema() (minElevation, maxElevation int16, ok bool) {
	t.extremaOnce.Do(func() {
		t.minElevation, t.maxElevation = math.MaxInt16, math.MinInt16
		for i := range t.dimension * t.dimension {
			sample := t.storage.sample(i)
			if sample == NoData {
				continue
			}
			t.minElevation = min(t.minElevation, sample)
			t.maxElevation = max(t.maxElevation, sample)
			t.hasData = true
		}
		if !t.hasData {
			t.minElevation, t.maxElevation = 0, 0
		}
		runtime.KeepAlive(t)
	})
	return t.minElevation, t.maxElevation, t.hasData
}
