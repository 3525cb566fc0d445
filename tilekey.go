package terrain

import (
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

var errInvalidTileName = errors.New("invalid tile name")

// A TileKey identifies a whole-degree tile by the longitude and latitude of
// its south-west corner.
type TileKey struct {
	Lon int
	Lat int
}

// TileKeyFor returns the key of the tile containing p. Points on longitude 180
// or latitude 90 belong to the tile to their west or south as there is no
// tile beyond them.
func TileKeyFor(p orb.Point) TileKey {
	key := TileKey{
		Lon: int(math.Floor(p.Lon())),
		Lat: int(math.Floor(p.Lat())),
	}
	if key.Lon >= 180 {
		key.Lon = 179
	}
	if key.Lat >= 90 {
		key.Lat = 89
	}
	return key
}

// ParseTileKey parses a tile key from a filename like N39W120.hgt. Case and
// extension are ignored.
func ParseTileKey(filename string) (TileKey, error) {
	name := strings.ToUpper(filepath.Base(filename))
	if len(name) < 7 {
		return TileKey{}, fmt.Errorf("%s: %w", filename, errInvalidTileName)
	}
	if len(name) > 7 && name[7] != '.' {
		return TileKey{}, fmt.Errorf("%s: %w", filename, errInvalidTileName)
	}

	var latSign, lonSign int
	switch name[0] {
	case 'N':
		latSign = 1
	case 'S':
		latSign = -1
	default:
		return TileKey{}, fmt.Errorf("%s: %w", filename, errInvalidTileName)
	}
	switch name[3] {
	case 'E':
		lonSign = 1
	case 'W':
		lonSign = -1
	default:
		return TileKey{}, fmt.Errorf("%s: %w", filename, errInvalidTileName)
	}

	lat, err := strconv.ParseUint(name[1:3], 10, 8)
	if err != nil || lat > 90 {
		return TileKey{}, fmt.Errorf("%s: %w", filename, errInvalidTileName)
	}
	lon, err := strconv.ParseUint(name[4:7], 10, 8)
	if err != nil || lon > 180 {
		return TileKey{}, fmt.Errorf("%s: %w", filename, errInvalidTileName)
	}

	return TileKey{
		Lon: lonSign * int(lon),
		Lat: latSign * int(lat),
	}, nil
}

// String returns k's tile name, for example N39W120.
func (k TileKey) String() string {
	ns, lat := 'N', k.Lat
	if lat < 0 {
		ns, lat = 'S', -lat
	}
	ew, lon := 'E', k.Lon
	if lon < 0 {
		ew, lon = 'W', -lon
	}
	return fmt.Sprintf("%c%02d%c%03d", ns, lat, ew, lon)
}

// Bound returns the one degree square covered by k.
func (k TileKey) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{float64(k.Lon), float64(k.Lat)},
		Max: orb.Point{float64(k.Lon + 1), float64(k.Lat + 1)},
	}
}
