// Package terrain generates terrain elevation profiles between two points on
// Earth from whole-degree NASADEM/SRTM elevation tiles.
package terrain

import (
	"context"
	"math"

	"github.com/paulmach/orb"
)

// MeanEarthRadius is the mean radius of the Earth in meters.
const MeanEarthRadius = 6371008.8

// A TileSource returns the tile containing a point.
type TileSource interface {
	Tile(ctx context.Context, p orb.Point) (*Tile, error)
}

// ValidPoint returns whether p is a valid WGS84 longitude/latitude pair.
func ValidPoint(p orb.Point) bool {
	lon, lat := p.Lon(), p.Lat()
	if math.IsNaN(lon) || math.IsNaN(lat) {
		return false
	}
	return -180 <= lon && lon <= 180 && -90 <= lat && lat <= 90
}
