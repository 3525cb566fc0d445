package terrain

import (
	"context"
	"fmt"

	"github.com/paulmach/orb"
)

// Elevations returns the bilinearly interpolated elevation at each of points
// in meters, using tiles from src. Elevations that depend on void samples are
// NaN. Each tile is requested from src once.
func Elevations(ctx context.Context, src TileSource, points []orb.Point) ([]float64, error) {
	tiles := make(map[TileKey]*Tile)
	elevations := make([]float64, len(points))
	for i, point := range points {
		if !ValidPoint(point) {
			return nil, &GeometryError{Start: point, End: point, Reason: "invalid coordinate"}
		}
		key := TileKeyFor(point)
		tile, ok := tiles[key]
		if !ok {
			var err error
			tile, err = src.Tile(ctx, point)
			if err != nil {
				return nil, fmt.Errorf("point %d at %v: %w", i, point, err)
			}
			tiles[key] = tile
		}
		elevation, err := tile.Interpolate(point)
		if err != nil {
			return nil, fmt.Errorf("point %d at %v: %w", i, point, err)
		}
		elevations[i] = elevation
	}
	return elevations, nil
}
