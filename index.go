package terrain

import (
	"cmp"
	"io/fs"
	"path/filepath"
	"slices"
	"strings"

	"github.com/dhconnelly/rtreego"
	"github.com/paulmach/orb"
)

// indexEpsilon pads index queries so that points on tile edges match the tiles
// on both sides.
const indexEpsilon = 1e-9

type tileFormat int

const (
	tileFormatHGT tileFormat = iota
	tileFormatGeoTIFF
)

// A tileIndexEntry is a tile file found in a tile directory.
type tileIndexEntry struct {
	key      TileKey
	filename string
	format   tileFormat
}

// Bounds implements rtreego.Spatial.
func (e *tileIndexEntry) Bounds() rtreego.Rect {
	point := rtreego.Point{float64(e.key.Lon), float64(e.key.Lat)}
	rect, _ := rtreego.NewRect(point, []float64{1, 1})
	return rect
}

// A tileIndex is a spatial index of the tile files in a directory.
type tileIndex struct {
	entries map[TileKey]*tileIndexEntry
	rtree   *rtreego.Rtree
}

// newTileIndex returns a new tileIndex of the tile files in dirEntries. Files
// whose names are not tile names are ignored. HGT files take precedence over
// GeoTIFF files for the same tile.
func newTileIndex(dirEntries []fs.DirEntry) *tileIndex {
	index := &tileIndex{
		entries: make(map[TileKey]*tileIndexEntry),
		rtree:   rtreego.NewTree(2, 25, 50),
	}
	for _, dirEntry := range dirEntries {
		if dirEntry.IsDir() {
			continue
		}
		filename := dirEntry.Name()
		var format tileFormat
		switch strings.ToLower(filepath.Ext(filename)) {
		case ".hgt":
			format = tileFormatHGT
		case ".tif", ".tiff":
			format = tileFormatGeoTIFF
		default:
			continue
		}
		key, err := ParseTileKey(filename)
		if err != nil {
			continue
		}
		if existing, ok := index.entries[key]; ok {
			if existing.format <= format {
				continue
			}
			index.rtree.Delete(existing)
		}
		entry := &tileIndexEntry{
			key:      key,
			filename: filename,
			format:   format,
		}
		index.entries[key] = entry
		index.rtree.Insert(entry)
	}
	return index
}

// lookup returns the index entry for key.
func (i *tileIndex) lookup(key TileKey) (*tileIndexEntry, bool) {
	entry, ok := i.entries[key]
	return entry, ok
}

// search returns the keys of all indexed tiles that intersect bound, ordered
// from south to north and west to east.
func (i *tileIndex) search(bound orb.Bound) []TileKey {
	point := rtreego.Point{bound.Min.Lon() - indexEpsilon, bound.Min.Lat() - indexEpsilon}
	lengths := []float64{
		bound.Max.Lon() - bound.Min.Lon() + 2*indexEpsilon,
		bound.Max.Lat() - bound.Min.Lat() + 2*indexEpsilon,
	}
	queryRect, err := rtreego.NewRect(point, lengths)
	if err != nil {
		return nil
	}
	spatials := i.rtree.SearchIntersect(queryRect)
	keys := make([]TileKey, 0, len(spatials))
	for _, spatial := range spatials {
		keys = append(keys, spatial.(*tileIndexEntry).key)
	}
	slices.SortFunc(keys, func(a, b TileKey) int {
		return cmp.Or(cmp.Compare(a.Lat, b.Lat), cmp.Compare(a.Lon, b.Lon))
	})
	return keys
}
