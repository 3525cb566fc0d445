package terrain

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/maypok86/otter/v2"
	"github.com/paulmach/orb"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"
)

var errStoreClosed = errors.New("tile store closed")

var (
	tileCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "terrain_tile_cache_hits_total",
		Help: "The total number of hits on the tile cache",
	})
	tileCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "terrain_tile_cache_misses_total",
		Help: "The total number of misses on the tile cache",
	})
	missingTiles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "terrain_missing_tiles_total",
		Help: "The total number of tiles found to be missing",
	})
	tileLoadErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "terrain_tile_load_errors_total",
		Help: "The total number of tiles that failed to load",
	})
	tileLoadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "terrain_tile_load_duration_seconds",
		Help:    "The time taken to load a tile",
		Buckets: prometheus.DefBuckets,
	})
)

// A LoadMode determines how a Store loads tiles.
type LoadMode int

// Load modes.
//
// LoadModeInMemory decodes whole tiles into memory when they are first used,
// which can consume gigabytes of memory when many tiles are used.
// LoadModeMemoryMapped maps tile files into memory and lets the operating
// system page them in on demand. GeoTIFF tiles are always decoded into memory.
const (
	LoadModeInMemory LoadMode = iota
	LoadModeMemoryMapped
)

func (m LoadMode) String() string {
	switch m {
	case LoadModeInMemory:
		return "in-memory"
	case LoadModeMemoryMapped:
		return "memory-mapped"
	default:
		return fmt.Sprintf("LoadMode(%d)", int(m))
	}
}

// A tileEntry is the outcome of loading a tile, either a tile or an error.
type tileEntry struct {
	tile *Tile
	err  error
}

// A Store loads tiles from a directory on demand and caches them for its
// lifetime. Tiles are never evicted. A Store is safe for concurrent use.
type Store struct {
	dir         string
	mode        LoadMode
	resolutions []Resolution
	logger      *slog.Logger
	index       *tileIndex
	cache       *otter.Cache[TileKey, *tileEntry]
	loadTile    func(TileKey) (*Tile, error)

	mutex  sync.Mutex
	closed bool
}

// A StoreOption sets an option on a Store.
type StoreOption func(*Store)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) StoreOption {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithResolutions sets the tile resolutions that the Store recognizes.
func WithResolutions(resolutions ...Resolution) StoreOption {
	return func(s *Store) {
		s.resolutions = slices.DeleteFunc(slices.Clone(resolutions), func(r Resolution) bool {
			return !r.valid()
		})
	}
}

// NewStore returns a new Store that loads tiles from the tile files in dir
// with mode. Tile files are named after their tile key, for example
// N39W120.hgt or N39W120.tif.
func NewStore(dir string, mode LoadMode, options ...StoreOption) (*Store, error) {
	s := &Store{
		dir:         dir,
		mode:        mode,
		resolutions: DefaultResolutions,
		logger:      slog.New(slog.DiscardHandler),
	}
	for _, option := range options {
		option(s)
	}

	switch mode {
	case LoadModeInMemory, LoadModeMemoryMapped:
	default:
		return nil, fmt.Errorf("%s: unsupported load mode", mode)
	}

	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &IOError{Op: "read", Path: dir, Err: err}
	}
	s.index = newTileIndex(dirEntries)
	s.logger.Debug("indexed tiles", slog.String("dir", dir), slog.Int("count", len(s.index.entries)))

	s.cache, err = otter.New(&otter.Options[TileKey, *tileEntry]{})
	if err != nil {
		return nil, err
	}
	s.loadTile = s.readTile

	return s, nil
}

// Mode returns s's load mode.
func (s *Store) Mode() LoadMode {
	return s.mode
}

// Tile returns the tile containing p. Tiles are loaded at most once. If there
// is no usable tile then it returns a *CoverageError, and returns the same
// error for all later calls for that tile.
func (s *Store) Tile(ctx context.Context, p orb.Point) (*Tile, error) {
	if !ValidPoint(p) {
		return nil, &GeometryError{Start: p, End: p, Reason: "invalid coordinate"}
	}
	entry, err := s.getTileEntryCached(ctx, TileKeyFor(p))
	if err != nil {
		return nil, err
	}
	return entry.tile, entry.err
}

// Coverage returns the keys of the tiles in s's directory that intersect
// bound, ordered from south to north and west to east.
func (s *Store) Coverage(bound orb.Bound) []TileKey {
	return s.index.search(bound)
}

// Prefetch concurrently loads every tile in s's directory that intersects
// bound. It returns the first error encountered.
func (s *Store) Prefetch(ctx context.Context, bound orb.Bound) error {
	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(runtime.GOMAXPROCS(0))
	for _, key := range s.Coverage(bound) {
		group.Go(func() error {
			entry, err := s.getTileEntryCached(ctx, key)
			if err != nil {
				return err
			}
			return entry.err
		})
	}
	return group.Wait()
}

// Close drops s's references to its tiles. Later calls to s return an error.
// Tiles already returned by s remain usable, and memory-mapped tiles are
// unmapped once they are no longer referenced.
func (s *Store) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.cache.InvalidateAll()
	return nil
}

// getTileEntryCached returns the tile entry for key, loading it if needed.
// Concurrent callers for the same key share a single load.
func (s *Store) getTileEntryCached(ctx context.Context, key TileKey) (*tileEntry, error) {
	s.mutex.Lock()
	closed := s.closed
	s.mutex.Unlock()
	if closed {
		return nil, errStoreClosed
	}

	if entry, ok := s.cache.GetIfPresent(key); ok {
		tileCacheHits.Inc()
		return entry, nil
	}
	return s.cache.Get(ctx, key, otter.LoaderFunc[TileKey, *tileEntry](s.getTileEntry))
}

// getTileEntry loads the tile for key. Failures are returned inside the entry
// so that they are cached.
func (s *Store) getTileEntry(ctx context.Context, key TileKey) (*tileEntry, error) {
	tileCacheMisses.Inc()

	start := time.Now()
	tile, err := s.loadTile(key)
	duration := time.Since(start)
	tileLoadDuration.Observe(duration.Seconds())

	switch {
	case errors.Is(err, fs.ErrNotExist):
		missingTiles.Inc()
		s.logger.DebugContext(ctx, "missing tile", slog.String("tile", key.String()))
		return &tileEntry{err: &CoverageError{Key: key, Err: fs.ErrNotExist}}, nil
	case err != nil:
		tileLoadErrors.Inc()
		s.logger.WarnContext(ctx, "tile load failed", slog.String("tile", key.String()), slog.Any("err", err))
		return &tileEntry{err: &CoverageError{Key: key, Err: err}}, nil
	}

	s.mutex.Lock()
	closed := s.closed
	s.mutex.Unlock()
	if closed {
		return &tileEntry{err: errStoreClosed}, nil
	}
	s.logger.DebugContext(ctx, "loaded tile",
		slog.String("tile", key.String()),
		slog.String("mode", s.mode.String()),
		slog.Bool("mapped", tile.Mapped()),
		slog.Duration("duration", duration),
	)
	return &tileEntry{tile: tile}, nil
}

// readTile reads the tile for key from s's directory.
func (s *Store) readTile(key TileKey) (*Tile, error) {
	indexEntry, ok := s.index.lookup(key)
	if !ok {
		return nil, fs.ErrNotExist
	}
	path := filepath.Join(s.dir, indexEntry.filename)

	file, err := os.Open(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, err
	case err != nil:
		return nil, &IOError{Op: "open", Path: path, Err: err}
	}
	defer file.Close()

	switch indexEntry.format {
	case tileFormatGeoTIFF:
		samples, resolution, err := DecodeGeoTIFF(file, key, s.resolutions)
		if err != nil {
			return nil, annotateFormatError(err, "read", path)
		}
		return newTile(key, resolution, memoryStorage(samples)), nil
	default:
		return s.readHGT(key, file, path)
	}
}

// readHGT reads an HGT tile from file according to s's load mode.
func (s *Store) readHGT(key TileKey, file *os.File, path string) (*Tile, error) {
	fileInfo, err := file.Stat()
	if err != nil {
		return nil, &IOError{Op: "stat", Path: path, Err: err}
	}
	size := fileInfo.Size()
	resolution, ok := ResolutionForSize(size, s.resolutions)
	if !ok {
		return nil, &FormatError{
			Filename: path,
			Reason:   fmt.Sprintf("size mismatch: %d bytes matches no known resolution", size),
		}
	}

	if s.mode == LoadModeMemoryMapped {
		tile, err := mapTile(key, resolution, file, size)
		if err != nil {
			return nil, annotateFormatError(err, "mmap", path)
		}
		return tile, nil
	}

	samples, err := DecodeHGT(bufio.NewReader(file), size, resolution.Dimension())
	if err != nil {
		return nil, annotateFormatError(err, "read", path)
	}
	return newTile(key, resolution, memoryStorage(samples)), nil
}

// annotateFormatError adds path to format errors and wraps all other errors in
// an *IOError.
func annotateFormatError(err error, op, path string) error {
	var formatErr *FormatError
	if errors.As(err, &formatErr) {
		formatErr.Filename = path
		return formatErr
	}
	return &IOError{Op: op, Path: path, Err: err}
}
