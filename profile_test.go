package terrain_test

import (
	"context"
	"errors"
	"io/fs"
	"math"
	"sync/atomic"
	"testing"

	"github.com/alecthomas/assert/v2"
	"github.com/paulmach/orb"

	"github.com/twpayne/go-terrain"
)

// A testTileSource generates tiles at resolution from an elevation function
// and counts the tiles it returns.
type testTileSource struct {
	resolution terrain.Resolution
	elevation  func(key terrain.TileKey, row, col int) int16
	missing    map[terrain.TileKey]bool
	calls      atomic.Int64
}

func newFlatTileSource(elevation int16) *testTileSource {
	return &testTileSource{
		resolution: terrain.Resolution(900),
		elevation: func(terrain.TileKey, int, int) int16 {
			return elevation
		},
	}
}

func (s *testTileSource) Tile(ctx context.Context, p orb.Point) (*terrain.Tile, error) {
	s.calls.Add(1)
	key := terrain.TileKeyFor(p)
	if s.missing[key] {
		return nil, &terrain.CoverageError{Key: key, Err: fs.ErrNotExist}
	}
	dimension := s.resolution.Dimension()
	samples := make([]int16, dimension*dimension)
	for row := range dimension {
		for col := range dimension {
			samples[row*dimension+col] = s.elevation(key, row, col)
		}
	}
	return terrain.NewTile(key, s.resolution, samples)
}

func assertInDelta(t *testing.T, expected, actual, delta float64) {
	t.Helper()
	assert.True(t, math.Abs(expected-actual) <= delta, "expected %g, got %g", expected, actual)
}

// eastOf returns the point distance meters east of p along its parallel.
func eastOf(p orb.Point, distance float64) orb.Point {
	return orb.Point{p.Lon() + distance/(terrain.MeanEarthRadius*math.Cos(p.Lat()*math.Pi/180))*180/math.Pi, p.Lat()}
}

func TestProfileFlat(t *testing.T) {
	src := newFlatTileSource(100)
	start := orb.Point{0.5, 0.5}
	end := eastOf(start, 9000)

	profile, err := terrain.NewProfileBuilder().
		Start(start).
		StartAltitude(10).
		End(end).
		EndAltitude(10).
		MaxStep(90).
		Build(t.Context(), src)
	assert.NoError(t, err)

	assertInDelta(t, 9000, profile.TotalDistance, 1)
	n := int(math.Ceil(profile.TotalDistance/90)) + 1
	assert.Equal(t, n, profile.Len())
	assert.Equal(t, n, len(profile.Distances))
	assert.Equal(t, n, len(profile.LineOfSight))
	assert.Equal(t, n, len(profile.Terrain))
	assert.Equal(t, start, profile.Points[0])
	assert.Equal(t, end, profile.Points[n-1])
	assert.Equal(t, 0.0, profile.Distances[0])
	assert.Equal(t, profile.TotalDistance, profile.Distances[n-1])
	for i := range n {
		assert.Equal(t, 100.0, profile.Terrain[i])
		assert.Equal(t, 110.0, profile.LineOfSight[i])
	}
	assert.Equal(t, int64(1), src.calls.Load())

	minClearance, _ := profile.MinClearance()
	assert.Equal(t, 10.0, minClearance)
	assert.Equal(t, 0.0, profile.IntersectionArea())
}

func TestProfileLineOfSight(t *testing.T) {
	src := newFlatTileSource(0)
	profile, err := terrain.NewProfileBuilder().
		Start(orb.Point{0.2, 0.5}).
		StartAltitude(10).
		End(orb.Point{0.8, 0.5}).
		EndAltitude(30).
		MaxStep(1000).
		Build(t.Context(), src)
	assert.NoError(t, err)
	n := profile.Len()
	assert.Equal(t, 10.0, profile.LineOfSight[0])
	assert.Equal(t, 30.0, profile.LineOfSight[n-1])
	for i := range n {
		expected := 10 + 20*profile.Distances[i]/profile.TotalDistance
		assertInDelta(t, expected, profile.LineOfSight[i], 1e-9)
	}
}

func TestProfileEarthCurve(t *testing.T) {
	src := &testTileSource{
		resolution: terrain.Resolution(360),
		elevation: func(_ terrain.TileKey, row, col int) int16 {
			return int16(100 + 10*row + 3*col)
		},
	}
	builder := terrain.NewProfileBuilder().
		Start(orb.Point{0.05, 0.95}).
		StartAltitude(20).
		End(orb.Point{0.95, 0.05}).
		EndAltitude(5).
		MaxStep(500)

	flat, err := builder.Build(t.Context(), src)
	assert.NoError(t, err)
	curved, err := builder.EarthCurve(true).Build(t.Context(), src)
	assert.NoError(t, err)

	n := flat.Len()
	assert.Equal(t, n, curved.Len())
	assert.Equal(t, flat.Terrain[0], curved.Terrain[0])
	assert.Equal(t, flat.Terrain[n-1], curved.Terrain[n-1])

	flatClearance, curvedClearance := flat.Clearance(), curved.Clearance()
	half := flat.TotalDistance / 2
	for i := range n {
		assertInDelta(t, flatClearance[i], curvedClearance[i], 1e-9)
		x := flat.Distances[i] - half
		drop := (half*half - x*x) / (2 * terrain.MeanEarthRadius)
		assertInDelta(t, flat.Terrain[i]-drop, curved.Terrain[i], 1e-9)
		assert.True(t, curved.Terrain[i] <= flat.Terrain[i])
	}

	refracted, err := builder.EarthCurve(true).EarthRadius(4 * terrain.MeanEarthRadius / 3).Build(t.Context(), src)
	assert.NoError(t, err)
	mid := n / 2
	assert.True(t, curved.Terrain[mid] < refracted.Terrain[mid])
	assert.True(t, refracted.Terrain[mid] < flat.Terrain[mid])
}

func TestProfileNormalize(t *testing.T) {
	src := newFlatTileSource(500)
	profile, err := terrain.NewProfileBuilder().
		Start(orb.Point{0.5, 0.5}).
		StartAltitude(2).
		End(eastOf(orb.Point{0.5, 0.5}, 2000)).
		EndAltitude(3).
		MaxStep(100).
		Normalize(true).
		Build(t.Context(), src)
	assert.NoError(t, err)
	n := profile.Len()
	for i := range n {
		assert.Equal(t, 0.0, profile.Terrain[i])
	}
	assert.Equal(t, 2.0, profile.LineOfSight[0])
	assert.Equal(t, 3.0, profile.LineOfSight[n-1])
}

func TestProfileNormalizeEarthCurve(t *testing.T) {
	src := newFlatTileSource(500)
	profile, err := terrain.NewProfileBuilder().
		Start(orb.Point{0.1, 0.5}).
		End(orb.Point{0.9, 0.5}).
		MaxStep(1000).
		EarthCurve(true).
		Normalize(true).
		Build(t.Context(), src)
	assert.NoError(t, err)
	minTerrain := math.Inf(1)
	for _, elevation := range profile.Terrain {
		minTerrain = min(minTerrain, elevation)
	}
	assert.Equal(t, 0.0, minTerrain)
	assert.True(t, profile.Terrain[0] > 0)
	assert.Equal(t, profile.Terrain[0], profile.Terrain[profile.Len()-1])
}

func TestProfileDataGap(t *testing.T) {
	src := &testTileSource{
		resolution: terrain.Resolution(900),
		elevation: func(_ terrain.TileKey, row, col int) int16 {
			if row == 2 {
				return terrain.NoData
			}
			return 100
		},
	}
	_, err := terrain.NewProfileBuilder().
		Start(orb.Point{0.5, 0.9}).
		End(orb.Point{0.5, 0.1}).
		MaxStep(1000).
		Build(t.Context(), src)
	var dataGapErr *terrain.DataGapError
	assert.True(t, errors.As(err, &dataGapErr))
	assert.True(t, dataGapErr.Index > 0)
	assert.True(t, dataGapErr.Point.Lat() < 0.75)
}

func TestProfileCoverage(t *testing.T) {
	src := newFlatTileSource(100)
	src.missing = map[terrain.TileKey]bool{
		{Lon: 1, Lat: 0}: true,
	}
	_, err := terrain.NewProfileBuilder().
		Start(orb.Point{0.5, 0.5}).
		End(orb.Point{1.5, 0.5}).
		MaxStep(1000).
		Build(t.Context(), src)
	var coverageErr *terrain.CoverageError
	assert.True(t, errors.As(err, &coverageErr))
	assert.Equal(t, terrain.TileKey{Lon: 1, Lat: 0}, coverageErr.Key)
	assert.True(t, coverageErr.Missing())
	assert.IsError(t, err, fs.ErrNotExist)
}

func TestProfileTileReuse(t *testing.T) {
	src := newFlatTileSource(100)
	profile, err := terrain.NewProfileBuilder().
		Start(orb.Point{0.5, 0.5}).
		End(orb.Point{2.5, 0.5}).
		MaxStep(1000).
		Build(t.Context(), src)
	assert.NoError(t, err)
	assert.True(t, profile.Len() > 200)
	assert.Equal(t, int64(3), src.calls.Load())
}

func TestProfileSinglePoint(t *testing.T) {
	src := newFlatTileSource(250)
	profile, err := terrain.NewProfileBuilder().
		Start(orb.Point{7.5, 46.5}).
		StartAltitude(10).
		End(orb.Point{7.5, 46.5}).
		EndAltitude(20).
		MaxStep(30).
		EarthCurve(true).
		Build(t.Context(), src)
	assert.NoError(t, err)
	assert.Equal(t, &terrain.Profile{
		Points:        []orb.Point{{7.5, 46.5}},
		Distances:     []float64{0},
		LineOfSight:   []float64{260},
		Terrain:       []float64{250},
		TotalDistance: 0,
	}, profile)
}

func TestProfileDeterministic(t *testing.T) {
	src := &testTileSource{
		resolution: terrain.Resolution(360),
		elevation: func(key terrain.TileKey, row, col int) int16 {
			return int16(key.Lon*7 + key.Lat*11 + row*col)
		},
	}
	builder := terrain.NewProfileBuilder().
		Start(orb.Point{6.8, 45.8}).
		StartAltitude(15).
		End(orb.Point{7.9, 46.6}).
		EndAltitude(25).
		MaxStep(250).
		EarthCurve(true)
	expected, err := builder.Build(t.Context(), src)
	assert.NoError(t, err)
	actual, err := builder.Build(t.Context(), src)
	assert.NoError(t, err)
	assert.Equal(t, expected, actual)
}

func TestProfileBuilderConfig(t *testing.T) {
	valid := terrain.NewProfileBuilder().
		Start(orb.Point{0.5, 0.5}).
		End(orb.Point{0.6, 0.5}).
		MaxStep(90)

	config, err := valid.StartAltitude(10).EndAltitude(20).Normalize(true).Config()
	assert.NoError(t, err)
	assert.Equal(t, terrain.ProfileConfig{
		Start:         orb.Point{0.5, 0.5},
		StartAltitude: 10,
		End:           orb.Point{0.6, 0.5},
		EndAltitude:   20,
		MaxStep:       90,
		Normalize:     true,
		EarthRadius:   terrain.MeanEarthRadius,
	}, config)

	for _, tc := range []struct {
		name          string
		builder       terrain.ProfileBuilder
		expectedField string
	}{
		{
			name:          "missing_start",
			builder:       terrain.NewProfileBuilder().End(orb.Point{0, 0}).MaxStep(90),
			expectedField: "start",
		},
		{
			name:          "missing_end",
			builder:       terrain.NewProfileBuilder().Start(orb.Point{0, 0}).MaxStep(90),
			expectedField: "end",
		},
		{
			name:          "missing_max_step",
			builder:       terrain.NewProfileBuilder().Start(orb.Point{0, 0}).End(orb.Point{0, 0}),
			expectedField: "max step",
		},
		{
			name:          "zero_max_step",
			builder:       valid.MaxStep(0),
			expectedField: "max step",
		},
		{
			name:          "negative_max_step",
			builder:       valid.MaxStep(-90),
			expectedField: "max step",
		},
		{
			name:          "invalid_start",
			builder:       valid.Start(orb.Point{0, 91}),
			expectedField: "start",
		},
		{
			name:          "invalid_end",
			builder:       valid.End(orb.Point{181, 0}),
			expectedField: "end",
		},
		{
			name:          "nan_altitude",
			builder:       valid.StartAltitude(math.NaN()),
			expectedField: "start altitude",
		},
		{
			name:          "negative_earth_radius",
			builder:       valid.EarthRadius(-1),
			expectedField: "earth radius",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			src := newFlatTileSource(0)
			_, err := tc.builder.Build(t.Context(), src)
			var configErr *terrain.ConfigError
			assert.True(t, errors.As(err, &configErr))
			assert.Equal(t, tc.expectedField, configErr.Field)
			assert.Equal(t, int64(0), src.calls.Load())
		})
	}
}

func TestProfileAntipodal(t *testing.T) {
	src := newFlatTileSource(0)
	_, err := terrain.NewProfileBuilder().
		Start(orb.Point{0, 0}).
		End(orb.Point{180, 0}).
		MaxStep(1000).
		Build(t.Context(), src)
	var geometryErr *terrain.GeometryError
	assert.True(t, errors.As(err, &geometryErr))
	assert.Equal(t, int64(0), src.calls.Load())
}

func TestProfileCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	_, err := terrain.NewProfileBuilder().
		Start(orb.Point{0.5, 0.5}).
		End(orb.Point{0.6, 0.5}).
		MaxStep(90).
		Build(ctx, newFlatTileSource(0))
	assert.IsError(t, err, context.Canceled)
}

func TestBuildProfiles(t *testing.T) {
	src := newFlatTileSource(100)
	builders := []terrain.ProfileBuilder{
		terrain.NewProfileBuilder().Start(orb.Point{0.5, 0.5}).End(orb.Point{0.6, 0.5}).MaxStep(90),
		terrain.NewProfileBuilder().Start(orb.Point{1.5, 0.5}).End(orb.Point{1.5, 0.6}).MaxStep(30).StartAltitude(5),
		terrain.NewProfileBuilder().Start(orb.Point{-0.5, -0.5}).End(orb.Point{-0.5, -0.5}).MaxStep(30),
	}
	configs := make([]terrain.ProfileConfig, 0, len(builders))
	for _, builder := range builders {
		config, err := builder.Config()
		assert.NoError(t, err)
		configs = append(configs, config)
	}

	profiles, err := terrain.BuildProfiles(t.Context(), src, configs)
	assert.NoError(t, err)
	assert.Equal(t, len(configs), len(profiles))
	for i, config := range configs {
		expected, err := terrain.NewProfile(t.Context(), config, src)
		assert.NoError(t, err)
		assert.Equal(t, expected, profiles[i])
	}

	configs = append(configs, terrain.ProfileConfig{Start: orb.Point{0, 0}, End: orb.Point{1, 1}})
	_, err = terrain.BuildProfiles(t.Context(), src, configs)
	var configErr *terrain.ConfigError
	assert.True(t, errors.As(err, &configErr))
}

func TestProfileClearance(t *testing.T) {
	profile := &terrain.Profile{
		Points:        []orb.Point{{0, 0}, {0, 0}, {0, 0}, {0, 0}},
		Distances:     []float64{0, 10, 20, 30},
		LineOfSight:   []float64{10, 10, 10, 10},
		Terrain:       []float64{0, 20, 0, 5},
		TotalDistance: 30,
	}
	assert.Equal(t, []float64{10, -10, 10, 5}, profile.Clearance())
	minClearance, index := profile.MinClearance()
	assert.Equal(t, -10.0, minClearance)
	assert.Equal(t, 1, index)
	assert.Equal(t, 100.0, profile.IntersectionArea())
}

func TestProfileFresnelZone(t *testing.T) {
	const frequency = 2.4e9
	profile, err := terrain.NewProfileBuilder().
		Start(orb.Point{0.5, 0.5}).
		StartAltitude(10).
		End(eastOf(orb.Point{0.5, 0.5}, 10000)).
		EndAltitude(30).
		MaxStep(1000).
		Build(t.Context(), newFlatTileSource(100))
	assert.NoError(t, err)
	n := profile.Len() - 1
	assert.Equal(t, 10, n)

	lower, upper, err := profile.FresnelZone(1, frequency)
	assert.NoError(t, err)
	assert.Equal(t, profile.Len(), len(lower))
	assert.Equal(t, profile.Len(), len(upper))
	assert.Equal(t, profile.LineOfSight[0], lower[0])
	assert.Equal(t, profile.LineOfSight[0], upper[0])
	assert.Equal(t, profile.LineOfSight[n], lower[n])
	assert.Equal(t, profile.LineOfSight[n], upper[n])

	radii := make([]float64, profile.Len())
	for i := range radii {
		radii[i] = upper[i] - profile.LineOfSight[i]
		assertInDelta(t, radii[i], profile.LineOfSight[i]-lower[i], 1e-9)
	}
	for i := range radii {
		assertInDelta(t, radii[i], radii[n-i], 1e-6)
		assert.True(t, radii[i] <= radii[n/2])
	}
	wavelength := terrain.SpeedOfLight / frequency
	assertInDelta(t, math.Sqrt(wavelength*profile.TotalDistance/4), radii[n/2], 1e-6)

	_, upper2, err := profile.FresnelZone(2, frequency)
	assert.NoError(t, err)
	assertInDelta(t, math.Sqrt2*radii[n/2], upper2[n/2]-profile.LineOfSight[n/2], 1e-6)
}

func TestProfileFresnelZoneSinglePoint(t *testing.T) {
	profile, err := terrain.NewProfileBuilder().
		Start(orb.Point{0.5, 0.5}).
		End(orb.Point{0.5, 0.5}).
		StartAltitude(5).
		MaxStep(90).
		Build(t.Context(), newFlatTileSource(100))
	assert.NoError(t, err)
	lower, upper, err := profile.FresnelZone(1, 900e6)
	assert.NoError(t, err)
	assert.Equal(t, []float64{105}, lower)
	assert.Equal(t, []float64{105}, upper)
}

func TestProfileFresnelZoneErrors(t *testing.T) {
	profile, err := terrain.NewProfileBuilder().
		Start(orb.Point{0.5, 0.5}).
		End(orb.Point{0.6, 0.5}).
		MaxStep(90).
		Build(t.Context(), newFlatTileSource(100))
	assert.NoError(t, err)
	for _, tc := range []struct {
		name          string
		zone          int
		frequency     float64
		expectedField string
	}{
		{name: "zero_zone", zone: 0, frequency: 1e9, expectedField: "fresnel zone"},
		{name: "zero_frequency", zone: 1, frequency: 0, expectedField: "frequency"},
		{name: "nan_frequency", zone: 1, frequency: math.NaN(), expectedField: "frequency"},
		{name: "inf_frequency", zone: 1, frequency: math.Inf(1), expectedField: "frequency"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := profile.FresnelZone(tc.zone, tc.frequency)
			var configErr *terrain.ConfigError
			assert.True(t, errors.As(err, &configErr))
			assert.Equal(t, tc.expectedField, configErr.Field)
		})
	}
}
