package terrain

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"time"

	"github.com/paulmach/orb"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"
)

var (
	profileBuildDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "terrain_profile_build_duration_seconds",
		Help:    "The time taken to build a profile",
		Buckets: prometheus.DefBuckets,
	})
	profileSamples = promauto.NewCounter(prometheus.CounterOpts{
		Name: "terrain_profile_samples_total",
		Help: "The total number of profile samples computed",
	})
)

// SpeedOfLight is the speed of light in a vacuum in meters per second.
const SpeedOfLight = 299792458

// A ProfileConfig is a complete profile configuration. The zero EarthRadius
// means MeanEarthRadius and a nil Logger discards log output.
type ProfileConfig struct {
	Start         orb.Point
	StartAltitude float64 // Meters above the terrain at Start.
	End           orb.Point
	EndAltitude   float64 // Meters above the terrain at End.
	MaxStep       float64 // Maximum distance between samples in meters.
	EarthCurve    bool
	Normalize     bool
	EarthRadius   float64 // Radius used for curvature correction in meters.
	Logger        *slog.Logger
}

// Validate returns a *ConfigError if c is incomplete or invalid.
func (c *ProfileConfig) Validate() error {
	switch {
	case !ValidPoint(c.Start):
		return &ConfigError{Field: "start", Reason: fmt.Sprintf("invalid coordinate %v", c.Start)}
	case !ValidPoint(c.End):
		return &ConfigError{Field: "end", Reason: fmt.Sprintf("invalid coordinate %v", c.End)}
	case !finite(c.StartAltitude):
		return &ConfigError{Field: "start altitude", Reason: fmt.Sprintf("invalid altitude %g", c.StartAltitude)}
	case !finite(c.EndAltitude):
		return &ConfigError{Field: "end altitude", Reason: fmt.Sprintf("invalid altitude %g", c.EndAltitude)}
	case !finite(c.MaxStep) || c.MaxStep <= 0:
		return &ConfigError{Field: "max step", Reason: fmt.Sprintf("invalid distance %g", c.MaxStep)}
	case !finite(c.EarthRadius) || c.EarthRadius < 0:
		return &ConfigError{Field: "earth radius", Reason: fmt.Sprintf("invalid radius %g", c.EarthRadius)}
	default:
		return nil
	}
}

// A ProfileBuilder assembles a ProfileConfig. Setters return a modified copy
// so calls can be chained. The zero ProfileBuilder is ready to use.
type ProfileBuilder struct {
	start         *orb.Point
	startAltitude float64
	end           *orb.Point
	endAltitude   float64
	maxStep       *float64
	earthCurve    bool
	normalize     bool
	earthRadius   float64
	logger        *slog.Logger
}

// NewProfileBuilder returns a new ProfileBuilder with no start, end, or
// maximum step, zero altitudes, and no curvature correction or normalization.
func NewProfileBuilder() ProfileBuilder {
	return ProfileBuilder{
		earthRadius: MeanEarthRadius,
	}
}

// Start sets the start point.
func (b ProfileBuilder) Start(p orb.Point) ProfileBuilder {
	b.start = &p
	return b
}

// StartAltitude sets the height of the line of sight above the terrain at the
// start point.
func (b ProfileBuilder) StartAltitude(altitude float64) ProfileBuilder {
	b.startAltitude = altitude
	return b
}

// End sets the end point.
func (b ProfileBuilder) End(p orb.Point) ProfileBuilder {
	b.end = &p
	return b
}

// EndAltitude sets the height of the line of sight above the terrain at the
// end point.
func (b ProfileBuilder) EndAltitude(altitude float64) ProfileBuilder {
	b.endAltitude = altitude
	return b
}

// MaxStep sets the maximum distance between samples in meters.
func (b ProfileBuilder) MaxStep(maxStep float64) ProfileBuilder {
	b.maxStep = &maxStep
	return b
}

// EarthCurve sets whether to correct for the curvature of the Earth.
func (b ProfileBuilder) EarthCurve(earthCurve bool) ProfileBuilder {
	b.earthCurve = earthCurve
	return b
}

// Normalize sets whether to shift the profile so that its lowest terrain
// sample is zero.
func (b ProfileBuilder) Normalize(normalize bool) ProfileBuilder {
	b.normalize = normalize
	return b
}

// EarthRadius sets the radius used for curvature correction. Radio links
// commonly use 4/3 of MeanEarthRadius to model atmospheric refraction.
func (b ProfileBuilder) EarthRadius(earthRadius float64) ProfileBuilder {
	b.earthRadius = earthRadius
	return b
}

// Logger sets the logger.
func (b ProfileBuilder) Logger(logger *slog.Logger) ProfileBuilder {
	b.logger = logger
	return b
}

// Config returns b's configuration, or a *ConfigError if it is incomplete or
// invalid.
func (b ProfileBuilder) Config() (ProfileConfig, error) {
	switch {
	case b.start == nil:
		return ProfileConfig{}, &ConfigError{Field: "start", Reason: "missing"}
	case b.end == nil:
		return ProfileConfig{}, &ConfigError{Field: "end", Reason: "missing"}
	case b.maxStep == nil:
		return ProfileConfig{}, &ConfigError{Field: "max step", Reason: "missing"}
	}
	config := ProfileConfig{
		Start:         *b.start,
		StartAltitude: b.startAltitude,
		End:           *b.end,
		EndAltitude:   b.endAltitude,
		MaxStep:       *b.maxStep,
		EarthCurve:    b.earthCurve,
		Normalize:     b.normalize,
		EarthRadius:   b.earthRadius,
		Logger:        b.logger,
	}
	if err := config.Validate(); err != nil {
		return ProfileConfig{}, err
	}
	return config, nil
}

// Build validates b and builds its profile with tiles from src.
func (b ProfileBuilder) Build(ctx context.Context, src TileSource) (*Profile, error) {
	config, err := b.Config()
	if err != nil {
		return nil, err
	}
	return NewProfile(ctx, config, src)
}

// A Profile is a terrain profile along a great circle path. All slices have
// one element per sample.
type Profile struct {
	Points        []orb.Point
	Distances     []float64 // Meters from the start.
	LineOfSight   []float64 // Meters.
	Terrain       []float64 // Meters.
	TotalDistance float64   // Meters.
}

// NewProfile builds the profile described by config with tiles from src. It
// returns an error if any sample cannot be computed.
func NewProfile(ctx context.Context, config ProfileConfig, src TileSource) (*Profile, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	start := time.Now()
	steps, err := Steps(config.Start, config.End, config.MaxStep)
	if err != nil {
		return nil, err
	}
	pathDuration := time.Since(start)

	n := len(steps)
	profile := &Profile{
		Points:        make([]orb.Point, n),
		Distances:     make([]float64, n),
		LineOfSight:   make([]float64, n),
		Terrain:       make([]float64, n),
		TotalDistance: steps[n-1].Distance,
	}

	var tile *Tile
	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if tile == nil || !tile.Contains(step.Point) {
			tile, err = src.Tile(ctx, step.Point)
			if err != nil {
				return nil, fmt.Errorf("sample %d at %v: %w", i, step.Point, err)
			}
		}
		elevation, err := tile.Interpolate(step.Point)
		if err != nil {
			return nil, fmt.Errorf("sample %d at %v: %w", i, step.Point, err)
		}
		if math.IsNaN(elevation) {
			return nil, &DataGapError{Index: i, Point: step.Point}
		}
		profile.Points[i] = step.Point
		profile.Distances[i] = step.Distance
		profile.Terrain[i] = elevation
	}

	startElevation := profile.Terrain[0] + config.StartAltitude
	endElevation := profile.Terrain[n-1] + config.EndAltitude
	for i, distance := range profile.Distances {
		if profile.TotalDistance == 0 {
			profile.LineOfSight[i] = startElevation
			continue
		}
		profile.LineOfSight[i] = lerp(startElevation, endElevation, distance/profile.TotalDistance)
	}

	if config.EarthCurve {
		earthRadius := config.EarthRadius
		if earthRadius == 0 {
			earthRadius = MeanEarthRadius
		}
		half := profile.TotalDistance / 2
		for i, distance := range profile.Distances {
			x := distance - half
			drop := (half*half - x*x) / (2 * earthRadius)
			profile.LineOfSight[i] -= drop
			profile.Terrain[i] -= drop
		}
	}

	if config.Normalize {
		minTerrain := profile.Terrain[0]
		for _, elevation := range profile.Terrain[1:] {
			minTerrain = min(minTerrain, elevation)
		}
		for i := range n {
			profile.LineOfSight[i] -= minTerrain
			profile.Terrain[i] -= minTerrain
		}
	}

	duration := time.Since(start)
	profileBuildDuration.Observe(duration.Seconds())
	profileSamples.Add(float64(n))
	logger.DebugContext(ctx, "built profile",
		slog.Int("samples", n),
		slog.Float64("distance", profile.TotalDistance),
		slog.Duration("pathDuration", pathDuration),
		slog.Duration("duration", duration),
	)

	return profile, nil
}

// BuildProfiles builds the profiles described by configs concurrently. It
// returns the first error encountered.
func BuildProfiles(ctx context.Context, src TileSource, configs []ProfileConfig) ([]*Profile, error) {
	profiles := make([]*Profile, len(configs))
	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(runtime.GOMAXPROCS(0))
	for i, config := range configs {
		group.Go(func() error {
			profile, err := NewProfile(ctx, config, src)
			if err != nil {
				return fmt.Errorf("profile %d: %w", i, err)
			}
			profiles[i] = profile
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return profiles, nil
}

// Len returns the number of samples in p.
func (p *Profile) Len() int {
	return len(p.Points)
}

// Clearance returns the height of the line of sight above the terrain at each
// sample. Negative values are obstructions.
func (p *Profile) Clearance() []float64 {
	clearance := make([]float64, len(p.Terrain))
	for i := range clearance {
		clearance[i] = p.LineOfSight[i] - p.Terrain[i]
	}
	return clearance
}

// MinClearance returns the smallest clearance and the index of its sample.
func (p *Profile) MinClearance() (float64, int) {
	minClearance, minIndex := math.Inf(1), -1
	for i := range p.Terrain {
		if clearance := p.LineOfSight[i] - p.Terrain[i]; clearance < minClearance {
			minClearance, minIndex = clearance, i
		}
	}
	return minClearance, minIndex
}

// IntersectionArea returns the area in square meters of terrain above the
// line of sight, integrated with the trapezoidal rule.
func (p *Profile) IntersectionArea() float64 {
	area := 0.0
	for i := 1; i < len(p.Terrain); i++ {
		h0 := max(p.Terrain[i-1]-p.LineOfSight[i-1], 0)
		h1 := max(p.Terrain[i]-p.LineOfSight[i], 0)
		area += (h0 + h1) / 2 * (p.Distances[i] - p.Distances[i-1])
	}
	return area
}

// FresnelZone returns the lower and upper bounds in meters of the nth Fresnel
// zone around p's line of sight for a radio link at frequency hertz. The zone
// radius at distance d1 from the start and d2 from the end is
// sqrt(n·λ·d1·d2/D), so it is zero at both ends of the path.
func (p *Profile) FresnelZone(n int, frequency float64) (lower, upper []float64, err error) {
	if n < 1 {
		return nil, nil, &ConfigError{Field: "fresnel zone", Reason: fmt.Sprintf("invalid zone %d", n)}
	}
	if !finite(frequency) || frequency <= 0 {
		return nil, nil, &ConfigError{Field: "frequency", Reason: fmt.Sprintf("invalid frequency %g", frequency)}
	}
	wavelength := SpeedOfLight / frequency
	lower = make([]float64, len(p.LineOfSight))
	upper = make([]float64, len(p.LineOfSight))
	for i, lineOfSight := range p.LineOfSight {
		var radius float64
		if p.TotalDistance > 0 {
			d1 := p.Distances[i]
			d2 := max(p.TotalDistance-d1, 0)
			radius = math.Sqrt(float64(n) * wavelength * d1 * d2 / p.TotalDistance)
		}
		lower[i] = lineOfSight - radius
		upper[i] = lineOfSight + radius
	}
	return lower, upper, nil
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
