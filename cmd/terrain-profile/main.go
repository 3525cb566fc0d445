package main

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/spf13/cobra"

	"github.com/twpayne/go-terrain"
)

type globalOptions struct {
	tileDir string
	mmap    bool
	verbose bool
}

func (o *globalOptions) logger() *slog.Logger {
	level := slog.LevelWarn
	if o.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func (o *globalOptions) newStore(logger *slog.Logger) (*terrain.Store, error) {
	if o.tileDir == "" {
		return nil, errors.New("tile directory not set, use --tile-dir or $TERRAIN_TILE_DIR")
	}
	mode := terrain.LoadModeInMemory
	if o.mmap {
		mode = terrain.LoadModeMemoryMapped
	}
	return terrain.NewStore(o.tileDir, mode, terrain.WithLogger(logger))
}

func newRootCommand() *cobra.Command {
	var o globalOptions
	rootCmd := &cobra.Command{
		Use:           "terrain-profile",
		Short:         "Terrain elevation profiles from NASADEM/SRTM tiles",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	rootCmd.PersistentFlags().StringVar(&o.tileDir, "tile-dir", os.Getenv("TERRAIN_TILE_DIR"), "directory of NASADEM/SRTM tiles")
	rootCmd.PersistentFlags().BoolVar(&o.mmap, "mmap", false, "memory-map tiles instead of reading them into memory")
	rootCmd.PersistentFlags().BoolVarP(&o.verbose, "verbose", "v", false, "log debug messages")
	rootCmd.AddCommand(
		newProfileCommand(&o),
		newElevationCommand(&o),
	)
	return rootCmd
}

func newProfileCommand(o *globalOptions) *cobra.Command {
	var (
		start       string
		end         string
		maxStep     float64
		earthCurve  bool
		normalize   bool
		earthRadius float64
		frequency   float64
		format      string
	)
	profileCmd := &cobra.Command{
		Use:   "profile",
		Short: "Compute the terrain profile between two points",
		Example: `  terrain-profile profile --start=-119.6,39.1,10 --end=-119.9,39.4,30 --max-step=90
  terrain-profile profile --start=7.5,46.5 --end=8,46.9 --earth-curve --format=geojson`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			startPoint, startAltitude, err := parsePoint(start)
			if err != nil {
				return fmt.Errorf("start: %w", err)
			}
			endPoint, endAltitude, err := parsePoint(end)
			if err != nil {
				return fmt.Errorf("end: %w", err)
			}

			logger := o.logger()
			store, err := o.newStore(logger)
			if err != nil {
				return err
			}
			defer store.Close()

			profile, err := terrain.NewProfileBuilder().
				Start(startPoint).
				StartAltitude(startAltitude).
				End(endPoint).
				EndAltitude(endAltitude).
				MaxStep(maxStep).
				EarthCurve(earthCurve).
				Normalize(normalize).
				EarthRadius(earthRadius).
				Logger(logger).
				Build(cmd.Context(), store)
			if err != nil {
				return err
			}

			var fresnel *fresnelZone
			if cmd.Flags().Changed("frequency") {
				lower, upper, err := profile.FresnelZone(1, frequency)
				if err != nil {
					return err
				}
				fresnel = &fresnelZone{lower: lower, upper: upper}
			}

			switch format {
			case "csv":
				return writeProfileCSV(cmd.OutOrStdout(), profile, fresnel)
			case "geojson":
				return writeProfileGeoJSON(cmd.OutOrStdout(), profile, fresnel)
			default:
				return fmt.Errorf("%s: unsupported format", format)
			}
		},
	}
	profileCmd.Flags().StringVar(&start, "start", "", "start point as lon,lat[,altitude]")
	profileCmd.Flags().StringVar(&end, "end", "", "end point as lon,lat[,altitude]")
	profileCmd.Flags().Float64Var(&maxStep, "max-step", 90, "maximum distance between samples in meters")
	profileCmd.Flags().BoolVar(&earthCurve, "earth-curve", false, "correct for the curvature of the Earth")
	profileCmd.Flags().BoolVar(&normalize, "normalize", false, "shift the profile so that the lowest terrain is zero")
	profileCmd.Flags().Float64Var(&earthRadius, "earth-radius", terrain.MeanEarthRadius, "Earth radius for curvature correction in meters")
	profileCmd.Flags().Float64Var(&frequency, "frequency", 0, "radio frequency in hertz, adds the first Fresnel zone to the output")
	profileCmd.Flags().StringVar(&format, "format", "csv", "output format (csv or geojson)")
	_ = profileCmd.MarkFlagRequired("start")
	_ = profileCmd.MarkFlagRequired("end")
	return profileCmd
}

func newElevationCommand(o *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "elevation lon,lat...",
		Short:   "Print the terrain elevation at points",
		Example: `  terrain-profile elevation -- -119.6,39.1 -119.9,39.4`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			points := make([]orb.Point, 0, len(args))
			for _, arg := range args {
				point, _, err := parsePoint(arg)
				if err != nil {
					return err
				}
				points = append(points, point)
			}

			store, err := o.newStore(o.logger())
			if err != nil {
				return err
			}
			defer store.Close()

			elevations, err := terrain.Elevations(cmd.Context(), store, points)
			if err != nil {
				return err
			}
			for _, elevation := range elevations {
				fmt.Fprintln(cmd.OutOrStdout(), strconv.FormatFloat(elevation, 'f', -1, 64))
			}
			return nil
		},
	}
}

// parsePoint parses a point and optional altitude from lon,lat[,altitude].
func parsePoint(s string) (orb.Point, float64, error) {
	fields := strings.Split(s, ",")
	if len(fields) != 2 && len(fields) != 3 {
		return orb.Point{}, 0, fmt.Errorf("%s: expected lon,lat[,altitude]", s)
	}
	values := make([]float64, len(fields))
	for i, field := range fields {
		value, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return orb.Point{}, 0, fmt.Errorf("%s: %w", s, err)
		}
		values[i] = value
	}
	var altitude float64
	if len(values) == 3 {
		altitude = values[2]
	}
	return orb.Point{values[0], values[1]}, altitude, nil
}

// A fresnelZone is the lower and upper bounds of a Fresnel zone.
type fresnelZone struct {
	lower []float64
	upper []float64
}

func writeProfileCSV(w io.Writer, profile *terrain.Profile, fresnel *fresnelZone) error {
	csvWriter := csv.NewWriter(w)
	header := []string{"distance", "lon", "lat", "line_of_sight", "terrain"}
	if fresnel != nil {
		header = append(header, "fresnel_lower", "fresnel_upper")
	}
	if err := csvWriter.Write(header); err != nil {
		return err
	}
	for i, point := range profile.Points {
		record := []string{
			strconv.FormatFloat(profile.Distances[i], 'f', 3, 64),
			strconv.FormatFloat(point.Lon(), 'f', 7, 64),
			strconv.FormatFloat(point.Lat(), 'f', 7, 64),
			strconv.FormatFloat(profile.LineOfSight[i], 'f', 3, 64),
			strconv.FormatFloat(profile.Terrain[i], 'f', 3, 64),
		}
		if fresnel != nil {
			record = append(record,
				strconv.FormatFloat(fresnel.lower[i], 'f', 3, 64),
				strconv.FormatFloat(fresnel.upper[i], 'f', 3, 64),
			)
		}
		if err := csvWriter.Write(record); err != nil {
			return err
		}
	}
	csvWriter.Flush()
	return csvWriter.Error()
}

func writeProfileGeoJSON(w io.Writer, profile *terrain.Profile, fresnel *fresnelZone) error {
	var geometry orb.Geometry = orb.LineString(profile.Points)
	if profile.Len() == 1 {
		geometry = profile.Points[0]
	}
	feature := geojson.NewFeature(geometry)
	minClearance, minClearanceIndex := profile.MinClearance()
	feature.Properties["total_distance"] = profile.TotalDistance
	feature.Properties["distances"] = profile.Distances
	feature.Properties["line_of_sight"] = profile.LineOfSight
	feature.Properties["terrain"] = profile.Terrain
	feature.Properties["min_clearance"] = minClearance
	feature.Properties["min_clearance_index"] = minClearanceIndex
	feature.Properties["intersection_area"] = profile.IntersectionArea()
	if fresnel != nil {
		feature.Properties["fresnel_lower"] = fresnel.lower
		feature.Properties["fresnel_upper"] = fresnel.upper
	}

	featureCollection := geojson.NewFeatureCollection()
	featureCollection.Append(feature)
	data, err := featureCollection.MarshalJSON()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
