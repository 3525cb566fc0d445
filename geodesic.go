package terrain

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// angularTolerance is the angle in radians, about 6mm on the Earth's surface,
// within which points are considered coincident or antipodal.
const angularTolerance = 1e-9

// maxSegments is the largest number of segments that Steps divides a path
// into.
const maxSegments = 1 << 24

// A Step is a point along a great circle path.
type Step struct {
	Point    orb.Point
	Distance float64 // Meters from the start of the path.
}

// Distance returns the great circle distance in meters between a and b.
//
// Distances are computed on a sphere of radius MeanEarthRadius. Compared with
// geodesics on the WGS84 ellipsoid the error is at most about 0.5%.
func Distance(a, b orb.Point) float64 {
	return centralAngle(a, b) * MeanEarthRadius
}

// Steps returns points along the shorter great circle arc from start to end,
// separated by at most maxStep meters. The first and last points are exactly
// start and end. A path is divided into at most 1<<24 segments. If start and end are the same point then it returns a single
// step. Antipodal points have no unique path and are an error.
//
// Intermediate points are interpolated along the great circle in Cartesian
// coordinates, so paths that cross the antimeridian or pass over a pole are
// handled without special cases.
func Steps(start, end orb.Point, maxStep float64) ([]Step, error) {
	if !(maxStep > 0) || math.IsInf(maxStep, 1) {
		return nil, &ConfigError{Field: "max step", Reason: fmt.Sprintf("invalid distance %g", maxStep)}
	}
	if !ValidPoint(start) || !ValidPoint(end) {
		return nil, &GeometryError{Start: start, End: end, Reason: "invalid coordinate"}
	}

	angle := centralAngle(start, end)
	switch {
	case start == end || angle < angularTolerance:
		return []Step{{Point: start}}, nil
	case math.Pi-angle < angularTolerance:
		return nil, &GeometryError{Start: start, End: end, Reason: "antipodal points"}
	}

	distance := angle * MeanEarthRadius
	segments := math.Ceil(distance / maxStep)
	if segments > maxSegments {
		return nil, &ConfigError{
			Field:  "max step",
			Reason: fmt.Sprintf("%gm divides a %gm path into more than %d segments", maxStep, distance, maxSegments),
		}
	}
	n := max(int(segments), 1)
	startVector, endVector := unitVector(start), unitVector(end)
	sinAngle := math.Sin(angle)

	steps := make([]Step, n+1)
	steps[0] = Step{Point: start}
	for i := 1; i < n; i++ {
		f := float64(i) / float64(n)
		a := math.Sin((1-f)*angle) / sinAngle
		b := math.Sin(f*angle) / sinAngle
		x := a*startVector[0] + b*endVector[0]
		y := a*startVector[1] + b*endVector[1]
		z := a*startVector[2] + b*endVector[2]
		steps[i] = Step{
			Point:    orb.Point{degrees(math.Atan2(y, x)), degrees(math.Atan2(z, math.Hypot(x, y)))},
			Distance: float64(i) * distance / float64(n),
		}
	}
	steps[n] = Step{Point: end, Distance: distance}
	return steps, nil
}

// ElevationAngle returns the angle in radians above the horizontal at which a
// point endElevation meters high and distance meters away is seen from a point
// startElevation meters high, on a sphere of radius earthRadius.
func ElevationAngle(startElevation, distance, endElevation, earthRadius float64) float64 {
	a := distance
	b := startElevation + earthRadius
	c := endElevation + earthRadius
	cos := (a*a + b*b - c*c) / (2 * a * b)
	return math.Acos(max(-1, min(cos, 1))) - math.Pi/2
}

// centralAngle returns the angle in radians subtended by a and b at the
// Earth's center. It is accurate for both nearby and nearly antipodal points.
func centralAngle(a, b orb.Point) float64 {
	u, v := unitVector(a), unitVector(b)
	cross := [3]float64{
		u[1]*v[2] - u[2]*v[1],
		u[2]*v[0] - u[0]*v[2],
		u[0]*v[1] - u[1]*v[0],
	}
	dot := u[0]*v[0] + u[1]*v[1] + u[2]*v[2]
	return math.Atan2(math.Sqrt(cross[0]*cross[0]+cross[1]*cross[1]+cross[2]*cross[2]), dot)
}

// unitVector returns the unit vector from the Earth's center through p.
func unitVector(p orb.Point) [3]float64 {
	lat, lon := radians(p.Lat()), radians(p.Lon())
	return [3]float64{
		math.Cos(lat) * math.Cos(lon),
		math.Cos(lat) * math.Sin(lon),
		math.Sin(lat),
	}
}

func degrees(radians float64) float64 {
	return radians * 180 / math.Pi
}

func radians(degrees float64) float64 {
	return degrees * math.Pi / 180
}
