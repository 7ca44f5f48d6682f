// Package geometry converts between sidescan sample indexes, across-track
// distances and geographic locations, and projects multibeam beams into
// north/east/depth offsets.
//
// A sidescan line of xSize samples covers [-range, +range] across track;
// index xSize/2 is nadir, lower indexes are port.
package geometry

import (
	"math"

	"github.com/banshee-data/survey.report/internal/nav"
)

// DistanceFromIndex maps sample index x to a signed across-track distance.
// With slantCorrect the slant range is converted to horizontal range using
// altitude; ranges shorter than the altitude map to 0.
func DistanceFromIndex(x, xSize int, rng, altitude float64, slantCorrect bool) float64 {
	if xSize <= 0 {
		return 0
	}
	d := float64(x)*(2*rng/float64(xSize)) - rng
	if !slantCorrect {
		return d
	}
	h := d*d - altitude*altitude
	if h <= 0 {
		return 0
	}
	return math.Copysign(math.Sqrt(h), d)
}

// IndexFromDistance is the inverse of DistanceFromIndex. The result is
// rounded to the nearest index and is not clamped to [0, xSize).
func IndexFromDistance(distance float64, xSize int, rng, altitude float64, slantCorrect bool) int {
	if rng == 0 {
		return xSize / 2
	}
	d := distance
	if slantCorrect {
		d = math.Copysign(math.Sqrt(d*d+altitude*altitude), d)
	}
	return int(math.Round((d + rng) * float64(xSize) / (2 * rng)))
}

// Point is a sidescan sample located on the ground.
type Point struct {
	Index    int          `json:"index"`
	Distance float64      `json:"distance"`
	Location nav.Location `json:"location"`
}

// PointFromIndex locates sample x of a line taken at pose.
func PointFromIndex(x, xSize int, rng float64, pose nav.Pose, slantCorrect bool) Point {
	d := DistanceFromIndex(x, xSize, rng, pose.Altitude, slantCorrect)
	angle := -pose.Yaw
	if x < xSize/2 {
		angle += math.Pi
	}
	ad := math.Abs(d)
	loc := pose.Location.Translate(ad*math.Cos(angle), ad*math.Sin(angle)).Absolute()
	return Point{Index: x, Distance: d, Location: loc}
}

// HorizontalDistanceBetween is the ground distance between two located samples.
func HorizontalDistanceBetween(a, b Point) float64 {
	return a.Location.HorizontalDistance(b.Location)
}

// HeightFromShadow estimates the height of a target from the two sample
// indexes bounding its acoustic shadow. The far edge of the shadow is the
// one farther from nadir on either side.
func HeightFromShadow(x1, x2, xSize int, rng, altitude float64) float64 {
	p1 := DistanceFromIndex(x1, xSize, rng, altitude, false)
	p2 := DistanceFromIndex(x2, xSize, rng, altitude, false)
	shadow := math.Abs(p2 - p1)
	r := math.Max(math.Abs(p1), math.Abs(p2))
	if r == 0 {
		return 0
	}
	return shadow * altitude / r
}

// BeamToNorthEastDepth projects a multibeam beam of the given range and
// across-track angle (radians from vertical) into offsets from the pose.
// Depth includes the vehicle depth.
func BeamToNorthEastDepth(rng, angle float64, pose nav.Pose) (north, east, depth float64) {
	depth = rng*math.Cos(angle) + pose.Location.Depth
	across := rng * math.Sin(angle)
	north = across * math.Sin(-pose.Yaw)
	east = across * math.Cos(-pose.Yaw)
	return north, east, depth
}
