// Package sonar holds the sonar data model shared by the parsers:
// raw ping records, decoded sidescan lines and bathymetry swaths.
package sonar

import (
	"fmt"
	"image"

	"github.com/banshee-data/survey.report/internal/nav"
	"github.com/banshee-data/survey.report/internal/sonar/decode"
	"github.com/banshee-data/survey.report/internal/sonar/geometry"
)

// Decode errors, re-exported for callers that only import sonar.
var (
	ErrInvalidBitWidth = decode.ErrInvalidBitWidth
	ErrTruncatedInput  = decode.ErrTruncatedInput
)

// Ping flag bits.
const (
	FlagIntensity  uint32 = 1 << 0
	FlagAngleSteps uint32 = 1 << 1
)

// Sonar types carried in the modern SonarData message.
const (
	TypeSidescan    = 0
	TypeEchosounder = 1
	TypeMultibeam   = 2
)

// PingRecord is one raw sonar ping as read from a log.
type PingRecord struct {
	TimestampMillis int64
	Subsystem       int64 // transducer frequency, Hz
	Type            int
	Range           float64
	BitsPerPoint    int
	ScaleFactor     float64
	Flags           uint32
	AngleScale      float64 // per-beam angle step scale, radians per count
	Payload         []byte
}

// HasIntensity reports whether an intensity block follows the ranges.
func (p *PingRecord) HasIntensity() bool { return p.Flags&FlagIntensity != 0 }

// HasAngleSteps reports whether a per-beam angle step block is present.
func (p *PingRecord) HasAngleSteps() bool { return p.Flags&FlagAngleSteps != 0 }

// blocks is the number of equally sized sample blocks in the payload.
func (p *PingRecord) blocks() int {
	n := 1
	if p.HasIntensity() {
		n++
	}
	if p.HasAngleSteps() {
		n++
	}
	return n
}

// PointCount derives the number of beams/bins from the payload size.
func (p *PingRecord) PointCount() (int, error) {
	bpp, err := decode.BytesPerPoint(p.BitsPerPoint)
	if err != nil {
		return 0, err
	}
	per := bpp * p.blocks()
	if len(p.Payload)%per != 0 {
		return 0, fmt.Errorf("%w: %d bytes for %d block(s) of %d-bit points",
			decode.ErrTruncatedInput, len(p.Payload), p.blocks(), p.BitsPerPoint)
	}
	return len(p.Payload) / per, nil
}

// Validate checks the payload size invariant.
func (p *PingRecord) Validate() error {
	_, err := p.PointCount()
	return err
}

// Block returns the raw bytes of block i (0 ranges/amplitudes, then
// intensity, then angle steps, in that order when present).
func (p *PingRecord) Block(i int) ([]byte, error) {
	n, err := p.PointCount()
	if err != nil {
		return nil, err
	}
	if i < 0 || i >= p.blocks() {
		return nil, fmt.Errorf("block %d out of range (%d blocks)", i, p.blocks())
	}
	size := n * p.BitsPerPoint / 8
	return p.Payload[i*size : (i+1)*size], nil
}

// Samples decodes the first payload block into scaled samples.
func (p *PingRecord) Samples() ([]float64, error) {
	b, err := p.Block(0)
	if err != nil {
		return nil, err
	}
	return decode.Decode(b, p.BitsPerPoint, p.ScaleFactor)
}

// SidescanParameters controls per-query sidescan normalisation.
type SidescanParameters struct {
	Normalization float64 `json:"normalization"`
	TVGGain       float64 `json:"tvg_gain"`
	MinValue      float64 `json:"min_value"`
	WindowValue   float64 `json:"window_value"`
}

// DefaultSidescanParameters are the values used when no config is given.
func DefaultSidescanParameters() SidescanParameters {
	return SidescanParameters{Normalization: 0.1, TVGGain: 280, MinValue: 0, WindowValue: 1}
}

// SidescanLine is one sidescan ping's amplitude samples with the pose at
// which it was taken.
type SidescanLine struct {
	TimestampMillis int64
	Range           float64
	Frequency       int64
	Pose            nav.Pose
	Data            []float64
	SlantCorrected  bool

	// Image is a rendering of the line owned by the caller.
	Image image.Image
}

// XSize is the number of samples in the line.
func (l *SidescanLine) XSize() int { return len(l.Data) }

// DistanceFromIndex is the signed across-track distance of sample x.
func (l *SidescanLine) DistanceFromIndex(x int, slantCorrect bool) float64 {
	return geometry.DistanceFromIndex(x, l.XSize(), l.Range, l.Pose.Altitude, slantCorrect)
}

// IndexFromDistance is the sample index at a signed across-track distance.
func (l *SidescanLine) IndexFromDistance(d float64, slantCorrect bool) int {
	return geometry.IndexFromDistance(d, l.XSize(), l.Range, l.Pose.Altitude, slantCorrect)
}

// PointFromIndex locates sample x on the ground.
func (l *SidescanLine) PointFromIndex(x int, slantCorrect bool) geometry.Point {
	return geometry.PointFromIndex(x, l.XSize(), l.Range, l.Pose, slantCorrect)
}

// BathymetryPoint is one multibeam beam sounding. North and east are
// offsets from the swath pose's reference location.
type BathymetryPoint struct {
	North     float64 `json:"north"`
	East      float64 `json:"east"`
	Depth     float64 `json:"depth"`
	Intensity float64 `json:"intensity"`
}

// BathymetrySwath is one multibeam ping's soundings. Beams without a valid
// return are nil.
type BathymetrySwath struct {
	TimestampMillis int64
	Pose            nav.Pose
	Points          []*BathymetryPoint
}

// NumBeams is the number of beams, valid or not.
func (s *BathymetrySwath) NumBeams() int { return len(s.Points) }

// ValidPoints returns the non-nil soundings.
func (s *BathymetrySwath) ValidPoints() []*BathymetryPoint {
	out := make([]*BathymetryPoint, 0, len(s.Points))
	for _, p := range s.Points {
		if p != nil {
			out = append(out, p)
		}
	}
	return out
}
