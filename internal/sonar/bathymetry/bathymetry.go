// Package bathymetry reads multibeam swaths from SonarData messages and
// summarises their coverage.
package bathymetry

import (
	"fmt"

	"github.com/banshee-data/survey.report/internal/fsutil"
	"github.com/banshee-data/survey.report/internal/logsource"
	"github.com/banshee-data/survey.report/internal/nav"
	"github.com/banshee-data/survey.report/internal/nav/poscache"
	"github.com/banshee-data/survey.report/internal/sonar"
	"github.com/banshee-data/survey.report/internal/sonar/decode"
	"github.com/banshee-data/survey.report/internal/sonar/geometry"
	"github.com/banshee-data/survey.report/internal/sonar/parser"
)

// Option configures a Parser.
type Option func(*Parser)

// WithPositionCache takes swath poses from c. Cleanup closes c.
func WithPositionCache(c *poscache.Cache) Option {
	return func(p *Parser) { p.poses = parser.NewCachedPoses(c) }
}

// WithFileSystem sets where the info cache is read and written. The
// default is the OS filesystem.
func WithFileSystem(fsys fsutil.FileSystem) Option {
	return func(p *Parser) { p.fsys = fsys }
}

// Parser iterates the multibeam swaths of a bundle in time order.
type Parser struct {
	bundle logsource.Bundle
	pings  logsource.Cursor
	poses  parser.PoseSource
	fsys   fsutil.FileSystem
	info   *Info
}

// New opens a swath parser over bundle.
func New(bundle logsource.Bundle, opts ...Option) *Parser {
	p := &Parser{
		bundle: bundle,
		pings:  bundle.Iterate(sonar.SonarDataMessage),
		fsys:   fsutil.OSFileSystem{},
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.poses == nil {
		p.poses = parser.NewRawPoses(bundle.Iterate(nav.EstimatedStateMessage))
	}
	return p
}

// NextSwath returns the next decodable swath. ok is false at the end of
// the log or when no pose follows the remaining pings.
func (p *Parser) NextSwath() (*sonar.BathymetrySwath, bool) {
	for msg, ok := p.pings.Next(); ok; msg, ok = p.pings.Next() {
		ping := sonar.PingFromMessage(msg)
		if ping.Type != sonar.TypeMultibeam {
			continue
		}
		pose, ok := p.poses.At(ping.TimestampMillis)
		if !ok {
			diagf("no pose after %d", ping.TimestampMillis)
			return nil, false
		}
		swath, err := Swath(ping, msg, pose)
		if err != nil {
			tracef("skipping swath at %d: %v", ping.TimestampMillis, err)
			continue
		}
		return swath, true
	}
	return nil, false
}

// Rewind restarts iteration at the first swath.
func (p *Parser) Rewind() {
	p.pings.Reset()
	p.poses.Rewind()
}

// FirstTimestamp is the time of the first swath, from Info.
func (p *Parser) FirstTimestamp() int64 { return p.Info().FirstTimestamp }

// LastTimestamp is the time of the last swath, from Info.
func (p *Parser) LastTimestamp() int64 { return p.Info().LastTimestamp }

// Cleanup releases the cursors and any attached position cache.
func (p *Parser) Cleanup() {
	if err := p.pings.Close(); err != nil {
		opsf("closing ping cursor: %v", err)
	}
	if err := p.poses.Close(); err != nil {
		opsf("closing pose source: %v", err)
	}
}

// Swath decodes a multibeam ping taken at pose. The payload holds ranges,
// then intensities and per-beam angle steps when flagged. Without steps,
// beam i is at start_angle + i*angle_step; with steps, beam i is at
// start_angle plus the scaled sum of steps 0..i. Angles are radians from
// vertical. Beams with zero range are nil.
func Swath(ping *sonar.PingRecord, msg *logsource.Message, pose nav.Pose) (*sonar.BathymetrySwath, error) {
	n, err := ping.PointCount()
	if err != nil {
		return nil, err
	}
	block := 0
	next := func() ([]byte, error) {
		b, err := ping.Block(block)
		block++
		return b, err
	}

	// Every block holds n samples, decoded in place into one buffer.
	blocks := 1
	if ping.HasIntensity() {
		blocks++
	}
	buf := make([]float64, blocks*n+n)
	ranges, angles := buf[:n], buf[blocks*n:]

	raw, err := next()
	if err == nil {
		err = decode.DecodeInto(ranges, raw, ping.BitsPerPoint, ping.ScaleFactor)
	}
	if err != nil {
		return nil, fmt.Errorf("ranges: %w", err)
	}

	var intensities []float64
	if ping.HasIntensity() {
		scale, ok := msg.Lookup("intensity_scale")
		if !ok {
			scale = 1
		}
		intensities = buf[n : 2*n]
		if raw, err = next(); err == nil {
			err = decode.DecodeInto(intensities, raw, ping.BitsPerPoint, scale)
		}
		if err != nil {
			return nil, fmt.Errorf("intensities: %w", err)
		}
	}

	start := msg.Float("start_angle")
	if ping.HasAngleSteps() {
		// Steps decode as scaled increments and accumulate from start.
		if raw, err = next(); err == nil {
			err = decode.DecodeInto(angles, raw, ping.BitsPerPoint, ping.AngleScale)
		}
		if err != nil {
			return nil, fmt.Errorf("angle steps: %w", err)
		}
		a := start
		for i, step := range angles {
			a += step
			angles[i] = a
		}
	} else {
		step := msg.Float("angle_step")
		for i := range angles {
			angles[i] = start + float64(i)*step
		}
	}

	swath := &sonar.BathymetrySwath{
		TimestampMillis: ping.TimestampMillis,
		Pose:            pose,
		Points:          make([]*sonar.BathymetryPoint, n),
	}
	for i, r := range ranges {
		if r == 0 {
			continue
		}
		north, east, depth := geometry.BeamToNorthEastDepth(r, angles[i], pose)
		pt := &sonar.BathymetryPoint{North: north, East: east, Depth: depth}
		if intensities != nil {
			pt.Intensity = intensities[i]
		}
		swath.Points[i] = pt
	}
	return swath, nil
}
