package main

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"

	"github.com/banshee-data/survey.report/internal/fsutil"
	"github.com/banshee-data/survey.report/internal/logsource"
	"github.com/banshee-data/survey.report/internal/logsource/sqlitestore"
	"github.com/banshee-data/survey.report/internal/nav"
	"github.com/banshee-data/survey.report/internal/nav/correction"
	"github.com/banshee-data/survey.report/internal/nav/poscache"
	"github.com/banshee-data/survey.report/internal/sonar"
	"github.com/banshee-data/survey.report/internal/sonar/bathymetry"
	"github.com/banshee-data/survey.report/internal/sonar/normalize"
	"github.com/banshee-data/survey.report/internal/sonar/parser"
)

// LogFile is the message store inside a bundle directory.
const LogFile = "log.db"

type command func(opts *options, b logsource.Bundle, w io.Writer) error

var commands = map[string]command{
	"index":  runIndex,
	"lines":  runLines,
	"swaths": runSwaths,
	"info":   runInfo,
	"stats":  runStats,
}

// selector is shared by all bundles; it carries no per-bundle state.
var selector = parser.NewSelector()

// processBundle runs the selected command on one bundle directory.
func processBundle(opts *options, dir string, w io.Writer) error {
	dbPath := filepath.Join(dir, LogFile)
	if _, err := os.Stat(dbPath); err != nil {
		return fmt.Errorf("no message log: %w", err)
	}
	if opts.rebuild {
		if err := discardCaches(dir); err != nil {
			return err
		}
	}

	store, err := sqlitestore.Open(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	log.Printf("processing %s (store %s)", dir, store.ID())
	return commands[opts.command](opts, store.Bundle(dir), w)
}

// discardCaches removes every derived file of the bundle at dir.
func discardCaches(dir string) error {
	p := poscache.DefaultPaths()
	for _, rel := range []string{p.Index, p.Data, normalize.HistogramCacheFile, bathymetry.InfoFile} {
		if err := os.Remove(filepath.Join(dir, rel)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to discard cache: %w", err)
		}
	}
	return nil
}

func cacheOptions(opts *options) poscache.Options {
	return poscache.Options{
		FlushEvery: opts.cfg.GetCacheFlushEvery(),
		Progress:   func(msg string) { log.Print(msg) },
		Lock:       fsutil.LockOptions{Timeout: opts.cfg.GetLockTimeout()},
		Correction: []correction.Option{correction.WithJumpFactor(opts.cfg.GetJumpFactor())},
	}
}

// positions loads the bundle's position cache, building it if needed.
func positions(opts *options, b logsource.Bundle) (*poscache.Cache, error) {
	c, err := poscache.LoadOrBuild(b.Dir(), b, cacheOptions(opts))
	if err != nil {
		return nil, fmt.Errorf("position cache: %w", err)
	}
	return c, nil
}

func runIndex(opts *options, b logsource.Bundle, w io.Writer) error {
	c, err := positions(opts, b)
	if err != nil {
		return err
	}
	defer c.Close()

	if c.Count() == 0 {
		_, err = fmt.Fprintf(w, "%s: 0 poses\n", b.Dir())
		return err
	}
	start, err := c.StartTime()
	if err != nil {
		return err
	}
	end, err := c.EndTime()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s: %d poses from %d to %d ms\n", b.Dir(), c.Count(), start, end)
	return err
}

// histogram returns the bundle's learnt profile, sampling src when no
// cache exists.
func histogram(opts *options, b logsource.Bundle, src parser.Parser) (*normalize.HistogramProfile, error) {
	hb := &normalize.HistogramBuilder{
		Source:      src,
		Subsystems:  src.Subsystems(),
		SampleLines: opts.cfg.GetHistogramSampleLines(),
		Window:      opts.cfg.GetHistogramWindow(),
		Progress:    func(msg string) { log.Print(msg) },
	}
	if seed, ok := opts.cfg.GetHistogramSeed(); ok {
		hb.Rand = rand.New(rand.NewSource(seed))
	}
	return normalize.LoadOrBuildHistogram(fsutil.OSFileSystem{}, b.Dir(), hb)
}

// sidescan selects the bundle's parser with positions from the cache and
// gains from the learnt histogram.
func sidescan(opts *options, b logsource.Bundle) (parser.Parser, error) {
	c, err := positions(opts, b)
	if err != nil {
		return nil, err
	}
	sampler, err := selector.Select(b, parser.WithPositionCache(c))
	if err != nil {
		c.Close()
		return nil, err
	}
	h, err := histogram(opts, b, sampler)
	sampler.Cleanup()
	if err != nil {
		return nil, fmt.Errorf("histogram: %w", err)
	}

	c, err = poscache.Open(b.Dir())
	if err != nil {
		return nil, err
	}
	p, err := selector.Select(b, parser.WithPositionCache(c), parser.WithHistogram(h))
	if err != nil {
		c.Close()
		return nil, err
	}
	return p, nil
}

// span resolves -from/-to against the available time range.
func span(opts *options, first, last int64) (int64, int64) {
	from, to := first, last
	if opts.from != 0 {
		from = opts.from
	}
	if opts.to != 0 {
		to = opts.to
	}
	return from, to
}

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

// finiteMean averages the finite samples; gain is infinite at the port edge.
func finiteMean(data []float64) float64 {
	var sum float64
	n := 0
	for _, v := range data {
		if !math.IsInf(v, 0) && !math.IsNaN(v) {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func runLines(opts *options, b logsource.Bundle, w io.Writer) error {
	p, err := sidescan(opts, b)
	if err != nil {
		return err
	}
	defer p.Cleanup()

	subsystems := p.Subsystems()
	if opts.subsystem != 0 {
		subsystems = []int64{opts.subsystem}
	}
	var params *sonar.SidescanParameters
	if opts.cfg.GetApplyTVG() {
		sp := opts.cfg.SidescanParameters()
		params = &sp
	}
	slant := opts.cfg.GetSlantCorrect()
	from, to := span(opts, p.FirstPingTimestamp(), p.LastPingTimestamp())

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"timestamp_ms", "subsystem", "lat_deg", "lon_deg", "depth", "yaw", "samples", "mean", "swath_m"}); err != nil {
		return err
	}
	for _, sub := range subsystems {
		for _, line := range p.RangeQuery(from, to, sub, params) {
			line.SlantCorrected = slant
			loc := line.Pose.Location.Absolute()
			var mean, width float64
			if n := line.XSize(); n > 0 {
				mean = finiteMean(line.Data)
				width = line.DistanceFromIndex(n-1, slant)
			}
			rec := []string{
				strconv.FormatInt(line.TimestampMillis, 10),
				strconv.FormatInt(line.Frequency, 10),
				formatFloat(loc.LatDeg),
				formatFloat(loc.LonDeg),
				formatFloat(loc.Depth),
				formatFloat(line.Pose.Yaw),
				strconv.Itoa(line.XSize()),
				formatFloat(mean),
				formatFloat(width),
			}
			if err := cw.Write(rec); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

func bathy(opts *options, b logsource.Bundle) (*bathymetry.Parser, error) {
	c, err := positions(opts, b)
	if err != nil {
		return nil, err
	}
	return bathymetry.New(b, bathymetry.WithPositionCache(c)), nil
}

func runSwaths(opts *options, b logsource.Bundle, w io.Writer) error {
	p, err := bathy(opts, b)
	if err != nil {
		return err
	}
	defer p.Cleanup()

	from, to := span(opts, p.FirstTimestamp(), p.LastTimestamp())
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"timestamp_ms", "beam", "north", "east", "depth", "intensity"}); err != nil {
		return err
	}
	for s, ok := p.NextSwath(); ok; s, ok = p.NextSwath() {
		if s.TimestampMillis < from {
			continue
		}
		if s.TimestampMillis > to {
			break
		}
		for i, pt := range s.Points {
			if pt == nil {
				continue
			}
			rec := []string{
				strconv.FormatInt(s.TimestampMillis, 10),
				strconv.Itoa(i),
				formatFloat(pt.North),
				formatFloat(pt.East),
				formatFloat(pt.Depth),
				formatFloat(pt.Intensity),
			}
			if err := cw.Write(rec); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

// bundleInfo is the JSON printed by the info command.
type bundleInfo struct {
	Dir        string          `json:"dir"`
	Bathymetry bathymetry.Info `json:"bathymetry"`
	Footprints int             `json:"footprints"`
	Subsystems []int64         `json:"subsystems,omitempty"`
}

func runInfo(opts *options, b logsource.Bundle, w io.Writer) error {
	p, err := bathy(opts, b)
	if err != nil {
		return err
	}
	defer p.Cleanup()

	out := bundleInfo{Dir: b.Dir(), Bathymetry: p.Info(), Footprints: p.Index().Len()}
	if sp, err := selector.Select(b); err == nil {
		out.Subsystems = sp.Subsystems()
		sp.Cleanup()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func runStats(opts *options, b logsource.Bundle, w io.Writer) error {
	c, err := positions(opts, b)
	if err != nil {
		return err
	}
	defer c.Close()

	from, to := opts.from, opts.to
	poses := make([]nav.Pose, 0, c.Count())
	for i := 0; i < c.Count(); i++ {
		pose, err := c.PoseAt(i)
		if err != nil {
			return err
		}
		if (from != 0 && pose.TimestampMillis < from) || (to != 0 && pose.TimestampMillis > to) {
			continue
		}
		poses = append(poses, pose)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(correction.ComputeTrackStats(poses))
}
