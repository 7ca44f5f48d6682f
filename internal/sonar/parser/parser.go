// Package parser reads sidescan lines out of a log bundle, pairing each
// ping with the vehicle pose at or just after it.
package parser

import (
	"github.com/banshee-data/survey.report/internal/logsource"
	"github.com/banshee-data/survey.report/internal/nav"
	"github.com/banshee-data/survey.report/internal/nav/poscache"
	"github.com/banshee-data/survey.report/internal/sonar"
	"github.com/banshee-data/survey.report/internal/sonar/normalize"
)

// Parser is the capability set of a sidescan log reader.
//
// RangeQuery is tuned for ascending calls; a call whose start does not
// move forward rewinds both streams to the beginning of the log.
type Parser interface {
	FirstPingTimestamp() int64
	LastPingTimestamp() int64
	Subsystems() []int64
	RangeQuery(t1, t2 int64, subsystem int64, params *sonar.SidescanParameters) []*sonar.SidescanLine
	CurrentTime() int64
	Cleanup()
}

// Option configures a parser.
type Option func(*engine)

// WithPositionCache takes poses from c instead of the raw navigation
// messages. The parser closes c in Cleanup.
func WithPositionCache(c *poscache.Cache) Option {
	return func(e *engine) {
		e.poses = NewCachedPoses(c)
	}
}

// WithHistogram applies h to every line after time-varying gain.
func WithHistogram(h *normalize.HistogramProfile) Option {
	return func(e *engine) {
		e.histogram = h
	}
}

// pingDecoder turns a log message into a sidescan ping. ok is false for
// messages that are not sidescan pings.
type pingDecoder func(msg *logsource.Message) (ping *sonar.PingRecord, ok bool)

// engine is the cursor machinery shared by the parser variants.
type engine struct {
	pingType   string
	decodePing pingDecoder
	// rewindOnEqual rewinds when a query starts exactly where the previous
	// one did.
	rewindOnEqual bool

	pings     logsource.Cursor
	poses     PoseSource
	histogram *normalize.HistogramProfile

	held    *logsource.Message // read past the end of the previous query
	lastT1  int64
	queried bool
	current int64

	first, last int64
	subsystems  []int64
}

func newEngine(bundle logsource.Bundle, pingType string, dec pingDecoder, rewindOnEqual bool, opts []Option) *engine {
	e := &engine{
		pingType:      pingType,
		decodePing:    dec,
		rewindOnEqual: rewindOnEqual,
		pings:         bundle.Iterate(pingType),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.poses == nil {
		e.poses = NewRawPoses(bundle.Iterate(nav.EstimatedStateMessage))
	}
	e.scan()
	return e
}

// scan records the ping time span and the subsystems present.
func (e *engine) scan() {
	seen := make(map[int64]bool)
	n := 0
	for msg, ok := e.pings.Next(); ok; msg, ok = e.pings.Next() {
		ping, ok := e.decodePing(msg)
		if !ok {
			continue
		}
		if n == 0 {
			e.first = ping.TimestampMillis
		}
		e.last = ping.TimestampMillis
		n++
		if !seen[ping.Subsystem] {
			seen[ping.Subsystem] = true
			e.subsystems = append(e.subsystems, ping.Subsystem)
		}
	}
	e.pings.Reset()
	diagf("%s: %d pings from %d to %d, subsystems %v", e.pingType, n, e.first, e.last, e.subsystems)
}

func (e *engine) FirstPingTimestamp() int64 { return e.first }
func (e *engine) LastPingTimestamp() int64  { return e.last }
func (e *engine) CurrentTime() int64        { return e.current }

func (e *engine) Subsystems() []int64 {
	return append([]int64(nil), e.subsystems...)
}

func (e *engine) rewind() {
	tracef("%s: rewinding", e.pingType)
	e.pings.Reset()
	e.poses.Rewind()
	e.held = nil
}

func (e *engine) next() (*logsource.Message, bool) {
	if e.held != nil {
		msg := e.held
		e.held = nil
		return msg, true
	}
	return e.pings.Next()
}

func (e *engine) RangeQuery(t1, t2 int64, subsystem int64, params *sonar.SidescanParameters) []*sonar.SidescanLine {
	if e.queried && (t1 < e.lastT1 || (e.rewindOnEqual && t1 == e.lastT1)) {
		e.rewind()
	}
	e.lastT1, e.queried = t1, true

	var lines []*sonar.SidescanLine
	for {
		msg, ok := e.next()
		if !ok {
			break
		}
		if msg.TimestampMillis > t2 {
			e.held = msg
			break
		}
		if msg.TimestampMillis < t1 {
			continue
		}
		ping, ok := e.decodePing(msg)
		if !ok || ping.Subsystem != subsystem {
			continue
		}
		e.current = ping.TimestampMillis

		pose, ok := e.poses.At(ping.TimestampMillis)
		if !ok {
			diagf("%s: no pose after %d, returning %d lines", e.pingType, ping.TimestampMillis, len(lines))
			break
		}
		line, err := e.line(ping, pose, params)
		if err != nil {
			tracef("%s: skipping ping at %d: %v", e.pingType, ping.TimestampMillis, err)
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

func (e *engine) line(ping *sonar.PingRecord, pose nav.Pose, params *sonar.SidescanParameters) (*sonar.SidescanLine, error) {
	data, err := ping.Samples()
	if err != nil {
		return nil, err
	}
	if params != nil {
		data = normalize.ApplyTVG(data, ping.Range, *params)
	}
	if e.histogram != nil {
		if data, err = e.histogram.Normalize(data, ping.Subsystem); err != nil {
			tracef("%s: %v", e.pingType, err)
		}
	}
	return &sonar.SidescanLine{
		TimestampMillis: ping.TimestampMillis,
		Range:           ping.Range,
		Frequency:       ping.Subsystem,
		Pose:            pose,
		Data:            data,
	}, nil
}

func (e *engine) Cleanup() {
	if err := e.pings.Close(); err != nil {
		opsf("%s: closing ping cursor: %v", e.pingType, err)
	}
	if err := e.poses.Close(); err != nil {
		opsf("%s: closing pose source: %v", e.pingType, err)
	}
	e.held = nil
}

// PoseSource yields the first pose at or after a time. At must be called
// with non-decreasing times between rewinds.
type PoseSource interface {
	At(t int64) (nav.Pose, bool)
	Rewind()
	Close() error
}

// rawPoses walks EstimatedState messages of the first vehicle seen.
type rawPoses struct {
	cursor logsource.Cursor
	source int
	locked bool
	cur    *nav.Pose
}

// NewRawPoses reads poses from a cursor over navigation state messages
// without correction. Only the first vehicle in the cursor is used.
func NewRawPoses(c logsource.Cursor) PoseSource {
	return &rawPoses{cursor: c}
}

func (r *rawPoses) At(t int64) (nav.Pose, bool) {
	for r.cur == nil || r.cur.TimestampMillis < t {
		msg, ok := r.cursor.Next()
		if !ok {
			return nav.Pose{}, false
		}
		if !r.locked {
			r.source, r.locked = msg.Source, true
		}
		if msg.Source != r.source {
			continue
		}
		p := nav.PoseFromMessage(msg)
		r.cur = &p
	}
	return *r.cur, true
}

func (r *rawPoses) Rewind() {
	r.cursor.Reset()
	r.cur = nil
}

func (r *rawPoses) Close() error { return r.cursor.Close() }

type cachedPoses struct {
	cache *poscache.Cache
}

// NewCachedPoses answers from a position cache. Times after the last
// cached pose have no pose. Close closes the cache.
func NewCachedPoses(c *poscache.Cache) PoseSource {
	return &cachedPoses{cache: c}
}

func (c *cachedPoses) At(t int64) (nav.Pose, bool) {
	i, err := c.cache.FindIndex(t)
	if err != nil {
		return nav.Pose{}, false
	}
	ts, err := c.cache.TimeAt(i)
	if err != nil || ts < t {
		return nav.Pose{}, false
	}
	p, err := c.cache.PoseAt(i)
	if err != nil {
		opsf("position cache record %d: %v", i, err)
		return nav.Pose{}, false
	}
	return p, true
}

func (c *cachedPoses) Rewind() {}

func (c *cachedPoses) Close() error { return c.cache.Close() }
