package parser

import (
	"errors"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/survey.report/internal/logsource"
	"github.com/banshee-data/survey.report/internal/nav"
	"github.com/banshee-data/survey.report/internal/nav/poscache"
	"github.com/banshee-data/survey.report/internal/sonar"
	"github.com/banshee-data/survey.report/internal/sonar/normalize"
)

const (
	lowFreq  = 100_000
	highFreq = 400_000
)

var (
	_ normalize.LineSource = (*Modern)(nil)
	_ normalize.LineSource = (*Legacy)(nil)
)

var testPayload = []byte{10, 20, 30, 40, 50, 60}

// addStates adds navigation states every 100ms in [from, to].
func addStates(b *logsource.MemoryBundle, from, to int64) {
	for ts := from; ts <= to; ts += 100 {
		b.Add(&logsource.Message{
			Type:            nav.EstimatedStateMessage,
			TimestampMillis: ts,
			Source:          5,
			Fields:          map[string]float64{"lat": 0.7187, "lon": -0.1518, "x": float64(ts) / 1000, "u": 1, "alt": 8},
		})
	}
}

// modernBundle has sidescan pings at 50, 150, ... 950 alternating between
// two frequencies, one multibeam ping and one malformed ping.
func modernBundle(statesTo int64) *logsource.MemoryBundle {
	b := logsource.NewMemoryBundle("/logs/modern")
	addStates(b, 0, statesTo)
	for i := 0; i < 10; i++ {
		freq := lowFreq
		if i%2 == 1 {
			freq = highFreq
		}
		b.Add(&logsource.Message{
			Type:            sonar.SonarDataMessage,
			TimestampMillis: int64(50 + i*100),
			Fields: map[string]float64{
				"type": sonar.TypeSidescan, "frequency": float64(freq), "range": 30,
				"bits_per_point": 8, "scale_factor": 1,
			},
			Payload: testPayload,
		})
	}
	b.Add(&logsource.Message{
		Type:            sonar.SonarDataMessage,
		TimestampMillis: 60,
		Fields:          map[string]float64{"type": sonar.TypeMultibeam, "frequency": 700_000, "bits_per_point": 8},
		Payload:         []byte{1, 2, 3},
	}, &logsource.Message{
		Type:            sonar.SonarDataMessage,
		TimestampMillis: 70,
		Fields:          map[string]float64{"type": sonar.TypeSidescan, "frequency": lowFreq, "bits_per_point": 12},
		Payload:         []byte{1, 2, 3},
	})
	return b
}

func legacyBundle() *logsource.MemoryBundle {
	b := logsource.NewMemoryBundle("/logs/legacy")
	addStates(b, 0, 1000)
	for i := 0; i < 10; i++ {
		b.Add(&logsource.Message{
			Type:            sonar.SidescanPingMessage,
			TimestampMillis: int64(50 + i*100),
			Fields:          map[string]float64{"frequency": 330_000, "range": 50},
			Payload:         testPayload,
		})
	}
	return b
}

func times(lines []*sonar.SidescanLine) []int64 {
	out := make([]int64, len(lines))
	for i, l := range lines {
		out[i] = l.TimestampMillis
	}
	return out
}

func TestModern_Metadata(t *testing.T) {
	p := NewModern(modernBundle(1000))
	defer p.Cleanup()

	assert.Equal(t, int64(50), p.FirstPingTimestamp())
	assert.Equal(t, int64(950), p.LastPingTimestamp())
	assert.Equal(t, []int64{lowFreq, highFreq}, p.Subsystems(), "multibeam frequency is not a sidescan subsystem")
}

func TestModern_RangeQuery(t *testing.T) {
	p := NewModern(modernBundle(1000))
	defer p.Cleanup()

	lines := p.RangeQuery(0, 500, lowFreq, nil)
	assert.Equal(t, []int64{50, 250, 450}, times(lines), "malformed ping at 70 is skipped")
	for _, l := range lines {
		assert.Equal(t, l.TimestampMillis+50, l.Pose.TimestampMillis, "pose is the first at or after the ping")
		assert.Equal(t, int64(lowFreq), l.Frequency)
		assert.Equal(t, 30.0, l.Range)
		assert.Equal(t, []float64{10, 20, 30, 40, 50, 60}, l.Data)
	}
	assert.Equal(t, int64(450), p.CurrentTime())

	lines = p.RangeQuery(501, 1000, highFreq, nil)
	assert.Equal(t, []int64{550, 750, 950}, times(lines))
}

func TestModern_AppliesGain(t *testing.T) {
	p := NewModern(modernBundle(1000))
	defer p.Cleanup()

	params := sonar.DefaultSidescanParameters()
	lines := p.RangeQuery(0, 100, lowFreq, &params)
	require.Len(t, lines, 1)
	raw := []float64{10, 20, 30, 40, 50, 60}
	assert.Equal(t, normalize.ApplyTVG(raw, 30, params), lines[0].Data)
}

func TestModern_Histogram(t *testing.T) {
	h := normalize.NewHistogramProfile()
	h.Profiles[lowFreq] = []float32{1, 1, 1, 1, 1, 2}
	h.Averages[lowFreq] = 2

	p := NewModern(modernBundle(1000), WithHistogram(h))
	defer p.Cleanup()

	low := p.RangeQuery(0, 100, lowFreq, nil)
	require.Len(t, low, 1)
	assert.Equal(t, []float64{20, 40, 60, 80, 100, 60}, low[0].Data)

	high := p.RangeQuery(101, 200, highFreq, nil)
	require.Len(t, high, 1)
	assert.Equal(t, []float64{10, 20, 30, 40, 50, 60}, high[0].Data, "no profile leaves data unchanged")
}

func TestModern_RewindsOnRepeatedStart(t *testing.T) {
	p := NewModern(modernBundle(1000))
	defer p.Cleanup()

	first := p.RangeQuery(200, 600, lowFreq, nil)
	again := p.RangeQuery(200, 600, lowFreq, nil)
	assert.Equal(t, times(first), times(again))
	assert.Equal(t, []int64{250, 450}, times(again))

	back := p.RangeQuery(0, 100, lowFreq, nil)
	assert.Equal(t, []int64{50}, times(back))
}

func TestLegacy_RewindOnlyWhenEarlier(t *testing.T) {
	p := NewLegacy(legacyBundle())
	defer p.Cleanup()

	assert.Equal(t, []int64{330_000}, p.Subsystems())

	first := p.RangeQuery(0, 300, 330_000, nil)
	assert.Equal(t, []int64{50, 150, 250}, times(first))
	for _, l := range first {
		assert.Equal(t, []float64{10, 20, 30, 40, 50, 60}, l.Data, "8-bit unit-scale defaults")
	}

	assert.Empty(t, p.RangeQuery(0, 300, 330_000, nil), "equal start does not rewind")
	assert.Equal(t, []int64{350, 450, 550}, times(p.RangeQuery(300, 600, 330_000, nil)), "later start continues from the held ping")

	earlier := p.RangeQuery(50, 300, 330_000, nil)
	assert.Equal(t, []int64{50, 150, 250}, times(earlier))
}

func TestLegacy_OptionalFormatFields(t *testing.T) {
	b := logsource.NewMemoryBundle("")
	addStates(b, 0, 200)
	b.Add(&logsource.Message{
		Type:            sonar.SidescanPingMessage,
		TimestampMillis: 10,
		Fields:          map[string]float64{"range": 20, "bits_per_point": 16, "scale_factor": 0.5},
		Payload:         []byte{4, 0, 8, 0},
	})
	p := NewLegacy(b)
	defer p.Cleanup()

	assert.Equal(t, []int64{0}, p.Subsystems(), "missing frequency gives subsystem 0")
	lines := p.RangeQuery(0, 100, 0, nil)
	require.Len(t, lines, 1)
	assert.Equal(t, []float64{2, 4}, lines[0].Data)
}

func TestRangeQuery_PartialWhenPosesRunOut(t *testing.T) {
	p := NewModern(modernBundle(500))
	defer p.Cleanup()

	lines := p.RangeQuery(0, 1000, lowFreq, nil)
	assert.Equal(t, []int64{50, 250, 450}, times(lines))
}

func TestRangeQuery_WrongSubsystemIgnored(t *testing.T) {
	p := NewModern(modernBundle(1000))
	defer p.Cleanup()

	assert.Empty(t, p.RangeQuery(0, 1000, 123, nil))
}

func TestWithPositionCache(t *testing.T) {
	dir := t.TempDir()
	b := modernBundle(1000)
	var poses []nav.Pose
	for ts := int64(0); ts <= 1000; ts += 200 {
		poses = append(poses, nav.Pose{TimestampMillis: ts, Altitude: float64(ts)})
	}
	require.NoError(t, poscache.Build(dir, slices.Values(poses), poscache.Options{}))
	c, err := poscache.Open(dir)
	require.NoError(t, err)

	p := NewModern(b, WithPositionCache(c))
	lines := p.RangeQuery(0, 1000, lowFreq, nil)
	require.Equal(t, []int64{50, 250, 450, 650, 850}, times(lines))
	for _, l := range lines {
		assert.Equal(t, float64(l.Pose.TimestampMillis), l.Pose.Altitude)
		assert.Equal(t, (l.TimestampMillis/200+1)*200, l.Pose.TimestampMillis)
	}

	p.Cleanup()
	assert.False(t, c.Loaded(), "cleanup closes the cache")
}

type fakeParser struct{ Parser }

type fakeChecker struct {
	ok  bool
	err error
}

func (c fakeChecker) Compatible(logsource.Bundle) bool { return c.ok }
func (c fakeChecker) Construct(logsource.Bundle) (Parser, error) {
	if c.err != nil {
		return nil, c.err
	}
	return fakeParser{}, nil
}

type otherChecker struct{ fakeChecker }

func TestSelector_Fallback(t *testing.T) {
	s := NewSelector()

	p, err := s.Select(legacyBundle())
	require.NoError(t, err)
	assert.IsType(t, &Legacy{}, p)

	p, err = s.Select(modernBundle(1000))
	require.NoError(t, err)
	assert.IsType(t, &Modern{}, p)

	empty := logsource.NewMemoryBundle("/logs/empty")
	addStates(empty, 0, 100)
	_, err = s.Select(empty)
	assert.ErrorIs(t, err, ErrNoCompatibleParser)
}

func TestSelector_RegisteredCheckersFirst(t *testing.T) {
	s := NewSelector()
	assert.True(t, s.Register(fakeChecker{ok: false}))
	assert.True(t, s.Register(otherChecker{fakeChecker{ok: true}}))

	p, err := s.Select(legacyBundle())
	require.NoError(t, err)
	assert.IsType(t, fakeParser{}, p)
}

func TestSelector_RegisterIdempotent(t *testing.T) {
	s := NewSelector()
	assert.True(t, s.Register(fakeChecker{ok: false}))
	assert.False(t, s.Register(fakeChecker{ok: true}), "same checker type is registered once")
	assert.Len(t, s.Checkers(), 1)

	p, err := s.Select(legacyBundle())
	require.NoError(t, err)
	assert.IsType(t, &Legacy{}, p, "the first registration wins")
}

func TestSelector_ConstructFailureFallsThrough(t *testing.T) {
	s := NewSelector()
	s.Register(fakeChecker{ok: true, err: errors.New("broken")})

	p, err := s.Select(modernBundle(1000))
	require.NoError(t, err)
	assert.IsType(t, &Modern{}, p)
}

func TestRawPoses_FirstVehicleOnly(t *testing.T) {
	b := logsource.NewMemoryBundle("")
	for _, m := range []struct {
		ts  int64
		src int
	}{{100, 7}, {150, 9}, {200, 7}, {250, 9}} {
		b.Add(&logsource.Message{Type: nav.EstimatedStateMessage, TimestampMillis: m.ts, Source: m.src})
	}
	poses := NewRawPoses(b.Iterate(nav.EstimatedStateMessage))
	defer poses.Close()

	p, ok := poses.At(120)
	require.True(t, ok)
	assert.Equal(t, int64(200), p.TimestampMillis, "pose from another vehicle is skipped")
	_, ok = poses.At(210)
	assert.False(t, ok)

	poses.Rewind()
	p, ok = poses.At(0)
	require.True(t, ok)
	assert.Equal(t, int64(100), p.TimestampMillis)
}
