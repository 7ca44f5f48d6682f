package correction

import (
	"errors"
	"math"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/survey.report/internal/logsource"
	"github.com/banshee-data/survey.report/internal/nav"
)

const (
	testLat = 41.18 * math.Pi / 180
	testLon = -8.70 * math.Pi / 180
)

// state returns a state at t seconds, offset north/east metres from the
// test origin, moving at speed u.
func state(t float64, north, east, u float64) nav.NavState {
	return nav.NavState{
		TimestampMillis: int64(t * 1000),
		Lat:             testLat,
		Lon:             testLon,
		X:               north,
		Y:               east,
		Depth:           2,
		U:               u,
	}
}

func TestBuilder_StableMotionUnmodified(t *testing.T) {
	b := NewBuilder()
	var states []nav.NavState
	for i := 0; i < 20; i++ {
		s := state(float64(i), float64(i)*1.5, 0, 1.5)
		states = append(states, s)
		require.NoError(t, b.Update(s))
	}

	poses, err := b.Finalize()
	require.NoError(t, err)
	require.Len(t, poses, len(states))

	for i, p := range poses {
		want := states[i].Location().Absolute()
		assert.Equal(t, states[i].TimestampMillis, p.TimestampMillis)
		assert.InDelta(t, 0, p.Location.HorizontalDistance(want), 1e-6, "pose %d moved", i)
		assert.Equal(t, 2.0, p.Location.Depth)
	}
}

func TestBuilder_JumpRedistributedLinearly(t *testing.T) {
	b := NewBuilder()
	trusted := state(0, 0, 0, 1)
	pending := []nav.NavState{
		state(1, 1, 0, 1),
		state(2, 2, 0, 1),
		state(3, 3, 0, 1),
	}
	jump := state(4, 4, 100, 1)

	require.NoError(t, b.Update(trusted))
	for _, s := range pending {
		require.NoError(t, b.Update(s))
	}
	assert.Equal(t, 3, b.Pending())
	assert.Len(t, b.Poses(), 1)

	require.NoError(t, b.Update(jump))
	assert.Equal(t, 1, b.Pending())
	poses := b.Poses()
	require.Len(t, poses, 4)

	var east []float64
	for i, s := range pending {
		p := poses[i+1]
		require.Equal(t, s.TimestampMillis, p.TimestampMillis)
		n, e := p.Location.OffsetFrom(s.Location())
		assert.InDelta(t, float64(i+1)/4, n, 1e-3)
		east = append(east, e)
		assert.Equal(t, s.Depth, p.Location.Depth)
	}
	assert.InDelta(t, 25, east[0], 1e-2)
	assert.InDelta(t, 2*east[0], east[1], 1e-2)
	assert.InDelta(t, 3*east[0], east[2], 1e-2)

	all, err := b.Finalize()
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.InDelta(t, 0, all[4].Location.HorizontalDistance(jump.Location()), 1e-6)
}

func TestBuilder_FirstStateEmittedDirectly(t *testing.T) {
	b := NewBuilder()
	s := state(10, 5, 5, 0)
	require.NoError(t, b.Update(s))

	poses := b.Poses()
	require.Len(t, poses, 1)
	assert.Equal(t, int64(10000), poses[0].TimestampMillis)
	assert.Equal(t, 0.0, poses[0].Location.North)
	assert.InDelta(t, 0, poses[0].Location.HorizontalDistance(s.Location()), 1e-6)
}

func TestBuilder_JumpWithoutPending(t *testing.T) {
	b := NewBuilder()
	require.NoError(t, b.Update(state(0, 0, 0, 1)))
	require.NoError(t, b.Update(state(1, 50, 0, 1)))
	require.NoError(t, b.Update(state(2, 100, 0, 1)))

	// The second jump flushes the first one as a batch of one. The fix
	// opening that batch is its base and keeps its position.
	poses := b.Poses()
	require.Len(t, poses, 2)
	assert.Equal(t, 1, b.Pending())
	assert.InDelta(t, 0, poses[1].Location.HorizontalDistance(state(1, 50, 0, 1).Location()), 1e-6)

	poses, err := b.Finalize()
	require.NoError(t, err)
	assert.Len(t, poses, 3)
}

func TestBuilder_SecondBatchStartsAtFix(t *testing.T) {
	b := NewBuilder()
	states := []nav.NavState{
		state(0, 0, 0, 1),
		state(1, 1, 0, 1),
		state(2, 2, 0, 1),
		state(3, 3, 0, 1),
		state(4, 4, 30, 1), // fix closing batch one
		state(5, 5, 30, 1),
		state(6, 6, 30, 1),
		state(7, 7, 60, 1), // fix closing batch two
	}
	for _, s := range states {
		require.NoError(t, b.Update(s))
	}
	poses := b.Poses()
	require.Len(t, poses, 7)

	// Batch two is based at the fix at t=4, not at the end of batch one.
	n, e := poses[4].Location.OffsetFrom(states[4].Location())
	assert.InDelta(t, 0, n, 1e-6)
	assert.InDelta(t, 0, e, 1e-6)

	for i, want := range []float64{10, 20} {
		s := states[5+i]
		require.Equal(t, s.TimestampMillis, poses[5+i].TimestampMillis)
		n, e := poses[5+i].Location.OffsetFrom(s.Location())
		assert.InDelta(t, float64(i+1)/3, n, 1e-3)
		assert.InDelta(t, want, e, 1e-2)
	}
}

func TestBuilder_FinalizeLocksUntilReset(t *testing.T) {
	b := NewBuilder()
	require.NoError(t, b.Update(state(0, 0, 0, 1)))
	require.NoError(t, b.Update(state(1, 1, 0, 1)))

	poses, err := b.Finalize()
	require.NoError(t, err)
	assert.Len(t, poses, 2)

	err = b.Update(state(2, 2, 0, 1))
	assert.ErrorIs(t, err, ErrFinalized)

	again, err := b.Finalize()
	require.NoError(t, err)
	assert.Len(t, again, 2)

	b.Reset()
	assert.Empty(t, b.Poses())
	require.NoError(t, b.Update(state(5, 0, 0, 1)))
	assert.Len(t, b.Poses(), 1)
}

func TestBuilder_EmitStreamsAndPropagatesErrors(t *testing.T) {
	var got []int64
	b := NewBuilder(WithEmit(func(p nav.Pose) error {
		got = append(got, p.TimestampMillis)
		return nil
	}))
	for i := 0; i < 5; i++ {
		require.NoError(t, b.Update(state(float64(i), float64(i), 0, 1)))
	}
	poses, err := b.Finalize()
	require.NoError(t, err)
	assert.Empty(t, poses)
	assert.Equal(t, []int64{0, 1000, 2000, 3000, 4000}, got)

	boom := errors.New("disk full")
	b = NewBuilder(WithEmit(func(nav.Pose) error { return boom }))
	assert.ErrorIs(t, b.Update(state(0, 0, 0, 1)), boom)
}

func TestBuilder_JumpFactor(t *testing.T) {
	// A 2.5x step is a jump at factor 2 but plausible at the default.
	for _, tc := range []struct {
		name    string
		opts    []Option
		pending int
		poses   int
	}{
		{"default", nil, 2, 1},
		{"strict", []Option{WithJumpFactor(2)}, 1, 2},
	} {
		t.Run(tc.name, func(t *testing.T) {
			b := NewBuilder(tc.opts...)
			require.NoError(t, b.Update(state(0, 0, 0, 1)))
			require.NoError(t, b.Update(state(1, 1, 0, 1)))
			require.NoError(t, b.Update(state(2, 3.5, 0, 1)))
			assert.Equal(t, tc.pending, b.Pending())
			assert.Len(t, b.Poses(), tc.poses)
		})
	}
}

func TestFromBundle(t *testing.T) {
	bundle := logsource.NewMemoryBundle(t.TempDir())
	for i := 0; i < 4; i++ {
		bundle.Add(&logsource.Message{
			Type:            nav.EstimatedStateMessage,
			TimestampMillis: int64(i * 1000),
			Source:          30,
			Fields:          map[string]float64{"lat": testLat, "lon": testLon, "x": float64(i), "u": 1},
		})
	}
	bundle.Add(&logsource.Message{
		Type:            nav.EstimatedStateMessage,
		TimestampMillis: 1500,
		Source:          99,
		Fields:          map[string]float64{"lat": 0, "lon": 0},
	})

	poses, err := FromBundle(bundle)
	require.NoError(t, err)
	require.Len(t, poses, 4)
	for i, p := range poses {
		assert.Equal(t, int64(i*1000), p.TimestampMillis)
	}

	empty, err := FromBundle(logsource.NewMemoryBundle(""))
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestComputeTrackStats(t *testing.T) {
	poses := []nav.Pose{
		{TimestampMillis: 0, Location: nav.Location{LatDeg: 41, LonDeg: -8, Depth: 1}, Roll: -0.1, Pitch: 0.2},
		{TimestampMillis: 5000, Location: nav.Location{LatDeg: 41, LonDeg: -8, North: 30, Depth: 3}, Roll: 0.3, Pitch: 0},
		{TimestampMillis: 10000, Location: nav.Location{LatDeg: 41, LonDeg: -8, North: 30, East: 40, Depth: 5}, Roll: 0.1, Pitch: -0.2},
	}
	st := ComputeTrackStats(poses)
	assert.Equal(t, 3, st.Poses)
	assert.InDelta(t, 10, st.DurationSecs, 1e-9)
	assert.InDelta(t, 70, st.DistanceM, 1e-2)
	assert.Equal(t, 5.0, st.MaxDepth)
	assert.InDelta(t, 3, st.MeanDepth, 1e-9)
	assert.Equal(t, -0.1, st.MinRoll)
	assert.Equal(t, 0.3, st.MaxRoll)
	assert.InDelta(t, 0.1, st.MeanRoll, 1e-9)
	assert.InDelta(t, 0, st.MeanPitch, 1e-9)

	assert.Equal(t, TrackStats{}, ComputeTrackStats(nil))
}

func TestCorrect(t *testing.T) {
	states := []nav.NavState{
		state(0, 0, 0, 1),
		state(1, 0, 1, 1),
		state(2, 0, 2, 1),
		state(3, 0, 30, 1),
	}
	poses, err := Correct(slices.Values(states))
	require.NoError(t, err)
	require.Len(t, poses, 4)
	for i, p := range poses {
		assert.Equal(t, states[i].TimestampMillis, p.TimestampMillis)
	}

	boom := errors.New("boom")
	_, err = Correct(slices.Values(states), WithEmit(func(nav.Pose) error { return boom }))
	assert.ErrorIs(t, err, boom)
}
