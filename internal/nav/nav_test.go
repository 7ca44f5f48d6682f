package nav

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/survey.report/internal/logsource"
)

func TestLocation_TranslateAndOffset(t *testing.T) {
	base := Location{LatDeg: 41.18, LonDeg: -8.70}
	moved := base.Translate(100, -50)

	n, e := moved.OffsetFrom(base)
	assert.InDelta(t, 100, n, 1e-3)
	assert.InDelta(t, -50, e, 1e-3)
	assert.InDelta(t, math.Hypot(100, 50), moved.HorizontalDistance(base), 1e-3)
}

func TestLocation_AbsoluteKeepsPosition(t *testing.T) {
	loc := Location{LatDeg: 38.5, LonDeg: -9.1, North: 250, East: 120, Depth: 4}
	abs := loc.Absolute()

	assert.Equal(t, 0.0, abs.North)
	assert.Equal(t, 0.0, abs.East)
	assert.Equal(t, 4.0, abs.Depth)
	assert.InDelta(t, 0, abs.HorizontalDistance(loc), 1e-6)
	assert.Greater(t, abs.LatDeg, loc.LatDeg)
	assert.Greater(t, abs.LonDeg, loc.LonDeg)
}

func TestLocation_Distance3D(t *testing.T) {
	a := Location{LatDeg: 10, LonDeg: 10}
	b := a.Translate(3, 0)
	b.Depth = 4
	assert.InDelta(t, 5, a.Distance(b), 1e-6)
}

func TestNavStateFromMessage(t *testing.T) {
	msg := &logsource.Message{
		Type:            EstimatedStateMessage,
		TimestampMillis: 1234,
		Fields: map[string]float64{
			"lat": 41.0 * math.Pi / 180, "lon": -8.0 * math.Pi / 180,
			"x": 10, "y": 20, "depth": 3, "psi": 1.5,
			"u": 1, "v": 2, "w": 2, "alt": 7,
		},
	}
	s := NavStateFromMessage(msg)
	assert.Equal(t, int64(1234), s.TimestampMillis)
	assert.InDelta(t, 3.0, s.Speed(), 1e-12)

	loc := s.Location()
	assert.InDelta(t, 41.0, loc.LatDeg, 1e-12)
	assert.InDelta(t, -8.0, loc.LonDeg, 1e-12)
	assert.Equal(t, 10.0, loc.North)
	assert.Equal(t, 20.0, loc.East)

	p := PoseFromMessage(msg)
	assert.Equal(t, 1.5, p.Yaw)
	assert.Equal(t, 7.0, p.Altitude)
	assert.Equal(t, 0.0, p.Location.North)
	assert.InDelta(t, 0, p.Location.HorizontalDistance(loc), 1e-6)
}

func TestPoseCodec(t *testing.T) {
	p := Pose{
		TimestampMillis: 1700000000123,
		Location:        Location{LatDeg: 41.1, LonDeg: -8.6, North: 1.5, East: -2.5, Depth: 12},
		Roll:            0.01, Pitch: -0.02, Yaw: 3.1,
		U: 1.2, V: 0.1, W: -0.05,
		Altitude: 8.5,
	}
	buf := AppendPose(nil, p)
	require.Len(t, buf, PoseRecordSize)

	got, err := DecodePose(buf)
	require.NoError(t, err)
	if diff := cmp.Diff(p, got); diff != "" {
		t.Errorf("pose mismatch (-want +got):\n%s", diff)
	}

	buf[20] ^= 0xFF
	_, err = DecodePose(buf)
	assert.ErrorIs(t, err, ErrPoseChecksum)

	_, err = DecodePose(buf[:10])
	assert.Error(t, err)
}
