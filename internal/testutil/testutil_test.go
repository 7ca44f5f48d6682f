package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/survey.report/internal/nav"
	"github.com/banshee-data/survey.report/internal/sonar"
)

func TestNavStates(t *testing.T) {
	msgs := NavStates(4, 0, 500, 100, 2.5)
	require.Len(t, msgs, 6)
	last := nav.NavStateFromMessage(msgs[5])
	assert.Equal(t, int64(500), last.TimestampMillis)
	assert.InDelta(t, 0.5, last.X, 1e-12)
	assert.Equal(t, 2.5, last.Depth)
	assert.Equal(t, 4, msgs[0].Source)
}

func TestPings(t *testing.T) {
	times := Times(50, 100, 3)
	assert.Equal(t, []int64{50, 150, 250}, times)

	ss := SidescanPings(100_000, 30, []byte{1, 2}, times...)
	require.Len(t, ss, 3)
	ping := sonar.PingFromMessage(ss[1])
	assert.Equal(t, int64(150), ping.TimestampMillis)
	assert.Equal(t, int64(100_000), ping.Subsystem)
	assert.Equal(t, 8, ping.BitsPerPoint)

	legacy := LegacyPings(330_000, 50, []byte{1}, times...)
	assert.Equal(t, sonar.SidescanPingMessage, legacy[0].Type)

	mb := sonar.PingFromMessage(Multibeam(10, -0.5, 0.5, 0.5, []byte{1, 2, 3}))
	assert.Equal(t, sonar.TypeMultibeam, mb.Type)

	b := Bundle("/tmp/b", ss, legacy)
	n := 0
	c := b.Iterate(sonar.SonarDataMessage)
	for _, ok := c.Next(); ok; _, ok = c.Next() {
		n++
	}
	assert.Equal(t, 3, n)
	assert.Equal(t, "/tmp/b", b.Dir())
}
