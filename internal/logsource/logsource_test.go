package logsource

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBundle_IterateSorted(t *testing.T) {
	b := NewMemoryBundle("/tmp/bundle")
	b.Add(
		&Message{Type: "A", TimestampMillis: 30, Source: 2},
		&Message{Type: "A", TimestampMillis: 10, Source: 1},
		&Message{Type: "B", TimestampMillis: 20, Source: 1},
		&Message{Type: "A", TimestampMillis: 20, Source: 1},
	)

	c := b.Iterate("A")
	var got []int64
	for m, ok := c.Next(); ok; m, ok = c.Next() {
		got = append(got, m.TimestampMillis)
	}
	assert.Equal(t, []int64{10, 20, 30}, got)

	c.Reset()
	m, ok := c.Next()
	require.True(t, ok)
	assert.Equal(t, int64(10), m.TimestampMillis)

	assert.Equal(t, []int{1, 2}, b.VehicleSources())
	assert.Equal(t, "/tmp/bundle", b.Dir())
}

func TestMemoryBundle_MissingLog(t *testing.T) {
	b := NewMemoryBundle("")
	assert.Nil(t, b.Log("SonarData"))
	assert.False(t, HasLog(b, "SonarData"))

	c := b.Iterate("SonarData")
	_, ok := c.Next()
	assert.False(t, ok)
}

func TestMessage_Fields(t *testing.T) {
	m := &Message{Fields: map[string]float64{"range": 30, "frequency": 455000.7}}
	assert.Equal(t, 30.0, m.Float("range"))
	assert.Equal(t, int64(455000), m.Int("frequency"))
	assert.Equal(t, 0.0, m.Float("absent"))

	_, ok := m.Lookup("absent")
	assert.False(t, ok)
}
