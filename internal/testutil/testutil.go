// Package testutil provides log message fixtures shared by package tests.
package testutil

import (
	"github.com/banshee-data/survey.report/internal/logsource"
	"github.com/banshee-data/survey.report/internal/nav"
	"github.com/banshee-data/survey.report/internal/sonar"
)

// Origin is the fixture start position, radians.
const (
	OriginLat = 0.7187
	OriginLon = -0.1518
)

// NavStates returns EstimatedState messages from source every step ms in
// [from, to]. The vehicle moves north at 1 m/s at the given depth.
func NavStates(source int, from, to, step int64, depth float64) []*logsource.Message {
	var out []*logsource.Message
	for ts := from; ts <= to; ts += step {
		out = append(out, &logsource.Message{
			Type:            nav.EstimatedStateMessage,
			TimestampMillis: ts,
			Source:          source,
			Fields: map[string]float64{
				"lat": OriginLat, "lon": OriginLon,
				"x": float64(ts) / 1000, "u": 1, "depth": depth,
			},
		})
	}
	return out
}

// SidescanPings returns one 8-bit SonarData sidescan ping per timestamp.
func SidescanPings(freq int64, rangeM float64, payload []byte, times ...int64) []*logsource.Message {
	out := make([]*logsource.Message, 0, len(times))
	for _, ts := range times {
		out = append(out, &logsource.Message{
			Type:            sonar.SonarDataMessage,
			TimestampMillis: ts,
			Fields: map[string]float64{
				"type": sonar.TypeSidescan, "frequency": float64(freq), "range": rangeM,
				"bits_per_point": 8, "scale_factor": 1,
			},
			Payload: payload,
		})
	}
	return out
}

// LegacyPings returns SidescanPing messages carrying only frequency and
// range, one per timestamp.
func LegacyPings(freq int64, rangeM float64, payload []byte, times ...int64) []*logsource.Message {
	out := make([]*logsource.Message, 0, len(times))
	for _, ts := range times {
		out = append(out, &logsource.Message{
			Type:            sonar.SidescanPingMessage,
			TimestampMillis: ts,
			Fields:          map[string]float64{"frequency": float64(freq), "range": rangeM},
			Payload:         payload,
		})
	}
	return out
}

// Multibeam returns an 8-bit multibeam ping with beams spread from
// startAngle in fixed steps. Ranges are payload values times scale.
func Multibeam(ts int64, startAngle, angleStep, scale float64, payload []byte) *logsource.Message {
	return &logsource.Message{
		Type:            sonar.SonarDataMessage,
		TimestampMillis: ts,
		Fields: map[string]float64{
			"type": sonar.TypeMultibeam, "frequency": 260_000, "range": 50,
			"bits_per_point": 8, "scale_factor": scale,
			"start_angle": startAngle, "angle_step": angleStep,
		},
		Payload: payload,
	}
}

// Times returns n timestamps starting at first, step ms apart.
func Times(first, step int64, n int) []int64 {
	out := make([]int64, n)
	for i := range out {
		out[i] = first + int64(i)*step
	}
	return out
}

// Bundle returns a memory bundle at dir holding every message group.
func Bundle(dir string, groups ...[]*logsource.Message) *logsource.MemoryBundle {
	b := logsource.NewMemoryBundle(dir)
	for _, g := range groups {
		b.Add(g...)
	}
	return b
}
