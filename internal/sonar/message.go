package sonar

import "github.com/banshee-data/survey.report/internal/logsource"

// Log message types carrying sonar pings.
const (
	// SonarDataMessage is the current multi-purpose sonar message.
	SonarDataMessage = "SonarData"
	// SidescanPingMessage is the sidescan-only message of older logs.
	SidescanPingMessage = "SidescanPing"
)

// PingFromMessage reads a ping from the numeric fields of msg. The range
// comes from "range", or "max_range" when that is absent or zero. Missing bit
// width and scale are left zero; callers supply format defaults.
func PingFromMessage(msg *logsource.Message) *PingRecord {
	rng, ok := msg.Lookup("range")
	if !ok || rng == 0 {
		rng = msg.Float("max_range")
	}
	return &PingRecord{
		TimestampMillis: msg.TimestampMillis,
		Subsystem:       msg.Int("frequency"),
		Type:            int(msg.Int("type")),
		Range:           rng,
		BitsPerPoint:    int(msg.Int("bits_per_point")),
		ScaleFactor:     msg.Float("scale_factor"),
		Flags:           uint32(msg.Int("flags")),
		AngleScale:      msg.Float("angle_scale"),
		Payload:         msg.Payload,
	}
}
