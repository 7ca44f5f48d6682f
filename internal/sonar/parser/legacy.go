package parser

import (
	"github.com/banshee-data/survey.report/internal/logsource"
	"github.com/banshee-data/survey.report/internal/sonar"
)

// Legacy defaults for SidescanPing messages that predate the bit width
// and scale fields.
const (
	legacyBitsPerPoint = 8
	legacyScaleFactor  = 1.0
)

// Legacy reads SidescanPing messages. Such logs have a single
// transducer, so there is exactly one subsystem: the frequency of the
// first ping.
type Legacy struct {
	*engine
	subsystem int64
}

var _ Parser = (*Legacy)(nil)

// NewLegacy opens a parser over the SidescanPing messages of bundle.
func NewLegacy(bundle logsource.Bundle, opts ...Option) *Legacy {
	l := &Legacy{}
	c := bundle.Iterate(sonar.SidescanPingMessage)
	if msg, ok := c.Next(); ok {
		l.subsystem = msg.Int("frequency")
	}
	c.Close()

	l.engine = newEngine(bundle, sonar.SidescanPingMessage, l.ping, false, opts)
	return l
}

func (l *Legacy) ping(msg *logsource.Message) (*sonar.PingRecord, bool) {
	p := sonar.PingFromMessage(msg)
	p.Type = sonar.TypeSidescan
	p.Subsystem = l.subsystem
	if _, ok := msg.Lookup("bits_per_point"); !ok {
		p.BitsPerPoint = legacyBitsPerPoint
	}
	if _, ok := msg.Lookup("scale_factor"); !ok {
		p.ScaleFactor = legacyScaleFactor
	}
	return p, true
}
