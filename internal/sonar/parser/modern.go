package parser

import (
	"github.com/banshee-data/survey.report/internal/logsource"
	"github.com/banshee-data/survey.report/internal/sonar"
)

// Modern reads sidescan pings from SonarData messages. Each transducer
// frequency is a subsystem.
type Modern struct {
	*engine
}

var _ Parser = (*Modern)(nil)

// NewModern opens a parser over the SonarData messages of bundle.
func NewModern(bundle logsource.Bundle, opts ...Option) *Modern {
	return &Modern{newEngine(bundle, sonar.SonarDataMessage, modernPing, true, opts)}
}

func modernPing(msg *logsource.Message) (*sonar.PingRecord, bool) {
	ping := sonar.PingFromMessage(msg)
	if ping.Type != sonar.TypeSidescan {
		return nil, false
	}
	return ping, true
}
