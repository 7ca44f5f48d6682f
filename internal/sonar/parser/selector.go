package parser

import (
	"errors"
	"reflect"
	"sync"

	"github.com/banshee-data/survey.report/internal/logsource"
	"github.com/banshee-data/survey.report/internal/sonar"
)

// ErrNoCompatibleParser is returned when no parser can read a bundle.
var ErrNoCompatibleParser = errors.New("no compatible sidescan parser")

// Checker recognises one log format and builds its parser.
type Checker interface {
	Compatible(bundle logsource.Bundle) bool
	Construct(bundle logsource.Bundle) (Parser, error)
}

// Selector picks a parser for a bundle from registered checkers, falling
// back to the built-in formats.
type Selector struct {
	mu       sync.RWMutex
	checkers []Checker
}

// NewSelector returns a selector with no registered checkers.
func NewSelector() *Selector {
	return &Selector{}
}

// Register appends c unless a checker of the same concrete type is
// already registered. It reports whether c was added.
func (s *Selector) Register(c Checker) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	typ := reflect.TypeOf(c)
	for _, existing := range s.checkers {
		if reflect.TypeOf(existing) == typ {
			return false
		}
	}
	s.checkers = append(s.checkers, c)
	return true
}

// Checkers returns the registered checkers in order.
func (s *Selector) Checkers() []Checker {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Checker(nil), s.checkers...)
}

// Select returns the parser of the first compatible checker. Failing that
// it uses Modern when the bundle has SonarData messages and Legacy when it
// has SidescanPing messages. opts apply to the built-in parsers only.
func (s *Selector) Select(bundle logsource.Bundle, opts ...Option) (Parser, error) {
	for _, c := range s.Checkers() {
		if !c.Compatible(bundle) {
			continue
		}
		p, err := c.Construct(bundle)
		if err != nil {
			opsf("%T accepted %s but failed to construct: %v", c, bundle.Dir(), err)
			continue
		}
		diagf("%s: using %T", bundle.Dir(), c)
		return p, nil
	}

	switch {
	case logsource.HasLog(bundle, sonar.SonarDataMessage):
		diagf("%s: using modern parser", bundle.Dir())
		return NewModern(bundle, opts...), nil
	case logsource.HasLog(bundle, sonar.SidescanPingMessage):
		diagf("%s: using legacy parser", bundle.Dir())
		return NewLegacy(bundle, opts...), nil
	}
	return nil, ErrNoCompatibleParser
}
