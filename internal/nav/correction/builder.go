// Package correction turns raw dead-reckoning navigation states into a
// corrected pose stream.
//
// Dead-reckoned positions drift between position fixes. When a new fix
// makes the position jump, the jump is spread back over the samples
// logged since the last trusted pose, linearly in time, so the track
// joins the fix smoothly instead of stepping.
package correction

import (
	"errors"
	"iter"

	"github.com/banshee-data/survey.report/internal/logsource"
	"github.com/banshee-data/survey.report/internal/nav"
)

// DefaultJumpFactor is how many times the expected displacement a step
// must exceed to count as a position jump.
const DefaultJumpFactor = 3.0

// ErrFinalized is returned by Update after Finalize until Reset is called.
var ErrFinalized = errors.New("correction builder is finalized")

// Option configures a Builder.
type Option func(*Builder)

// WithJumpFactor overrides DefaultJumpFactor.
func WithJumpFactor(f float64) Option {
	return func(b *Builder) {
		if f > 0 {
			b.jumpFactor = f
		}
	}
}

// WithEmit streams corrected poses to fn instead of collecting them.
// An error from fn is returned by the Update or Finalize that emitted it.
func WithEmit(fn func(nav.Pose) error) Option {
	return func(b *Builder) { b.emit = fn }
}

type pendingState struct {
	state nav.NavState
	loc   nav.Location
}

// Builder is the correction state machine. It is not safe for concurrent use.
type Builder struct {
	jumpFactor float64
	emit       func(nav.Pose) error
	poses      []nav.Pose

	// trusted state
	started    bool
	anchorTime int64

	// previous raw sample, for the plausibility check
	prevLoc  nav.Location
	prevTime int64

	pending   []pendingState
	finalized bool

	emitted   int
	corrected int
}

// NewBuilder creates a Builder.
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{jumpFactor: DefaultJumpFactor}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Update feeds the next navigation state. States must arrive in time order.
func (b *Builder) Update(s nav.NavState) error {
	if b.finalized {
		return ErrFinalized
	}

	loc := s.Location().Absolute()
	if !b.started {
		b.started = true
		b.anchorTime = s.TimestampMillis
		b.prevLoc, b.prevTime = loc, s.TimestampMillis
		return b.push(s.Pose(loc))
	}

	dt := float64(s.TimestampMillis-b.prevTime) / 1000.0
	expected := s.Speed() * dt
	actual := loc.HorizontalDistance(b.prevLoc)
	b.prevLoc, b.prevTime = loc, s.TimestampMillis

	if actual < b.jumpFactor*expected {
		b.pending = append(b.pending, pendingState{state: s, loc: loc})
		return nil
	}

	tracef("jump of %.2fm at %d (expected %.2fm), %d pending", actual, s.TimestampMillis, expected, len(b.pending))
	if len(b.pending) > 0 {
		if err := b.flushCorrected(s.TimestampMillis, loc); err != nil {
			return err
		}
	}
	// The fix opens the next batch and is its zero-correction base.
	b.anchorTime = s.TimestampMillis
	b.pending = append(b.pending[:0], pendingState{state: s, loc: loc})
	return nil
}

// flushCorrected spreads the offset between the last pending sample and the
// fix at fixLoc across the pending batch and emits it. Corrections grow
// linearly from zero at anchorTime to the full offset at fixTime.
func (b *Builder) flushCorrected(fixTime int64, fixLoc nav.Location) error {
	last := b.pending[len(b.pending)-1]
	dn, de := fixLoc.OffsetFrom(last.loc)
	span := float64(fixTime - b.anchorTime)

	for _, p := range b.pending {
		loc := p.loc
		if span > 0 {
			frac := float64(p.state.TimestampMillis-b.anchorTime) / span
			loc = loc.Translate(dn*frac, de*frac).Absolute()
		}
		if err := b.push(p.state.Pose(loc)); err != nil {
			return err
		}
		b.corrected++
	}
	b.pending = b.pending[:0]
	return nil
}

func (b *Builder) push(p nav.Pose) error {
	b.emitted++
	if b.emit != nil {
		return b.emit(p)
	}
	b.poses = append(b.poses, p)
	return nil
}

// Finalize emits any pending samples uncorrected and locks the builder.
// It returns the collected poses when no emit function is configured.
func (b *Builder) Finalize() ([]nav.Pose, error) {
	if b.finalized {
		return b.poses, nil
	}
	b.finalized = true
	if len(b.pending) > 0 {
		diagf("%d trailing states left uncorrected", len(b.pending))
	}
	for _, p := range b.pending {
		if err := b.push(p.state.Pose(p.loc)); err != nil {
			return b.poses, err
		}
	}
	b.pending = b.pending[:0]
	diagf("emitted %d poses, %d corrected", b.emitted, b.corrected)
	return b.poses, nil
}

// Reset clears all state so the builder can be reused.
func (b *Builder) Reset() {
	b.poses = nil
	b.started = false
	b.anchorTime = 0
	b.prevLoc = nav.Location{}
	b.prevTime = 0
	b.pending = nil
	b.finalized = false
	b.emitted = 0
	b.corrected = 0
}

// Poses returns the poses collected so far.
func (b *Builder) Poses() []nav.Pose {
	return b.poses
}

// Pending returns the number of states waiting for a fix.
func (b *Builder) Pending() int {
	return len(b.pending)
}

// Correct runs a fresh builder over states and returns every pose.
func Correct(states iter.Seq[nav.NavState], opts ...Option) ([]nav.Pose, error) {
	b := NewBuilder(opts...)
	for s := range states {
		if err := b.Update(s); err != nil {
			return b.Poses(), err
		}
	}
	return b.Finalize()
}

// AnySource accepts navigation states from every vehicle in a bundle.
const AnySource = -1

// FromCursor runs a fresh builder over navigation state messages from c.
// Only messages from source are used unless source is AnySource.
func FromCursor(c logsource.Cursor, source int, opts ...Option) ([]nav.Pose, error) {
	b := NewBuilder(opts...)
	for msg, ok := c.Next(); ok; msg, ok = c.Next() {
		if source != AnySource && msg.Source != source {
			continue
		}
		if err := b.Update(nav.NavStateFromMessage(msg)); err != nil {
			opsf("correction aborted at %d: %v", msg.TimestampMillis, err)
			return b.Poses(), err
		}
	}
	return b.Finalize()
}

// FromBundle corrects the navigation states of the vehicle that logged the
// bundle's first state. States from other vehicles are ignored.
func FromBundle(bundle logsource.Bundle, opts ...Option) ([]nav.Pose, error) {
	c := bundle.Iterate(nav.EstimatedStateMessage)
	defer c.Close()

	first, ok := c.Next()
	if !ok {
		return nil, nil
	}
	c.Reset()
	return FromCursor(c, first.Source, opts...)
}
