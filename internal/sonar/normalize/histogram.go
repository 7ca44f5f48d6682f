package normalize

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/survey.report/internal/sonar"
)

// ErrNoHistogram is returned with unchanged data when no profile exists for
// a subsystem. It is a warning, not a failure.
var ErrNoHistogram = errors.New("no histogram profile for subsystem")

// Defaults for HistogramBuilder.
const (
	DefaultSampleLines = 1000
	DefaultWindow      = time.Second
)

// maxEmptyWindows stops sampling a subsystem that keeps returning no lines.
const maxEmptyWindows = 100

// LineSource is the part of a log parser the histogram builder needs.
type LineSource interface {
	FirstPingTimestamp() int64
	LastPingTimestamp() int64
	RangeQuery(t1, t2 int64, subsystem int64, params *sonar.SidescanParameters) []*sonar.SidescanLine
}

// HistogramProfile holds the mean amplitude of every sample bin per
// subsystem, and the mean of those means.
type HistogramProfile struct {
	Profiles map[int64][]float32
	Averages map[int64]float32
}

// NewHistogramProfile returns an empty profile set.
func NewHistogramProfile() *HistogramProfile {
	return &HistogramProfile{
		Profiles: make(map[int64][]float32),
		Averages: make(map[int64]float32),
	}
}

// Subsystems lists the subsystems with a profile, ascending.
func (h *HistogramProfile) Subsystems() []int64 {
	out := make([]int64, 0, len(h.Profiles))
	for s := range h.Profiles {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Valid reports whether the profile set has at least one average.
func (h *HistogramProfile) Valid() bool {
	return h != nil && len(h.Averages) > 0
}

// Normalize scales each sample by average/profile for its bin. Bins whose
// profile is zero, and samples beyond the profile length, are passed
// through. Without a profile for subsystem, data is returned unchanged
// together with ErrNoHistogram.
func (h *HistogramProfile) Normalize(data []float64, subsystem int64) ([]float64, error) {
	profile, ok := h.Profiles[subsystem]
	if !ok {
		return data, fmt.Errorf("%w: %d", ErrNoHistogram, subsystem)
	}
	avg := float64(h.Averages[subsystem])
	out := make([]float64, len(data))
	for i, v := range data {
		if i < len(profile) && profile[i] != 0 {
			out[i] = v * (avg / float64(profile[i]))
		} else {
			out[i] = v
		}
	}
	return out, nil
}

// HistogramBuilder learns a HistogramProfile by sampling random windows of
// lines across a log.
type HistogramBuilder struct {
	Source     LineSource
	Subsystems []int64

	// SampleLines is the number of lines averaged per subsystem.
	SampleLines int
	// Window is the length of each random time window.
	Window time.Duration
	// Rand drives window selection; inject a seeded source for
	// reproducible profiles.
	Rand *rand.Rand
	// Progress receives human readable progress. Optional.
	Progress func(string)
}

// Build samples the source and returns the learnt profiles.
func (b *HistogramBuilder) Build() (*HistogramProfile, error) {
	if b.Source == nil {
		return nil, errors.New("histogram builder has no line source")
	}
	sampleLines := b.SampleLines
	if sampleLines <= 0 {
		sampleLines = DefaultSampleLines
	}
	window := b.Window.Milliseconds()
	if window <= 0 {
		window = DefaultWindow.Milliseconds()
	}
	rng := b.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	first := b.Source.FirstPingTimestamp()
	last := b.Source.LastPingTimestamp()
	span := last - first - window
	maxWindows := 10 * sampleLines
	if maxWindows < maxEmptyWindows {
		maxWindows = maxEmptyWindows
	}

	h := NewHistogramProfile()
	for si, sub := range b.Subsystems {
		var profile []float64
		lines, empty := 0, 0
		for w := 0; w < maxWindows && lines < sampleLines && empty < maxEmptyWindows; w++ {
			start := first
			if span > 0 {
				start += rng.Int63n(span)
			}
			found := b.Source.RangeQuery(start, start+window, sub, nil)
			if len(found) == 0 {
				empty++
			}
			for _, line := range found {
				if lines >= sampleLines {
					break
				}
				if profile == nil {
					profile = make([]float64, len(line.Data))
				}
				if len(line.Data) != len(profile) {
					tracef("skipping line at %d: %d bins, profile has %d", line.TimestampMillis, len(line.Data), len(profile))
					continue
				}
				n := float64(lines)
				for i, v := range line.Data {
					profile[i] = (profile[i]*n + v) / (n + 1)
				}
				lines++
			}
			if span <= 0 {
				// The whole log fits in one window.
				break
			}
		}
		if b.Progress != nil {
			b.Progress(fmt.Sprintf("Histogram: subsystem %d done (%d/%d), %d lines", sub, si+1, len(b.Subsystems), lines))
		}
		if lines == 0 {
			opsf("no lines found for subsystem %d", sub)
			continue
		}

		for i, v := range profile {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				profile[i] = 0
			}
		}
		p32 := make([]float32, len(profile))
		for i, v := range profile {
			p32[i] = float32(v)
		}
		h.Profiles[sub] = p32
		h.Averages[sub] = float32(stat.Mean(profile, nil))
		diagf("subsystem %d: %d lines, %d bins, average %.4f", sub, lines, len(profile), h.Averages[sub])
	}
	return h, nil
}
