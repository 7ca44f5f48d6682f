// Package normalize evens out sidescan amplitudes: a time-varying gain
// with per-side mean normalisation for single lines, and a per-bin
// histogram profile learnt from a whole log.
package normalize

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/survey.report/internal/sonar"
)

// ApplyTVG applies time-varying gain and per-side normalisation to data and
// returns a new slice. data is split at its midpoint into port and
// starboard; each side is divided by its own mean. The input is not
// modified. rng is accepted for parity with range-dependent gain models
// and does not affect the current one.
func ApplyTVG(data []float64, rng float64, p sonar.SidescanParameters) []float64 {
	out := make([]float64, len(data))
	middle := len(data) / 2
	if middle == 0 {
		copy(out, data)
		return out
	}

	den := float64(middle) * p.Normalization
	avgPort := floats.Sum(data[:middle]) / den
	avgStbd := floats.Sum(data[middle:]) / den

	minVal, maxVal := ClampWindow(p)
	window := minVal > 0 || maxVal < 1

	for c, sample := range data {
		var r, avg float64
		if c < middle {
			r = float64(c) / float64(middle)
			avg = avgPort
		} else {
			r = 1 - float64(c-middle)/float64(middle)
			avg = avgStbd
		}
		gain := math.Abs(30.0 * math.Log(r))
		v := sample * math.Pow(10, gain/p.TVGGain) / avg

		if window && !math.IsNaN(v) && !math.IsInf(v, 0) {
			v = (v - minVal) / (maxVal - minVal)
		}
		out[c] = v
	}
	return out
}

// ClampWindow returns the [min, max] display window of p, clamped to [0,1]
// and rounded to two decimals.
func ClampWindow(p sonar.SidescanParameters) (float64, float64) {
	minVal := round2(math.Min(1, math.Max(0, p.MinValue)))
	maxVal := round2(math.Min(1-minVal, math.Max(0, minVal+p.WindowValue)))
	return minVal, maxVal
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
