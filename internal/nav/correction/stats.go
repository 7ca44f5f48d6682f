package correction

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/survey.report/internal/nav"
)

// TrackStats summarises a corrected track.
type TrackStats struct {
	Poses        int     `json:"poses"`
	DurationSecs float64 `json:"duration_secs"`
	DistanceM    float64 `json:"distance_m"`
	MaxDepth     float64 `json:"max_depth_m"`
	MeanDepth    float64 `json:"mean_depth_m"`
	MinRoll      float64 `json:"min_roll_rad"`
	MaxRoll      float64 `json:"max_roll_rad"`
	MeanRoll     float64 `json:"mean_roll_rad"`
	MinPitch     float64 `json:"min_pitch_rad"`
	MaxPitch     float64 `json:"max_pitch_rad"`
	MeanPitch    float64 `json:"mean_pitch_rad"`
}

// ComputeTrackStats computes distance travelled and attitude/depth
// statistics over poses.
func ComputeTrackStats(poses []nav.Pose) TrackStats {
	st := TrackStats{Poses: len(poses)}
	if len(poses) == 0 {
		return st
	}

	depth := make([]float64, len(poses))
	roll := make([]float64, len(poses))
	pitch := make([]float64, len(poses))
	for i, p := range poses {
		depth[i] = p.Location.Depth
		roll[i] = p.Roll
		pitch[i] = p.Pitch
		if i > 0 {
			st.DistanceM += p.Location.HorizontalDistance(poses[i-1].Location)
		}
	}

	st.DurationSecs = float64(poses[len(poses)-1].TimestampMillis-poses[0].TimestampMillis) / 1000
	st.MaxDepth = floats.Max(depth)
	st.MeanDepth = stat.Mean(depth, nil)
	st.MinRoll, st.MaxRoll, st.MeanRoll = floats.Min(roll), floats.Max(roll), stat.Mean(roll, nil)
	st.MinPitch, st.MaxPitch, st.MeanPitch = floats.Min(pitch), floats.Max(pitch), stat.Mean(pitch, nil)
	return st
}
