package nav

import (
	"math"

	"github.com/banshee-data/survey.report/internal/logsource"
)

// EstimatedStateMessage is the log message type carrying navigation states.
const EstimatedStateMessage = "EstimatedState"

// Pose is a corrected vehicle position and attitude at one instant.
type Pose struct {
	TimestampMillis int64    `json:"timestamp_ms"`
	Location        Location `json:"location"`
	Roll            float64  `json:"roll"`
	Pitch           float64  `json:"pitch"`
	Yaw             float64  `json:"yaw"`
	U               float64  `json:"u"`
	V               float64  `json:"v"`
	W               float64  `json:"w"`
	Altitude        float64  `json:"altitude"`
}

// Speed is the magnitude of the body velocity.
func (p Pose) Speed() float64 {
	return math.Sqrt(p.U*p.U + p.V*p.V + p.W*p.W)
}

// WithLocation returns a copy of p at loc.
func (p Pose) WithLocation(loc Location) Pose {
	p.Location = loc
	return p
}

// NavState is a raw dead-reckoning state as logged by the vehicle.
// Lat and Lon are in radians.
type NavState struct {
	TimestampMillis int64
	Lat, Lon        float64
	X, Y, Z         float64
	Depth           float64
	Phi, Theta, Psi float64
	U, V, W         float64
	Alt             float64
}

// NavStateFromMessage reads a navigation state from a log message.
// Missing fields are zero.
func NavStateFromMessage(msg *logsource.Message) NavState {
	return NavState{
		TimestampMillis: msg.TimestampMillis,
		Lat:             msg.Float("lat"),
		Lon:             msg.Float("lon"),
		X:               msg.Float("x"),
		Y:               msg.Float("y"),
		Z:               msg.Float("z"),
		Depth:           msg.Float("depth"),
		Phi:             msg.Float("phi"),
		Theta:           msg.Float("theta"),
		Psi:             msg.Float("psi"),
		U:               msg.Float("u"),
		V:               msg.Float("v"),
		W:               msg.Float("w"),
		Alt:             msg.Float("alt"),
	}
}

// Location returns the state's reference position with its offsets.
func (s NavState) Location() Location {
	return Location{
		LatDeg: s.Lat * 180 / math.Pi,
		LonDeg: s.Lon * 180 / math.Pi,
		North:  s.X,
		East:   s.Y,
		Depth:  s.Depth,
	}
}

// Speed is the magnitude of the body velocity.
func (s NavState) Speed() float64 {
	return math.Sqrt(s.U*s.U + s.V*s.V + s.W*s.W)
}

// Pose builds a pose from the state at the given location.
func (s NavState) Pose(loc Location) Pose {
	return Pose{
		TimestampMillis: s.TimestampMillis,
		Location:        loc,
		Roll:            s.Phi,
		Pitch:           s.Theta,
		Yaw:             s.Psi,
		U:               s.U,
		V:               s.V,
		W:               s.W,
		Altitude:        s.Alt,
	}
}

// PoseFromMessage builds an uncorrected pose straight from a navigation
// state message, with offsets folded into the absolute location.
func PoseFromMessage(msg *logsource.Message) Pose {
	s := NavStateFromMessage(msg)
	return s.Pose(s.Location().Absolute())
}
