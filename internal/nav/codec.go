package nav

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"
)

// PoseRecordSize is the encoded size of one pose.
//
// Layout, big-endian:
//
//	0   timestamp ms  int64
//	8   ref latitude  float64 (deg)
//	16  ref longitude float64 (deg)
//	24  north         float64
//	32  east          float64
//	40  depth         float64
//	48  roll          float64
//	56  pitch         float64
//	64  yaw           float64
//	72  u             float64
//	80  v             float64
//	88  w             float64
//	96  altitude      float64
//	104 xxhash64 of bytes [0,104)
const PoseRecordSize = 112

const poseBodySize = PoseRecordSize - 8

// ErrPoseChecksum is returned when a pose record fails its checksum.
var ErrPoseChecksum = errors.New("pose record checksum mismatch")

// AppendPose appends the encoded pose to dst.
func AppendPose(dst []byte, p Pose) []byte {
	var buf [PoseRecordSize]byte
	be := binary.BigEndian
	be.PutUint64(buf[0:], uint64(p.TimestampMillis))
	fields := [...]float64{
		p.Location.LatDeg, p.Location.LonDeg,
		p.Location.North, p.Location.East, p.Location.Depth,
		p.Roll, p.Pitch, p.Yaw,
		p.U, p.V, p.W,
		p.Altitude,
	}
	for i, f := range fields {
		be.PutUint64(buf[8+8*i:], math.Float64bits(f))
	}
	be.PutUint64(buf[poseBodySize:], xxhash.Sum64(buf[:poseBodySize]))
	return append(dst, buf[:]...)
}

// DecodePose decodes one pose record.
func DecodePose(b []byte) (Pose, error) {
	if len(b) != PoseRecordSize {
		return Pose{}, fmt.Errorf("pose record is %d bytes, want %d", len(b), PoseRecordSize)
	}
	be := binary.BigEndian
	if be.Uint64(b[poseBodySize:]) != xxhash.Sum64(b[:poseBodySize]) {
		return Pose{}, ErrPoseChecksum
	}
	f := func(i int) float64 { return math.Float64frombits(be.Uint64(b[8+8*i:])) }
	return Pose{
		TimestampMillis: int64(be.Uint64(b[0:])),
		Location: Location{
			LatDeg: f(0),
			LonDeg: f(1),
			North:  f(2),
			East:   f(3),
			Depth:  f(4),
		},
		Roll:     f(5),
		Pitch:    f(6),
		Yaw:      f(7),
		U:        f(8),
		V:        f(9),
		W:        f(10),
		Altitude: f(11),
	}, nil
}
