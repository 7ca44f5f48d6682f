// Package decode turns packed sonar payloads into scaled sample arrays.
//
// Samples are little-endian unsigned integers of 8 to 64 bits. The 64-bit
// case must be handled as unsigned all the way to the float conversion:
// a sample with its top bit set is a large magnitude, not a negative one.
package decode

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidBitWidth is returned when bits-per-point is not a multiple
	// of 8 in the range 8..64.
	ErrInvalidBitWidth = errors.New("invalid bits per point")

	// ErrTruncatedInput is returned when the payload length is not a whole
	// number of samples.
	ErrTruncatedInput = errors.New("truncated sample payload")
)

// BytesPerPoint validates bitsPerPoint and returns the sample width in bytes.
func BytesPerPoint(bitsPerPoint int) (int, error) {
	if bitsPerPoint < 8 || bitsPerPoint > 64 || bitsPerPoint%8 != 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidBitWidth, bitsPerPoint)
	}
	return bitsPerPoint / 8, nil
}

// DecodeUnsigned splits data into little-endian unsigned samples.
func DecodeUnsigned(data []byte, bitsPerPoint int) ([]uint64, error) {
	bpp, err := BytesPerPoint(bitsPerPoint)
	if err != nil {
		return nil, err
	}
	if len(data)%bpp != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a multiple of %d", ErrTruncatedInput, len(data), bpp)
	}

	out := make([]uint64, len(data)/bpp)
	for k := range out {
		chunk := data[k*bpp : (k+1)*bpp]
		var v uint64
		for j, b := range chunk {
			v |= uint64(b) << (8 * j)
		}
		out[k] = v
	}
	return out, nil
}

// Decode decodes data into samples multiplied by scaleFactor.
func Decode(data []byte, bitsPerPoint int, scaleFactor float64) ([]float64, error) {
	raw, err := DecodeUnsigned(data, bitsPerPoint)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(raw))
	for i, v := range raw {
		// float64(uint64) keeps the unsigned magnitude.
		out[i] = float64(v) * scaleFactor
	}
	return out, nil
}

// DecodeInto decodes data into dst, which must hold exactly the number of
// samples in data. Multibeam swaths decode their consecutive payload
// blocks into one shared buffer this way.
func DecodeInto(dst []float64, data []byte, bitsPerPoint int, scaleFactor float64) error {
	bpp, err := BytesPerPoint(bitsPerPoint)
	if err != nil {
		return err
	}
	if len(data) != len(dst)*bpp {
		return fmt.Errorf("%w: have %d bytes, need %d", ErrTruncatedInput, len(data), len(dst)*bpp)
	}
	for k := range dst {
		var v uint64
		for j := 0; j < bpp; j++ {
			v |= uint64(data[k*bpp+j]) << (8 * j)
		}
		dst[k] = float64(v) * scaleFactor
	}
	return nil
}
