// Package packet implements the wheel command wire format.
//
// A packet is two signed bytes (left, right) optionally followed by a checksum
// byte equal to the XOR of the two data bytes:
//
//	checksum mode:    [ left:int8 | right:int8 | left^right:uint8 ]
//	no-checksum mode: [ left:int8 | right:int8 ]
//
// Values are quantized as round(clamp(v, -1, 1) * 127), so the encoding is
// symmetric and -128 is never produced by Encode. Exact halves round away
// from zero (math.Round), not to even.
//
// The single-byte XOR detects any single flipped bit, including one in the
// checksum byte itself. Two flips in the same bit position of different bytes
// cancel out and go unnoticed; receivers that need more must rely on their own
// command timeout.
package packet

import (
	"errors"
	"fmt"
	"math"
)

// MaxMagnitude is the largest quantized magnitude a packet carries.
const MaxMagnitude = 127

const (
	// Len is the packet length without a checksum byte.
	Len = 2
	// LenWithChecksum is the packet length in checksum mode.
	LenWithChecksum = 3
)

// ErrMalformedPacket is returned by Decode for payloads that are neither 2 nor 3 bytes.
var ErrMalformedPacket = errors.New("malformed packet")

// ChecksumState reports what Decode found in the checksum position.
type ChecksumState int

const (
	// ChecksumAbsent means the packet had no checksum byte.
	ChecksumAbsent ChecksumState = iota
	ChecksumValid
	ChecksumInvalid
)

func (c ChecksumState) String() string {
	switch c {
	case ChecksumValid:
		return "OK"
	case ChecksumInvalid:
		return "BAD"
	default:
		return "?"
	}
}

// Frame is a decoded packet.
type Frame struct {
	Left     int8
	Right    int8
	Checksum ChecksumState
}

// Unit returns the frame values scaled back to [-1, 1].
func (f Frame) Unit() (left, right float64) {
	return ToUnitFloat(f.Left), ToUnitFloat(f.Right)
}

// Clamp limits v to [-1, 1]. NaN maps to 0.
func Clamp(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(-1, math.Min(1, v))
}

// Quantize maps a stick value to a signed byte in -127..127. Halves round
// away from zero.
func Quantize(v float64) int8 {
	return int8(math.Round(Clamp(v) * MaxMagnitude))
}

// ToUnitFloat is the inverse of Quantize: v / 127.
func ToUnitFloat(v int8) float64 {
	return float64(v) / MaxMagnitude
}

// Checksum computes the XOR of the unsigned byte representations.
func Checksum(left, right byte) byte {
	return left ^ right
}

// Encode builds a packet for the given stick values. Out of range values are
// clamped; invertY negates both values before quantization.
func Encode(left, right float64, invertY, withChecksum bool) []byte {
	if invertY {
		left, right = -left, -right
	}
	l := byte(Quantize(left))
	r := byte(Quantize(right))
	if withChecksum {
		return []byte{l, r, Checksum(l, r)}
	}
	return []byte{l, r}
}

// Zero returns the failsafe packet that commands both wheels to stop.
func Zero(withChecksum bool) []byte {
	return Encode(0, 0, false, withChecksum)
}

// IsZero reports whether b carries a zero command on both wheels.
func IsZero(b []byte) bool {
	return len(b) >= Len && b[0] == 0 && b[1] == 0
}

// Decode parses a 2 or 3 byte packet.
func Decode(b []byte) (Frame, error) {
	switch len(b) {
	case Len:
		return Frame{Left: int8(b[0]), Right: int8(b[1]), Checksum: ChecksumAbsent}, nil
	case LenWithChecksum:
		state := ChecksumInvalid
		if Checksum(b[0], b[1]) == b[2] {
			state = ChecksumValid
		}
		return Frame{Left: int8(b[0]), Right: int8(b[1]), Checksum: state}, nil
	default:
		return Frame{}, fmt.Errorf("%w: got %d bytes, want %d or %d", ErrMalformedPacket, len(b), Len, LenWithChecksum)
	}
}
