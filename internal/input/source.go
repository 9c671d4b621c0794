// Package input defines the controller polling capability consumed by the
// transmit loop and its implementations.
package input

import (
	"errors"
	"fmt"
)

// MaxControllers is the number of controller slots a source can poll.
const MaxControllers = 4

var (
	// ErrInputUnavailable means the polling capability itself could not be
	// reached, as opposed to a controller that is simply unplugged.
	ErrInputUnavailable = errors.New("input unavailable")
	// ErrInvalidIndex is returned for controller indexes outside 0..3.
	ErrInvalidIndex = errors.New("invalid controller index")
)

// AxisSample holds the two stick values in [-1, 1] read in one poll.
type AxisSample struct {
	Left  float64 `json:"left"`
	Right float64 `json:"right"`
}

func (s AxisSample) String() string {
	return fmt.Sprintf("L=%+.3f R=%+.3f", s.Left, s.Right)
}

// Reading is the result of one poll. Sample is meaningful only when
// Connected is true.
type Reading struct {
	Sample    AxisSample
	Connected bool
}

// Disconnected is the reading reported when no controller answers.
var Disconnected = Reading{}

// Connected builds a reading for a present controller.
func Connected(left, right float64) Reading {
	return Reading{Sample: AxisSample{Left: left, Right: right}, Connected: true}
}

// Source polls one controller slot. Poll must return well within one tick
// interval; an error means the capability is unreachable and is treated by
// callers like a disconnected reading.
type Source interface {
	Poll(index int) (Reading, error)
	Close() error
}

// ValidateIndex checks that index names one of the controller slots.
func ValidateIndex(index int) error {
	if index < 0 || index >= MaxControllers {
		return fmt.Errorf("%w %d: must be 0..%d", ErrInvalidIndex, index, MaxControllers-1)
	}
	return nil
}
