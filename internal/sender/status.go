package sender

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/banshee-data/wheelcast/internal/input"
)

// State is the transmit loop lifecycle state.
type State int

const (
	Idle State = iota
	Running
	Stopping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// ConnectionState reflects the most recent poll.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connected
)

func (c ConnectionState) String() string {
	if c == Connected {
		return "connected"
	}
	return "disconnected"
}

// MarshalText encodes the connection state by name.
func (c ConnectionState) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

// StopReason records why a run ended.
type StopReason int

const (
	StopNone StopReason = iota
	StopRequested
	StopDuration
	StopDisconnected
)

func (r StopReason) String() string {
	switch r {
	case StopNone:
		return ""
	case StopRequested:
		return "requested"
	case StopDuration:
		return "duration"
	case StopDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("reason(%d)", int(r))
	}
}

// MarshalText encodes the reason by name.
func (r StopReason) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

// Status is an immutable snapshot of a loop. A new value is published after
// every tick; readers never see a partially updated snapshot.
type Status struct {
	RunID      string          `json:"run_id,omitempty"`
	State      State           `json:"state"`
	Connection ConnectionState `json:"connection"`
	Target     string          `json:"target,omitempty"`

	// LastSample holds the values the last packet encodes, after inversion
	// and clamping.
	LastSample input.AxisSample `json:"last_sample"`
	LastPacket []byte           `json:"-"`

	Sent           uint64 `json:"sent"`
	SendFailures   uint64 `json:"send_failures"`
	LastSendError  error  `json:"-"`
	InputFailures  uint64 `json:"input_failures"`
	LastInputError error  `json:"-"`
	Ticks          uint64 `json:"ticks"`
	RecordsDropped uint64 `json:"records_dropped,omitempty"`

	StartedAt  time.Time  `json:"started_at"`
	StoppedAt  time.Time  `json:"stopped_at"`
	StopReason StopReason `json:"stop_reason,omitempty"`

	FailsafeSent bool  `json:"failsafe_sent"`
	FailsafeErr  error `json:"-"`
}

// Active reports whether the loop still owns its transport.
func (s Status) Active() bool {
	return s.State == Running || s.State == Stopping
}

// MarshalJSON renders errors and the packet as strings.
func (s Status) MarshalJSON() ([]byte, error) {
	type plain Status
	return json.Marshal(struct {
		plain
		LastPacket     string `json:"last_packet,omitempty"`
		LastSendError  string `json:"last_send_error,omitempty"`
		LastInputError string `json:"last_input_error,omitempty"`
		FailsafeError  string `json:"failsafe_error,omitempty"`
	}{
		plain:          plain(s),
		LastPacket:     fmt.Sprintf("%x", s.LastPacket),
		LastSendError:  errString(s.LastSendError),
		LastInputError: errString(s.LastInputError),
		FailsafeError:  errString(s.FailsafeErr),
	})
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
