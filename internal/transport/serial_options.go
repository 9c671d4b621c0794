package transport

import (
	"fmt"

	"go.bug.st/serial"
)

// DefaultBaudRate is the hub's USB serial speed.
const DefaultBaudRate = 115200

// PortOptions configures a hub port. Hubs always frame 8N1, so only the speed
// is configurable.
type PortOptions struct {
	BaudRate int `json:"baud_rate"`
}

// Normalize applies the default speed and rejects a negative one.
func (o PortOptions) Normalize() (PortOptions, error) {
	switch {
	case o.BaudRate < 0:
		return o, fmt.Errorf("invalid baud rate %d", o.BaudRate)
	case o.BaudRate == 0:
		o.BaudRate = DefaultBaudRate
	}
	return o, nil
}

// SerialMode returns the go.bug.st/serial mode for an 8N1 port at the
// configured speed.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	opts, err := o.Normalize()
	if err != nil {
		return nil, err
	}
	return &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}, nil
}
