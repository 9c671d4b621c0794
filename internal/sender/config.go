package sender

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/banshee-data/wheelcast/internal/input"
	"github.com/banshee-data/wheelcast/internal/transport"
)

// Defaults for a loop configuration.
const (
	DefaultHost = "192.168.0.23"
	DefaultPort = 4210
	DefaultRate = 30.0
)

// ErrInvalidConfig is returned by Validate and New for unusable settings.
var ErrInvalidConfig = errors.New("invalid loop config")

// Config is captured by value when a loop is created and never mutated.
type Config struct {
	Host             string        `json:"host"`
	Port             int           `json:"port"`
	Rate             float64       `json:"rate_hz"`
	Checksum         bool          `json:"checksum"`
	ControllerIndex  int           `json:"controller"`
	InvertY          bool          `json:"invert_y"`
	Duration         time.Duration `json:"duration"`
	StopOnDisconnect bool          `json:"stop_on_disconnect"`
	Verbose          bool          `json:"verbose"`

	// SerialPort selects the USB hub transport instead of UDP.
	SerialPort string `json:"serial_port,omitempty"`
	Baud       int    `json:"baud,omitempty"`
}

// DefaultConfig returns the settings used when no option is given.
func DefaultConfig() Config {
	return Config{
		Host:     DefaultHost,
		Port:     DefaultPort,
		Rate:     DefaultRate,
		Checksum: true,
		InvertY:  true,
		Baud:     transport.DefaultBaudRate,
	}
}

// Validate checks the configuration for consistency.
func (c Config) Validate() error {
	if c.SerialPort == "" {
		if c.Host == "" {
			return fmt.Errorf("%w: host is required", ErrInvalidConfig)
		}
		if c.Port < 1 || c.Port > 65535 {
			return fmt.Errorf("%w: port %d out of range 1..65535", ErrInvalidConfig, c.Port)
		}
	} else if c.Baud < 0 {
		return fmt.Errorf("%w: baud %d must not be negative", ErrInvalidConfig, c.Baud)
	}
	if math.IsNaN(c.Rate) || math.IsInf(c.Rate, 0) || c.Rate <= 0 {
		return fmt.Errorf("%w: rate %v must be a positive number", ErrInvalidConfig, c.Rate)
	}
	if c.Interval() <= 0 {
		return fmt.Errorf("%w: rate %v is too high", ErrInvalidConfig, c.Rate)
	}
	if err := input.ValidateIndex(c.ControllerIndex); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.Duration < 0 {
		return fmt.Errorf("%w: duration %v must not be negative", ErrInvalidConfig, c.Duration)
	}
	return nil
}

// Interval is the tick period.
func (c Config) Interval() time.Duration {
	return time.Duration(float64(time.Second) / c.Rate)
}

// Target is where the loop's transport sends packets.
func (c Config) Target() transport.Target {
	return transport.Target{
		Host:       c.Host,
		Port:       c.Port,
		SerialPort: c.SerialPort,
		Baud:       c.Baud,
	}
}
