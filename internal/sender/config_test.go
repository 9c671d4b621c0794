package sender

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/banshee-data/wheelcast/internal/transport"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, "192.168.0.23", cfg.Host)
	assert.Equal(t, 4210, cfg.Port)
	assert.True(t, cfg.Checksum)
	assert.True(t, cfg.InvertY)
	assert.False(t, cfg.StopOnDisconnect)
	assert.Equal(t, time.Second/30, cfg.Interval())
	assert.Equal(t, transport.Target{Host: "192.168.0.23", Port: 4210, Baud: 115200}, cfg.Target())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"zero rate", func(c *Config) { c.Rate = 0 }, false},
		{"negative rate", func(c *Config) { c.Rate = -5 }, false},
		{"nan rate", func(c *Config) { c.Rate = math.NaN() }, false},
		{"absurd rate", func(c *Config) { c.Rate = 1e12 }, false},
		{"fractional rate", func(c *Config) { c.Rate = 0.5 }, true},
		{"controller 3", func(c *Config) { c.ControllerIndex = 3 }, true},
		{"controller 4", func(c *Config) { c.ControllerIndex = 4 }, false},
		{"controller -1", func(c *Config) { c.ControllerIndex = -1 }, false},
		{"missing host", func(c *Config) { c.Host = "" }, false},
		{"port 0", func(c *Config) { c.Port = 0 }, false},
		{"port too big", func(c *Config) { c.Port = 70000 }, false},
		{"negative duration", func(c *Config) { c.Duration = -time.Second }, false},
		{"serial without host", func(c *Config) { c.Host = ""; c.Port = 0; c.SerialPort = "COM3" }, true},
		{"serial negative baud", func(c *Config) { c.SerialPort = "COM3"; c.Baud = -1 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			}
		})
	}
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Rate = 0
	_, err := New(cfg, Deps{Source: nil})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = New(DefaultConfig(), Deps{})
	assert.Error(t, err)
}
