// Package config loads wheelcast settings using viper. Values come from, in
// increasing precedence: built-in defaults, an optional settings file,
// WHEELCAST_* environment variables and command-line flags. Settings are read
// fresh for every command and never written back.
package config

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/banshee-data/wheelcast/internal/input"
	"github.com/banshee-data/wheelcast/internal/monitoring"
	"github.com/banshee-data/wheelcast/internal/sender"
	"github.com/banshee-data/wheelcast/internal/transport"
)

// EnvPrefix is prepended to environment overrides, e.g. WHEELCAST_LOOP_RATE.
const EnvPrefix = "WHEELCAST"

// ErrInvalidSettings is returned by Validate.
var ErrInvalidSettings = errors.New("invalid settings")

// Settings is the root of the settings file.
type Settings struct {
	Loop  LoopSettings       `mapstructure:"loop" yaml:"loop"`
	Input InputSettings      `mapstructure:"input" yaml:"input"`
	Log   monitoring.Options `mapstructure:"log" yaml:"log"`
	Serve ServeSettings      `mapstructure:"serve" yaml:"serve"`
	DB    DBSettings         `mapstructure:"db" yaml:"db"`
	Sim   SimSettings        `mapstructure:"sim" yaml:"sim"`
}

// LoopSettings mirrors the transmit loop options.
type LoopSettings struct {
	IP               string  `mapstructure:"ip" yaml:"ip"`
	Port             int     `mapstructure:"port" yaml:"port"`
	Rate             float64 `mapstructure:"rate" yaml:"rate"`
	Controller       int     `mapstructure:"controller" yaml:"controller"`
	InvertY          bool    `mapstructure:"invert_y" yaml:"invert_y"`
	Checksum         bool    `mapstructure:"checksum" yaml:"checksum"`
	Duration         float64 `mapstructure:"duration" yaml:"duration"` // seconds, 0 = until stopped
	StopOnDisconnect bool    `mapstructure:"stop_on_disconnect" yaml:"stop_on_disconnect"`
	Verbose          bool    `mapstructure:"verbose" yaml:"verbose"`
	SerialPort       string  `mapstructure:"serial_port" yaml:"serial_port"`
	Baud             int     `mapstructure:"baud" yaml:"baud"`
}

// InputSettings selects and tunes the controller source.
type InputSettings struct {
	// Axis indexes depend on the OS driver: the right stick Y is 4 under
	// Linux xpad and 3 under Windows and macOS.
	LeftAxis  int `mapstructure:"left_axis" yaml:"left_axis"`
	RightAxis int `mapstructure:"right_axis" yaml:"right_axis"`
	// Script replaces the joystick with a scripted fixture file.
	Script string `mapstructure:"script" yaml:"script"`
}

// ServeSettings configures the control server.
type ServeSettings struct {
	Listen     string `mapstructure:"listen" yaml:"listen"`
	GRPCListen string `mapstructure:"grpc_listen" yaml:"grpc_listen"`
	AutoStart  bool   `mapstructure:"auto_start" yaml:"auto_start"`
}

// DBSettings configures the run recorder. An empty path disables recording.
type DBSettings struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// SimSettings configures the robot simulator.
type SimSettings struct {
	Listen   string        `mapstructure:"listen" yaml:"listen"`
	Watchdog time.Duration `mapstructure:"watchdog" yaml:"watchdog"`
}

// DefaultFlagKeys maps command-line flag names to settings keys.
var DefaultFlagKeys = map[string]string{
	"ip":                 "loop.ip",
	"port":               "loop.port",
	"rate":               "loop.rate",
	"controller":         "loop.controller",
	"duration":           "loop.duration",
	"stop-on-disconnect": "loop.stop_on_disconnect",
	"verbose":            "loop.verbose",
	"serial-port":        "loop.serial_port",
	"baud":               "loop.baud",
	"script":             "input.script",
	"left-axis":          "input.left_axis",
	"right-axis":         "input.right_axis",
	"log-level":          "log.level",
	"log-format":         "log.format",
	"log-file":           "log.file.path",
	"listen":             "serve.listen",
	"grpc-listen":        "serve.grpc_listen",
	"auto-start":         "serve.auto_start",
	"db":                 "db.path",
	"watchdog":           "sim.watchdog",
}

// negatedFlags turn a default-on loop option off.
var negatedFlags = map[string]string{
	"no-invert-y": "loop.invert_y",
	"no-checksum": "loop.checksum",
}

func setDefaults(v *viper.Viper) {
	def := sender.DefaultConfig()
	v.SetDefault("loop.ip", def.Host)
	v.SetDefault("loop.port", def.Port)
	v.SetDefault("loop.rate", def.Rate)
	v.SetDefault("loop.controller", 0)
	v.SetDefault("loop.invert_y", true)
	v.SetDefault("loop.checksum", true)
	v.SetDefault("loop.duration", 0.0)
	v.SetDefault("loop.stop_on_disconnect", false)
	v.SetDefault("loop.verbose", false)
	v.SetDefault("loop.serial_port", "")
	v.SetDefault("loop.baud", transport.DefaultBaudRate)

	axes := input.DefaultAxisMap()
	v.SetDefault("input.left_axis", axes.LeftY)
	v.SetDefault("input.right_axis", axes.RightY)
	v.SetDefault("input.script", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file.path", "")
	v.SetDefault("log.file.max_size_mb", 50)
	v.SetDefault("log.file.max_backups", 3)
	v.SetDefault("log.file.max_age_days", 28)
	v.SetDefault("log.file.compress", true)

	v.SetDefault("serve.listen", "127.0.0.1:8088")
	v.SetDefault("serve.grpc_listen", "127.0.0.1:8089")
	v.SetDefault("serve.auto_start", false)

	v.SetDefault("db.path", "")

	v.SetDefault("sim.listen", ":4210")
	v.SetDefault("sim.watchdog", "500ms")
}

// Load reads settings from path (optional), the environment and flags. keys
// maps flag names to settings keys; nil means DefaultFlagKeys. Flags absent
// from the set are skipped.
func Load(path string, flags *pflag.FlagSet, keys map[string]string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if keys == nil {
		keys = DefaultFlagKeys
	}
	if flags != nil {
		for name, key := range keys {
			f := flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("failed to bind flag --%s: %w", name, err)
			}
		}
		for name, key := range negatedFlags {
			f := flags.Lookup(name)
			if f == nil || !f.Changed {
				continue
			}
			off, err := flags.GetBool(name)
			if err != nil {
				return nil, fmt.Errorf("failed to read flag --%s: %w", name, err)
			}
			v.Set(key, !off)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &s, nil
}

// Validate checks the settings that every command relies on.
func (s *Settings) Validate() error {
	if math.IsNaN(s.Loop.Duration) || s.Loop.Duration < 0 {
		return fmt.Errorf("%w: loop.duration %v must be >= 0 seconds", ErrInvalidSettings, s.Loop.Duration)
	}
	if err := s.LoopConfig().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	if s.Input.LeftAxis < 0 || s.Input.RightAxis < 0 {
		return fmt.Errorf("%w: axis indexes must not be negative", ErrInvalidSettings)
	}
	switch strings.ToLower(s.Log.Level) {
	case "trace", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("%w: log.level %q (must be debug/info/warn/error)", ErrInvalidSettings, s.Log.Level)
	}
	if s.Log.Format != "text" && s.Log.Format != "json" {
		return fmt.Errorf("%w: log.format %q (must be text/json)", ErrInvalidSettings, s.Log.Format)
	}
	if s.Sim.Watchdog < 0 {
		return fmt.Errorf("%w: sim.watchdog %v must not be negative", ErrInvalidSettings, s.Sim.Watchdog)
	}
	return nil
}

// LoopConfig converts the loop settings into a transmit loop config.
func (s *Settings) LoopConfig() sender.Config {
	return sender.Config{
		Host:             s.Loop.IP,
		Port:             s.Loop.Port,
		Rate:             s.Loop.Rate,
		Checksum:         s.Loop.Checksum,
		ControllerIndex:  s.Loop.Controller,
		InvertY:          s.Loop.InvertY,
		Duration:         time.Duration(s.Loop.Duration * float64(time.Second)),
		StopOnDisconnect: s.Loop.StopOnDisconnect,
		Verbose:          s.Loop.Verbose,
		SerialPort:       s.Loop.SerialPort,
		Baud:             s.Loop.Baud,
	}
}

// YAML renders the effective settings.
func (s *Settings) YAML() ([]byte, error) {
	out, err := yaml.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal settings: %w", err)
	}
	return out, nil
}
