// Command wheelcast streams joystick tank-drive commands to a robot over UDP
// and hosts the tooling around it: a control server, a robot simulator and
// run reports.
package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/banshee-data/wheelcast/internal/config"
	"github.com/banshee-data/wheelcast/internal/input"
	"github.com/banshee-data/wheelcast/internal/monitoring"
	"github.com/banshee-data/wheelcast/internal/version"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		exitWithError("wheelcast failed", err)
	}
}

// rootOptions holds the global flags.
type rootOptions struct {
	configFile string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "wheelcast",
		Short: "Tank-drive joystick to UDP wheel command streamer",
		Long: `wheelcast reads the two vertical thumbstick axes of a game controller and
streams them to a differential-drive robot as compact wheel packets at a fixed
rate. When it stops, for whatever reason, it sends one zero packet so the
motors halt.

Settings come from built-in defaults, an optional settings file (--config),
WHEELCAST_* environment variables and flags, in increasing precedence.`,
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "settings file (yaml, json or toml)")
	root.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().String("log-format", "text", "log format (text or json)")
	root.PersistentFlags().String("log-file", "", "also write logs to this file, rotated")

	root.AddCommand(
		newSendCmd(opts),
		newServeCmd(opts),
		newSimCmd(opts),
		newReplayCmd(opts),
		newReportCmd(opts),
		newRemoteCmd(opts),
		newMigrateCmd(opts),
		newConfigCmd(opts),
		newVersionCmd(),
	)
	return root
}

// exitWithError prints error message and exits with code 1
func exitWithError(msg string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
	}
	os.Exit(1)
}

// loadSettings reads the settings for cmd, validates them and applies the log
// options.
func (o *rootOptions) loadSettings(cmd *cobra.Command) (*config.Settings, error) {
	s, err := config.Load(o.configFile, cmd.Flags(), nil)
	if err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if err := monitoring.Init(s.Log); err != nil {
		return nil, fmt.Errorf("failed to initialise logging: %w", err)
	}
	return s, nil
}

// addLoopFlags registers the transmit loop options shared by send and serve.
func addLoopFlags(f *pflag.FlagSet) {
	f.String("ip", "192.168.0.23", "robot IP address")
	f.Int("port", 4210, "robot UDP port")
	f.Float64("rate", 30, "send rate in Hz")
	f.Int("controller", 0, "controller index (0-3)")
	f.Bool("no-invert-y", false, "do not invert the Y axes (stick up is sent as negative wheel values by default)")
	f.Bool("no-checksum", false, "send 2-byte packets without the XOR checksum")
	f.Float64("duration", 0, "stop after this many seconds (0 runs until interrupted)")
	f.Bool("stop-on-disconnect", false, "stop when the controller disconnects")
	f.Bool("verbose", false, "print every packet")
	f.String("serial-port", "", "send through a serial hub on this port instead of UDP")
	f.Int("baud", 115200, "serial hub baud rate")
	f.String("script", "", "replay a fixture script instead of reading a controller")
	axes := input.DefaultAxisMap()
	f.Int("left-axis", axes.LeftY, "raw axis index of the left stick Y")
	f.Int("right-axis", axes.RightY, "raw axis index of the right stick Y (4 on Linux xpad, 3 on Windows and macOS)")
	f.String("db", "", "record runs into this sqlite database")

	// --print is the historical name of --verbose.
	f.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		if name == "print" {
			name = "verbose"
		}
		return pflag.NormalizedName(name)
	})
}

// openSource returns the controller source the settings select and a
// function releasing it.
func openSource(s *config.Settings) (input.Source, func(), error) {
	if s.Input.Script != "" {
		f, err := os.Open(s.Input.Script)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open script: %w", err)
		}
		defer f.Close()
		steps, err := input.ParseScript(f)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to parse script %s: %w", s.Input.Script, err)
		}
		monitoring.Logf("replaying %d scripted steps from %s", len(steps), s.Input.Script)
		src := input.NewScripted(steps...)
		return src, func() { src.Close() }, nil
	}

	js := input.NewJoystick(input.AxisMap{LeftY: s.Input.LeftAxis, RightY: s.Input.RightAxis})
	return js, func() { js.Close() }, nil
}

func writeLines(w io.Writer, lines ...string) error {
	_, err := io.WriteString(w, strings.Join(lines, "\n")+"\n")
	return err
}
