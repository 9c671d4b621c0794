// Package monitoring owns the process logger. Code logs through Logf (or the
// structured Logger) so that tests and the CLI can redirect or mute output.
package monitoring

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the process logger.
type Options struct {
	Level  string      `mapstructure:"level" yaml:"level"`
	Format string      `mapstructure:"format" yaml:"format"` // text or json
	File   FileOptions `mapstructure:"file" yaml:"file"`
}

// FileOptions enables a rotated log file next to stderr output.
type FileOptions struct {
	Path       string `mapstructure:"path" yaml:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

var (
	mu      sync.Mutex
	base    = newBaseLogger()
	rotator *lumberjack.Logger
)

func newBaseLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return l
}

// Logf is the package-level diagnostic logger. It defaults to info level on the
// logrus logger but may be replaced by SetLogger. Tests or production code can
// redirect or mute it.
var Logf func(format string, v ...interface{}) = func(format string, v ...interface{}) {
	Base().Infof(format, v...)
}

// Debugf logs detail that is only useful when chasing a problem.
var Debugf func(format string, v ...interface{}) = func(format string, v ...interface{}) {
	Base().Debugf(format, v...)
}

// Warnf logs a failure the process carries on from.
var Warnf func(format string, v ...interface{}) = func(format string, v ...interface{}) {
	Base().Warnf(format, v...)
}

// Errorf logs a failure that lost work or left hardware in an unknown state.
var Errorf func(format string, v ...interface{}) = func(format string, v ...interface{}) {
	Base().Errorf(format, v...)
}

// SetLogger replaces every level seam with f. Passing nil mutes the seams and
// discards structured output until the next Init or SetOutput.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		f = func(string, ...interface{}) {}
		Base().SetOutput(io.Discard)
	}
	Logf, Debugf, Warnf, Errorf = f, f, f, f
}

// Base returns the process logrus logger.
func Base() *logrus.Logger {
	mu.Lock()
	defer mu.Unlock()
	return base
}

// Logger returns an entry on the process logger for callers that attach
// fields.
func Logger() *logrus.Entry {
	return logrus.NewEntry(Base())
}

// RunLogger returns an entry tagged with a run ID and its target.
func RunLogger(runID, target string) *logrus.Entry {
	return Logger().WithFields(logrus.Fields{"run": runID, "target": target})
}

// Init applies opts to the process logger.
func Init(opts Options) error {
	level := logrus.InfoLevel
	if opts.Level != "" {
		parsed, err := logrus.ParseLevel(opts.Level)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
		level = parsed
	}

	var formatter logrus.Formatter
	switch strings.ToLower(opts.Format) {
	case "", "text":
		formatter = &logrus.TextFormatter{FullTimestamp: true}
	case "json":
		formatter = &logrus.JSONFormatter{}
	default:
		return fmt.Errorf("unsupported log format %q: must be text or json", opts.Format)
	}

	var out io.Writer = os.Stderr
	var rot *lumberjack.Logger
	if opts.File.Path != "" {
		rot = &lumberjack.Logger{
			Filename:   opts.File.Path,
			MaxSize:    opts.File.MaxSizeMB,
			MaxBackups: opts.File.MaxBackups,
			MaxAge:     opts.File.MaxAgeDays,
			Compress:   opts.File.Compress,
		}
		out = io.MultiWriter(os.Stderr, rot)
	}

	mu.Lock()
	defer mu.Unlock()
	if rotator != nil {
		rotator.Close()
	}
	rotator = rot
	base.SetLevel(level)
	base.SetFormatter(formatter)
	base.SetOutput(out)
	return nil
}

// SetOutput redirects the structured logger, mainly for tests.
func SetOutput(w io.Writer) {
	Base().SetOutput(w)
}

// Close flushes and closes the rotated log file, if any.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if rotator == nil {
		return nil
	}
	err := rotator.Close()
	rotator = nil
	return err
}
