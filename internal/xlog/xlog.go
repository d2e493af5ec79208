// Package xlog centralizes structured logging for feedbroker on top of
// zerolog, the way cuemby-warren/pkg/log and raykavin-backnrun's zerolog
// adapter do it: one process-wide Logger, plus component-scoped children.
package xlog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the package-wide base logger. Replace it (or call Init) before
// constructing a Broker if you want JSON output or a different level.
var Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
	With().Timestamp().Logger()

// Config controls Init.
type Config struct {
	Level      zerolog.Level
	JSONOutput bool
	Output     io.Writer
}

// Init reconfigures the package-wide Logger.
func Init(cfg Config) {
	zerolog.SetGlobalLevel(cfg.Level)

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}

	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
		return
	}
	Logger = zerolog.New(zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()
}

// Component returns a child logger tagged with the given component name.
func Component(name string) zerolog.Logger {
	return Logger.With().Str("component", name).Logger()
}
