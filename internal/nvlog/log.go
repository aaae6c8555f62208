// Package nvlog builds node-scoped structured loggers on top of zerolog.
package nvlog

import (
	"os"

	"github.com/rs/zerolog"
)

// New returns a logger with "node" and "pid" fields set, honoring the
// level and pretty-print switches from nvconfig.Config.
func New(nodeName string, level int, pretty bool) zerolog.Logger {
	var w zerolog.ConsoleWriter
	var out *zerolog.Logger

	zerolog.SetGlobalLevel(levelFromInt(level))

	if pretty {
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
		logger := zerolog.New(w).With().Timestamp().Str("node", nodeName).Int("pid", os.Getpid()).Logger()
		out = &logger
	} else {
		logger := zerolog.New(os.Stderr).With().Timestamp().Str("node", nodeName).Int("pid", os.Getpid()).Logger()
		out = &logger
	}
	return *out
}

// levelFromInt mirrors the original nv.logger module's integer-to-level
// mapping: lower numbers are more verbose, matching Python logging's
// DEBUG=10/INFO=20/WARNING=30/ERROR=40 scale.
func levelFromInt(level int) zerolog.Level {
	switch {
	case level <= 10:
		return zerolog.DebugLevel
	case level <= 20:
		return zerolog.InfoLevel
	case level <= 30:
		return zerolog.WarnLevel
	default:
		return zerolog.ErrorLevel
	}
}
