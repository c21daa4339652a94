// Package logging sets up the process logger.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// SetLevel changes the level of every logger created by New.
func SetLevel(level string) zerolog.Level {
	l := ParseLevel(level)
	zerolog.SetGlobalLevel(l)
	return l
}

// New returns a console logger writing to stderr at level.
func New(level string) zerolog.Logger { return NewWriter(os.Stderr, level) }

// NewWriter is like New but writes to w.
func NewWriter(w io.Writer, level string) zerolog.Logger {
	l := SetLevel(level)
	log := zerolog.New(
		zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339, NoColor: w != os.Stderr},
	).With().Timestamp().Caller().Logger()

	log.Info().Msgf("logging initialized at level %v", l)
	return log
}
