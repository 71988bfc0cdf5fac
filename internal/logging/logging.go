// Package logging configures the process-wide zerolog logger.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup installs a console logger writing to w at the given level name.
// Unknown or empty levels fall back to info.
func Setup(level string, w io.Writer) {
	lev, err := zerolog.ParseLevel(level)
	if err != nil || lev == zerolog.NoLevel {
		lev = zerolog.InfoLevel
	}
	if w == nil {
		w = os.Stderr
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMicro
	log.Logger = zerolog.New(zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.StampMicro,
	}).With().Timestamp().Logger().Level(lev)
}

// Component returns a child of the global logger tagged with the component name.
func Component(name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}
