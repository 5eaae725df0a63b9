// Package log configures the process-wide zerolog logger. The rest of
// the codebase logs through zerolog's package-level logger; Setup shapes
// it once at startup from configuration.
package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

// Setup parses level, falling back to info on an unknown value, and
// installs the global logger. Pretty output swaps JSON for a console
// writer intended for local development.
func Setup(level string, pretty bool) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	out := io.Writer(os.Stderr)
	if pretty {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}
	zlog.Logger = zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}
