package infra

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger aliases zerolog.Logger so packages can accept a logger without
// importing zerolog just for the type.
type Logger = zerolog.Logger

// NewLogger writes JSON to stdout, tagged with the emitting component
// (api, worker, jobctl). Development switches to a colored console at debug.
func NewLogger(appEnv, component string) Logger {
	return NewLoggerTo(os.Stdout, appEnv, component)
}

// NewLoggerTo is NewLogger with an explicit sink. jobctl logs to stderr so
// its stdout stays machine-readable.
func NewLoggerTo(w io.Writer, appEnv, component string) Logger {
	dev := strings.EqualFold(appEnv, "development")
	level := zerolog.InfoLevel
	if dev {
		level = zerolog.DebugLevel
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	ctx := zerolog.New(w).Level(level).With().Timestamp()
	if component != "" {
		ctx = ctx.Str("component", component)
	}
	return ctx.Logger()
}

// NopLogger discards everything.
func NopLogger() Logger {
	return zerolog.Nop()
}
