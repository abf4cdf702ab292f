// Package logging provides the process-wide structured logger both
// daemons use. It generalizes the teacher's sync.Once-gated
// *log.Logger singleton (fuse.getLogger) to a configurable
// zerolog.Logger: same "build it once, read it everywhere" shape, but
// driven by CUSE2NET_LOG and --log-format instead of a single debug
// flag.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Format selects how log lines are rendered.
type Format int

const (
	FormatCompact Format = iota
	FormatFull
	FormatJSON
)

// ParseFormat maps a --log-format flag value to a Format, defaulting
// to FormatCompact for anything unrecognized.
func ParseFormat(s string) Format {
	switch strings.ToLower(s) {
	case "full":
		return FormatFull
	case "json":
		return FormatJSON
	default:
		return FormatCompact
	}
}

var (
	once   sync.Once
	logger zerolog.Logger
)

// Init configures the package-wide logger. It must be called once,
// after flags are parsed, before Get is used; calling it more than
// once has no effect, mirroring the teacher's initLogger/getLogger
// split.
func Init(format Format) {
	once.Do(func() {
		logger = build(format, os.Stderr)
	})
}

func build(format Format, w io.Writer) zerolog.Logger {
	level := zerolog.InfoLevel
	if raw, ok := os.LookupEnv("CUSE2NET_LOG"); ok {
		if lvl, err := zerolog.ParseLevel(strings.ToLower(raw)); err == nil {
			level = lvl
		}
	}

	var out io.Writer = w
	switch format {
	case FormatCompact:
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05", NoColor: false}
	case FormatFull:
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: "2006-01-02T15:04:05.000Z07:00", NoColor: true}
	case FormatJSON:
		out = w
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// Get returns the package-wide logger, initializing it with
// FormatCompact defaults if Init was never called (useful in tests).
func Get() *zerolog.Logger {
	once.Do(func() {
		logger = build(FormatCompact, os.Stderr)
	})
	return &logger
}
