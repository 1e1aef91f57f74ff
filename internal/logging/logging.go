// Package logging builds the process logger.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Options struct {
	Level  string
	Format string // console | json
	File   string

	// Out overrides the destination when File is empty. Defaults to stderr.
	Out io.Writer
}

// New returns a zerolog logger. An unknown level falls back to info and an
// unknown format to console.
func New(opts Options) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(opts.Level)))
	if err != nil || opts.Level == "" {
		lvl = zerolog.InfoLevel
	}

	var w io.Writer = os.Stderr
	if opts.Out != nil {
		w = opts.Out
	}
	if f := strings.TrimSpace(opts.File); f != "" {
		w = &lumberjack.Logger{
			Filename:   f,
			MaxSize:    20,
			MaxBackups: 5,
			MaxAge:     14,
		}
	}

	if !strings.EqualFold(strings.TrimSpace(opts.Format), "json") && opts.File == "" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}
	}
	return zerolog.New(w).With().Timestamp().Logger().Level(lvl)
}
