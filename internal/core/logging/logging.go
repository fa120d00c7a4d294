// Package logging configures the process-global zerolog logger (§10.9):
// a human-readable console writer for interactive use, or raw JSON lines
// when --json is set, at the level named in configuration or on the CLI.
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Configure sets the global zerolog logger. levelName accepts zerolog's
// level names (debug, info, warn, error); an unrecognized name falls back
// to info. When json is false, output goes through a ConsoleWriter on
// stderr matching this codebase's interactive-dev style; when true,
// records are written as raw JSON lines suitable for log aggregation.
func Configure(levelName string, json bool) {
	level, err := zerolog.ParseLevel(levelName)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	if json {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
}
