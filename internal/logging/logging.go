// Package logging configures the process-wide structured logger, carried
// over from the teacher's sibling variant (adred-codev-ws_poc/src/logger.go)
// almost verbatim: JSON in production, a console writer in development,
// and a `service` field on every line.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Config controls the logger's verbosity and output shape.
type Config struct {
	Debug bool
	Env   string
}

// New builds a zerolog.Logger tagged with the collab-engine service name.
func New(cfg Config) zerolog.Logger {
	var output io.Writer = os.Stdout

	level := zerolog.InfoLevel
	if cfg.Debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Env != "production" {
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
	}

	return zerolog.New(output).
		With().
		Timestamp().
		Str("service", "collabd").
		Logger()
}
