package logging

import (
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// New builds the root logger. Each process gets a random instance id so
// replicas can be told apart in aggregated logs.
func New(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stdout).With().
		Timestamp().
		Str("instance", uuid.NewString()[:8]).
		Logger().Level(lvl)
}

// Component tags a child logger with the subsystem that owns it.
func Component(logger zerolog.Logger, name string) zerolog.Logger {
	return logger.With().Str("component", name).Logger()
}
