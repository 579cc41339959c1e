// Package logging configures the process-wide zerolog logger and the
// cold-start summary event.
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LevelEnvVar selects the log level: debug, info, warn, error (default: info).
const LevelEnvVar = "HOLOSCENE_LOG_LEVEL"

// Init initializes the global logger from the environment. Inside Lambda
// the output stays JSON so CloudWatch can index fields; everywhere else a
// console writer is used.
func Init() {
	InitWithLevel(os.Getenv(LevelEnvVar))
}

// InitWithLevel initializes the global logger with an explicit level string.
// An unknown or empty level falls back to info.
func InitWithLevel(level string) {
	zerolog.SetGlobalLevel(ParseLevel(level))
	zerolog.DurationFieldUnit = 1e6 // milliseconds
	zerolog.DurationFieldInteger = true

	var out io.Writer = os.Stderr
	if os.Getenv("AWS_LAMBDA_FUNCTION_NAME") == "" {
		out = zerolog.ConsoleWriter{Out: os.Stderr}
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()
}

// ParseLevel maps a level name to a zerolog level.
func ParseLevel(level string) zerolog.Level {
	switch level {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
