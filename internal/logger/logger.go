package logger

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init configures the global logger. LOG_LEVEL overrides level.
func Init(service, level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		level = v
	}
	zerolog.SetGlobalLevel(ParseLevel(level))

	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Str("service", service).Logger()
}

func ParseLevel(level string) zerolog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return zerolog.DebugLevel
	case "INFO":
		return zerolog.InfoLevel
	case "WARN", "WARNING":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
