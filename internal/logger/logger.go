// Package logger centralises zerolog setup, adapted from
// api/internal/logger/logger.go's Initialize/component-logger pattern.
package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Log is the process-wide base logger, populated by Initialize.
var Log zerolog.Logger

// Initialize configures the global logger. pretty selects a
// human-readable console writer (for -debug/-verbose runs); otherwise
// output is structured JSON suitable for log aggregation.
func Initialize(level string, pretty bool) {
	logLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		logLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(logLevel)

	if pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		})
	} else {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	}

	Log = log.With().Str("service", "matterbridge").Logger()
	Log.Info().Str("level", logLevel.String()).Bool("pretty", pretty).Msg("logger initialized")
}

// GetLogger returns the global logger instance.
func GetLogger() *zerolog.Logger { return &Log }

// Plugin creates a logger scoped to the Plugin Manager.
func Plugin() *zerolog.Logger {
	l := Log.With().Str("component", "plugin").Logger()
	return &l
}

// Matter creates a logger scoped to the Matter Engine Adapter.
func Matter() *zerolog.Logger {
	l := Log.With().Str("component", "matter").Logger()
	return &l
}

// Commissioning creates a logger scoped to the Commissioning Supervisor.
func Commissioning() *zerolog.Logger {
	l := Log.With().Str("component", "commissioning").Logger()
	return &l
}

// ControlPlane creates a logger scoped to the Control Plane.
func ControlPlane() *zerolog.Logger {
	l := Log.With().Str("component", "controlplane").Logger()
	return &l
}

// Storage creates a logger scoped to the Storage Adapter.
func Storage() *zerolog.Logger {
	l := Log.With().Str("component", "storage").Logger()
	return &l
}

// Resource creates a logger scoped to the Resource Monitor.
func Resource() *zerolog.Logger {
	l := Log.With().Str("component", "resmonitor").Logger()
	return &l
}
