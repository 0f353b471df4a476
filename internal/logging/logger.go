// Package logging configures the process-wide zerolog logger.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config controls log level and destination.
type Config struct {
	Level  string `yaml:"level"`
	Debug  bool   `yaml:"debug"`
	Output string `yaml:"output"`
	// Console switches to human readable output for interactive use.
	Console bool `yaml:"console"`
}

var global zerolog.Logger

func init() {
	zerolog.TimeFieldFormat = time.RFC3339
	global = zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// Init replaces the global logger according to cfg.
func Init(cfg Config) error {
	var out io.Writer = os.Stdout
	if cfg.Output == "stderr" {
		out = os.Stderr
	}
	if cfg.Console {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.DateTime}
	}

	level := zerolog.InfoLevel
	if cfg.Debug {
		level = zerolog.DebugLevel
	} else if cfg.Level != "" {
		parsed, err := zerolog.ParseLevel(cfg.Level)
		if err != nil {
			return err
		}
		level = parsed
	}

	global = zerolog.New(out).Level(level).With().Timestamp().Logger()
	log.Logger = global
	return nil
}

// WithComponent returns a child logger tagged with a component name.
func WithComponent(component string) zerolog.Logger {
	return global.With().Str("component", component).Logger()
}

// Nop returns a logger that discards everything, for tests.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}
