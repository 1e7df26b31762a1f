package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config holds logger configuration.
type Config struct {
	Level  string // debug, info, warn, error
	Pretty bool   // console output for humans
	// File, when set, also writes JSON lines to a rotating file.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// New creates a structured logger. The returned close func flushes the log
// file, if any.
func New(cfg Config) (zerolog.Logger, func() error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.TimeFieldFormat = time.RFC3339

	var console io.Writer = os.Stdout
	if cfg.Pretty {
		console = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		}
	}

	closer := func() error { return nil }
	output := console
	if cfg.File != "" {
		file := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    orDefault(cfg.MaxSizeMB, 50),
			MaxBackups: orDefault(cfg.MaxBackups, 5),
			MaxAge:     orDefault(cfg.MaxAgeDays, 30),
			Compress:   true,
		}
		output = io.MultiWriter(console, file)
		closer = file.Close
	}

	l := zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Logger()
	return l, closer
}

// SetGlobalLogger sets the package-level logger.
func SetGlobalLogger(l zerolog.Logger) {
	log.Logger = l
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
