// Package logging wraps a process-wide zerolog logger.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the global logger instance.
var Logger zerolog.Logger

type Level = zerolog.Level

const (
	DebugLevel = zerolog.DebugLevel
	InfoLevel  = zerolog.InfoLevel
	WarnLevel  = zerolog.WarnLevel
	ErrorLevel = zerolog.ErrorLevel
)

// Options controls how the global logger writes.
type Options struct {
	Level  Level
	Output io.Writer
	// Pretty switches to zerolog's console writer.
	Pretty     bool
	TimeFormat string
}

func DefaultOptions() Options {
	return Options{
		Level:      InfoLevel,
		Output:     os.Stderr,
		TimeFormat: time.RFC3339,
	}
}

// Setup replaces the global logger.
func Setup(opts Options) {
	if opts.Output == nil {
		opts.Output = os.Stderr
	}
	if opts.TimeFormat == "" {
		opts.TimeFormat = time.RFC3339
	}
	zerolog.TimeFieldFormat = opts.TimeFormat

	out := opts.Output
	if opts.Pretty {
		out = zerolog.ConsoleWriter{Out: opts.Output, TimeFormat: "15:04:05"}
	}
	Logger = zerolog.New(out).Level(opts.Level).With().Timestamp().Logger()
}

// ParseLevel maps a case-insensitive level name, falling back to info.
func ParseLevel(level string) Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug", "trace":
		return DebugLevel
	case "warn", "warning":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

func Debug() *zerolog.Event { return Logger.Debug() }

func Info() *zerolog.Event { return Logger.Info() }

func Warn() *zerolog.Event { return Logger.Warn() }

func Error() *zerolog.Event { return Logger.Error() }

// Session returns a child logger tagged with the session id.
func Session(sessionID string) zerolog.Logger {
	return Logger.With().Str("session_id", sessionID).Logger()
}

func init() {
	Setup(DefaultOptions())
}
