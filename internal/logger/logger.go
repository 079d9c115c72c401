// Package logger builds the process zerolog logger from the [log] section
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Options configures the logger
type Options struct {
	Level  string
	File   string
	Format string
	Writer io.Writer
}

// Settings is the subset of a config section the logger reads
type Settings interface {
	String(key string) (string, error)
}

// FromSettings reads File, Level and Format, leaving absent keys empty
func FromSettings(s Settings) Options {
	var opt Options
	opt.File, _ = s.String("File")
	opt.Level, _ = s.String("Level")
	opt.Format, _ = s.String("Format")
	return opt
}

// Logger wraps the built logger and the file it may own
type Logger struct {
	zerolog.Logger
	file *os.File
}

// Close closes the log file, if one was opened
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// New builds a logger. An unopenable File or an unknown Level falls back to
// stderr or info and is reported as a warning on the resulting logger
func New(opt Options) *Logger {
	var (
		w        io.Writer = os.Stderr
		file     *os.File
		warnings []func(zerolog.Logger)
	)
	if opt.Writer != nil {
		w = opt.Writer
	}
	if opt.File != "" {
		f, err := os.OpenFile(opt.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			warnings = append(warnings, func(l zerolog.Logger) {
				l.Warn().Err(err).Str("file", opt.File).Msg("invalid value for File")
			})
		} else {
			file = f
			w = f
		}
	}

	lvl, ok := ParseLevel(opt.Level)
	if !ok {
		warnings = append(warnings, func(l zerolog.Logger) {
			l.Warn().Str("level", opt.Level).Msg("invalid value for Level")
		})
	}

	if strings.ToLower(strings.TrimSpace(opt.Format)) != "json" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339, NoColor: file != nil}
	}

	log := zerolog.New(w).Level(lvl).With().Timestamp().Logger()
	for _, warn := range warnings {
		warn(log)
	}
	return &Logger{Logger: log, file: file}
}

// ParseLevel accepts single-letter codes (D I W E F N) and level names.
// Empty input yields info. The bool is false for unrecognized input
func ParseLevel(s string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return zerolog.InfoLevel, true
	case "t", "trace":
		return zerolog.TraceLevel, true
	case "d", "debug":
		return zerolog.DebugLevel, true
	case "i", "info":
		return zerolog.InfoLevel, true
	case "w", "warn", "warning":
		return zerolog.WarnLevel, true
	case "e", "error":
		return zerolog.ErrorLevel, true
	case "f", "fatal":
		return zerolog.FatalLevel, true
	case "n", "none", "nolog", "disabled":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}
