package log

import (
	"log/slog"
	"time"
)

// Log file format
type LogFormat string

const (
	LogFormat_Json   LogFormat = "json"
	LogFormat_Logfmt LogFormat = "logfmt"
)

// Options for constructing a new Logger
type LoggerOptions struct {
	MaxSize           int
	MaxBackups        int
	MaxAge            int
	LocalTime         bool
	Compress          bool
	AddSource         bool
	Level             slog.Leveler
	Format            LogFormat
	EnableHttpTracing bool
}

// Default options for a rotating file logger
func DefaultLoggerOptions() LoggerOptions {
	return LoggerOptions{
		MaxSize:    20,
		MaxBackups: 5,
		MaxAge:     28,
		LocalTime:  true,
		Compress:   true,
		Level:      slog.LevelInfo,
		Format:     LogFormat_Json,
	}
}

const (
	logDirMode  = 0755
	logFileMode = 0644
)

// Attribute keys used across the logging package
const (
	OriginKey = "origin"
	MethodKey = "method"
)

type contextKey int

const ContextLogKey contextKey = iota

// ReplaceTime rewrites the slog time attribute to RFC3339 for on-disk consistency
func ReplaceTime(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.TimeKey && len(groups) == 0 {
		if t, ok := a.Value.Any().(time.Time); ok {
			a.Value = slog.StringValue(t.Format(time.RFC3339))
		}
	}
	return a
}

// Err builds a slog attribute for an error, nil-safe
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Any("error", nil)
	}
	return slog.String("error", err.Error())
}
