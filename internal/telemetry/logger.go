// Package telemetry provides structured logging and metrics for the
// token library's ambient stack: chain signing, attenuation, and
// authorization operations all log and count through here rather than
// writing to stdout directly.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/certen/biscuit/internal/errs"
)

// Logger wraps slog.Logger with the field/component/error conventions
// used across this module's operations.
type Logger struct {
	*slog.Logger
	config *Config
}

// Config configures a Logger's output.
type Config struct {
	Level      slog.Level
	Format     string // "json" or "text"
	Output     string // "stdout", "stderr", or a file path
	AddSource  bool
}

// Field is a structured logging key/value pair.
type Field struct {
	Key   string
	Value interface{}
}

// NewLogger creates a Logger from config, defaulting when config is nil.
func NewLogger(config *Config) (*Logger, error) {
	if config == nil {
		config = DefaultConfig()
	}

	var output io.Writer
	switch config.Output {
	case "stdout", "":
		output = os.Stdout
	case "stderr":
		output = os.Stderr
	default:
		file, err := os.OpenFile(config.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		output = file
	}

	handlerOpts := &slog.HandlerOptions{Level: config.Level, AddSource: config.AddSource}

	var handler slog.Handler
	if config.Format == "json" {
		handler = slog.NewJSONHandler(output, handlerOpts)
	} else {
		handler = slog.NewTextHandler(output, handlerOpts)
	}

	return &Logger{Logger: slog.New(handler), config: config}, nil
}

// DefaultConfig returns a text logger at info level writing to stdout.
func DefaultConfig() *Config {
	return &Config{Level: slog.LevelInfo, Format: "text", Output: "stdout"}
}

// WithFields returns a logger with additional fields attached to every
// subsequent entry.
func (l *Logger) WithFields(fields ...Field) *Logger {
	if len(fields) == 0 {
		return l
	}
	args := make([]any, len(fields)*2)
	for i, f := range fields {
		args[i*2] = f.Key
		args[i*2+1] = f.Value
	}
	return &Logger{Logger: l.Logger.With(args...), config: l.config}
}

// WithError returns a logger annotated with err's message and, if err
// carries a structured code, that code too.
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	args := []any{"error", err.Error()}
	if e, ok := errs.As(err); ok {
		args = append(args, "error_kind", string(e.Kind), "error_code", string(e.Code))
	}
	return &Logger{Logger: l.Logger.With(args...), config: l.config}
}

// WithComponent tags entries with the subsystem emitting them (e.g.
// "chainsig", "datalog", "token").
func (l *Logger) WithComponent(component string) *Logger {
	return l.WithFields(Field{Key: "component", Value: component})
}

// WithCorrelationID tags entries with a caller-supplied correlation ID,
// typically a UUID minted once per CLI invocation or request.
func (l *Logger) WithCorrelationID(id string) *Logger {
	return l.WithFields(Field{Key: "correlation_id", Value: id})
}

func (l *Logger) Debug(msg string, fields ...Field) { l.log(slog.LevelDebug, msg, fields...) }
func (l *Logger) Info(msg string, fields ...Field)  { l.log(slog.LevelInfo, msg, fields...) }
func (l *Logger) Warn(msg string, fields ...Field)  { l.log(slog.LevelWarn, msg, fields...) }
func (l *Logger) Error(msg string, fields ...Field) { l.log(slog.LevelError, msg, fields...) }

func (l *Logger) log(level slog.Level, msg string, fields ...Field) {
	if !l.Logger.Enabled(context.Background(), level) {
		return
	}
	attrs := make([]slog.Attr, len(fields))
	for i, f := range fields {
		attrs[i] = slog.Any(f.Key, f.Value)
	}
	if l.config.AddSource {
		if _, file, line, ok := runtime.Caller(2); ok {
			attrs = append(attrs, slog.Group("source", slog.String("file", file), slog.Int("line", line)))
		}
	}
	l.Logger.LogAttrs(context.Background(), level, msg, attrs...)
}

// LogAttenuation logs a block append (ordinary or third-party).
func (l *Logger) LogAttenuation(blockIndex int, thirdParty bool, nextAlgorithm string, duration time.Duration) {
	l.log(slog.LevelInfo, "block attenuated",
		Field{Key: "block_index", Value: blockIndex},
		Field{Key: "third_party", Value: thirdParty},
		Field{Key: "next_algorithm", Value: nextAlgorithm},
		Field{Key: "duration_us", Value: duration.Microseconds()},
	)
}

// LogResolution logs the outcome of a fixpoint resolution run.
func (l *Logger) LogResolution(factCount, iterations int, duration time.Duration) {
	l.log(slog.LevelDebug, "resolution saturated",
		Field{Key: "fact_count", Value: factCount},
		Field{Key: "iterations", Value: iterations},
		Field{Key: "duration_us", Value: duration.Microseconds()},
	)
}

// LogAuthorization logs an authorize() outcome: allowed, or the code of
// whichever check/policy failed.
func (l *Logger) LogAuthorization(allowed bool, code string, duration time.Duration) {
	level := slog.LevelInfo
	if !allowed {
		level = slog.LevelWarn
	}
	l.log(level, "authorization decided",
		Field{Key: "allowed", Value: allowed},
		Field{Key: "code", Value: code},
		Field{Key: "duration_us", Value: duration.Microseconds()},
	)
}

// ParseLevel parses a log level name.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level: %s", level)
	}
}

var globalLogger *Logger

// SetGlobalLogger installs the process-wide default logger.
func SetGlobalLogger(logger *Logger) { globalLogger = logger }

// GetGlobalLogger returns the process-wide logger, creating a default
// one on first use.
func GetGlobalLogger() *Logger {
	if globalLogger == nil {
		logger, _ := NewLogger(DefaultConfig())
		globalLogger = logger
	}
	return globalLogger
}

func Debug(msg string, fields ...Field) { GetGlobalLogger().Debug(msg, fields...) }
func Info(msg string, fields ...Field)  { GetGlobalLogger().Info(msg, fields...) }
func Warn(msg string, fields ...Field)  { GetGlobalLogger().Warn(msg, fields...) }
func Error(msg string, fields ...Field) { GetGlobalLogger().Error(msg, fields...) }
