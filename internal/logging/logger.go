package logging

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/afero"
)

// LogLevel orders log severities
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a config string into a LogLevel
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG, nil
	case "", "info":
		return INFO, nil
	case "warn", "warning":
		return WARN, nil
	case "error":
		return ERROR, nil
	}
	return INFO, fmt.Errorf("unknown log level %q", s)
}

// Field is a structured key/value attached to a log line
type Field struct {
	Key   string
	Value interface{}
}

// F builds a Field
func F(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// LogEntry is one line of the JSON log file
type LogEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	TraceID   string                 `json:"traceId,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Logger is the structured logger used across the tool
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	WithTraceID(traceID string) Logger
	WithContext(ctx context.Context) Logger
	SetLevel(level LogLevel)
	Close() error
}

type traceIDKey struct{}

// ContextWithTraceID stores a trace ID on ctx
func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, traceID)
}

// TraceIDFromContext returns the trace ID stored on ctx, or ""
func TraceIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(traceIDKey{}).(string); ok {
		return v
	}
	return ""
}

// NoOpLogger discards everything
type NoOpLogger struct{}

// NewNoOpLogger returns a logger that discards all output
func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{}
}

func (l *NoOpLogger) Debug(string, ...Field) {}
func (l *NoOpLogger) Info(string, ...Field) {}
func (l *NoOpLogger) Warn(string, ...Field) {}
func (l *NoOpLogger) Error(string, ...Field) {}
func (l *NoOpLogger) WithTraceID(string) Logger { return l }
func (l *NoOpLogger) WithContext(context.Context) Logger { return l }
func (l *NoOpLogger) SetLevel(LogLevel) {}
func (l *NoOpLogger) Close() error { return nil }

// MultiLogger fans each call out to several loggers
type MultiLogger struct {
	loggers []Logger
}

// NewMultiLogger combines loggers
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	return &MultiLogger{loggers: loggers}
}

func (m *MultiLogger) Debug(msg string, fields ...Field) {
	for _, l := range m.loggers {
		l.Debug(msg, fields...)
	}
}

func (m *MultiLogger) Info(msg string, fields ...Field) {
	for _, l := range m.loggers {
		l.Info(msg, fields...)
	}
}

func (m *MultiLogger) Warn(msg string, fields ...Field) {
	for _, l := range m.loggers {
		l.Warn(msg, fields...)
	}
}

func (m *MultiLogger) Error(msg string, fields ...Field) {
	for _, l := range m.loggers {
		l.Error(msg, fields...)
	}
}

func (m *MultiLogger) WithTraceID(traceID string) Logger {
	traced := make([]Logger, len(m.loggers))
	for i, l := range m.loggers {
		traced[i] = l.WithTraceID(traceID)
	}
	return &MultiLogger{loggers: traced}
}

func (m *MultiLogger) WithContext(ctx context.Context) Logger {
	traced := make([]Logger, len(m.loggers))
	for i, l := range m.loggers {
		traced[i] = l.WithContext(ctx)
	}
	return &MultiLogger{loggers: traced}
}

func (m *MultiLogger) SetLevel(level LogLevel) {
	for _, l := range m.loggers {
		l.SetLevel(level)
	}
}

// Close closes every logger and returns the first error
func (m *MultiLogger) Close() error {
	var first error
	for _, l := range m.loggers {
		if err := l.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// LogConfig configures NewLogger
type LogConfig struct {
	Level           LogLevel
	OutputFile      string
	EnableConsole   bool
	EnableDebug     bool
	RedactSensitive bool
	EnableColor     bool
	EnableTimestamp bool
	MaxFileSize     int64
	// Fs backs the log file; nil means the OS filesystem.
	Fs afero.Fs
}

// DefaultLogConfig returns console logging at INFO with redaction on
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:           INFO,
		EnableConsole:   true,
		RedactSensitive: true,
		EnableColor:     isTerminal(os.Stderr),
		EnableTimestamp: true,
		MaxFileSize:     100 * 1024 * 1024,
	}
}

// NewLogger builds a console logger, a file logger, both, or a no-op logger
func NewLogger(config LogConfig) (Logger, error) {
	level := config.Level
	if config.EnableDebug {
		level = DEBUG
	}

	var loggers []Logger

	if config.EnableConsole {
		loggers = append(loggers, NewConsoleLogger(ConsoleLoggerConfig{
			Writer:           os.Stderr,
			Level:            level,
			ColorEnabled:     config.EnableColor,
			TimestampEnabled: config.EnableTimestamp,
			RedactSensitive:  config.RedactSensitive,
		}))
	}

	if config.OutputFile != "" {
		fileLogger, err := NewFileLogger(FileLoggerConfig{
			Fs:            config.Fs,
			FilePath:      config.OutputFile,
			Level:         level,
			MaxFileSize:   config.MaxFileSize,
			RotateEnabled: config.MaxFileSize > 0,
		})
		if err != nil {
			return nil, err
		}
		loggers = append(loggers, fileLogger)
	}

	switch len(loggers) {
	case 0:
		return NewNoOpLogger(), nil
	case 1:
		return loggers[0], nil
	default:
		return NewMultiLogger(loggers...), nil
	}
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
