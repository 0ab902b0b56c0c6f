package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"
)

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorGray   = "\033[90m"
)

// consoleState is shared by a ConsoleLogger and every logger derived from it
type consoleState struct {
	mu               sync.Mutex
	writer           io.Writer
	level            LogLevel
	colorEnabled     bool
	timestampEnabled bool
	redactSensitive  bool
}

// ConsoleLogger prints human-readable lines, by default to stderr
type ConsoleLogger struct {
	state   *consoleState
	traceID string
}

// ConsoleLoggerConfig contains configuration for console logger
type ConsoleLoggerConfig struct {
	Writer           io.Writer
	Level            LogLevel
	ColorEnabled     bool
	TimestampEnabled bool
	RedactSensitive  bool
}

// NewConsoleLogger creates a new console logger
func NewConsoleLogger(config ConsoleLoggerConfig) *ConsoleLogger {
	if config.Writer == nil {
		config.Writer = os.Stderr
	}

	return &ConsoleLogger{
		state: &consoleState{
			writer:           config.Writer,
			level:            config.Level,
			colorEnabled:     config.ColorEnabled,
			timestampEnabled: config.TimestampEnabled,
			redactSensitive:  config.RedactSensitive,
		},
	}
}

var (
	bearerTokenPattern = regexp.MustCompile(`Bearer\s+[A-Za-z0-9\-._~+/]+=*`)
	oauthTokenPattern  = regexp.MustCompile(`(access_token|refresh_token|id_token|client_secret)["']?\s*[:=]\s*["']?[A-Za-z0-9\-._~+/]+=*`)
	apiKeyPattern      = regexp.MustCompile(`(?i)(api[_-]?key|apikey)["']?\s*[:=]\s*["']?[A-Za-z0-9\-._~+/]+=*`)
	authHeaderPattern  = regexp.MustCompile(`(?i)authorization["']?\s*[:=]\s*["']?[^\s"']+`)
)

// redactSensitiveData masks tokens, client secrets and authorization headers
func redactSensitiveData(s string) string {
	s = bearerTokenPattern.ReplaceAllString(s, "Bearer [REDACTED]")
	s = oauthTokenPattern.ReplaceAllString(s, "$1=[REDACTED]")
	s = apiKeyPattern.ReplaceAllString(s, "$1=[REDACTED]")
	s = authHeaderPattern.ReplaceAllString(s, "Authorization: [REDACTED]")
	return s
}

func (l *ConsoleLogger) formatMessage(level LogLevel, msg string, fields ...Field) string {
	st := l.state
	var sb strings.Builder

	if st.timestampEnabled {
		if st.colorEnabled {
			sb.WriteString(colorGray)
		}
		sb.WriteString(time.Now().Format("2006-01-02 15:04:05"))
		sb.WriteString(" ")
		if st.colorEnabled {
			sb.WriteString(colorReset)
		}
	}

	if st.colorEnabled {
		switch level {
		case DEBUG:
			sb.WriteString(colorBlue)
		case WARN:
			sb.WriteString(colorYellow)
		case ERROR:
			sb.WriteString(colorRed)
		}
	}
	sb.WriteString(fmt.Sprintf("%-5s", level.String()))
	if st.colorEnabled {
		sb.WriteString(colorReset)
	}
	sb.WriteString(" ")

	if l.traceID != "" {
		short := l.traceID
		if len(short) > 8 {
			short = short[:8]
		}
		if st.colorEnabled {
			sb.WriteString(colorGray)
		}
		sb.WriteString("[" + short + "] ")
		if st.colorEnabled {
			sb.WriteString(colorReset)
		}
	}

	if st.redactSensitive {
		msg = redactSensitiveData(msg)
	}
	sb.WriteString(msg)

	for i, field := range fields {
		if i == 0 {
			sb.WriteString(" ")
		} else {
			sb.WriteString(", ")
		}
		value := fmt.Sprintf("%v", field.Value)
		if st.redactSensitive {
			value = redactSensitiveData(value)
		}
		sb.WriteString(field.Key + "=" + value)
	}

	return sb.String()
}

func (l *ConsoleLogger) log(level LogLevel, msg string, fields ...Field) {
	l.state.mu.Lock()
	defer l.state.mu.Unlock()

	if level < l.state.level {
		return
	}
	_, _ = fmt.Fprintln(l.state.writer, l.formatMessage(level, msg, fields...))
}

func (l *ConsoleLogger) Debug(msg string, fields ...Field) {
	l.log(DEBUG, msg, fields...)
}

func (l *ConsoleLogger) Info(msg string, fields ...Field) {
	l.log(INFO, msg, fields...)
}

func (l *ConsoleLogger) Warn(msg string, fields ...Field) {
	l.log(WARN, msg, fields...)
}

func (l *ConsoleLogger) Error(msg string, fields ...Field) {
	l.log(ERROR, msg, fields...)
}

// WithTraceID returns a logger that prefixes lines with the first 8 chars of traceID
func (l *ConsoleLogger) WithTraceID(traceID string) Logger {
	return &ConsoleLogger{state: l.state, traceID: traceID}
}

// WithContext returns a new logger that extracts trace ID from context
func (l *ConsoleLogger) WithContext(ctx context.Context) Logger {
	traceID := TraceIDFromContext(ctx)
	if traceID == "" {
		return l
	}
	return l.WithTraceID(traceID)
}

// SetLevel sets the minimum log level
func (l *ConsoleLogger) SetLevel(level LogLevel) {
	l.state.mu.Lock()
	defer l.state.mu.Unlock()
	l.state.level = level
}

// Close is a no-op; the writer belongs to the caller
func (l *ConsoleLogger) Close() error {
	return nil
}
