package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"
)

// fileSink is the shared, mutex-guarded log file behind every traced FileLogger
type fileSink struct {
	mu            sync.Mutex
	fs            afero.Fs
	file          afero.File
	filePath      string
	maxFileSize   int64
	currentSize   int64
	rotateEnabled bool
	level         LogLevel
}

// FileLogger writes one JSON LogEntry per line
type FileLogger struct {
	sink    *fileSink
	traceID string
}

// FileLoggerConfig contains configuration for file logger
type FileLoggerConfig struct {
	// Fs defaults to the OS filesystem
	Fs            afero.Fs
	FilePath      string
	Level         LogLevel
	MaxFileSize   int64 // in bytes, 0 means no rotation
	RotateEnabled bool
}

// NewFileLogger creates a new file logger
func NewFileLogger(config FileLoggerConfig) (*FileLogger, error) {
	fs := config.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}

	if err := fs.MkdirAll(filepath.Dir(config.FilePath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := fs.OpenFile(config.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		if closeErr := file.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to close log file after stat error: %w", closeErr)
		}
		return nil, fmt.Errorf("failed to stat log file: %w", err)
	}

	return &FileLogger{
		sink: &fileSink{
			fs:            fs,
			file:          file,
			filePath:      config.FilePath,
			level:         config.Level,
			maxFileSize:   config.MaxFileSize,
			currentSize:   info.Size(),
			rotateEnabled: config.RotateEnabled && config.MaxFileSize > 0,
		},
	}, nil
}

func (l *FileLogger) log(level LogLevel, msg string, fields ...Field) {
	s := l.sink
	s.mu.Lock()
	defer s.mu.Unlock()

	if level < s.level || s.file == nil {
		return
	}

	if s.rotateEnabled && s.currentSize >= s.maxFileSize {
		if err := s.rotate(); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to rotate log file: %v\n", err)
		}
	}

	entry := LogEntry{
		Timestamp: time.Now().UTC(),
		Level:     level.String(),
		Message:   redactSensitiveData(msg),
		TraceID:   l.traceID,
	}
	if len(fields) > 0 {
		entry.Fields = make(map[string]interface{}, len(fields))
		for _, field := range fields {
			if str, ok := field.Value.(string); ok {
				entry.Fields[field.Key] = redactSensitiveData(str)
				continue
			}
			entry.Fields[field.Key] = field.Value
		}
	}

	data, err := json.Marshal(entry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to marshal log entry: %v\n", err)
		return
	}

	data = append(data, '\n')
	n, err := s.file.Write(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write log entry: %v\n", err)
		return
	}
	s.currentSize += int64(n)
}

// rotate renames the current file with a timestamp suffix and reopens a fresh one
func (s *fileSink) rotate() error {
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("failed to close log file: %w", err)
	}

	rotatedPath := fmt.Sprintf("%s.%s", s.filePath, time.Now().UTC().Format("20060102-150405.000000000"))
	if err := s.fs.Rename(s.filePath, rotatedPath); err != nil {
		file, _ := s.fs.OpenFile(s.filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		s.file = file
		return fmt.Errorf("failed to rename log file: %w", err)
	}

	file, err := s.fs.OpenFile(s.filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		s.file = nil
		return fmt.Errorf("failed to create new log file: %w", err)
	}

	s.file = file
	s.currentSize = 0
	return nil
}

func (l *FileLogger) Debug(msg string, fields ...Field) {
	l.log(DEBUG, msg, fields...)
}

func (l *FileLogger) Info(msg string, fields ...Field) {
	l.log(INFO, msg, fields...)
}

func (l *FileLogger) Warn(msg string, fields ...Field) {
	l.log(WARN, msg, fields...)
}

func (l *FileLogger) Error(msg string, fields ...Field) {
	l.log(ERROR, msg, fields...)
}

// WithTraceID returns a logger sharing the same file that stamps traceID on each entry
func (l *FileLogger) WithTraceID(traceID string) Logger {
	return &FileLogger{sink: l.sink, traceID: traceID}
}

// WithContext returns a new logger that extracts trace ID from context
func (l *FileLogger) WithContext(ctx context.Context) Logger {
	traceID := TraceIDFromContext(ctx)
	if traceID == "" {
		return l
	}
	return l.WithTraceID(traceID)
}

// SetLevel sets the minimum log level for every logger sharing this file
func (l *FileLogger) SetLevel(level LogLevel) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.level = level
}

// Close closes the log file. Closing twice is a no-op.
func (l *FileLogger) Close() error {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()

	if l.sink.file == nil {
		return nil
	}
	err := l.sink.file.Close()
	l.sink.file = nil
	return err
}
