package logging

import (
	"net/http"
	"time"
)

// DebugTransport logs every Drive HTTP exchange at DEBUG level
type DebugTransport struct {
	Base   http.RoundTripper
	Logger Logger
}

// NewDebugTransport wraps base; a nil base means http.DefaultTransport
func NewDebugTransport(base http.RoundTripper, logger Logger) *DebugTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &DebugTransport{Base: base, Logger: logger}
}

// RoundTrip implements http.RoundTripper
func (t *DebugTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	logger := t.Logger.WithContext(req.Context())
	start := time.Now()

	logger.Debug("HTTP request",
		F("method", req.Method),
		F("url", redactSensitiveData(req.URL.Redacted())),
	)

	resp, err := t.Base.RoundTrip(req)
	if err != nil {
		logger.Debug("HTTP request failed",
			F("method", req.Method),
			F("error", redactSensitiveData(err.Error())),
			F("duration_ms", time.Since(start).Milliseconds()),
		)
		return nil, err
	}

	logger.Debug("HTTP response",
		F("method", req.Method),
		F("status", resp.StatusCode),
		F("duration_ms", time.Since(start).Milliseconds()),
	)
	return resp, nil
}

// NewDebugLoggerWithTransport returns the logger plus a transport when EnableDebug is set
func NewDebugLoggerWithTransport(config LogConfig) (Logger, *DebugTransport, error) {
	logger, err := NewLogger(config)
	if err != nil {
		return nil, nil, err
	}
	if !config.EnableDebug {
		return logger, nil, nil
	}
	return logger, NewDebugTransport(nil, logger), nil
}
