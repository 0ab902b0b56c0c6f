package logging

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestDebugTransport_LogsExchange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer srv.Close()

	var buf bytes.Buffer
	logger := NewConsoleLogger(ConsoleLoggerConfig{Writer: &buf, Level: DEBUG, RedactSensitive: true})
	client := &http.Client{Transport: NewDebugTransport(nil, logger)}

	resp, err := client.Get(srv.URL + "/files?access_token=secret123")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	resp.Body.Close()

	out := buf.String()
	if !strings.Contains(out, "HTTP request") || !strings.Contains(out, "status=418") {
		t.Errorf("missing request/response lines:\n%s", out)
	}
	if strings.Contains(out, "secret123") {
		t.Errorf("token leaked: %s", out)
	}
}
