package config

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/dl-alexandre/drivepdf/internal/types"
	"github.com/dl-alexandre/drivepdf/internal/utils"
)

type runRows [][]string

func (r runRows) Headers() []string    { return []string{"Run", "Status"} }
func (r runRows) Rows() [][]string     { return r }
func (r runRows) EmptyMessage() string { return "No runs recorded." }

func newTestFormatter(format types.OutputFormat) (*OutputFormatter, *bytes.Buffer, *bytes.Buffer) {
	var out, errOut bytes.Buffer
	f := NewOutputFormatter(OutputOptions{
		Format:      format,
		TraceID:     "trace-1",
		Writer:      &out,
		ErrorWriter: &errOut,
	})
	return f, &out, &errOut
}

func TestWriteSuccess_JSONEnvelope(t *testing.T) {
	f, out, _ := newTestFormatter(types.OutputFormatJSON)
	f.AddWarning("STORAGE_FALLBACK", "using encrypted file", "warning")

	if err := f.WriteSuccess("run", map[string]int{"uploaded": 2}); err != nil {
		t.Fatalf("WriteSuccess failed: %v", err)
	}

	var env types.CLIOutput
	if err := json.Unmarshal(out.Bytes(), &env); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out.String())
	}
	if env.SchemaVersion != utils.SchemaVersion || env.TraceID != "trace-1" || env.Command != "run" {
		t.Errorf("unexpected envelope header: %+v", env)
	}
	if len(env.Warnings) != 1 || env.Warnings[0].Code != "STORAGE_FALLBACK" {
		t.Errorf("warnings not carried: %+v", env.Warnings)
	}
	if env.Errors == nil || len(env.Errors) != 0 {
		t.Errorf("errors should be an empty list, got %+v", env.Errors)
	}
}

func TestWriteError_AlwaysJSON(t *testing.T) {
	f, out, _ := newTestFormatter(types.OutputFormatTable)
	cliErr := utils.NewCLIError(utils.ErrCodeAuthRequired, "login first").Build()

	if err := f.WriteError("run", cliErr); err != nil {
		t.Fatalf("WriteError failed: %v", err)
	}

	var env types.CLIOutput
	if err := json.Unmarshal(out.Bytes(), &env); err != nil {
		t.Fatalf("error output is not JSON: %v", err)
	}
	if len(env.Errors) != 1 || env.Errors[0].Code != utils.ErrCodeAuthRequired {
		t.Errorf("unexpected errors: %+v", env.Errors)
	}
}

func TestWriteSuccess_Table(t *testing.T) {
	f, out, errOut := newTestFormatter(types.OutputFormatTable)
	f.AddWarning("W", "careful", "warning")

	if err := f.WriteSuccess("history", runRows{{"abc", "succeeded"}}); err != nil {
		t.Fatalf("WriteSuccess failed: %v", err)
	}
	if !strings.Contains(out.String(), "Run") || !strings.Contains(out.String(), "succeeded") {
		t.Errorf("table missing content:\n%s", out.String())
	}
	if !strings.Contains(errOut.String(), "Warning [W]: careful") {
		t.Errorf("warning not printed to stderr: %q", errOut.String())
	}
}

func TestWriteSuccess_EmptyTable(t *testing.T) {
	f, out, _ := newTestFormatter(types.OutputFormatTable)
	if err := f.WriteSuccess("history", runRows{}); err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out.String()) != "No runs recorded." {
		t.Errorf("unexpected output %q", out.String())
	}
}

func TestWriteSuccess_KeyValueTableIsSorted(t *testing.T) {
	f, out, _ := newTestFormatter(types.OutputFormatTable)
	if err := f.WriteSuccess("auth status", map[string]interface{}{"profile": "default", "expiry": "soon"}); err != nil {
		t.Fatal(err)
	}
	s := out.String()
	if strings.Index(s, "expiry") > strings.Index(s, "profile") {
		t.Errorf("keys not sorted:\n%s", s)
	}
}

func TestWriteSuccess_UnsupportedFormat(t *testing.T) {
	f, _, _ := newTestFormatter(types.OutputFormat("yaml"))
	if err := f.WriteSuccess("run", nil); err == nil {
		t.Error("expected error for unsupported format")
	}
}

func TestFormatHelpers(t *testing.T) {
	if FormatTime(time.Time{}) != "-" {
		t.Error("zero time should render as -")
	}
	if got := TruncateString("abcdefghij", 6); got != "abc..." {
		t.Errorf("TruncateString = %q", got)
	}
	if got := TruncateString("abc", 6); got != "abc" {
		t.Errorf("TruncateString = %q", got)
	}
}
