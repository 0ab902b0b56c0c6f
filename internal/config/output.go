package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/dl-alexandre/drivepdf/internal/types"
	"github.com/dl-alexandre/drivepdf/internal/utils"
	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"
)

// OutputFormatter handles output formatting for CLI commands
type OutputFormatter struct {
	format      types.OutputFormat
	quiet       bool
	verbose     bool
	traceID     string
	writer      io.Writer
	errorWriter io.Writer
	warnings    []types.CLIWarning
}

// OutputOptions configures the output formatter
type OutputOptions struct {
	Format  types.OutputFormat
	Quiet   bool
	Verbose bool
	// TraceID ties the envelope to the run's log lines; empty generates one
	TraceID     string
	Writer      io.Writer
	ErrorWriter io.Writer
}

// NewOutputFormatter creates a new output formatter
func NewOutputFormatter(opts OutputOptions) *OutputFormatter {
	if opts.Writer == nil {
		opts.Writer = os.Stdout
	}
	if opts.ErrorWriter == nil {
		opts.ErrorWriter = os.Stderr
	}
	if opts.TraceID == "" {
		opts.TraceID = uuid.New().String()
	}
	return &OutputFormatter{
		format:      opts.Format,
		quiet:       opts.Quiet,
		verbose:     opts.Verbose,
		traceID:     opts.TraceID,
		writer:      opts.Writer,
		errorWriter: opts.ErrorWriter,
		warnings:    []types.CLIWarning{},
	}
}

// TraceID returns the trace id stamped on every envelope
func (f *OutputFormatter) TraceID() string {
	return f.traceID
}

// AddWarning adds a warning to be included in output
func (f *OutputFormatter) AddWarning(code, message, severity string) {
	f.warnings = append(f.warnings, types.CLIWarning{
		Code:     code,
		Message:  message,
		Severity: severity,
	})
}

// WriteSuccess writes a successful result
func (f *OutputFormatter) WriteSuccess(command string, data interface{}) error {
	output := types.CLIOutput{
		SchemaVersion: utils.SchemaVersion,
		TraceID:       f.traceID,
		Command:       command,
		Data:          data,
		Warnings:      f.warnings,
		Errors:        []types.CLIError{},
	}

	f.Verbose("Trace ID: %s", f.traceID)

	switch f.format {
	case types.OutputFormatJSON, "":
		return f.writeJSON(output)
	case types.OutputFormatTable:
		return f.writeTable(command, data)
	default:
		return fmt.Errorf("unsupported output format: %s", f.format)
	}
}

// WriteError writes an error result
func (f *OutputFormatter) WriteError(command string, cliErr types.CLIError) error {
	output := types.CLIOutput{
		SchemaVersion: utils.SchemaVersion,
		TraceID:       f.traceID,
		Command:       command,
		Data:          nil,
		Warnings:      f.warnings,
		Errors:        []types.CLIError{cliErr},
	}

	// Always output errors as JSON for structured parsing
	if err := f.writeJSON(output); err != nil {
		return err
	}

	f.Verbose("Error occurred - Trace ID: %s", f.traceID)
	return nil
}

// writeJSON writes data as JSON
func (f *OutputFormatter) writeJSON(data interface{}) error {
	encoder := json.NewEncoder(f.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

// writeTable writes data in table format
func (f *OutputFormatter) writeTable(command string, data interface{}) error {
	// Display warnings if any (to stderr)
	if len(f.warnings) > 0 && !f.quiet {
		for _, warning := range f.warnings {
			if _, err := fmt.Fprintf(f.errorWriter, "Warning [%s]: %s\n", warning.Code, warning.Message); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintln(f.errorWriter); err != nil {
			return err
		}
	}

	if renderable, ok := data.(types.TableRenderable); ok {
		return f.renderTable(renderable.AsTableRenderer())
	}
	if renderer, ok := data.(types.TableRenderer); ok {
		return f.renderTable(renderer)
	}

	switch v := data.(type) {
	case map[string]interface{}:
		return f.writeKeyValueTable(v)
	case map[string]string:
		kv := make(map[string]interface{}, len(v))
		for key, value := range v {
			kv[key] = value
		}
		return f.writeKeyValueTable(kv)
	default:
		// Fallback to JSON for types without a table form
		return f.writeJSON(types.CLIOutput{
			SchemaVersion: utils.SchemaVersion,
			TraceID:       f.traceID,
			Command:       command,
			Data:          data,
			Warnings:      f.warnings,
			Errors:        []types.CLIError{},
		})
	}
}

func newPlainTable(w io.Writer, headers []string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(headers)
	table.SetAutoFormatHeaders(false)
	table.SetBorder(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetTablePadding("\t")
	table.SetNoWhiteSpace(true)
	return table
}

func (f *OutputFormatter) renderTable(renderer types.TableRenderer) error {
	rows := renderer.Rows()
	if len(rows) == 0 {
		if !f.quiet {
			if _, err := fmt.Fprintln(f.writer, renderer.EmptyMessage()); err != nil {
				return err
			}
		}
		return nil
	}

	table := newPlainTable(f.writer, renderer.Headers())
	table.AppendBulk(rows)
	table.Render()
	return nil
}

// writeKeyValueTable writes a generic key-value table, sorted by key
func (f *OutputFormatter) writeKeyValueTable(data map[string]interface{}) error {
	keys := make([]string, 0, len(data))
	for key := range data {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	table := newPlainTable(f.writer, []string{"Key", "Value"})
	for _, key := range keys {
		table.Append([]string{key, fmt.Sprintf("%v", data[key])})
	}
	table.Render()
	return nil
}

// Log writes a message to stderr unless quiet mode is enabled
func (f *OutputFormatter) Log(format string, args ...interface{}) {
	if !f.quiet {
		if _, err := fmt.Fprintf(f.errorWriter, format+"\n", args...); err != nil {
			return
		}
	}
}

// Verbose writes a message to stderr only in verbose mode
func (f *OutputFormatter) Verbose(format string, args ...interface{}) {
	if f.verbose {
		if _, err := fmt.Fprintf(f.errorWriter, "[VERBOSE] "+format+"\n", args...); err != nil {
			return
		}
	}
}

// FormatTime renders a timestamp for table cells; the zero time is "-"
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

// TruncateString truncates a string to maxLen with ellipsis
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
