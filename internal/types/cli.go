package types

// OutputFormat selects how command results are printed
type OutputFormat string

const (
	OutputFormatJSON  OutputFormat = "json"
	OutputFormatTable OutputFormat = "table"
)

// GlobalFlags holds the persistent flags shared by every command
type GlobalFlags struct {
	Profile      string
	Config       string
	LogFile      string
	OutputFormat OutputFormat
	Quiet        bool
	Verbose      bool
	Debug        bool
	DryRun       bool
	JSON         bool
}

// CLIOutput is the JSON envelope written by every command
type CLIOutput struct {
	SchemaVersion string       `json:"schemaVersion"`
	TraceID       string       `json:"traceId"`
	Command       string       `json:"command"`
	Data          interface{}  `json:"data"`
	Warnings      []CLIWarning `json:"warnings"`
	Errors        []CLIError   `json:"errors"`
}

// CLIError is a structured, tool-owned error
type CLIError struct {
	Code        string                 `json:"code"`
	Message     string                 `json:"message"`
	HTTPStatus  int                    `json:"httpStatus,omitempty"`
	DriveReason string                 `json:"driveReason,omitempty"`
	Retryable   bool                   `json:"retryable"`
	Context     map[string]interface{} `json:"context,omitempty"`
}

// CLIWarning is a non-fatal notice attached to command output
type CLIWarning struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

// TableRenderer is implemented by results that print as a table
type TableRenderer interface {
	Headers() []string
	Rows() [][]string
	EmptyMessage() string
}

// TableRenderable results convert themselves into a TableRenderer
type TableRenderable interface {
	AsTableRenderer() TableRenderer
}
