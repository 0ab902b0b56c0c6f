package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dl-alexandre/drivepdf/internal/logging"
	"github.com/dl-alexandre/drivepdf/internal/types"
	"github.com/spf13/afero"
)

const (
	// ConfigFileName is the name of the config file
	ConfigFileName = "config.json"
	// EnvPrefix is the prefix for environment variables
	EnvPrefix = "DRIVEPDF_"
)

// Ledger key modes
const (
	LedgerKeyName = "name"
	LedgerKeyID   = "id"
)

// Config holds application configuration
type Config struct {
	// Profile names the stored credential to use
	Profile string `json:"profile"`

	// SourceFolderID is the Drive folder documents are uploaded into
	SourceFolderID string `json:"sourceFolderId"`

	// DestinationFolderID is the parent of the dated upload folders
	DestinationFolderID string `json:"destinationFolderId"`

	// ArchiveFolderID receives a one-time copy of every source item; empty disables the copy
	ArchiveFolderID string `json:"archiveFolderId,omitempty"`

	DownloadDir  string `json:"downloadDir"`
	ConvertedDir string `json:"convertedDir"`
	UploadDir    string `json:"uploadDir"`

	// StateDir holds the ledger, the history database, the log and the run lock
	StateDir   string `json:"stateDir"`
	LedgerFile string `json:"ledgerFile"`
	// LedgerKey selects what identifies an already-copied item: name or id
	LedgerKey string `json:"ledgerKey"`
	LogFile   string `json:"logFile"`
	// LogLevel is one of debug, info, warn, error
	LogLevel string `json:"logLevel"`

	CredentialsFile string `json:"credentialsFile"`
	TokenFile       string `json:"tokenFile"`
	// TokenStorage is one of file, keyring, encrypted, auto
	TokenStorage string `json:"tokenStorage"`
	ClientID     string `json:"clientId,omitempty"`
	ClientSecret string `json:"clientSecret,omitempty"`

	ConverterPath       string   `json:"converterPath"`
	ConverterArgs       []string `json:"converterArgs,omitempty"`
	ConverterTimeoutSec int      `json:"converterTimeoutSec"` // 0 waits forever
	ValidatePDF         bool     `json:"validatePdf"`

	UploadExtensions []string `json:"uploadExtensions"`
	ExcludePatterns  []string `json:"excludePatterns,omitempty"`

	// StableChecks is how many unchanged polls mark an upload candidate ready
	StableChecks     int `json:"stableChecks"`
	PollIntervalMs   int `json:"pollIntervalMs"`
	SettleTimeoutSec int `json:"settleTimeoutSec"`

	PageSize int64 `json:"pageSize"`

	// MaxRetries is the maximum number of retries for API calls
	MaxRetries int `json:"maxRetries"`

	// RetryBaseDelay is the base delay for exponential backoff in milliseconds
	RetryBaseDelay int `json:"retryBaseDelay"`

	// RequestTimeout is the default request timeout in seconds
	RequestTimeout int `json:"requestTimeout"`

	// LockStaleAfterSec is the age after which a leftover run lock is ignored
	LockStaleAfterSec int `json:"lockStaleAfterSec"`

	OutputFormat types.OutputFormat `json:"outputFormat"`
}

// DefaultConfig returns the default configuration with every state path
// rooted at stateDir
func DefaultConfig(stateDir string) *Config {
	return &Config{
		Profile:             "default",
		DownloadDir:         filepath.Join(stateDir, "downloads"),
		ConvertedDir:        filepath.Join(stateDir, "converted"),
		UploadDir:           filepath.Join(stateDir, "protected"),
		StateDir:            stateDir,
		LedgerFile:          filepath.Join(stateDir, "copied_files.txt"),
		LedgerKey:           LedgerKeyName,
		LogFile:             filepath.Join(stateDir, "drivepdf.log"),
		LogLevel:            "info",
		CredentialsFile:     filepath.Join(stateDir, "credentials.json"),
		TokenFile:           filepath.Join(stateDir, "token.json"),
		TokenStorage:        "file",
		ConverterPath:       "soffice",
		ConverterTimeoutSec: 300,
		ValidatePDF:         true,
		UploadExtensions:    []string{".pdf"},
		StableChecks:        2,
		PollIntervalMs:      2000,
		SettleTimeoutSec:    60,
		PageSize:            100,
		MaxRetries:          3,
		RetryBaseDelay:      1000, // 1 second
		RequestTimeout:      60,   // 60 seconds
		LockStaleAfterSec:   6 * 60 * 60,
		OutputFormat:        types.OutputFormatJSON,
	}
}

// Load loads configuration with precedence: env vars > config file > defaults.
// CLI flags are applied by the caller afterwards. An empty path reads
// config.json from the config directory; a missing file is not an error.
func Load(fs afero.Fs, path string) (*Config, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return nil, err
	}
	if path == "" {
		path = filepath.Join(configDir, ConfigFileName)
	}

	// Start with defaults
	cfg := DefaultConfig(configDir)

	if err := cfg.loadFromFile(fs, path); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFromFile(fs afero.Fs, path string) error {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, c)
}

// loadFromEnv loads configuration from environment variables
func (c *Config) loadFromEnv() {
	strs := map[string]*string{
		"PROFILE":               &c.Profile,
		"SOURCE_FOLDER_ID":      &c.SourceFolderID,
		"DESTINATION_FOLDER_ID": &c.DestinationFolderID,
		"ARCHIVE_FOLDER_ID":     &c.ArchiveFolderID,
		"DOWNLOAD_DIR":          &c.DownloadDir,
		"CONVERTED_DIR":         &c.ConvertedDir,
		"UPLOAD_DIR":            &c.UploadDir,
		"STATE_DIR":             &c.StateDir,
		"LEDGER_FILE":           &c.LedgerFile,
		"LEDGER_KEY":            &c.LedgerKey,
		"LOG_FILE":              &c.LogFile,
		"LOG_LEVEL":             &c.LogLevel,
		"CREDENTIALS_FILE":      &c.CredentialsFile,
		"TOKEN_FILE":            &c.TokenFile,
		"TOKEN_STORAGE":         &c.TokenStorage,
		"CLIENT_ID":             &c.ClientID,
		"CLIENT_SECRET":         &c.ClientSecret,
		"CONVERTER_PATH":        &c.ConverterPath,
	}
	for name, dst := range strs {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"STABLE_CHECKS":         &c.StableChecks,
		"POLL_INTERVAL_MS":      &c.PollIntervalMs,
		"SETTLE_TIMEOUT_SEC":    &c.SettleTimeoutSec,
		"MAX_RETRIES":           &c.MaxRetries,
		"RETRY_BASE_DELAY":      &c.RetryBaseDelay,
		"REQUEST_TIMEOUT":       &c.RequestTimeout,
		"LOCK_STALE_AFTER_SEC":  &c.LockStaleAfterSec,
		"CONVERTER_TIMEOUT_SEC": &c.ConverterTimeoutSec,
	}
	for name, dst := range ints {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	if v := os.Getenv(EnvPrefix + "PAGE_SIZE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.PageSize = n
		}
	}
	if v := os.Getenv(EnvPrefix + "VALIDATE_PDF"); v != "" {
		c.ValidatePDF = parseBool(v)
	}
	if v := os.Getenv(EnvPrefix + "UPLOAD_EXTENSIONS"); v != "" {
		c.UploadExtensions = splitList(v)
	}
	if v := os.Getenv(EnvPrefix + "OUTPUT_FORMAT"); v != "" {
		c.OutputFormat = types.OutputFormat(v)
	}
}

// Save writes the configuration to path
func (c *Config) Save(fs afero.Fs, path string) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := fs.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Restricted permissions: the file may carry a client secret
	if err := afero.WriteFile(fs, path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.OutputFormat != types.OutputFormatJSON && c.OutputFormat != types.OutputFormatTable {
		return fmt.Errorf("invalid output format: %s (must be 'json' or 'table')", c.OutputFormat)
	}

	if strings.TrimSpace(c.Profile) == "" {
		return fmt.Errorf("profile must not be empty")
	}

	if c.LedgerKey != LedgerKeyName && c.LedgerKey != LedgerKeyID {
		return fmt.Errorf("invalid ledger key: %s (must be 'name' or 'id')", c.LedgerKey)
	}

	switch c.TokenStorage {
	case "file", "keyring", "encrypted", "auto":
	default:
		return fmt.Errorf("invalid token storage: %s (must be one of: file, keyring, encrypted, auto)", c.TokenStorage)
	}

	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level: %s (must be one of: debug, info, warn, error)", c.LogLevel)
	}

	for name, dir := range map[string]string{
		"downloadDir":  c.DownloadDir,
		"convertedDir": c.ConvertedDir,
		"uploadDir":    c.UploadDir,
		"stateDir":     c.StateDir,
		"ledgerFile":   c.LedgerFile,
	} {
		if strings.TrimSpace(dir) == "" {
			return fmt.Errorf("%s must not be empty", name)
		}
	}

	if c.ConverterPath == "" {
		return fmt.Errorf("converterPath must not be empty")
	}

	if c.ConverterTimeoutSec < 0 || c.ConverterTimeoutSec > 3600 {
		return fmt.Errorf("converter timeout must be between 0 and 3600 seconds, got: %d", c.ConverterTimeoutSec)
	}

	if len(c.UploadExtensions) == 0 {
		return fmt.Errorf("uploadExtensions must list at least one extension")
	}

	if c.StableChecks < 1 || c.StableChecks > 100 {
		return fmt.Errorf("stable checks must be between 1 and 100, got: %d", c.StableChecks)
	}

	if c.PollIntervalMs < 100 || c.PollIntervalMs > 600000 {
		return fmt.Errorf("poll interval must be between 100ms and 600000ms, got: %d", c.PollIntervalMs)
	}

	if c.SettleTimeoutSec < 0 || c.SettleTimeoutSec > 3600 {
		return fmt.Errorf("settle timeout must be between 0 and 3600 seconds, got: %d", c.SettleTimeoutSec)
	}

	if c.PageSize < 1 || c.PageSize > 1000 {
		return fmt.Errorf("page size must be between 1 and 1000, got: %d", c.PageSize)
	}

	// Validate max retries
	if c.MaxRetries < 0 || c.MaxRetries > 10 {
		return fmt.Errorf("max retries must be between 0 and 10, got: %d", c.MaxRetries)
	}

	// Validate retry base delay
	if c.RetryBaseDelay < 100 || c.RetryBaseDelay > 60000 {
		return fmt.Errorf("retry base delay must be between 100ms and 60000ms, got: %d", c.RetryBaseDelay)
	}

	// Validate request timeout
	if c.RequestTimeout < 1 || c.RequestTimeout > 3600 {
		return fmt.Errorf("request timeout must be between 1 and 3600 seconds, got: %d", c.RequestTimeout)
	}

	if c.LockStaleAfterSec < 0 {
		return fmt.Errorf("lock stale age must be non-negative, got: %d", c.LockStaleAfterSec)
	}

	return nil
}

// ValidateForRun checks the fields a full pipeline run needs on top of Validate
func (c *Config) ValidateForRun() error {
	if c.SourceFolderID == "" {
		return fmt.Errorf("sourceFolderId is required")
	}
	if c.DestinationFolderID == "" {
		return fmt.Errorf("destinationFolderId is required")
	}
	return nil
}

// GetPollInterval returns the readiness poll interval as a duration
func (c *Config) GetPollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// GetSettleTimeout returns the readiness timeout as a duration
func (c *Config) GetSettleTimeout() time.Duration {
	return time.Duration(c.SettleTimeoutSec) * time.Second
}

// GetConverterTimeout returns the converter time limit as a duration
func (c *Config) GetConverterTimeout() time.Duration {
	return time.Duration(c.ConverterTimeoutSec) * time.Second
}

// GetRetryBaseDelay returns the retry base delay as a duration
func (c *Config) GetRetryBaseDelay() time.Duration {
	return time.Duration(c.RetryBaseDelay) * time.Millisecond
}

// GetRequestTimeout returns the request timeout as a duration
func (c *Config) GetRequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Second
}

// GetLockStaleAfter returns the run lock stale age as a duration
func (c *Config) GetLockStaleAfter() time.Duration {
	return time.Duration(c.LockStaleAfterSec) * time.Second
}

// Redacted returns a copy safe for display
func (c *Config) Redacted() *Config {
	out := *c
	if out.ClientSecret != "" {
		out.ClientSecret = "[REDACTED]"
	}
	return &out
}

// GetConfigPath returns the path to the default config file
func GetConfigPath() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, ConfigFileName), nil
}

// GetConfigDir returns the path to the config directory
func GetConfigDir() (string, error) {
	if dir := os.Getenv(EnvPrefix + "CONFIG_DIR"); dir != "" {
		return dir, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	return filepath.Join(homeDir, ".config", "drivepdf"), nil
}

// parseBool parses a boolean value from a string
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes" || s == "on"
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
