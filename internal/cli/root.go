package cli

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/dl-alexandre/drivepdf/internal/config"
	"github.com/dl-alexandre/drivepdf/internal/logging"
	"github.com/dl-alexandre/drivepdf/internal/types"
	"github.com/dl-alexandre/drivepdf/internal/utils"
	"github.com/dl-alexandre/drivepdf/pkg/version"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

// skipSetup marks commands that run without loading configuration
const skipSetup = "skipSetup"

var (
	globalFlags    types.GlobalFlags
	logger         logging.Logger = logging.NewNoOpLogger()
	debugTransport *logging.DebugTransport
	appConfig      *config.Config
	appFs          afero.Fs = afero.NewOsFs()
)

var rootCmd = &cobra.Command{
	Use:   "drivepdf",
	Short: "Convert documents uploaded to Google Drive into PDFs",
	Long: `drivepdf watches a Google Drive folder for uploaded documents, keeps an
archive copy of each new one, converts it to PDF locally and uploads finished
PDFs into a folder named after the current date.

It is meant to be run on a schedule. All commands support JSON output.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Annotations[skipSetup] == "true" {
			return nil
		}
		return setup(cmd)
	},
}

var versionCmd = &cobra.Command{
	Use:         "version",
	Short:       "Print the version number",
	Long:        "Print the version, commit and build time of drivepdf",
	Annotations: map[string]string{skipSetup: "true"},
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version.Get().String())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&globalFlags.Profile, "profile", "default", "Credential profile to use")
	rootCmd.PersistentFlags().StringVar(&globalFlags.Config, "config", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&globalFlags.LogFile, "log-file", "", "Path to log file (overrides logFile)")
	rootCmd.PersistentFlags().StringVar((*string)(&globalFlags.OutputFormat), "output", "json", "Output format (json, table)")
	rootCmd.PersistentFlags().BoolVarP(&globalFlags.Quiet, "quiet", "q", false, "Suppress non-essential output")
	rootCmd.PersistentFlags().BoolVarP(&globalFlags.Verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&globalFlags.Debug, "debug", false, "Log every API request and response")
	rootCmd.PersistentFlags().BoolVar(&globalFlags.DryRun, "dry-run", false, "Show what would be done without making changes")
	rootCmd.PersistentFlags().BoolVar(&globalFlags.JSON, "json", false, "Output in JSON format (alias for --output json)")

	rootCmd.AddCommand(versionCmd)
}

func validateGlobalFlags() error {
	if globalFlags.JSON {
		globalFlags.OutputFormat = types.OutputFormatJSON
	}

	if globalFlags.OutputFormat != types.OutputFormatJSON && globalFlags.OutputFormat != types.OutputFormatTable {
		return utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidArgument,
			fmt.Sprintf("invalid output format: %s", globalFlags.OutputFormat)).Build())
	}
	return nil
}

// setup loads configuration, applies flag overrides and builds the logger
func setup(cmd *cobra.Command) error {
	if err := validateGlobalFlags(); err != nil {
		return err
	}

	cfg, err := config.Load(appFs, globalFlags.Config)
	if err != nil {
		return utils.WrapAppError(utils.NewCLIError(utils.ErrCodeInvalidConfig, err.Error()).
			WithContext("config", globalFlags.Config).
			Build(), err)
	}
	applyFlagOverrides(cmd, cfg)
	appConfig = cfg

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return utils.WrapAppError(utils.NewCLIError(utils.ErrCodeInvalidConfig, err.Error()).Build(), err)
	}
	if globalFlags.Verbose {
		level = logging.DEBUG
	}

	logConfig := logging.DefaultLogConfig()
	logConfig.Level = level
	logConfig.OutputFile = cfg.LogFile
	logConfig.EnableConsole = !globalFlags.Quiet
	logConfig.EnableDebug = globalFlags.Debug
	logConfig.Fs = appFs
	if globalFlags.OutputFormat == types.OutputFormatJSON && !globalFlags.Verbose && !globalFlags.Debug {
		logConfig.EnableConsole = false
	}

	logger, debugTransport, err = logging.NewDebugLoggerWithTransport(logConfig)
	if err != nil {
		return utils.WrapAppError(utils.NewCLIError(utils.ErrCodeInvalidConfig,
			fmt.Sprintf("failed to initialize logger: %v", err)).
			WithContext("logFile", cfg.LogFile).
			Build(), err)
	}
	return nil
}

// applyFlagOverrides gives explicit flags precedence over env and file
func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("profile") || cfg.Profile == "" {
		cfg.Profile = globalFlags.Profile
	}
	if globalFlags.LogFile != "" {
		cfg.LogFile = globalFlags.LogFile
	}
	if !flags.Changed("output") && !globalFlags.JSON && cfg.OutputFormat != "" {
		globalFlags.OutputFormat = cfg.OutputFormat
	}
	globalFlags.Profile = cfg.Profile
}

// httpClient is the base client for token and API traffic
func httpClient(cfg *config.Config) *http.Client {
	client := &http.Client{Timeout: cfg.GetRequestTimeout()}
	if debugTransport != nil {
		client.Transport = debugTransport
	}
	return client
}

// Execute runs the root command and returns the process exit code
func Execute() int {
	cmd, err := rootCmd.ExecuteC()
	defer closeLogger()
	if err == nil {
		return utils.ExitSuccess
	}
	return reportError(cmd, err)
}

func closeLogger() {
	if logger != nil {
		_ = logger.Close()
	}
}

// GetGlobalFlags returns the global flags
func GetGlobalFlags() types.GlobalFlags {
	return globalFlags
}

// GetLogger returns the global logger
func GetLogger() logging.Logger {
	return logger
}

// commandName turns "drivepdf auth login" into "auth.login"
func commandName(cmd *cobra.Command) string {
	if cmd == nil {
		return "drivepdf"
	}
	parts := strings.Fields(cmd.CommandPath())
	if len(parts) <= 1 {
		return "drivepdf"
	}
	return strings.Join(parts[1:], ".")
}
