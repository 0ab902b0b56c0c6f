package cli

import (
	"errors"

	"github.com/dl-alexandre/drivepdf/internal/config"
	"github.com/dl-alexandre/drivepdf/internal/logging"
	"github.com/dl-alexandre/drivepdf/internal/utils"
	"github.com/spf13/cobra"
)

// newOutput builds the envelope writer for cmd. traceID ties the envelope to
// the run's log lines; empty generates one.
func newOutput(cmd *cobra.Command, traceID string) *config.OutputFormatter {
	return config.NewOutputFormatter(config.OutputOptions{
		Format:      globalFlags.OutputFormat,
		Quiet:       globalFlags.Quiet,
		Verbose:     globalFlags.Verbose,
		TraceID:     traceID,
		Writer:      cmd.OutOrStdout(),
		ErrorWriter: cmd.ErrOrStderr(),
	})
}

// reportError writes err as a JSON error envelope and returns the exit code
// its error code maps to. Errors that are not AppErrors come from cobra
// (unknown flags, wrong argument counts) and count as invalid arguments.
func reportError(cmd *cobra.Command, err error) int {
	if cmd == nil {
		cmd = rootCmd
	}

	var appErr *utils.AppError
	if !errors.As(err, &appErr) {
		appErr = utils.WrapAppError(utils.NewCLIError(utils.ErrCodeInvalidArgument, err.Error()).Build(), err)
	}

	out := newOutput(cmd, "")
	if writeErr := out.WriteError(commandName(cmd), appErr.CLIError); writeErr != nil {
		logger.Error("Failed to write error output", logging.F("error", writeErr.Error()))
	}
	return utils.GetExitCode(appErr.CLIError.Code)
}
