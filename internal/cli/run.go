package cli

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/dl-alexandre/drivepdf/internal/api"
	"github.com/dl-alexandre/drivepdf/internal/config"
	"github.com/dl-alexandre/drivepdf/internal/convert"
	"github.com/dl-alexandre/drivepdf/internal/files"
	"github.com/dl-alexandre/drivepdf/internal/folders"
	"github.com/dl-alexandre/drivepdf/internal/history"
	"github.com/dl-alexandre/drivepdf/internal/ledger"
	"github.com/dl-alexandre/drivepdf/internal/logging"
	"github.com/dl-alexandre/drivepdf/internal/pipeline"
	"github.com/dl-alexandre/drivepdf/internal/readiness"
	drivesync "github.com/dl-alexandre/drivepdf/internal/sync"
	"github.com/dl-alexandre/drivepdf/internal/types"
	"github.com/dl-alexandre/drivepdf/internal/utils"
	"github.com/spf13/cobra"
)

// HistoryFileName is the run history database under the state directory
const HistoryFileName = "history.db"

// LockFileName is the run lock under the state directory
const LockFileName = "run.lock"

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Archive, convert and upload in one pass",
	Long: `Run one pass of the job:

  1. find or create today's folder (YYYY-MM-DD) under the destination folder
  2. copy new source documents into the archive folder, if one is configured
  3. download each source document, convert it to PDF and delete the original
  4. upload every finished PDF in the upload directory into today's folder

Per-file failures are logged and left for the next run. Only problems that
make the rest of the run meaningless stop it early.`,
	RunE: runPipeline,
}

var (
	runProgress       bool
	runNonInteractive bool
)

func init() {
	runCmd.Flags().BoolVar(&runProgress, "progress", false, "Show a progress bar while uploading")
	runCmd.Flags().BoolVar(&runNonInteractive, "non-interactive", false, "Fail instead of opening a browser when no usable token is stored")
	rootCmd.AddCommand(runCmd)
}

func runPipeline(cmd *cobra.Command, args []string) error {
	cfg := appConfig
	if err := cfg.ValidateForRun(); err != nil {
		return utils.WrapAppError(utils.NewCLIError(utils.ErrCodeInvalidConfig, err.Error()).Build(), err)
	}

	ctx, stop := withSignals(cmd.Context())
	defer stop()

	client, err := connect(ctx, cfg, !runNonInteractive)
	if err != nil {
		return err
	}

	fileMgr := files.NewManager(client)
	deps := pipeline.Deps{
		Remote:    fileMgr,
		Folders:   folders.NewManager(client),
		Ledger:    ledger.New(appFs, cfg.LedgerFile),
		Converter: convert.NewConverter(converterOptions(cfg), logger),
		Fs:        appFs,
		Logger:    logger,
	}

	if db := openHistory(cfg); db != nil {
		defer db.Close()
		deps.History = db
	}
	if runProgress && !globalFlags.Quiet {
		deps.Progress = newUploadProgress(cmd.ErrOrStderr())
	}

	p := pipeline.New(pipelineConfig(cfg, globalFlags.DryRun), deps)
	reqCtx := api.NewRequestContext(cfg.Profile, "", types.RequestTypeListOrSearch)
	report, err := p.Run(ctx, reqCtx)
	if err != nil {
		return err
	}

	out := newOutput(cmd, report.RunID)
	if report.Status == history.StatusPartial {
		out.AddWarning("PARTIAL_RUN", "Some items failed and were left for the next run; see the log for details", "warning")
	}
	return out.WriteSuccess("run", report)
}

// pipelineConfig maps configuration onto a pipeline run
func pipelineConfig(cfg *config.Config, dryRun bool) pipeline.Config {
	return pipeline.Config{
		Profile:             cfg.Profile,
		SourceFolderID:      cfg.SourceFolderID,
		DestinationFolderID: cfg.DestinationFolderID,
		ArchiveFolderID:     cfg.ArchiveFolderID,
		DownloadDir:         cfg.DownloadDir,
		ConvertedDir:        cfg.ConvertedDir,
		UploadDir:           cfg.UploadDir,
		LockPath:            filepath.Join(cfg.StateDir, LockFileName),
		LockStaleAfter:      cfg.GetLockStaleAfter(),
		KeyMode:             drivesync.KeyMode(cfg.LedgerKey),
		PageSize:            int(cfg.PageSize),
		UploadExtensions:    cfg.UploadExtensions,
		ExcludePatterns:     cfg.ExcludePatterns,
		Readiness: readiness.Options{
			StableChecks: cfg.StableChecks,
			PollInterval: cfg.GetPollInterval(),
			Timeout:      cfg.GetSettleTimeout(),
		},
		DryRun: dryRun,
	}
}

func converterOptions(cfg *config.Config) convert.Options {
	return convert.Options{
		Binary:   cfg.ConverterPath,
		Args:     cfg.ConverterArgs,
		Validate: cfg.ValidatePDF,
		Timeout:  cfg.GetConverterTimeout(),
		Fs:       appFs,
	}
}

// openHistory opens the run history. History is informational, so a
// failure is logged and the run goes on without it.
func openHistory(cfg *config.Config) *history.DB {
	path := filepath.Join(cfg.StateDir, HistoryFileName)
	db, err := history.Open(path)
	if err != nil {
		logger.Warn("Run history unavailable", logging.F("path", path), logging.F("error", err.Error()))
		return nil
	}
	return db
}

// withSignals returns a context cancelled on interrupt or terminate
func withSignals(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}
