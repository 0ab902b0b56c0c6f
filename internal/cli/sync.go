package cli

import (
	"fmt"
	"path/filepath"

	"github.com/dl-alexandre/drivepdf/internal/api"
	"github.com/dl-alexandre/drivepdf/internal/files"
	"github.com/dl-alexandre/drivepdf/internal/folders"
	"github.com/dl-alexandre/drivepdf/internal/ledger"
	"github.com/dl-alexandre/drivepdf/internal/pipeline"
	drivesync "github.com/dl-alexandre/drivepdf/internal/sync"
	"github.com/dl-alexandre/drivepdf/internal/types"
	"github.com/dl-alexandre/drivepdf/internal/utils"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Copy new source files into the archive folder",
	Long: `Copy every item in the source folder that is not yet in the ledger into
the archive folder. Each key is appended to the ledger only after its copy
succeeded, so running sync again never copies the same item twice.`,
	Args: cobra.NoArgs,
	RunE: runSync,
}

var (
	syncFrom           string
	syncTo             string
	syncNonInteractive bool
)

func init() {
	syncCmd.Flags().StringVar(&syncFrom, "from", "", "Source folder ID (defaults to sourceFolderId)")
	syncCmd.Flags().StringVar(&syncTo, "to", "", "Archive folder ID (defaults to archiveFolderId)")
	syncCmd.Flags().BoolVar(&syncNonInteractive, "non-interactive", false, "Fail instead of opening a browser when no usable token is stored")
	rootCmd.AddCommand(syncCmd)
}

// syncResult is the output of the sync command
type syncResult struct {
	RunID       string                  `json:"runId"`
	Source      string                  `json:"source"`
	Destination string                  `json:"destination"`
	DryRun      bool                    `json:"dryRun"`
	Listed      int                     `json:"listed"`
	Copied      int                     `json:"copied"`
	Skipped     int                     `json:"skipped"`
	Failed      int                     `json:"failed"`
	Items       []drivesync.ItemOutcome `json:"items"`
}

func (r *syncResult) AsTableRenderer() types.TableRenderer {
	return syncItemTable(r.Items)
}

type syncItemTable []drivesync.ItemOutcome

func (t syncItemTable) Headers() []string {
	return []string{"Name", "Outcome", "Copy ID", "Error"}
}

func (t syncItemTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, item := range t {
		rows = append(rows, []string{item.Name, string(item.Outcome), item.CopyID, item.Error})
	}
	return rows
}

func (t syncItemTable) EmptyMessage() string {
	return "Source folder is empty."
}

func runSync(cmd *cobra.Command, args []string) error {
	cfg := appConfig

	source, dest := syncFrom, syncTo
	if source == "" {
		source = cfg.SourceFolderID
	}
	if dest == "" {
		dest = cfg.ArchiveFolderID
	}
	if source == "" || dest == "" {
		return utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidArgument,
			"sync needs a source and an archive folder: set sourceFolderId/archiveFolderId or pass --from/--to").Build())
	}
	if source == dest {
		return utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidArgument,
			"source and archive folder must differ").WithContext("folderId", source).Build())
	}

	runID := uuid.New().String()
	runLogger := logger.WithTraceID(runID)

	if !globalFlags.DryRun {
		lock := pipeline.NewRunLock(appFs, filepath.Join(cfg.StateDir, LockFileName), nil, cfg.GetLockStaleAfter())
		if err := lock.Acquire(runID); err != nil {
			return err
		}
		defer func() { _ = lock.Release() }()
	}

	ctx, stop := withSignals(cmd.Context())
	defer stop()

	client, err := connect(ctx, cfg, !syncNonInteractive)
	if err != nil {
		return err
	}

	reqCtx := api.NewRequestContext(cfg.Profile, "", types.RequestTypeListOrSearch)
	reqCtx.TraceID = runID
	if err := pipeline.VerifyFolders(ctx, folders.NewManager(client), reqCtx.Derive(types.RequestTypeGetByID),
		pipeline.FolderCheck{Key: "sourceFolderId", ID: source},
		pipeline.FolderCheck{Key: "archiveFolderId", ID: dest},
	); err != nil {
		return err
	}

	syncer := drivesync.New(files.NewManager(client), ledger.New(appFs, cfg.LedgerFile), runLogger, drivesync.Options{
		KeyMode:  drivesync.KeyMode(cfg.LedgerKey),
		PageSize: int(cfg.PageSize),
		DryRun:   globalFlags.DryRun,
	})

	summary, err := syncer.Sync(ctx, reqCtx, source, dest)
	if err != nil {
		return err
	}

	out := newOutput(cmd, runID)
	if summary.Failed > 0 {
		out.AddWarning("COPY_FAILED", fmt.Sprintf("%d item(s) could not be copied and will be retried next run", summary.Failed), "warning")
	}
	return out.WriteSuccess("sync", &syncResult{
		RunID:       runID,
		Source:      source,
		Destination: dest,
		DryRun:      globalFlags.DryRun,
		Listed:      summary.Listed,
		Copied:      summary.Copied,
		Skipped:     summary.Skipped,
		Failed:      summary.Failed,
		Items:       summary.Items,
	})
}
