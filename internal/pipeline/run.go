package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dl-alexandre/drivepdf/internal/convert"
	"github.com/dl-alexandre/drivepdf/internal/files"
	"github.com/dl-alexandre/drivepdf/internal/history"
	"github.com/dl-alexandre/drivepdf/internal/logging"
	"github.com/dl-alexandre/drivepdf/internal/scan"
	drivesync "github.com/dl-alexandre/drivepdf/internal/sync"
	"github.com/dl-alexandre/drivepdf/internal/types"
	"github.com/dl-alexandre/drivepdf/internal/utils"
)

// Run executes one pass. Per-item failures are logged, counted in the
// report and left in place for the next run; only failures that make the
// rest of the run meaningless are returned: the run lock, the date folder,
// ledger I/O and cancellation.
func (p *Pipeline) Run(ctx context.Context, reqCtx *types.RequestContext) (*Report, error) {
	report := &Report{
		RunID:     newRunID(),
		DryRun:    p.cfg.DryRun,
		StartedAt: p.deps.Clock.Now(),
		Owners:    map[string]int{},
	}

	runCtx := reqCtx.Derive(reqCtx.RequestType)
	runCtx.TraceID = report.RunID
	ctx = logging.ContextWithTraceID(ctx, report.RunID)
	logger := p.deps.Logger.WithTraceID(report.RunID)

	if p.cfg.LockPath != "" && !p.cfg.DryRun {
		lock := NewRunLock(p.deps.Fs, p.cfg.LockPath, p.deps.Clock, p.cfg.LockStaleAfter)
		if err := lock.Acquire(report.RunID); err != nil {
			logger.Error("Run not started", logging.F("error", err.Error()))
			return report, err
		}
		defer func() {
			if err := lock.Release(); err != nil {
				logger.Warn("Could not remove run lock", logging.F("error", err.Error()))
			}
		}()
	}

	logger.Info("Run started",
		logging.F("profile", p.cfg.Profile),
		logging.F("source", p.cfg.SourceFolderID),
		logging.F("destination", p.cfg.DestinationFolderID),
		logging.F("dryRun", p.cfg.DryRun),
	)
	p.startHistory(ctx, logger, report)

	err := p.run(ctx, runCtx, logger, report)
	p.finish(ctx, logger, report, err)
	return report, err
}

func (p *Pipeline) run(ctx context.Context, reqCtx *types.RequestContext, logger logging.Logger, report *Report) error {
	if err := VerifyFolders(ctx, p.deps.Folders, reqCtx.Derive(types.RequestTypeGetByID), p.folderChecks()...); err != nil {
		logger.Error("Run not started", logging.F("error", err.Error()))
		return err
	}

	if err := p.resolveDateFolder(ctx, reqCtx, logger, report); err != nil {
		return err
	}

	if p.cfg.ArchiveFolderID != "" {
		if err := p.archive(ctx, reqCtx, logger, report); err != nil {
			return err
		}
	}

	if err := p.convertSource(ctx, reqCtx, logger, report); err != nil {
		return err
	}

	return p.upload(ctx, reqCtx, logger, report)
}

func (p *Pipeline) resolveDateFolder(ctx context.Context, reqCtx *types.RequestContext, logger logging.Logger, report *Report) error {
	today := p.deps.Clock.Now()
	report.DateFolder = today.Format(utils.DateFolderLayout)

	if p.cfg.DryRun {
		logger.Info("Would upload into date folder", logging.F("folder", report.DateFolder))
		return nil
	}

	folder, created, err := p.deps.Folders.EnsureDateFolder(ctx, reqCtx.Derive(types.RequestTypeMutation), p.cfg.DestinationFolderID, today)
	if err != nil {
		logger.Error("Cannot resolve the date folder",
			logging.F("folder", report.DateFolder),
			logging.F("parent", p.cfg.DestinationFolderID),
			logging.F("error", err.Error()),
		)
		return err
	}
	report.DateFolderID = folder.ID
	report.DateFolderCreated = created
	logger.Info("Date folder ready",
		logging.F("folder", folder.Name),
		logging.F("folderId", folder.ID),
		logging.F("created", created),
	)
	return nil
}

// archive runs the copy synchronizer. A listing failure is logged and the
// run goes on; ledger I/O and cancellation end the run.
func (p *Pipeline) archive(ctx context.Context, reqCtx *types.RequestContext, logger logging.Logger, report *Report) error {
	syncer := drivesync.New(p.deps.Remote, p.deps.Ledger, p.deps.Logger, drivesync.Options{
		KeyMode:  p.cfg.KeyMode,
		PageSize: p.cfg.PageSize,
		DryRun:   p.cfg.DryRun,
	})

	summary, err := syncer.Sync(ctx, reqCtx, p.cfg.SourceFolderID, p.cfg.ArchiveFolderID)
	report.Sync = &SyncCounts{
		Listed:  summary.Listed,
		Copied:  summary.Copied,
		Skipped: summary.Skipped,
		Failed:  summary.Failed,
	}
	for _, item := range summary.Items {
		p.record(ctx, logger, report, Item{
			Stage:   history.StageSync,
			Name:    item.Name,
			FileID:  item.FileID,
			Outcome: string(item.Outcome),
			Message: item.Error,
		}, false)
	}

	if err != nil {
		switch utils.ErrorCode(err) {
		case utils.ErrCodeLedgerIO, utils.ErrCodeCancelled:
			return err
		}
		report.Sync.Error = err.Error()
		logger.Error("Archive copy skipped this run",
			logging.F("source", p.cfg.SourceFolderID),
			logging.F("archive", p.cfg.ArchiveFolderID),
			logging.F("error", err.Error()),
		)
	}
	return nil
}

// convertSource downloads, converts and deletes every document in the
// source folder
func (p *Pipeline) convertSource(ctx context.Context, reqCtx *types.RequestContext, logger logging.Logger, report *Report) error {
	empty, err := p.deps.Folders.IsEmpty(ctx, reqCtx.Derive(types.RequestTypeListOrSearch), p.cfg.SourceFolderID)
	if err != nil {
		report.SourceError = err.Error()
		logger.Error("Cannot check the source folder",
			logging.F("source", p.cfg.SourceFolderID),
			logging.F("error", err.Error()),
		)
		return nil
	}
	if empty {
		logger.Info("No new documents in the source folder")
		return nil
	}

	items, err := p.deps.Remote.ListChildren(ctx, reqCtx.Derive(types.RequestTypeListOrSearch), p.cfg.SourceFolderID, p.cfg.PageSize)
	if err != nil {
		report.SourceError = err.Error()
		logger.Error("Cannot list the source folder",
			logging.F("source", p.cfg.SourceFolderID),
			logging.F("error", err.Error()),
		)
		return nil
	}
	report.SourceListed = len(items)
	if len(items) == 0 {
		logger.Info("No new documents in the source folder")
		return nil
	}

	for _, item := range items {
		report.Owners[item.OwnerName()]++
	}
	for _, line := range report.OwnerLines() {
		logger.Info(line)
	}

	if !p.cfg.DryRun {
		for _, dir := range []string{p.cfg.DownloadDir, p.cfg.ConvertedDir} {
			if err := p.deps.Fs.MkdirAll(dir, 0755); err != nil {
				return utils.WrapAppError(utils.NewCLIError(utils.ErrCodeLedgerIO,
					fmt.Sprintf("Cannot create directory %s", dir)).Build(), err)
			}
		}
	}

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return cancelled(err)
		}
		p.record(ctx, logger, report, p.convertOne(ctx, reqCtx, logger, item), true)
	}
	return nil
}

func (p *Pipeline) convertOne(ctx context.Context, reqCtx *types.RequestContext, logger logging.Logger, item *types.DriveFile) Item {
	result := Item{Stage: history.StageConvert, Name: item.Name, FileID: item.ID}

	if item.MimeType == utils.MimeTypeFolder || utils.IsWorkspaceMimeType(item.MimeType) {
		result.Outcome = OutcomeUnsupported
		result.Message = "no binary content to convert: " + item.MimeType
		logger.Warn("Skipping item that cannot be converted",
			logging.F("name", item.Name),
			logging.F("mimeType", item.MimeType),
		)
		return result
	}

	localName := localFileName(item.Name)
	inputPath := filepath.Join(p.cfg.DownloadDir, localName)
	outputPath := filepath.Join(p.cfg.ConvertedDir, convert.OutputName(localName))

	if p.cfg.DryRun {
		result.Outcome = OutcomeWouldConvert
		result.Message = outputPath
		logger.Info("Would convert document", logging.F("name", item.Name), logging.F("output", outputPath))
		return result
	}

	if err := p.download(ctx, reqCtx, item.ID, inputPath); err != nil {
		result.Outcome = OutcomeDownloadFailed
		result.Message = err.Error()
		logger.Error("Failed to download document",
			logging.F("name", item.Name),
			logging.F("fileId", item.ID),
			logging.F("error", err.Error()),
		)
		return result
	}
	logger.Info("Downloaded document", logging.F("name", item.Name), logging.F("path", inputPath))

	if !p.deps.Converter.Convert(ctx, inputPath, outputPath) {
		result.Outcome = OutcomeConvertFailed
		result.Message = "conversion failed; the original is kept for the next run"
		return result
	}

	if err := p.deps.Fs.Remove(inputPath); err != nil {
		logger.Warn("Could not remove local download",
			logging.F("path", inputPath),
			logging.F("error", err.Error()),
		)
	}

	if err := p.deps.Remote.Delete(ctx, reqCtx.Derive(types.RequestTypeMutation), item.ID); err != nil {
		result.Outcome = OutcomeDeleteFailed
		result.Message = err.Error()
		logger.Error("Converted document but could not delete the original",
			logging.F("name", item.Name),
			logging.F("fileId", item.ID),
			logging.F("error", err.Error()),
		)
		return result
	}

	result.Outcome = OutcomeConverted
	result.Message = outputPath
	logger.Info("Converted and removed original",
		logging.F("name", item.Name),
		logging.F("output", outputPath),
	)
	return result
}

func (p *Pipeline) download(ctx context.Context, reqCtx *types.RequestContext, fileID, path string) error {
	f, err := p.deps.Fs.Create(path)
	if err != nil {
		return err
	}
	_, err = p.deps.Remote.Download(ctx, reqCtx.Derive(types.RequestTypeDownload), fileID, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = p.deps.Fs.Remove(path)
		return err
	}
	return nil
}

// upload sends every settled PDF in the upload directory to the date folder
// and removes it locally once it is stored
func (p *Pipeline) upload(ctx context.Context, reqCtx *types.RequestContext, logger logging.Logger, report *Report) error {
	candidates, err := scan.Candidates(ctx, p.deps.Fs, p.cfg.UploadDir, scan.Options{
		Matcher:    scan.NewMatcher(p.cfg.ExcludePatterns),
		Extensions: p.cfg.UploadExtensions,
	})
	if err != nil {
		if ctx.Err() != nil {
			return cancelled(ctx.Err())
		}
		logger.Error("Cannot scan the upload directory",
			logging.F("dir", p.cfg.UploadDir),
			logging.F("error", err.Error()),
		)
		p.record(ctx, logger, report, Item{
			Stage: history.StageUpload, Name: p.cfg.UploadDir, Outcome: OutcomeUploadFailed, Message: err.Error(),
		}, true)
		return nil
	}
	if len(candidates) == 0 {
		logger.Info("Nothing to upload", logging.F("dir", p.cfg.UploadDir))
		return nil
	}

	if p.cfg.DryRun {
		for _, c := range candidates {
			p.record(ctx, logger, report, Item{
				Stage: history.StageUpload, Name: c.Name, Outcome: OutcomeWouldUpload, Message: report.DateFolder,
			}, true)
		}
		return nil
	}

	stable, pending, err := p.deps.Waiter.WaitStable(ctx, scan.Paths(candidates))
	if err != nil {
		return err
	}
	for _, path := range pending {
		p.record(ctx, logger, report, Item{
			Stage: history.StageUpload, Name: filepath.Base(path), Outcome: OutcomePending,
			Message: "still being written; left for the next run",
		}, true)
	}

	if p.deps.Progress != nil {
		p.deps.Progress.Start(len(stable))
		defer p.deps.Progress.Finish()
	}

	for _, path := range stable {
		if err := ctx.Err(); err != nil {
			return cancelled(err)
		}
		item := p.uploadOne(ctx, reqCtx, logger, report.DateFolderID, path)
		if p.deps.Progress != nil {
			p.deps.Progress.Increment(item.Name, item.Outcome == OutcomeUploaded)
		}
		p.record(ctx, logger, report, item, true)
	}
	return nil
}

func (p *Pipeline) uploadOne(ctx context.Context, reqCtx *types.RequestContext, logger logging.Logger, folderID, path string) Item {
	name := filepath.Base(path)
	result := Item{Stage: history.StageUpload, Name: name}

	f, err := p.deps.Fs.Open(path)
	if err != nil {
		result.Outcome = OutcomeUploadFailed
		result.Message = err.Error()
		logger.Error("Cannot open file for upload", logging.F("path", path), logging.F("error", err.Error()))
		return result
	}

	uploaded, err := p.deps.Remote.Upload(ctx, reqCtx.Derive(types.RequestTypeUpload), f, files.UploadOptions{
		ParentID: folderID,
		Name:     name,
		MimeType: utils.MimeTypeForName(name),
	})
	_ = f.Close()
	if err != nil {
		result.Outcome = OutcomeUploadFailed
		result.Message = err.Error()
		logger.Error("Failed to upload file",
			logging.F("name", name),
			logging.F("error", err.Error()),
		)
		return result
	}

	result.FileID = uploaded.ID
	result.Outcome = OutcomeUploaded
	logger.Info("Uploaded file",
		logging.F("name", name),
		logging.F("fileId", uploaded.ID),
		logging.F("folderId", folderID),
	)

	if err := p.deps.Fs.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.Warn("Uploaded file could not be removed locally; it will be uploaded again next run",
			logging.F("path", path),
			logging.F("error", err.Error()),
		)
	}
	return result
}

// record adds item to the report (when count is set) and to history
func (p *Pipeline) record(ctx context.Context, logger logging.Logger, report *Report, item Item, count bool) {
	if count {
		report.add(item)
	} else {
		report.Items = append(report.Items, item)
	}
	if p.deps.History == nil {
		return
	}
	err := p.deps.History.RecordItem(ctx, history.Item{
		RunID:      report.RunID,
		Stage:      item.Stage,
		Name:       item.Name,
		FileID:     item.FileID,
		Outcome:    item.Outcome,
		Message:    item.Message,
		RecordedAt: p.deps.Clock.Now(),
	})
	if err != nil {
		logger.Warn("Could not record item in run history", logging.F("error", err.Error()))
	}
}

func (p *Pipeline) startHistory(ctx context.Context, logger logging.Logger, report *Report) {
	if p.deps.History == nil {
		return
	}
	report.Status = history.StatusRunning
	if err := p.deps.History.StartRun(ctx, report.historyRun(p.cfg.Profile)); err != nil {
		logger.Warn("Could not record run start in history", logging.F("error", err.Error()))
	}
}

func (p *Pipeline) finish(ctx context.Context, logger logging.Logger, report *Report, runErr error) {
	report.FinishedAt = p.deps.Clock.Now()
	switch {
	case runErr != nil:
		report.Status = history.StatusFailed
	case report.failures() > 0:
		report.Status = history.StatusPartial
	default:
		report.Status = history.StatusSucceeded
	}

	fields := []logging.Field{
		logging.F("status", report.Status),
		logging.F("copied", report.copied()),
		logging.F("converted", report.Converted),
		logging.F("uploaded", report.Uploaded),
		logging.F("pending", report.Pending),
		logging.F("failed", report.failures()),
		logging.F("duration", report.FinishedAt.Sub(report.StartedAt).String()),
	}
	if runErr != nil {
		fields = append(fields, logging.F("error", runErr.Error()))
		logger.Error("Run aborted", fields...)
	} else {
		logger.Info("Run finished", fields...)
	}

	if p.deps.History == nil {
		return
	}
	run := report.historyRun(p.cfg.Profile)
	if runErr != nil {
		run.Error = runErr.Error()
	}
	// Record the outcome even when the run was cancelled
	if err := p.deps.History.FinishRun(context.WithoutCancel(ctx), run); err != nil {
		logger.Warn("Could not record run result in history", logging.F("error", err.Error()))
	}
}

// localFileName keeps a Drive name usable as a single path element
func localFileName(name string) string {
	name = strings.NewReplacer("/", "_", "\\", "_").Replace(name)
	if name == "" || name == "." || name == ".." {
		return "_"
	}
	return name
}

func cancelled(err error) error {
	return utils.WrapAppError(utils.NewCLIError(utils.ErrCodeCancelled, "Run cancelled").Build(), err)
}
