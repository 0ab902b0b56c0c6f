package pipeline

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/dl-alexandre/drivepdf/internal/history"
	"github.com/dl-alexandre/drivepdf/internal/ledger"
	"github.com/dl-alexandre/drivepdf/internal/logging"
	drivesync "github.com/dl-alexandre/drivepdf/internal/sync"
	testhelpers "github.com/dl-alexandre/drivepdf/internal/testing"
	"github.com/dl-alexandre/drivepdf/internal/testing/mocks"
	"github.com/dl-alexandre/drivepdf/internal/types"
	"github.com/dl-alexandre/drivepdf/internal/utils"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
)

const (
	sourceID  = "source"
	destID    = "destination"
	archiveID = "archive"
)

var runDay = time.Date(2024, 3, 5, 9, 30, 0, 0, time.UTC)

type fakeConverter struct {
	fs    afero.Fs
	fail  map[string]bool
	calls []string
}

func (c *fakeConverter) Convert(ctx context.Context, inputPath, outputPath string) bool {
	c.calls = append(c.calls, filepath.Base(inputPath))
	if c.fail[filepath.Base(inputPath)] {
		return false
	}
	data, err := afero.ReadFile(c.fs, inputPath)
	if err != nil {
		return false
	}
	return afero.WriteFile(c.fs, outputPath, append([]byte("%PDF-1.7 "), data...), 0644) == nil
}

type waiterFunc func(paths []string) (stable, pending []string, err error)

func (f waiterFunc) WaitStable(ctx context.Context, paths []string) ([]string, []string, error) {
	return f(paths)
}

var allStable = waiterFunc(func(paths []string) ([]string, []string, error) {
	return paths, nil, nil
})

type recordingProgress struct {
	total    int
	names    []string
	finished bool
}

func (p *recordingProgress) Start(total int) { p.total = total }

func (p *recordingProgress) Increment(name string, _ bool) { p.names = append(p.names, name) }

func (p *recordingProgress) Finish() { p.finished = true }

type fixture struct {
	drive     *mocks.FakeDrive
	fs        afero.Fs
	ledger    *ledger.Ledger
	converter *fakeConverter
	clock     clockwork.FakeClock
	cfg       Config
	deps      Deps
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fs := afero.NewMemMapFs()
	f := &fixture{
		drive:     mocks.NewFakeDrive(),
		fs:        fs,
		ledger:    ledger.New(fs, "/state/copied_files.txt"),
		converter: &fakeConverter{fs: fs, fail: map[string]bool{}},
		clock:     clockwork.NewFakeClockAt(runDay),
	}
	f.drive.AddFolder(sourceID, "Incoming")
	f.drive.AddFolder(destID, "Protected")
	f.drive.AddFolder(archiveID, "Originals")
	f.cfg = Config{
		Profile:             "default",
		SourceFolderID:      sourceID,
		DestinationFolderID: destID,
		ArchiveFolderID:     archiveID,
		DownloadDir:         "/work/downloads",
		ConvertedDir:        "/work/converted",
		UploadDir:           "/work/protected",
		LockPath:            "/state/run.lock",
		LockStaleAfter:      time.Hour,
		PageSize:            100,
	}
	f.deps = Deps{
		Remote:    f.drive,
		Folders:   f.drive,
		Ledger:    f.ledger,
		Converter: f.converter,
		Waiter:    allStable,
		Fs:        fs,
		Clock:     f.clock,
	}
	return f
}

func (f *fixture) addSource(name, owner string) *types.DriveFile {
	return f.drive.Add(sourceID, testhelpers.TestDriveFile("", name, owner), []byte("body of "+name))
}

func (f *fixture) addUpload(t *testing.T, name string) {
	t.Helper()
	testhelpers.AssertNoError(t, afero.WriteFile(f.fs, filepath.Join(f.cfg.UploadDir, name), []byte("pdf "+name), 0644))
}

func (f *fixture) run(t *testing.T) (*Report, error) {
	t.Helper()
	return New(f.cfg, f.deps).Run(context.Background(), testhelpers.TestRequestContext())
}

func (f *fixture) exists(t *testing.T, path string) bool {
	t.Helper()
	ok, err := afero.Exists(f.fs, path)
	testhelpers.AssertNoError(t, err)
	return ok
}

func dateFolder(t *testing.T, drive *mocks.FakeDrive, report *Report) []string {
	t.Helper()
	return drive.Children(report.DateFolderID)
}

func TestRun_FullPass(t *testing.T) {
	f := newFixture(t)
	a := f.addSource("a.docx", "Alice")
	b := f.addSource("b.docx", "Bob")
	gdoc := f.drive.Add(sourceID, &types.DriveFile{Name: "notes", MimeType: utils.MimeTypeDocument}, nil)
	f.addUpload(t, "x.pdf")
	f.addUpload(t, ".hidden.pdf")
	f.addUpload(t, "x_subset.pdf")

	report, err := f.run(t)
	testhelpers.AssertNoError(t, err)

	testhelpers.AssertEqual(t, report.Status, history.StatusSucceeded)
	testhelpers.AssertEqual(t, report.DateFolder, "2024-03-05")
	testhelpers.AssertEqual(t, report.DateFolderCreated, true)
	testhelpers.AssertStrings(t, f.drive.Children(destID), []string{"2024-03-05"})

	// archive copy
	testhelpers.AssertStrings(t, f.drive.Children(archiveID), []string{"a.docx", "b.docx", "notes"})
	entries, err := f.ledger.Entries()
	testhelpers.AssertNoError(t, err)
	testhelpers.AssertStrings(t, entries, []string{"a.docx", "b.docx", "notes"})

	// conversion
	testhelpers.AssertStrings(t, f.converter.calls, []string{"a.docx", "b.docx"})
	testhelpers.AssertEqual(t, report.Converted, 2)
	testhelpers.AssertEqual(t, f.drive.Exists(a.ID), false)
	testhelpers.AssertEqual(t, f.drive.Exists(b.ID), false)
	testhelpers.AssertEqual(t, f.drive.Exists(gdoc.ID), true)
	testhelpers.AssertEqual(t, f.exists(t, "/work/downloads/a.docx"), false)
	testhelpers.AssertEqual(t, f.exists(t, "/work/converted/a.pdf"), true)
	testhelpers.AssertEqual(t, f.exists(t, "/work/converted/b.pdf"), true)

	// owner summary
	testhelpers.AssertStrings(t, report.OwnerLines(), []string{
		"Files uploaded by Alice: 1",
		"Files uploaded by Bob: 1",
		"Files uploaded by unknown: 1",
	})

	// upload
	testhelpers.AssertEqual(t, report.Uploaded, 1)
	testhelpers.AssertStrings(t, dateFolder(t, f.drive, report), []string{"x.pdf"})
	testhelpers.AssertEqual(t, f.exists(t, "/work/protected/x.pdf"), false)
	testhelpers.AssertEqual(t, f.exists(t, "/work/protected/.hidden.pdf"), true)
	testhelpers.AssertEqual(t, f.exists(t, "/work/protected/x_subset.pdf"), true)

	// lock released
	testhelpers.AssertEqual(t, f.exists(t, "/state/run.lock"), false)
}

func TestRun_SecondRunDoesNotRecopy(t *testing.T) {
	f := newFixture(t)
	f.addSource("a.docx", "Alice")
	f.converter.fail["a.docx"] = true

	_, err := f.run(t)
	testhelpers.AssertNoError(t, err)
	copies := f.drive.CallCount("Copy")

	report, err := f.run(t)
	testhelpers.AssertNoError(t, err)
	testhelpers.AssertEqual(t, f.drive.CallCount("Copy"), copies)
	testhelpers.AssertEqual(t, report.Sync.Skipped, 1)
	testhelpers.AssertStrings(t, f.drive.Children(archiveID), []string{"a.docx"})
}

func TestRun_DateFolderReuse(t *testing.T) {
	f := newFixture(t)

	first, err := f.run(t)
	testhelpers.AssertNoError(t, err)
	second, err := f.run(t)
	testhelpers.AssertNoError(t, err)

	testhelpers.AssertEqual(t, second.DateFolderID, first.DateFolderID)
	testhelpers.AssertEqual(t, second.DateFolderCreated, false)

	f.clock.Advance(24 * time.Hour)
	third, err := f.run(t)
	testhelpers.AssertNoError(t, err)
	if third.DateFolderID == first.DateFolderID {
		t.Error("a new day should resolve to a new folder")
	}
	testhelpers.AssertEqual(t, third.DateFolder, "2024-03-06")
	testhelpers.AssertStrings(t, f.drive.Children(destID), []string{"2024-03-05", "2024-03-06"})
}

func TestRun_DateFolderFailureIsFatal(t *testing.T) {
	f := newFixture(t)
	f.addSource("a.docx", "Alice")
	f.drive.EnsureDateFolderFunc = func(string, time.Time) (*types.DriveFile, bool, error) {
		return nil, false, utils.NewAppError(utils.NewCLIError(utils.ErrCodePermissionDenied, "no access").Build())
	}

	report, err := f.run(t)
	testhelpers.AssertErrorCode(t, err, utils.ErrCodePermissionDenied)
	testhelpers.AssertEqual(t, report.Status, history.StatusFailed)
	testhelpers.AssertEqual(t, f.drive.CallCount("Copy"), 0)
	testhelpers.AssertEqual(t, f.drive.CallCount("Download"), 0)
	testhelpers.AssertEqual(t, f.exists(t, "/state/run.lock"), false)
}

func TestRun_ConversionFailureKeepsOriginal(t *testing.T) {
	f := newFixture(t)
	bad := f.addSource("bad.docx", "Alice")
	good := f.addSource("good.docx", "Alice")
	f.converter.fail["bad.docx"] = true

	report, err := f.run(t)
	testhelpers.AssertNoError(t, err)

	testhelpers.AssertEqual(t, report.Status, history.StatusPartial)
	testhelpers.AssertEqual(t, report.Converted, 1)
	testhelpers.AssertEqual(t, report.Failed, 1)
	testhelpers.AssertEqual(t, f.drive.Exists(bad.ID), true)
	testhelpers.AssertEqual(t, f.drive.Exists(good.ID), false)
	testhelpers.AssertEqual(t, f.exists(t, "/work/downloads/bad.docx"), true)
}

func TestRun_DownloadFailureContinues(t *testing.T) {
	f := newFixture(t)
	broken := f.addSource("broken.docx", "Alice")
	f.addSource("fine.docx", "Alice")
	f.drive.DownloadFunc = func(fileID string, w io.Writer) (int64, error) {
		if fileID == broken.ID {
			_, _ = w.Write([]byte("partial"))
			return 7, errors.New("connection reset")
		}
		n, err := w.Write([]byte("content"))
		return int64(n), err
	}

	report, err := f.run(t)
	testhelpers.AssertNoError(t, err)

	testhelpers.AssertEqual(t, report.Converted, 1)
	testhelpers.AssertEqual(t, f.drive.Exists(broken.ID), true)
	testhelpers.AssertEqual(t, f.exists(t, "/work/downloads/broken.docx"), false)
	testhelpers.AssertStrings(t, f.converter.calls, []string{"fine.docx"})
}

func TestRun_DeleteFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	f.addSource("a.docx", "Alice")
	f.drive.DeleteFunc = func(string) error { return errors.New("backend error") }

	report, err := f.run(t)
	testhelpers.AssertNoError(t, err)
	testhelpers.AssertEqual(t, report.Status, history.StatusPartial)
	testhelpers.AssertEqual(t, f.exists(t, "/work/converted/a.pdf"), true)
}

func TestRun_DeletesOriginalAfterConversion(t *testing.T) {
	f := newFixture(t)
	a := f.addSource("a.docx", "Alice")
	var deleted []string
	f.drive.DeleteFunc = func(id string) error {
		deleted = append(deleted, id)
		return nil
	}

	_, err := f.run(t)
	testhelpers.AssertNoError(t, err)
	testhelpers.AssertStrings(t, deleted, []string{a.ID})
}

type tracingConverter struct {
	*fakeConverter
	traceIDs []string
}

func (c *tracingConverter) Convert(ctx context.Context, inputPath, outputPath string) bool {
	c.traceIDs = append(c.traceIDs, logging.TraceIDFromContext(ctx))
	return c.fakeConverter.Convert(ctx, inputPath, outputPath)
}

func TestRun_ConverterLogsUnderRunID(t *testing.T) {
	f := newFixture(t)
	f.addSource("a.docx", "Alice")
	conv := &tracingConverter{fakeConverter: f.converter}
	f.deps.Converter = conv

	report, err := f.run(t)
	testhelpers.AssertNoError(t, err)
	testhelpers.AssertStrings(t, conv.traceIDs, []string{report.RunID})
}

func TestRun_UnknownFolderIsConfigError(t *testing.T) {
	f := newFixture(t)
	f.addSource("a.docx", "Alice")
	f.cfg.ArchiveFolderID = "no-such-folder"

	_, err := f.run(t)
	testhelpers.AssertErrorCode(t, err, utils.ErrCodeInvalidConfig)
	testhelpers.AssertContains(t, err.Error(), "archiveFolderId")
	testhelpers.AssertEqual(t, f.drive.CallCount("EnsureDateFolder"), 0)
	testhelpers.AssertEqual(t, f.drive.CallCount("Copy"), 0)
	testhelpers.AssertEqual(t, f.exists(t, "/state/run.lock"), false)
}

func TestRun_SourceMustBeAFolder(t *testing.T) {
	f := newFixture(t)
	doc := f.drive.Add("", testhelpers.TestDriveFile("not-a-folder", "notes.docx", "Alice"), nil)
	f.cfg.SourceFolderID = doc.ID

	_, err := f.run(t)
	testhelpers.AssertErrorCode(t, err, utils.ErrCodeInvalidConfig)
	testhelpers.AssertContains(t, err.Error(), "sourceFolderId")
}

func TestRun_EmptySourceIsNotListed(t *testing.T) {
	f := newFixture(t)
	f.cfg.ArchiveFolderID = ""
	f.addUpload(t, "ready.pdf")

	report, err := f.run(t)
	testhelpers.AssertNoError(t, err)
	testhelpers.AssertEqual(t, f.drive.CallCount("IsEmpty"), 1)
	testhelpers.AssertEqual(t, f.drive.CallCount("ListChildren"), 0)
	testhelpers.AssertEqual(t, report.SourceListed, 0)
	testhelpers.AssertEqual(t, report.Uploaded, 1)
	testhelpers.AssertEqual(t, report.Status, history.StatusSucceeded)
}

func TestVerifyFolders_PassesThroughTransientErrors(t *testing.T) {
	drive := mocks.NewFakeDrive()
	drive.GetFolderFunc = func(string) (*types.DriveFile, error) {
		return nil, utils.NewAppError(utils.NewCLIError(utils.ErrCodeNetworkError, "offline").Build())
	}

	err := VerifyFolders(context.Background(), drive, testhelpers.TestRequestContext(),
		FolderCheck{Key: "sourceFolderId", ID: "src"})
	testhelpers.AssertErrorCode(t, err, utils.ErrCodeNetworkError)

	err = VerifyFolders(context.Background(), drive, testhelpers.TestRequestContext(),
		FolderCheck{Key: "archiveFolderId", ID: ""})
	testhelpers.AssertNoError(t, err)
	testhelpers.AssertEqual(t, drive.CallCount("Get"), 1)
}

func TestRun_LedgerFailureAborts(t *testing.T) {
	f := newFixture(t)
	f.addSource("a.docx", "Alice")
	f.deps.Ledger = ledger.New(afero.NewReadOnlyFs(afero.NewMemMapFs()), "/state/copied_files.txt")

	report, err := f.run(t)
	testhelpers.AssertErrorCode(t, err, utils.ErrCodeLedgerIO)
	testhelpers.AssertEqual(t, report.Status, history.StatusFailed)
	testhelpers.AssertEqual(t, f.drive.CallCount("Download"), 0)
	testhelpers.AssertEqual(t, f.drive.CallCount("Upload"), 0)
}

func TestRun_SourceListingFailureStillUploads(t *testing.T) {
	f := newFixture(t)
	f.addUpload(t, "ready.pdf")
	f.drive.ListChildrenFunc = func(folderID string) ([]*types.DriveFile, error) {
		return nil, utils.NewAppError(utils.NewCLIError(utils.ErrCodeNetworkError, "offline").Build())
	}

	report, err := f.run(t)
	testhelpers.AssertNoError(t, err)
	testhelpers.AssertEqual(t, report.Status, history.StatusPartial)
	testhelpers.AssertNotNil(t, report.Sync)
	testhelpers.AssertContains(t, report.Sync.Error, "offline")
	testhelpers.AssertContains(t, report.SourceError, "offline")
	testhelpers.AssertEqual(t, report.Uploaded, 1)
}

func TestRun_WithoutArchiveSkipsCopy(t *testing.T) {
	f := newFixture(t)
	f.cfg.ArchiveFolderID = ""
	f.addSource("a.docx", "Alice")

	report, err := f.run(t)
	testhelpers.AssertNoError(t, err)
	testhelpers.AssertEqual(t, f.drive.CallCount("Copy"), 0)
	if report.Sync != nil {
		t.Errorf("expected no sync summary, got %+v", report.Sync)
	}
	testhelpers.AssertEqual(t, report.Converted, 1)
}

func TestRun_PendingFilesAreLeftForNextRun(t *testing.T) {
	f := newFixture(t)
	f.addUpload(t, "done.pdf")
	f.addUpload(t, "growing.pdf")
	f.deps.Waiter = waiterFunc(func(paths []string) ([]string, []string, error) {
		var stable, pending []string
		for _, p := range paths {
			if filepath.Base(p) == "growing.pdf" {
				pending = append(pending, p)
			} else {
				stable = append(stable, p)
			}
		}
		return stable, pending, nil
	})

	report, err := f.run(t)
	testhelpers.AssertNoError(t, err)
	testhelpers.AssertEqual(t, report.Uploaded, 1)
	testhelpers.AssertEqual(t, report.Pending, 1)
	testhelpers.AssertEqual(t, report.Status, history.StatusSucceeded)
	testhelpers.AssertEqual(t, f.exists(t, "/work/protected/growing.pdf"), true)
	testhelpers.AssertStrings(t, dateFolder(t, f.drive, report), []string{"done.pdf"})
}

func TestRun_UploadFailureKeepsLocalFile(t *testing.T) {
	f := newFixture(t)
	f.addUpload(t, "a.pdf")
	f.addUpload(t, "b.pdf")
	f.drive.UploadFunc = func(name, parentID string, body []byte) (*types.DriveFile, error) {
		if name == "a.pdf" {
			return nil, errors.New("quota")
		}
		return &types.DriveFile{ID: "up-" + name, Name: name}, nil
	}
	progress := &recordingProgress{}
	f.deps.Progress = progress

	report, err := f.run(t)
	testhelpers.AssertNoError(t, err)
	testhelpers.AssertEqual(t, report.Uploaded, 1)
	testhelpers.AssertEqual(t, report.Status, history.StatusPartial)
	testhelpers.AssertEqual(t, f.exists(t, "/work/protected/a.pdf"), true)
	testhelpers.AssertEqual(t, f.exists(t, "/work/protected/b.pdf"), false)

	testhelpers.AssertEqual(t, progress.total, 2)
	testhelpers.AssertStrings(t, progress.names, []string{"a.pdf", "b.pdf"})
	testhelpers.AssertEqual(t, progress.finished, true)
}

func TestRun_DryRunDoesNotMutate(t *testing.T) {
	f := newFixture(t)
	a := f.addSource("a.docx", "Alice")
	f.addUpload(t, "x.pdf")
	f.cfg.DryRun = true

	report, err := f.run(t)
	testhelpers.AssertNoError(t, err)

	for _, op := range []string{"Copy", "Delete", "Upload", "Download", "EnsureDateFolder"} {
		testhelpers.AssertEqual(t, f.drive.CallCount(op), 0, op)
	}
	testhelpers.AssertEqual(t, f.drive.Exists(a.ID), true)
	testhelpers.AssertEqual(t, f.exists(t, "/state/copied_files.txt"), false)
	testhelpers.AssertEqual(t, f.exists(t, "/work/protected/x.pdf"), true)
	testhelpers.AssertEqual(t, len(f.converter.calls), 0)

	outcomes := map[string]string{}
	for _, item := range report.Items {
		outcomes[item.Stage+"/"+item.Name] = item.Outcome
	}
	testhelpers.AssertEqual(t, outcomes["sync/a.docx"], string(drivesync.OutcomeWouldCopy))
	testhelpers.AssertEqual(t, outcomes["convert/a.docx"], OutcomeWouldConvert)
	testhelpers.AssertEqual(t, outcomes["upload/x.pdf"], OutcomeWouldUpload)
}

func TestRun_RefusesOverlappingRun(t *testing.T) {
	f := newFixture(t)
	testhelpers.AssertNoError(t, afero.WriteFile(f.fs, "/state/run.lock", []byte("pid=1"), 0600))
	testhelpers.AssertNoError(t, f.fs.Chtimes("/state/run.lock", runDay, runDay.Add(-time.Minute)))

	_, err := f.run(t)
	testhelpers.AssertErrorCode(t, err, utils.ErrCodeRunLocked)
	testhelpers.AssertEqual(t, f.drive.CallCount("EnsureDateFolder"), 0)
	testhelpers.AssertEqual(t, f.exists(t, "/state/run.lock"), true)
}

func TestRun_RecordsHistory(t *testing.T) {
	f := newFixture(t)
	f.addSource("a.docx", "Alice")
	f.addUpload(t, "x.pdf")

	db, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	testhelpers.AssertNoError(t, err)
	defer db.Close()
	f.deps.History = db

	report, err := f.run(t)
	testhelpers.AssertNoError(t, err)

	runs, err := db.ListRuns(context.Background(), 10)
	testhelpers.AssertNoError(t, err)
	testhelpers.AssertEqual(t, len(runs), 1)
	testhelpers.AssertEqual(t, runs[0].ID, report.RunID)
	testhelpers.AssertEqual(t, runs[0].Status, history.StatusSucceeded)
	testhelpers.AssertEqual(t, runs[0].Copied, 1)
	testhelpers.AssertEqual(t, runs[0].Converted, 1)
	testhelpers.AssertEqual(t, runs[0].Uploaded, 1)

	items, err := db.ListItems(context.Background(), report.RunID)
	testhelpers.AssertNoError(t, err)
	testhelpers.AssertEqual(t, len(items), 3)
	testhelpers.AssertEqual(t, items[0].Stage, history.StageSync)
	testhelpers.AssertEqual(t, items[2].Stage, history.StageUpload)
}

func TestRun_LogsUnderRunID(t *testing.T) {
	f := newFixture(t)
	logPath := filepath.Join(t.TempDir(), "run.log")
	logger, err := logging.NewFileLogger(logging.FileLoggerConfig{FilePath: logPath, Level: logging.DEBUG})
	testhelpers.AssertNoError(t, err)
	f.deps.Logger = logger
	f.addSource("a.docx", "Alice")

	report, err := f.run(t)
	testhelpers.AssertNoError(t, err)
	testhelpers.AssertNoError(t, logger.Close())

	data, err := afero.ReadFile(afero.NewOsFs(), logPath)
	testhelpers.AssertNoError(t, err)
	testhelpers.AssertContains(t, string(data), report.RunID)
	testhelpers.AssertContains(t, string(data), "Files uploaded by Alice: 1")
}

func TestLocalFileName(t *testing.T) {
	tests := map[string]string{
		"report.docx":   "report.docx",
		"a/b.docx":      "a_b.docx",
		`win\path.docx`: "win_path.docx",
		"..":            "_",
		"":              "_",
	}
	for in, want := range tests {
		testhelpers.AssertEqual(t, localFileName(in), want, in)
	}
}
