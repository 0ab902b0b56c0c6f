// Package pipeline runs one pass of the document job: resolve today's upload
// folder, archive new originals, convert each uploaded document to PDF and
// upload the finished files.
package pipeline

import (
	"context"
	"io"
	"time"

	"github.com/dl-alexandre/drivepdf/internal/files"
	"github.com/dl-alexandre/drivepdf/internal/history"
	"github.com/dl-alexandre/drivepdf/internal/logging"
	"github.com/dl-alexandre/drivepdf/internal/readiness"
	drivesync "github.com/dl-alexandre/drivepdf/internal/sync"
	"github.com/dl-alexandre/drivepdf/internal/types"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
)

// Remote is the Drive collaborator the pipeline moves bytes through
type Remote interface {
	ListChildren(ctx context.Context, reqCtx *types.RequestContext, folderID string, pageSize int) ([]*types.DriveFile, error)
	Copy(ctx context.Context, reqCtx *types.RequestContext, fileID string, name string, parentID string) (*types.DriveFile, error)
	Download(ctx context.Context, reqCtx *types.RequestContext, fileID string, w io.Writer) (int64, error)
	Delete(ctx context.Context, reqCtx *types.RequestContext, fileID string) error
	Upload(ctx context.Context, reqCtx *types.RequestContext, r io.ReadSeeker, opts files.UploadOptions) (*types.DriveFile, error)
}

// FolderGetter looks up folder metadata
type FolderGetter interface {
	Get(ctx context.Context, reqCtx *types.RequestContext, folderID string) (*types.DriveFile, error)
}

// FolderResolver checks the configured folders and finds or creates the
// dated upload folder
type FolderResolver interface {
	FolderGetter
	IsEmpty(ctx context.Context, reqCtx *types.RequestContext, folderID string) (bool, error)
	EnsureDateFolder(ctx context.Context, reqCtx *types.RequestContext, parentID string, date time.Time) (*types.DriveFile, bool, error)
}

// Converter turns one local document into a PDF
type Converter interface {
	Convert(ctx context.Context, inputPath, outputPath string) bool
}

// Waiter decides which upload candidates are finished being written
type Waiter interface {
	WaitStable(ctx context.Context, paths []string) (stable, pending []string, err error)
}

// Recorder stores run history
type Recorder interface {
	StartRun(ctx context.Context, run history.Run) error
	RecordItem(ctx context.Context, item history.Item) error
	FinishRun(ctx context.Context, run history.Run) error
}

// Progress is told about upload progress
type Progress interface {
	Start(total int)
	Increment(name string, ok bool)
	Finish()
}

// Config is everything a run needs to know about where things live
type Config struct {
	Profile             string
	SourceFolderID      string
	DestinationFolderID string
	// ArchiveFolderID enables the copy stage when set
	ArchiveFolderID string

	DownloadDir  string
	ConvertedDir string
	UploadDir    string
	// LockPath enables the run lock when set
	LockPath       string
	LockStaleAfter time.Duration

	KeyMode          drivesync.KeyMode
	PageSize         int
	UploadExtensions []string
	ExcludePatterns  []string
	Readiness        readiness.Options

	DryRun bool
}

// Deps are the collaborators of a run. Fs, Clock and Logger default to the
// OS filesystem, the real clock and a no-op logger; Waiter defaults to a
// readiness.Checker built from Config.Readiness. History and Progress are
// optional.
type Deps struct {
	Remote    Remote
	Folders   FolderResolver
	Ledger    drivesync.Ledger
	Converter Converter
	Waiter    Waiter
	History   Recorder
	Progress  Progress
	Fs        afero.Fs
	Clock     clockwork.Clock
	Logger    logging.Logger
}

// Pipeline runs the job
type Pipeline struct {
	cfg  Config
	deps Deps
}

// New builds a Pipeline
func New(cfg Config, deps Deps) *Pipeline {
	if deps.Fs == nil {
		deps.Fs = afero.NewOsFs()
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNoOpLogger()
	}
	if deps.Waiter == nil {
		deps.Waiter = readiness.NewChecker(deps.Fs, deps.Clock, cfg.Readiness, deps.Logger)
	}
	if cfg.KeyMode == "" {
		cfg.KeyMode = drivesync.KeyByName
	}
	return &Pipeline{cfg: cfg, deps: deps}
}

// newRunID returns the id a run is logged and recorded under
func newRunID() string {
	return uuid.New().String()
}
