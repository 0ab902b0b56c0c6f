// Package sync copies new items from a source folder into an archive folder
// exactly once across runs, using the ledger as the record of what was copied.
package sync

import (
	"context"
	"fmt"

	"github.com/dl-alexandre/drivepdf/internal/ledger"
	"github.com/dl-alexandre/drivepdf/internal/logging"
	"github.com/dl-alexandre/drivepdf/internal/types"
	"github.com/dl-alexandre/drivepdf/internal/utils"
)

// KeyMode selects what identifies an item in the ledger
type KeyMode string

const (
	// KeyByName dedups on display name. Two different files with the same
	// name are treated as one: the second is never copied.
	KeyByName KeyMode = "name"
	// KeyByID dedups on the Drive file ID
	KeyByID KeyMode = "id"
)

// ParseKeyMode accepts "name", "id" or "" (name)
func ParseKeyMode(s string) (KeyMode, error) {
	switch KeyMode(s) {
	case "", KeyByName:
		return KeyByName, nil
	case KeyByID:
		return KeyByID, nil
	}
	return "", fmt.Errorf("unknown ledger key %q (want name or id)", s)
}

// Remote is the part of the Drive collaborator the synchronizer needs
type Remote interface {
	ListChildren(ctx context.Context, reqCtx *types.RequestContext, folderID string, pageSize int) ([]*types.DriveFile, error)
	Copy(ctx context.Context, reqCtx *types.RequestContext, fileID string, name string, parentID string) (*types.DriveFile, error)
}

// Ledger is the processed-set store
type Ledger interface {
	Load() (ledger.Set, error)
	Record(key string) error
}

// Options configures a Synchronizer
type Options struct {
	KeyMode  KeyMode
	PageSize int
	DryRun   bool
}

// Outcome is what happened to one listed item
type Outcome string

const (
	OutcomeCopied    Outcome = "copied"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
	OutcomeWouldCopy Outcome = "would_copy"
	// OutcomeUnsupported marks sub-folders, which Drive cannot copy
	OutcomeUnsupported Outcome = "unsupported"
)

// ItemOutcome records the result for one listed item
type ItemOutcome struct {
	Key     string  `json:"key"`
	FileID  string  `json:"fileId"`
	Name    string  `json:"name"`
	Outcome Outcome `json:"outcome"`
	CopyID  string  `json:"copyId,omitempty"`
	Error   string  `json:"error,omitempty"`
}

// Summary counts a synchronization pass
type Summary struct {
	Listed  int
	Copied  int
	Skipped int
	Failed  int
	Items   []ItemOutcome
}

// Synchronizer performs copy passes
type Synchronizer struct {
	remote Remote
	ledger Ledger
	logger logging.Logger
	opts   Options
}

// New creates a Synchronizer
func New(remote Remote, l Ledger, logger logging.Logger, opts Options) *Synchronizer {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	if opts.KeyMode == "" {
		opts.KeyMode = KeyByName
	}
	return &Synchronizer{remote: remote, ledger: l, logger: logger, opts: opts}
}

func (s *Synchronizer) keyOf(f *types.DriveFile) string {
	if s.opts.KeyMode == KeyByID {
		return f.ID
	}
	return f.Name
}

// Sync copies every item under sourceID whose key is not yet recorded into
// destID. A key is recorded only after its copy succeeded; per-item copy
// failures are logged and the pass continues. Sub-folders are skipped and
// never recorded. Ledger I/O failures and a failed listing abort the pass.
func (s *Synchronizer) Sync(ctx context.Context, reqCtx *types.RequestContext, sourceID, destID string) (Summary, error) {
	var summary Summary
	logger := s.logger.WithTraceID(reqCtx.TraceID)

	processed, err := s.ledger.Load()
	if err != nil {
		return summary, err
	}

	items, err := s.remote.ListChildren(ctx, reqCtx.Derive(types.RequestTypeListOrSearch), sourceID, s.opts.PageSize)
	if err != nil {
		return summary, err
	}
	summary.Listed = len(items)

	logger.Info("Synchronizing folder",
		logging.F("source", sourceID),
		logging.F("destination", destID),
		logging.F("listed", len(items)),
		logging.F("alreadyRecorded", processed.Len()),
	)

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return summary, utils.WrapAppError(utils.NewCLIError(utils.ErrCodeCancelled,
				"Synchronization cancelled").Build(), err)
		}

		key := s.keyOf(item)
		outcome := ItemOutcome{Key: key, FileID: item.ID, Name: item.Name}

		switch {
		case item.MimeType == utils.MimeTypeFolder:
			outcome.Outcome = OutcomeUnsupported
			outcome.Error = "folders cannot be copied"
			summary.Skipped++
			logger.Warn("Skipping sub-folder in source folder",
				logging.F("name", item.Name),
				logging.F("fileId", item.ID),
			)

		case !ledger.ValidKey(key):
			outcome.Outcome = OutcomeFailed
			outcome.Error = "key cannot be stored in the ledger"
			summary.Failed++
			logger.Error("Skipping item with unrecordable key",
				logging.F("fileId", item.ID),
				logging.F("name", item.Name),
			)

		case processed.Has(key):
			outcome.Outcome = OutcomeSkipped
			summary.Skipped++
			logger.Info("Item already copied",
				logging.F("name", item.Name),
				logging.F("key", key),
			)

		case s.opts.DryRun:
			outcome.Outcome = OutcomeWouldCopy
			processed.Add(key)
			logger.Info("Would copy item",
				logging.F("name", item.Name),
				logging.F("destination", destID),
			)

		default:
			copied, err := s.remote.Copy(ctx, reqCtx.Derive(types.RequestTypeMutation), item.ID, item.Name, destID)
			if err != nil {
				outcome.Outcome = OutcomeFailed
				outcome.Error = err.Error()
				summary.Failed++
				logger.Error("Failed to copy item",
					logging.F("name", item.Name),
					logging.F("fileId", item.ID),
					logging.F("error", err.Error()),
				)
				break
			}

			if err := s.ledger.Record(key); err != nil {
				outcome.Outcome = OutcomeCopied
				outcome.CopyID = copied.ID
				summary.Copied++
				summary.Items = append(summary.Items, outcome)
				return summary, err
			}
			processed.Add(key)

			outcome.Outcome = OutcomeCopied
			outcome.CopyID = copied.ID
			summary.Copied++
			logger.Info("Copied item",
				logging.F("name", item.Name),
				logging.F("copyId", copied.ID),
			)
		}

		summary.Items = append(summary.Items, outcome)
	}

	logger.Info("Synchronization finished",
		logging.F("listed", summary.Listed),
		logging.F("copied", summary.Copied),
		logging.F("skipped", summary.Skipped),
		logging.F("failed", summary.Failed),
	)
	return summary, nil
}
