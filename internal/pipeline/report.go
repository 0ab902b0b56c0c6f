package pipeline

import (
	"fmt"
	"sort"
	"time"

	"github.com/dl-alexandre/drivepdf/internal/history"
	"github.com/dl-alexandre/drivepdf/internal/types"
)

// Item outcomes written by the convert and upload stages. The sync stage
// uses the synchronizer's own outcomes.
const (
	OutcomeConverted      = "converted"
	OutcomeWouldConvert   = "would_convert"
	OutcomeUnsupported    = "unsupported"
	OutcomeDownloadFailed = "download_failed"
	OutcomeConvertFailed  = "convert_failed"
	OutcomeDeleteFailed   = "delete_failed"
	OutcomeUploaded       = "uploaded"
	OutcomeWouldUpload    = "would_upload"
	OutcomeUploadFailed   = "upload_failed"
	OutcomePending        = "pending"
)

// Item is the outcome for one file in one stage
type Item struct {
	Stage   string `json:"stage"`
	Name    string `json:"name"`
	FileID  string `json:"fileId,omitempty"`
	Outcome string `json:"outcome"`
	Message string `json:"message,omitempty"`
}

// SyncCounts summarises the archive copy stage
type SyncCounts struct {
	Listed  int    `json:"listed"`
	Copied  int    `json:"copied"`
	Skipped int    `json:"skipped"`
	Failed  int    `json:"failed"`
	Error   string `json:"error,omitempty"`
}

// Report describes what a run did
type Report struct {
	RunID             string         `json:"runId"`
	Status            string         `json:"status"`
	DryRun            bool           `json:"dryRun"`
	StartedAt         time.Time      `json:"startedAt"`
	FinishedAt        time.Time      `json:"finishedAt"`
	DateFolder        string         `json:"dateFolder"`
	DateFolderID      string         `json:"dateFolderId,omitempty"`
	DateFolderCreated bool           `json:"dateFolderCreated"`
	Sync              *SyncCounts    `json:"sync,omitempty"`
	SourceListed      int            `json:"sourceListed"`
	SourceError       string         `json:"sourceError,omitempty"`
	Owners            map[string]int `json:"owners,omitempty"`
	Converted         int            `json:"converted"`
	Failed            int            `json:"failed"`
	Uploaded          int            `json:"uploaded"`
	Pending           int            `json:"pending"`
	Items             []Item         `json:"items"`
}

func (r *Report) add(item Item) {
	r.Items = append(r.Items, item)
	switch item.Outcome {
	case OutcomeConverted:
		r.Converted++
	case OutcomeUploaded:
		r.Uploaded++
	case OutcomePending:
		r.Pending++
	case OutcomeDownloadFailed, OutcomeConvertFailed, OutcomeDeleteFailed, OutcomeUploadFailed:
		r.Failed++
	}
}

func (r *Report) failures() int {
	n := r.Failed
	if r.Sync != nil {
		n += r.Sync.Failed
		if r.Sync.Error != "" {
			n++
		}
	}
	if r.SourceError != "" {
		n++
	}
	return n
}

func (r *Report) copied() int {
	if r.Sync == nil {
		return 0
	}
	return r.Sync.Copied
}

// historyRun converts the report into its history row
func (r *Report) historyRun(profile string) history.Run {
	return history.Run{
		ID:         r.RunID,
		Profile:    profile,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Status:     r.Status,
		DryRun:     r.DryRun,
		Copied:     r.copied(),
		Converted:  r.Converted,
		Uploaded:   r.Uploaded,
		Failed:     r.failures(),
	}
}

// OwnerLines returns the per-owner upload counts, one line per owner in
// name order
func (r *Report) OwnerLines() []string {
	owners := make([]string, 0, len(r.Owners))
	for owner := range r.Owners {
		owners = append(owners, owner)
	}
	sort.Strings(owners)
	lines := make([]string, 0, len(owners))
	for _, owner := range owners {
		lines = append(lines, fmt.Sprintf("Files uploaded by %s: %d", owner, r.Owners[owner]))
	}
	return lines
}

// AsTableRenderer lists the per-item outcomes
func (r *Report) AsTableRenderer() types.TableRenderer {
	return itemTable(r.Items)
}

type itemTable []Item

func (t itemTable) Headers() []string {
	return []string{"Stage", "Name", "Outcome", "Message"}
}

func (t itemTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, item := range t {
		rows = append(rows, []string{item.Stage, item.Name, item.Outcome, item.Message})
	}
	return rows
}

func (t itemTable) EmptyMessage() string {
	return "Nothing to do."
}
