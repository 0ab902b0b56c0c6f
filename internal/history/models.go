package history

import "time"

// Run statuses
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusPartial   = "partial"
	StatusFailed    = "failed"
)

// Stages an item outcome can belong to
const (
	StageSync    = "sync"
	StageConvert = "convert"
	StageUpload  = "upload"
)

// Run is one pipeline execution
type Run struct {
	ID         string    `json:"id"`
	Profile    string    `json:"profile"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	Status     string    `json:"status"`
	DryRun     bool      `json:"dryRun"`
	Copied     int       `json:"copied"`
	Converted  int       `json:"converted"`
	Uploaded   int       `json:"uploaded"`
	Failed     int       `json:"failed"`
	Error      string    `json:"error,omitempty"`
}

// Item is the outcome for one file in one stage of a run
type Item struct {
	RunID      string    `json:"runId"`
	Stage      string    `json:"stage"`
	Name       string    `json:"name"`
	FileID     string    `json:"fileId,omitempty"`
	Outcome    string    `json:"outcome"`
	Message    string    `json:"message,omitempty"`
	RecordedAt time.Time `json:"recordedAt"`
}
