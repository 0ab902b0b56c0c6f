package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	testhelpers "github.com/dl-alexandre/drivepdf/internal/testing"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "state", "history.db"))
	testhelpers.AssertNoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpen_MigrateIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	testhelpers.AssertNoError(t, db.Migrate(context.Background()))
}

func TestRunLifecycle(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	start := time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC)

	testhelpers.AssertNoError(t, db.StartRun(ctx, Run{ID: "run-1", Profile: "default", StartedAt: start}))

	runs, err := db.ListRuns(ctx, 0)
	testhelpers.AssertNoError(t, err)
	testhelpers.AssertEqual(t, len(runs), 1)
	testhelpers.AssertEqual(t, runs[0].Status, StatusRunning)
	testhelpers.AssertEqual(t, runs[0].FinishedAt.IsZero(), true)

	testhelpers.AssertNoError(t, db.RecordItem(ctx, Item{RunID: "run-1", Stage: StageSync, Name: "a.docx", FileID: "f1", Outcome: "copied", RecordedAt: start}))
	testhelpers.AssertNoError(t, db.RecordItem(ctx, Item{RunID: "run-1", Stage: StageConvert, Name: "a.docx", Outcome: "failed", Message: "exit 1", RecordedAt: start}))

	testhelpers.AssertNoError(t, db.FinishRun(ctx, Run{
		ID:         "run-1",
		FinishedAt: start.Add(time.Minute),
		Status:     StatusPartial,
		Copied:     1,
		Failed:     1,
	}))

	runs, err = db.ListRuns(ctx, 0)
	testhelpers.AssertNoError(t, err)
	got := runs[0]
	testhelpers.AssertEqual(t, got.Status, StatusPartial)
	testhelpers.AssertEqual(t, got.Copied, 1)
	testhelpers.AssertEqual(t, got.Failed, 1)
	testhelpers.AssertEqual(t, got.StartedAt.Equal(start), true)
	testhelpers.AssertEqual(t, got.FinishedAt.Equal(start.Add(time.Minute)), true)

	items, err := db.ListItems(ctx, "run-1")
	testhelpers.AssertNoError(t, err)
	testhelpers.AssertEqual(t, len(items), 2)
	testhelpers.AssertEqual(t, items[0].Stage, StageSync)
	testhelpers.AssertEqual(t, items[0].FileID, "f1")
	testhelpers.AssertEqual(t, items[1].FileID, "")
	testhelpers.AssertEqual(t, items[1].Message, "exit 1")
}

func TestListRuns_NewestFirstWithLimit(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"old", "mid", "new"} {
		testhelpers.AssertNoError(t, db.StartRun(ctx, Run{ID: id, Profile: "p", StartedAt: base.Add(time.Duration(i) * time.Hour), DryRun: id == "mid"}))
	}

	runs, err := db.ListRuns(ctx, 2)
	testhelpers.AssertNoError(t, err)
	testhelpers.AssertEqual(t, len(runs), 2)
	testhelpers.AssertEqual(t, runs[0].ID, "new")
	testhelpers.AssertEqual(t, runs[1].ID, "mid")
	testhelpers.AssertEqual(t, runs[1].DryRun, true)
}

func TestCloseNil(t *testing.T) {
	var db *DB
	testhelpers.AssertNoError(t, db.Close())
}
