package history

import (
	"context"
	"database/sql"
	"time"
)

// StartRun inserts a running row for run
func (d *DB) StartRun(ctx context.Context, run Run) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO runs (id, profile, started_at, status, dry_run)
		VALUES (?, ?, ?, ?, ?)
	`, run.ID, run.Profile, run.StartedAt.UnixNano(), StatusRunning, boolToInt(run.DryRun))
	return err
}

// RecordItem appends an item outcome
func (d *DB) RecordItem(ctx context.Context, item Item) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO run_items (run_id, stage, name, file_id, outcome, message, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, item.RunID, item.Stage, item.Name, item.FileID, item.Outcome, item.Message, item.RecordedAt.UnixNano())
	return err
}

// FinishRun stores the final status and counters of run
func (d *DB) FinishRun(ctx context.Context, run Run) error {
	_, err := d.db.ExecContext(ctx, `
		UPDATE runs SET
			finished_at = ?,
			status = ?,
			copied = ?,
			converted = ?,
			uploaded = ?,
			failed = ?,
			error = ?
		WHERE id = ?
	`, run.FinishedAt.UnixNano(), run.Status, run.Copied, run.Converted, run.Uploaded, run.Failed, run.Error, run.ID)
	return err
}

// ListRuns returns the most recent runs first. limit <= 0 returns all.
func (d *DB) ListRuns(ctx context.Context, limit int) (runs []Run, err error) {
	query := `
		SELECT id, profile, started_at, finished_at, status, dry_run, copied, converted, uploaded, failed, error
		FROM runs ORDER BY started_at DESC, id`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	for rows.Next() {
		var run Run
		var started int64
		var finished sql.NullInt64
		var dryRun int
		var errText sql.NullString
		if err := rows.Scan(&run.ID, &run.Profile, &started, &finished, &run.Status, &dryRun,
			&run.Copied, &run.Converted, &run.Uploaded, &run.Failed, &errText); err != nil {
			return nil, err
		}
		run.StartedAt = time.Unix(0, started).UTC()
		if finished.Valid {
			run.FinishedAt = time.Unix(0, finished.Int64).UTC()
		}
		run.DryRun = dryRun != 0
		run.Error = errText.String
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return runs, nil
}

// ListItems returns a run's item outcomes in recording order
func (d *DB) ListItems(ctx context.Context, runID string) (items []Item, err error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT run_id, stage, name, file_id, outcome, message, recorded_at
		FROM run_items WHERE run_id = ? ORDER BY seq
	`, runID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	for rows.Next() {
		var item Item
		var fileID, message sql.NullString
		var recorded int64
		if err := rows.Scan(&item.RunID, &item.Stage, &item.Name, &fileID, &item.Outcome, &message, &recorded); err != nil {
			return nil, err
		}
		item.FileID = fileID.String
		item.Message = message.String
		item.RecordedAt = time.Unix(0, recorded).UTC()
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
