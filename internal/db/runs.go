package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/mattn/go-sqlite3"
)

// HasRun reports whether a run is already recorded for the job at the scheduled minute
func (db *DB) HasRun(ctx context.Context, jobID int64, scheduled time.Time) (bool, error) {
	var one int
	err := db.conn.QueryRowContext(ctx,
		"SELECT 1 FROM run_logs WHERE job_id = ? AND scheduled_time = ?",
		jobID, MinuteKey(scheduled)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "failed to check run of job %d", jobID)
	}
	return true, nil
}

// RecordRun appends a run record and updates the job's last run time in one transaction.
// A record that already exists for (job, scheduled minute) is left untouched and
// inserted is false; this is not an error. Manual runs use their own key, see RunKey.
func (db *DB) RecordRun(ctx context.Context, run *RunRecord) (inserted bool, err error) {
	err = db.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			INSERT INTO run_logs (job_id, scheduled_time, start_time, end_time, status, exit_code, output, error)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(job_id, scheduled_time) DO NOTHING
		`, run.JobID, RunKey(run),
			run.StartTime.Format(timeLayout), run.EndTime.Format(timeLayout),
			string(run.Status), run.ExitCode, run.Output, run.Error)
		if isUniqueViolation(err) {
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, "failed to insert run of job %d", run.JobID)
		}

		n, err := result.RowsAffected()
		if err != nil {
			return errors.Wrap(err, "failed to read affected rows")
		}
		if n == 0 {
			return nil
		}
		if id, err := result.LastInsertId(); err == nil {
			run.ID = id
		}

		end := run.EndTime.Format(timeLayout)
		if _, err := tx.ExecContext(ctx,
			"UPDATE jobs SET last_run_at = ?, updated_at = ? WHERE id = ?",
			end, end, run.JobID); err != nil {
			return errors.Wrapf(err, "failed to update last run of job %d", run.JobID)
		}
		inserted = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return inserted, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

const runColumns = `r.id, r.job_id, r.scheduled_time, COALESCE(r.start_time, ''), COALESCE(r.end_time, ''),
	r.status, r.exit_code, COALESCE(r.output, ''), COALESCE(r.error, '')`

// GetRun retrieves the run recorded for a job at a scheduled minute
func (db *DB) GetRun(ctx context.Context, jobID int64, scheduled time.Time) (*RunRecord, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+runColumns+" FROM run_logs r WHERE r.job_id = ? AND r.scheduled_time = ?",
		jobID, MinuteKey(scheduled))
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(ErrNotFound, "run of job %d at %s", jobID, MinuteKey(scheduled))
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get run")
	}
	return run, nil
}

// ListJobRuns retrieves the most recent runs of one job
func (db *DB) ListJobRuns(ctx context.Context, jobID int64, limit int) ([]*RunRecord, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+runColumns+" FROM run_logs r WHERE r.job_id = ? ORDER BY r.scheduled_time DESC, r.id DESC LIMIT ?",
		jobID, limit)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list runs of job %d", jobID)
	}
	defer rows.Close()

	var runs []*RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan run")
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// ListRunLogs retrieves a page of recent runs across all jobs, newest first
func (db *DB) ListRunLogs(ctx context.Context, limit, offset int) ([]*RunLogEntry, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT `+runColumns+`, COALESCE(j.name, '')
		FROM run_logs r
		LEFT JOIN jobs j ON r.job_id = j.id
		ORDER BY r.scheduled_time DESC, r.id DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list run logs")
	}
	defer rows.Close()

	var entries []*RunLogEntry
	for rows.Next() {
		entry := &RunLogEntry{}
		if err := scanRunInto(rows, &entry.RunRecord, &entry.JobName); err != nil {
			return nil, errors.Wrap(err, "failed to scan run log")
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// CountRuns returns the total number of run records
func (db *DB) CountRuns(ctx context.Context) (int, error) {
	var n int
	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM run_logs").Scan(&n); err != nil {
		return 0, errors.Wrap(err, "failed to count runs")
	}
	return n, nil
}

// CleanupRuns deletes run records scheduled before the cutoff
func (db *DB) CleanupRuns(ctx context.Context, before time.Time) (int64, error) {
	result, err := db.conn.ExecContext(ctx, "DELETE FROM run_logs WHERE scheduled_time < ?", MinuteKey(before))
	if err != nil {
		return 0, errors.Wrap(err, "failed to clean up runs")
	}
	return result.RowsAffected()
}

func scanRun(s rowScanner) (*RunRecord, error) {
	run := &RunRecord{}
	if err := scanRunInto(s, run); err != nil {
		return nil, err
	}
	return run, nil
}

func scanRunInto(s rowScanner, run *RunRecord, extra ...any) error {
	var (
		scheduled, start, end, status string
		exitCode                      sql.NullInt64
	)
	dest := []any{&run.ID, &run.JobID, &scheduled, &start, &end, &status, &exitCode, &run.Output, &run.Error}
	if err := s.Scan(append(dest, extra...)...); err != nil {
		return err
	}
	run.Status = RunStatus(status)
	run.Manual = len(scheduled) > len(minuteLayout)
	if exitCode.Valid {
		code := int(exitCode.Int64)
		run.ExitCode = &code
	}
	if t, err := parseTime(scheduled); err == nil {
		run.ScheduledTime = t
	}
	if t, err := parseTime(start); err == nil {
		run.StartTime = t
	}
	if t, err := parseTime(end); err == nil {
		run.EndTime = t
	}
	return nil
}
