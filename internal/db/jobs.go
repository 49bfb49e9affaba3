package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

const legacyToolPrefix = "tool:"

const jobColumns = `
	id, name, COALESCE(description, ''), COALESCE(send_to, ''),
	COALESCE(program_path, ''), COALESCE(parameters, ''), COALESCE(batch_path, ''),
	api_enabled, COALESCE(api_method, ''), COALESCE(api_url, ''), COALESCE(api_headers, ''),
	COALESCE(api_body, ''), COALESCE(api_auth_type, ''), COALESCE(api_auth_value, ''),
	COALESCE(api_timeout, 0), COALESCE(api_retries, 0),
	COALESCE(action_name, ''), COALESCE(action_params, ''),
	active, once_per_day, autostart,
	run_as_enabled, run_as_admin, COALESCE(run_as_user, ''), COALESCE(run_as_domain, ''),
	COALESCE(run_as_password, ''),
	last_run_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// jobArgs returns the column values shared by insert and update, in jobWriteColumns order.
func (db *DB) jobArgs(job *Job) ([]any, error) {
	password, err := db.codec.Encrypt(job.RunAs.Password)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encrypt run-as password")
	}

	var actionName, actionParams string
	if job.Action != nil && job.Action.Name != "" {
		actionName = job.Action.Name
		if len(job.Action.Params) > 0 {
			raw, err := json.Marshal(job.Action.Params)
			if err != nil {
				return nil, errors.Wrap(err, "failed to encode action params")
			}
			actionParams = string(raw)
		}
	}

	authKind := string(job.HTTP.AuthKind)
	if job.HTTP.AuthKind == "" {
		authKind = string(AuthNone)
	}

	return []any{
		job.Name, job.Description, job.SendTo,
		job.ProgramPath, job.Parameters, job.BatchPath,
		job.HTTP.Enabled, job.HTTP.Method, job.HTTP.URL, formatHeaders(job.HTTP.Headers),
		job.HTTP.Body, authKind, job.HTTP.AuthValue,
		job.HTTP.TimeoutSeconds, job.HTTP.Retries,
		actionName, actionParams,
		job.Active, job.OncePerDay, job.Autostart,
		job.RunAs.Enabled, job.RunAs.Admin, job.RunAs.User, job.RunAs.Domain,
		password,
	}, nil
}

const jobWriteColumns = `name, description, send_to, program_path, parameters, batch_path,
	api_enabled, api_method, api_url, api_headers, api_body, api_auth_type, api_auth_value,
	api_timeout, api_retries, action_name, action_params,
	active, once_per_day, autostart,
	run_as_enabled, run_as_admin, run_as_user, run_as_domain, run_as_password`

// CreateJob creates a new job
func (db *DB) CreateJob(ctx context.Context, job *Job) error {
	return db.CreateJobWithSlots(ctx, job, nil)
}

// CreateJobWithSlots creates a job and, when spec is set, its slots in one
// transaction. Nothing is stored if either part fails.
func (db *DB) CreateJobWithSlots(ctx context.Context, job *Job, spec *SlotSpec) error {
	if spec != nil {
		if err := spec.Validate(); err != nil {
			return err
		}
	}
	args, err := db.jobArgs(job)
	if err != nil {
		return err
	}
	now := time.Now()
	args = append(args, now.Format(timeLayout), now.Format(timeLayout))

	var id int64
	err = db.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			INSERT INTO jobs (`+jobWriteColumns+`, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, args...)
		if err != nil {
			return errors.Wrap(err, "failed to create job")
		}
		if id, err = result.LastInsertId(); err != nil {
			return errors.Wrap(err, "failed to read job id")
		}
		if spec == nil {
			return nil
		}
		return replaceSlots(ctx, tx, id, *spec)
	})
	if err != nil {
		return err
	}

	job.ID = id
	job.CreatedAt = now.Truncate(time.Second)
	job.UpdatedAt = job.CreatedAt
	return nil
}

// GetJob retrieves a job by ID
func (db *DB) GetJob(ctx context.Context, id int64) (*Job, error) {
	row := db.conn.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM jobs WHERE id = ?", id)
	job, err := db.scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(ErrNotFound, "job %d", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get job %d", id)
	}
	return job, nil
}

// ListJobs retrieves all jobs ordered by name
func (db *DB) ListJobs(ctx context.Context) ([]*Job, error) {
	rows, err := db.conn.QueryContext(ctx, "SELECT "+jobColumns+" FROM jobs ORDER BY name COLLATE NOCASE, id")
	if err != nil {
		return nil, errors.Wrap(err, "failed to list jobs")
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := db.scanJob(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan job")
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// SlotChange is the schedule part of a job update. Replace wins over Active;
// the zero value leaves the slots alone.
type SlotChange struct {
	Replace *SlotSpec
	Active  *bool
}

// UpdateJob updates every stored attribute of a job except last_run_at
func (db *DB) UpdateJob(ctx context.Context, job *Job) error {
	return db.UpdateJobWithSlots(ctx, job, SlotChange{})
}

// UpdateJobWithSlots updates a job and applies change to its slots in one transaction
func (db *DB) UpdateJobWithSlots(ctx context.Context, job *Job, change SlotChange) error {
	if change.Replace != nil {
		if err := change.Replace.Validate(); err != nil {
			return err
		}
	}
	args, err := db.jobArgs(job)
	if err != nil {
		return err
	}
	updated := time.Now().Truncate(time.Second)
	args = append(args, updated.Format(timeLayout), job.ID)

	err = db.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE jobs SET name = ?, description = ?, send_to = ?, program_path = ?, parameters = ?, batch_path = ?,
				api_enabled = ?, api_method = ?, api_url = ?, api_headers = ?, api_body = ?, api_auth_type = ?, api_auth_value = ?,
				api_timeout = ?, api_retries = ?, action_name = ?, action_params = ?,
				active = ?, once_per_day = ?, autostart = ?,
				run_as_enabled = ?, run_as_admin = ?, run_as_user = ?, run_as_domain = ?, run_as_password = ?,
				updated_at = ?
			WHERE id = ?
		`, args...)
		if err != nil {
			return errors.Wrapf(err, "failed to update job %d", job.ID)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return errors.Wrap(err, "failed to read affected rows")
		}
		if n == 0 {
			return errors.Wrapf(ErrNotFound, "job %d", job.ID)
		}

		switch {
		case change.Replace != nil:
			return replaceSlots(ctx, tx, job.ID, *change.Replace)
		case change.Active != nil:
			return setSlotsActive(ctx, tx, job.ID, *change.Active)
		}
		return nil
	})
	if err != nil {
		return err
	}
	job.UpdatedAt = updated
	return nil
}

// DeleteJob deletes a job together with its schedule slots and run records
func (db *DB) DeleteJob(ctx context.Context, id int64) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM schedules WHERE job_id = ?", id); err != nil {
			return errors.Wrapf(err, "failed to delete schedules of job %d", id)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM run_logs WHERE job_id = ?", id); err != nil {
			return errors.Wrapf(err, "failed to delete runs of job %d", id)
		}
		result, err := tx.ExecContext(ctx, "DELETE FROM jobs WHERE id = ?", id)
		if err != nil {
			return errors.Wrapf(err, "failed to delete job %d", id)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return errors.Wrap(err, "failed to read affected rows")
		}
		if n == 0 {
			return errors.Wrapf(ErrNotFound, "job %d", id)
		}
		return nil
	})
}

func (db *DB) scanJob(s rowScanner) (*Job, error) {
	job := &Job{}
	var (
		headers, authKind, actionName, actionParams, password string
		lastRun, created, updated                             sql.NullString
	)
	err := s.Scan(
		&job.ID, &job.Name, &job.Description, &job.SendTo,
		&job.ProgramPath, &job.Parameters, &job.BatchPath,
		&job.HTTP.Enabled, &job.HTTP.Method, &job.HTTP.URL, &headers,
		&job.HTTP.Body, &authKind, &job.HTTP.AuthValue,
		&job.HTTP.TimeoutSeconds, &job.HTTP.Retries,
		&actionName, &actionParams,
		&job.Active, &job.OncePerDay, &job.Autostart,
		&job.RunAs.Enabled, &job.RunAs.Admin, &job.RunAs.User, &job.RunAs.Domain,
		&password,
		&lastRun, &created, &updated,
	)
	if err != nil {
		return nil, err
	}

	job.HTTP.Headers = ParseHeaders(headers)
	job.HTTP.AuthKind = ParseAuthKind(authKind)

	switch {
	case actionName != "":
		job.Action = &Action{Name: actionName, Params: map[string]string{}}
		if actionParams != "" {
			if err := json.Unmarshal([]byte(actionParams), &job.Action.Params); err != nil {
				return nil, errors.Wrapf(err, "job %d has malformed action params", job.ID)
			}
		}
	case strings.HasPrefix(job.ProgramPath, legacyToolPrefix):
		job.Action = &Action{
			Name:   strings.TrimPrefix(job.ProgramPath, legacyToolPrefix),
			Params: parseLegacyParams(job.Parameters),
		}
		job.ProgramPath = ""
		job.Parameters = ""
	}

	// A job with an unreadable secret still loads so the rest of the list
	// is usable; the executor fails it instead.
	if job.RunAs.Password, err = db.codec.Decrypt(password); err != nil {
		job.RunAs.Password = ""
		job.SecretError = "Run-as password could not be decrypted: " + err.Error()
	}

	job.LastRunAt = parseNullTime(lastRun)
	if t := parseNullTime(created); t != nil {
		job.CreatedAt = *t
	}
	if t := parseNullTime(updated); t != nil {
		job.UpdatedAt = *t
	}
	return job, nil
}

// parseTime accepts the ISO-8601 forms written by this and earlier versions.
func parseTime(s string) (time.Time, error) {
	layouts := []string{timeLayout, minuteLayout, "2006-01-02T15:04:05.999999", time.RFC3339Nano, dateLayout}
	var lastErr error
	for _, layout := range layouts {
		t, err := time.ParseInLocation(layout, s, time.Local)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil
	}
	return &t
}
