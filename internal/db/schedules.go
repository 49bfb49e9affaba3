package db

import (
	"context"
	"database/sql"
	"sort"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
)

// ErrInvalidSchedule is returned for slot specs that can never be stored
var ErrInvalidSchedule = errors.New("invalid schedule")

// MinuteGrid is the resolution of minute-of-day values
const MinuteGrid = 5

// Candidate pairs an active job with one of its active slots
type Candidate struct {
	Job  *Job
	Slot ScheduleSlot
}

// Validate checks a slot spec. An empty minute list is always valid and clears the schedule.
func (s SlotSpec) Validate() error {
	if len(s.Minutes) == 0 {
		return nil
	}
	for _, m := range s.Minutes {
		if m < 0 || m > 1439 {
			return errors.Wrapf(ErrInvalidSchedule, "minute_of_day %d out of range", m)
		}
		if m%MinuteGrid != 0 {
			return errors.Wrapf(ErrInvalidSchedule, "minute_of_day %d is not on the %d minute grid", m, MinuteGrid)
		}
	}
	switch s.Kind {
	case KindRecurring:
		if s.DaysMask <= 0 || s.DaysMask > AllDays {
			return errors.Wrapf(ErrInvalidSchedule, "days_mask %d must select at least one weekday", s.DaysMask)
		}
	case KindDate:
		if _, err := time.Parse(dateLayout, s.Date); err != nil {
			return errors.Wrapf(ErrInvalidSchedule, "date %q is not YYYY-MM-DD", s.Date)
		}
	case KindMonthly:
		day, err := strconv.Atoi(s.Date)
		if err != nil || day < 1 || day > 31 {
			return errors.Wrapf(ErrInvalidSchedule, "day of month %q must be 1-31", s.Date)
		}
	default:
		return errors.Wrapf(ErrInvalidSchedule, "unknown schedule type %q", s.Kind)
	}
	return nil
}

// ReplaceSlots deletes a job's slots and inserts one slot per distinct minute of spec
func (db *DB) ReplaceSlots(ctx context.Context, jobID int64, spec SlotSpec) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	return db.withTx(ctx, func(tx *sql.Tx) error {
		return replaceSlots(ctx, tx, jobID, spec)
	})
}

// replaceSlots expects a validated spec
func replaceSlots(ctx context.Context, tx *sql.Tx, jobID int64, spec SlotSpec) error {
	minutes := uniqueSorted(spec.Minutes)
	var date any
	if spec.Kind != KindRecurring && spec.Date != "" {
		date = spec.Date
	}
	now := time.Now().Format(timeLayout)

	if _, err := tx.ExecContext(ctx, "DELETE FROM schedules WHERE job_id = ?", jobID); err != nil {
		return errors.Wrapf(err, "failed to clear schedules of job %d", jobID)
	}
	if len(minutes) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO schedules (job_id, schedule_type, days_mask, date, minute_of_day, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return errors.Wrap(err, "failed to prepare schedule insert")
	}
	defer stmt.Close()

	for _, m := range minutes {
		if _, err := stmt.ExecContext(ctx, jobID, string(spec.Kind), spec.DaysMask, date, m, spec.Active, now, now); err != nil {
			return errors.Wrapf(err, "failed to insert schedule for job %d", jobID)
		}
	}
	return nil
}

// SetSlotsActive enables or disables every slot of a job
func (db *DB) SetSlotsActive(ctx context.Context, jobID int64, active bool) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		return setSlotsActive(ctx, tx, jobID, active)
	})
}

func setSlotsActive(ctx context.Context, tx *sql.Tx, jobID int64, active bool) error {
	_, err := tx.ExecContext(ctx,
		"UPDATE schedules SET active = ?, updated_at = ? WHERE job_id = ?",
		active, time.Now().Format(timeLayout), jobID)
	if err != nil {
		return errors.Wrapf(err, "failed to update schedules of job %d", jobID)
	}
	return nil
}

// ListSlots retrieves a job's slots ordered by minute of day
func (db *DB) ListSlots(ctx context.Context, jobID int64) ([]ScheduleSlot, error) {
	return db.querySlots(ctx, `
		SELECT id, job_id, schedule_type, days_mask, COALESCE(date, ''), minute_of_day, active
		FROM schedules WHERE job_id = ? ORDER BY minute_of_day
	`, jobID)
}

// ListAllSlots retrieves every slot grouped by job
func (db *DB) ListAllSlots(ctx context.Context) (map[int64][]ScheduleSlot, error) {
	slots, err := db.querySlots(ctx, `
		SELECT id, job_id, schedule_type, days_mask, COALESCE(date, ''), minute_of_day, active
		FROM schedules ORDER BY job_id, minute_of_day
	`)
	if err != nil {
		return nil, err
	}
	byJob := make(map[int64][]ScheduleSlot)
	for _, s := range slots {
		byJob[s.JobID] = append(byJob[s.JobID], s)
	}
	return byJob, nil
}

// ListDueCandidates returns active jobs paired with their active slots at minuteOfDay.
// Date conditions are left to the caller.
func (db *DB) ListDueCandidates(ctx context.Context, minuteOfDay int) ([]Candidate, error) {
	slots, err := db.querySlots(ctx, `
		SELECT s.id, s.job_id, s.schedule_type, s.days_mask, COALESCE(s.date, ''), s.minute_of_day, s.active
		FROM schedules s
		JOIN jobs j ON s.job_id = j.id
		WHERE j.active = 1 AND s.active = 1 AND s.minute_of_day = ?
		ORDER BY s.job_id, s.id
	`, minuteOfDay)
	if err != nil {
		return nil, err
	}

	jobs := make(map[int64]*Job)
	candidates := make([]Candidate, 0, len(slots))
	for _, slot := range slots {
		job, ok := jobs[slot.JobID]
		if !ok {
			job, err = db.GetJob(ctx, slot.JobID)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			jobs[slot.JobID] = job
		}
		candidates = append(candidates, Candidate{Job: job, Slot: slot})
	}
	return candidates, nil
}

func (db *DB) querySlots(ctx context.Context, query string, args ...any) ([]ScheduleSlot, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query schedules")
	}
	defer rows.Close()

	var slots []ScheduleSlot
	for rows.Next() {
		var s ScheduleSlot
		var kind string
		if err := rows.Scan(&s.ID, &s.JobID, &kind, &s.DaysMask, &s.Date, &s.MinuteOfDay, &s.Active); err != nil {
			return nil, errors.Wrap(err, "failed to scan schedule")
		}
		s.Kind = ScheduleKind(kind)
		slots = append(slots, s)
	}
	return slots, rows.Err()
}

func uniqueSorted(in []int) []int {
	seen := make(map[int]bool, len(in))
	out := make([]int, 0, len(in))
	for _, v := range in {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Ints(out)
	return out
}
