package schedule

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/kylemclaren/local-tasks/internal/db"
)

// Store is the read side of the job store used to resolve due jobs
type Store interface {
	ListDueCandidates(ctx context.Context, minuteOfDay int) ([]db.Candidate, error)
	HasRun(ctx context.Context, jobID int64, scheduled time.Time) (bool, error)
	ListSlots(ctx context.Context, jobID int64) ([]db.ScheduleSlot, error)
}

// DueJob is a job to execute for a scheduled minute
type DueJob struct {
	Job           *db.Job
	ScheduledTime time.Time
}

// Resolver finds due jobs against a Store
type Resolver struct {
	store Store
}

// NewResolver creates a resolver
func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// DueJobs returns each active job with a slot firing at now's minute, excluding
// once-per-day jobs that already ran today and jobs already recorded for this minute.
func (r *Resolver) DueJobs(ctx context.Context, now time.Time) ([]DueJob, error) {
	candidates, err := r.store.ListDueCandidates(ctx, MinuteOfDay(now))
	if err != nil {
		return nil, errors.Wrap(err, "failed to list due candidates")
	}

	scheduled := ScheduledMinute(now)
	seen := make(map[int64]bool)
	var due []DueJob
	for _, c := range candidates {
		if seen[c.Job.ID] || !c.Job.Active || !IsDue(c.Slot, now) {
			continue
		}
		if c.Job.OncePerDay && c.Job.LastRunAt != nil && sameDay(*c.Job.LastRunAt, now) {
			continue
		}
		ran, err := r.store.HasRun(ctx, c.Job.ID, scheduled)
		if err != nil {
			return nil, err
		}
		if ran {
			continue
		}
		seen[c.Job.ID] = true
		due = append(due, DueJob{Job: c.Job, ScheduledTime: scheduled})
	}
	return due, nil
}

// NextRunForJob computes the next run of a stored job after ref
func (r *Resolver) NextRunForJob(ctx context.Context, jobID int64, ref time.Time) (time.Time, bool, error) {
	slots, err := r.store.ListSlots(ctx, jobID)
	if err != nil {
		return time.Time{}, false, err
	}
	next, ok := NextRun(slots, ref)
	return next, ok, nil
}

func sameDay(a, b time.Time) bool {
	b = b.In(a.Location())
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}
