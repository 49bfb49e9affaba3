package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/kylemclaren/local-tasks/internal/db"
	"github.com/kylemclaren/local-tasks/internal/executor"
	"github.com/kylemclaren/local-tasks/internal/schedule"
)

// minuteKeyLayout identifies the minute a tick has processed
const minuteKeyLayout = "2006-01-02 15:04"

// Store is the job store as seen by the scheduler
type Store interface {
	schedule.Store
	GetJob(ctx context.Context, id int64) (*db.Job, error)
	RecordRun(ctx context.Context, run *db.RunRecord) (bool, error)
	CleanupRuns(ctx context.Context, before time.Time) (int64, error)
}

// Runner executes a job
type Runner interface {
	Execute(ctx context.Context, job *db.Job) *executor.Outcome
}

// Notifier reports a recorded run
type Notifier interface {
	Notify(ctx context.Context, job *db.Job, run *db.RunRecord)
}

// Publisher receives run lifecycle events
type Publisher interface {
	PublishStarted(job *db.Job, scheduled time.Time)
	PublishFinished(job *db.Job, run *db.RunRecord)
}

// Config tunes the loop, the worker pool and the retention sweep
type Config struct {
	PollInterval      time.Duration
	Workers           int
	StopTimeout       time.Duration
	RetentionDays     int
	RetentionSchedule string
}

// DefaultConfig returns the standard settings
func DefaultConfig() Config {
	return Config{
		PollInterval:      time.Second,
		Workers:           4,
		StopTimeout:       5 * time.Second,
		RetentionDays:     30,
		RetentionSchedule: "@daily",
	}
}

// Scheduler polls for due jobs once per minute and runs them on a bounded pool
type Scheduler struct {
	store    Store
	resolver *schedule.Resolver
	runner   Runner
	notifier Notifier
	events   Publisher
	cfg      Config
	logger   *zap.SugaredLogger
	now      func() time.Time
	sem      *semaphore.Weighted

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	cron    *cron.Cron
	lastKey string
	workers sync.WaitGroup
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithConfig replaces the default configuration; zero fields keep defaults
func WithConfig(cfg Config) Option {
	return func(s *Scheduler) {
		def := DefaultConfig()
		if cfg.PollInterval <= 0 {
			cfg.PollInterval = def.PollInterval
		}
		if cfg.Workers <= 0 {
			cfg.Workers = def.Workers
		}
		if cfg.StopTimeout <= 0 {
			cfg.StopTimeout = def.StopTimeout
		}
		if cfg.RetentionSchedule == "" {
			cfg.RetentionSchedule = def.RetentionSchedule
		}
		s.cfg = cfg
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.SugaredLogger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithNotifier sets the post-run notifier
func WithNotifier(n Notifier) Option {
	return func(s *Scheduler) { s.notifier = n }
}

// WithEvents sets the run event publisher
func WithEvents(p Publisher) Option {
	return func(s *Scheduler) { s.events = p }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New creates a new scheduler
func New(store Store, runner Runner, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:    store,
		resolver: schedule.NewResolver(store),
		runner:   runner,
		cfg:      DefaultConfig(),
		logger:   zap.NewNop().Sugar(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.sem = semaphore.NewWeighted(int64(s.cfg.Workers))
	return s
}

// Start starts the polling loop and the retention sweep
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	c := cron.New()
	if s.cfg.RetentionDays > 0 {
		if _, err := c.AddFunc(s.cfg.RetentionSchedule, s.sweep); err != nil {
			return errors.Wrapf(err, "invalid retention schedule %q", s.cfg.RetentionSchedule)
		}
	}
	c.Start()

	ctx, cancel := context.WithCancel(context.Background())
	s.cron = c
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	go s.loop(ctx, s.done)

	s.logger.Infow("Scheduler started", "workers", s.cfg.Workers, "poll_interval", s.cfg.PollInterval)
	return nil
}

// Stop cancels the loop and waits for it up to StopTimeout. Running workers
// are not interrupted; queued submissions are dropped. A loop that outlives
// the timeout still counts as running until it returns, so Start cannot
// launch a second one next to it.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.cancel()
	done := s.done
	c := s.cron
	s.mu.Unlock()

	deadline, cancel := context.WithTimeout(context.Background(), s.cfg.StopTimeout)
	defer cancel()

	select {
	case <-done:
	case <-deadline.Done():
		s.logger.Warnw("Scheduler loop did not stop in time", "timeout", s.cfg.StopTimeout)
	}

	select {
	case <-c.Stop().Done():
	case <-deadline.Done():
	}
	s.logger.Infow("Scheduler stopped")
}

// EnsureRunning starts the scheduler if it is not running
func (s *Scheduler) EnsureRunning() error {
	if s.IsRunning() {
		return nil
	}
	return s.Start()
}

// IsRunning reports whether a loop is live, including one still winding down after Stop
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Wait blocks until every submitted worker has finished
func (s *Scheduler) Wait() {
	s.workers.Wait()
}

// loop owns lastKey; running is cleared only once it has returned.
func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		close(done)
	}()

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		s.tick(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// tick processes the current minute once. The minute is only marked as
// processed after due jobs were resolved, so a failed lookup is retried.
func (s *Scheduler) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorw("Scheduler tick panicked", "panic", fmt.Sprint(r))
		}
	}()

	now := s.now()
	key := now.Format(minuteKeyLayout)
	if key == s.lastKey {
		return
	}

	due, err := s.resolver.DueJobs(ctx, now)
	if err != nil {
		s.logger.Errorw("Failed to resolve due jobs", "minute", key, "error", err)
		return
	}
	s.lastKey = key

	for _, d := range due {
		s.submit(ctx, d.Job, d.ScheduledTime, false)
	}
}

// submit hands the job to the pool without blocking the caller. A submission
// still waiting for a worker slot when ctx ends is dropped.
func (s *Scheduler) submit(ctx context.Context, job *db.Job, scheduled time.Time, manual bool) {
	s.workers.Add(1)
	go func() {
		defer s.workers.Done()
		if err := s.sem.Acquire(ctx, 1); err != nil {
			s.logger.Warnw("Dropped queued job", "job_id", job.ID, "scheduled", db.MinuteKey(scheduled))
			return
		}
		defer s.sem.Release(1)
		s.runJob(context.WithoutCancel(ctx), job, scheduled, manual)
	}()
}

func (s *Scheduler) runJob(ctx context.Context, job *db.Job, scheduled time.Time, manual bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorw("Job worker panicked", "job_id", job.ID, "panic", fmt.Sprint(r))
		}
	}()

	if s.events != nil {
		s.events.PublishStarted(job, scheduled)
	}

	outcome := s.runner.Execute(ctx, job)
	run := outcome.Record(job.ID, scheduled)
	run.Manual = manual

	inserted, err := s.store.RecordRun(ctx, run)
	if err != nil {
		s.logger.Errorw("Failed to record run", "job_id", job.ID, "scheduled", db.RunKey(run), "error", err)
		return
	}
	if !inserted {
		s.logger.Debugw("Run already recorded", "job_id", job.ID, "scheduled", db.RunKey(run))
		return
	}

	s.logger.Infow("Job finished",
		"job_id", job.ID,
		"name", job.Name,
		"status", run.Status,
		"manual", manual,
		"duration", run.EndTime.Sub(run.StartTime).Round(time.Millisecond),
	)
	if next, ok, err := s.resolver.NextRunForJob(ctx, job.ID, s.now()); err == nil && ok {
		s.logger.Debugw("Next run", "job_id", job.ID, "next_run", next.Format(minuteKeyLayout))
	}

	if s.events != nil {
		s.events.PublishFinished(job, run)
	}
	if s.notifier != nil && job.SendTo != "" {
		s.notifier.Notify(ctx, job, run)
	}
}

// RunNow dispatches a job immediately. The run is recorded as manual, so it
// neither replaces nor suppresses the scheduled run of the same minute.
func (s *Scheduler) RunNow(ctx context.Context, jobID int64) error {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return errors.Wrapf(err, "failed to load job %d", jobID)
	}
	s.submit(context.Background(), job, s.now(), true)
	return nil
}
