package main

import (
	"os"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/kylemclaren/local-tasks/internal/action"
	"github.com/kylemclaren/local-tasks/internal/config"
	"github.com/kylemclaren/local-tasks/internal/db"
	"github.com/kylemclaren/local-tasks/internal/executor"
	"github.com/kylemclaren/local-tasks/internal/httpclient"
	"github.com/kylemclaren/local-tasks/internal/launcher"
	"github.com/kylemclaren/local-tasks/internal/logger"
	"github.com/kylemclaren/local-tasks/internal/mailer"
	"github.com/kylemclaren/local-tasks/internal/notify"
	"github.com/kylemclaren/local-tasks/internal/scheduler"
	"github.com/kylemclaren/local-tasks/internal/secret"
	"github.com/kylemclaren/local-tasks/internal/stream"
)

// app holds the wired components shared by the commands
type app struct {
	cfg   *config.Config
	log   *zap.SugaredLogger
	store *db.DB
}

func newApp(configFile string) (*app, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.JSON, os.Stderr)
	if err != nil {
		return nil, err
	}

	box, err := secret.LoadOrCreateKey(cfg.KeyFile())
	if err != nil {
		return nil, errors.Wrap(err, "failed to load secret key")
	}

	store, err := db.New(cfg.DatabasePath(), db.WithCodec(box))
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize database")
	}

	return &app{cfg: cfg, log: log, store: store}, nil
}

// newScheduler wires the execution stack into a scheduler publishing to events
func (a *app) newScheduler(events *stream.Manager) *scheduler.Scheduler {
	cfg := a.cfg

	client := httpclient.New(
		httpclient.WithRetryWait(cfg.HTTP.RetryWait),
		httpclient.WithDefaultTimeout(cfg.HTTP.DefaultTimeout),
		httpclient.WithDownloadTimeout(cfg.HTTP.DownloadTimeout),
		httpclient.WithLogger(a.log.Named("http")),
	)
	smtp := mailer.SMTP{}

	actions := action.New(
		action.WithHTTPClient(client),
		action.WithMailSender(smtp),
	)

	elevate := cfg.Executor.ElevateCommand
	if len(elevate) == 0 {
		elevate = launcher.DefaultElevateCommand()
	}
	timeout := cfg.Executor.ProcessTimeout

	execOpts := []executor.Option{
		executor.WithHTTPClient(client),
		executor.WithActions(actions),
		executor.WithLaunchers(
			launcher.Direct{Timeout: timeout},
			launcher.Elevated{Command: elevate, Timeout: timeout},
			launcher.AlternateIdentity{Timeout: timeout},
		),
		executor.WithProcessTimeout(timeout),
		executor.WithLogger(a.log.Named("executor")),
	}
	if len(cfg.Executor.Shell) > 0 {
		execOpts = append(execOpts, executor.WithShell(cfg.Executor.Shell))
	}
	exec := executor.New(execOpts...)

	opts := []scheduler.Option{
		scheduler.WithConfig(scheduler.Config{
			PollInterval:      cfg.Scheduler.PollInterval,
			Workers:           cfg.Scheduler.Workers,
			StopTimeout:       cfg.Scheduler.StopTimeout,
			RetentionDays:     cfg.Retention.Days,
			RetentionSchedule: cfg.Retention.Schedule,
		}),
		scheduler.WithLogger(a.log.Named("scheduler")),
		scheduler.WithNotifier(notify.New(client, smtp, cfg.SMTP, a.log.Named("notify"))),
	}
	if events != nil {
		opts = append(opts, scheduler.WithEvents(events))
	}
	return scheduler.New(a.store, exec, opts...)
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.log.Warnw("Failed to close database", "error", err)
	}
	_ = a.log.Sync()
}
