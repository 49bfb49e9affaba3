package executor

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/kylemclaren/local-tasks/internal/action"
	"github.com/kylemclaren/local-tasks/internal/db"
	"github.com/kylemclaren/local-tasks/internal/httpclient"
	"github.com/kylemclaren/local-tasks/internal/launcher"
)

// ErrNoTarget is the error text for jobs with nothing runnable configured
const ErrNoTarget = "No executable or batch file configured."

// HTTPDoer performs an HTTP job request
type HTTPDoer interface {
	Do(ctx context.Context, r httpclient.Request) httpclient.Response
}

// ActionRunner performs a utility action
type ActionRunner interface {
	Run(ctx context.Context, name string, params map[string]string) action.Result
}

// Outcome is the normalized result of executing a job
type Outcome struct {
	Status    db.RunStatus
	ExitCode  *int
	Output    string
	Error     string
	StartTime time.Time
	EndTime   time.Time
}

// Record converts the outcome into a scheduled run record for the given minute
func (o *Outcome) Record(jobID int64, scheduled time.Time) *db.RunRecord {
	return &db.RunRecord{
		JobID:         jobID,
		ScheduledTime: scheduled,
		StartTime:     o.StartTime,
		EndTime:       o.EndTime,
		Status:        o.Status,
		ExitCode:      o.ExitCode,
		Output:        o.Output,
		Error:         o.Error,
	}
}

// Executor routes a job to its backend and normalizes the result
type Executor struct {
	http     HTTPDoer
	actions  ActionRunner
	direct   launcher.Launcher
	elevated launcher.Launcher
	identity launcher.Launcher
	fs       afero.Fs
	shell    []string
	timeout  time.Duration
	logger   *zap.SugaredLogger
	now      func() time.Time
}

// Option configures an Executor
type Option func(*Executor)

// WithHTTPClient sets the HTTP backend
func WithHTTPClient(c HTTPDoer) Option {
	return func(e *Executor) { e.http = c }
}

// WithActions sets the utility action backend
func WithActions(a ActionRunner) Option {
	return func(e *Executor) { e.actions = a }
}

// WithLaunchers sets the process launchers
func WithLaunchers(direct, elevated, identity launcher.Launcher) Option {
	return func(e *Executor) {
		e.direct = direct
		e.elevated = elevated
		e.identity = identity
	}
}

// WithFs sets the filesystem used to check that programs exist
func WithFs(fs afero.Fs) Option {
	return func(e *Executor) { e.fs = fs }
}

// WithShell sets the interpreter prefix for batch files, e.g. ["/bin/sh"]
func WithShell(shell []string) Option {
	return func(e *Executor) {
		if len(shell) > 0 {
			e.shell = shell
		}
	}
}

// WithProcessTimeout bounds process runs
func WithProcessTimeout(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.SugaredLogger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// DefaultShell returns the batch interpreter for the running platform
func DefaultShell() []string {
	if runtime.GOOS == "windows" {
		return []string{"cmd.exe", "/c"}
	}
	return []string{"/bin/sh"}
}

// New creates a new executor
func New(opts ...Option) *Executor {
	e := &Executor{
		direct:   launcher.Direct{},
		elevated: launcher.Elevated{},
		identity: launcher.AlternateIdentity{},
		fs:       afero.NewOsFs(),
		shell:    DefaultShell(),
		timeout:  launcher.DefaultTimeout,
		logger:   zap.NewNop().Sugar(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.http == nil {
		e.http = httpclient.New(httpclient.WithLogger(e.logger))
	}
	if e.actions == nil {
		e.actions = action.New(action.WithFs(e.fs))
	}
	return e
}

// Execute runs the job and always returns an outcome
func (e *Executor) Execute(ctx context.Context, job *db.Job) *Outcome {
	out := &Outcome{StartTime: e.now()}
	kind := job.TargetKind()
	e.logger.Debugw("Executing job", "job_id", job.ID, "name", job.Name, "target", kind)

	switch kind {
	case db.TargetHTTP:
		e.executeHTTP(ctx, job, out)
	case db.TargetAction:
		e.executeAction(ctx, job, out)
	case db.TargetBatch, db.TargetProcess:
		e.executeProcess(ctx, job, out)
	default:
		out.Status = db.RunStatusFailed
		out.Error = ErrNoTarget
	}

	out.EndTime = e.now()
	return out
}

func (e *Executor) executeHTTP(ctx context.Context, job *db.Job, out *Outcome) {
	cfg := job.HTTP
	resp := e.http.Do(ctx, httpclient.Request{
		Method:    cfg.Method,
		URL:       cfg.URL,
		Headers:   cfg.Headers,
		Body:      cfg.Body,
		AuthKind:  cfg.AuthKind,
		AuthValue: cfg.AuthValue,
		Timeout:   time.Duration(cfg.TimeoutSeconds) * time.Second,
		Retries:   cfg.Retries,
	})

	out.Status = db.RunStatusFailed
	if resp.OK() {
		out.Status = db.RunStatusSuccess
	}
	if resp.StatusCode != 0 {
		code := resp.StatusCode
		out.ExitCode = &code
	}
	out.Output = resp.Body
	if resp.Err != nil {
		out.Error = resp.Err.Error()
	}
}

func (e *Executor) executeAction(ctx context.Context, job *db.Job, out *Outcome) {
	code := 1
	out.ExitCode = &code
	out.Status = db.RunStatusFailed

	if problems := action.Validate(job.Action.Name, job.Action.Params); len(problems) > 0 {
		out.Error = strings.Join(problems, " ")
		return
	}

	res := e.actions.Run(ctx, job.Action.Name, job.Action.Params)
	if !res.OK {
		out.Error = res.Message
		return
	}
	code = 0
	out.Status = db.RunStatusSuccess
	out.Output = res.Message
}

// invocation builds the command line, or returns an error message
func (e *Executor) invocation(job *db.Job) (launcher.Invocation, string) {
	if job.BatchPath != "" {
		if ok, _ := afero.Exists(e.fs, job.BatchPath); !ok {
			return launcher.Invocation{}, ErrNoTarget
		}
		args := append(append([]string{}, e.shell[1:]...), job.BatchPath)
		return launcher.Invocation{Path: e.shell[0], Args: args}, ""
	}

	if ok, _ := afero.Exists(e.fs, job.ProgramPath); !ok {
		return launcher.Invocation{}, ErrNoTarget
	}
	args, err := shellquote.Split(job.Parameters)
	if err != nil {
		return launcher.Invocation{}, fmt.Sprintf("Invalid parameters: %v", err)
	}
	return launcher.Invocation{Path: job.ProgramPath, Args: args}, ""
}

func (e *Executor) executeProcess(ctx context.Context, job *db.Job, out *Outcome) {
	inv, problem := e.invocation(job)
	if problem != "" {
		out.Status = db.RunStatusFailed
		out.Error = problem
		return
	}
	inv.Timeout = e.timeout

	// Never fall back to a direct launch when the identity cannot be read
	if job.RunAs.Enabled && job.SecretError != "" {
		out.Status = db.RunStatusFailed
		out.Error = job.SecretError
		e.logger.Warnw("Refusing to launch job", "job_id", job.ID, "error", job.SecretError)
		return
	}

	l := e.direct
	switch {
	case job.RunAs.Admin:
		l = e.elevated
	case job.RunAs.Enabled && job.RunAs.User != "" && job.RunAs.Password != "":
		l = e.identity
		inv.User = job.RunAs.User
		inv.Domain = job.RunAs.Domain
		inv.Password = job.RunAs.Password
	}

	res, err := l.Launch(ctx, inv)
	out.Output = res.Stdout
	out.Error = res.Stderr

	switch {
	case res.TimedOut:
		out.Status = db.RunStatusTimeout
		msg := fmt.Sprintf("process timed out after %s", e.timeout)
		if out.Error != "" {
			msg = strings.TrimRight(out.Error, "\n") + "\n" + msg
		}
		out.Error = msg
	case err != nil:
		out.Status = db.RunStatusFailed
		out.Error = err.Error()
		e.logger.Warnw("Failed to launch job", "job_id", job.ID, "error", err)
	default:
		code := res.ExitCode
		out.ExitCode = &code
		out.Status = db.RunStatusSuccess
		if code != 0 {
			out.Status = db.RunStatusFailed
		}
	}
}
