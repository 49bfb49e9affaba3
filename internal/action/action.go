// Package action runs the built-in utility actions a job can target instead of
// an external program.
package action

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/afero"

	"github.com/kylemclaren/local-tasks/internal/httpclient"
	"github.com/kylemclaren/local-tasks/internal/mailer"
)

// Action names
const (
	Copy      = "copy"
	Move      = "move"
	Delete    = "delete"
	Zip       = "zip"
	Download  = "download"
	Email     = "email"
	Wallpaper = "wallpaper"
	Reboot    = "reboot"
	Shutdown  = "shutdown"
	VPN       = "vpn"
)

// Names lists every supported action
var Names = []string{Copy, Move, Delete, Zip, Download, Email, Wallpaper, Reboot, Shutdown, VPN}

var required = map[string][]string{
	Copy:      {"source", "destination"},
	Move:      {"source", "destination"},
	Zip:       {"source", "destination"},
	Delete:    {"target"},
	Download:  {"url", "destination"},
	Email:     {"smtp_host", "smtp_port", "sender", "recipient", "subject", "body"},
	Wallpaper: {"image_path"},
	VPN:       {"command"},
	Reboot:    nil,
	Shutdown:  nil,
}

// Validate returns one message per missing required field, in schema order.
func Validate(name string, params map[string]string) []string {
	fields, ok := required[name]
	if !ok {
		return []string{fmt.Sprintf("Unknown action %q.", name)}
	}
	var problems []string
	for _, f := range fields {
		if params[f] == "" {
			problems = append(problems, fmt.Sprintf("Missing %s.", f))
		}
	}
	return problems
}

// Result is the outcome of one action
type Result struct {
	OK      bool
	Message string
}

func done(msg string) Result { return Result{OK: true, Message: msg} }

func failure(err error) Result { return Result{Message: err.Error()} }

// CommandRunner starts system commands for reboot, shutdown, wallpaper and vpn
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) error
}

// ExecRunner runs commands with os/exec
type ExecRunner struct{}

// Run starts the command and waits for it
func (ExecRunner) Run(ctx context.Context, name string, args ...string) error {
	return exec.CommandContext(ctx, name, args...).Run()
}

// Executor performs actions
type Executor struct {
	fs              afero.Fs
	http            *httpclient.Client
	mail            mailer.Sender
	runner          CommandRunner
	goos            string
	downloadRetries int
}

// Option configures an Executor
type Option func(*Executor)

// WithFs sets the filesystem used by file actions
func WithFs(fs afero.Fs) Option {
	return func(e *Executor) { e.fs = fs }
}

// WithHTTPClient sets the client used by download
func WithHTTPClient(c *httpclient.Client) Option {
	return func(e *Executor) { e.http = c }
}

// WithMailSender sets the mail transport
func WithMailSender(s mailer.Sender) Option {
	return func(e *Executor) { e.mail = s }
}

// WithCommandRunner sets the runner for system commands
func WithCommandRunner(r CommandRunner) Option {
	return func(e *Executor) { e.runner = r }
}

// WithGOOS overrides the platform used to pick system commands
func WithGOOS(goos string) Option {
	return func(e *Executor) { e.goos = goos }
}

// New creates an executor on the OS filesystem
func New(opts ...Option) *Executor {
	e := &Executor{
		fs:              afero.NewOsFs(),
		mail:            mailer.SMTP{},
		runner:          ExecRunner{},
		goos:            runtime.GOOS,
		downloadRetries: 2,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.http == nil {
		e.http = httpclient.New()
	}
	return e
}

// Run executes a validated action. Partial side effects are left in place on failure.
func (e *Executor) Run(ctx context.Context, name string, params map[string]string) Result {
	if problems := Validate(name, params); len(problems) > 0 {
		return Result{Message: strings.Join(problems, " ")}
	}

	switch name {
	case Copy:
		return e.copy(params["source"], params["destination"])
	case Move:
		return e.move(params["source"], params["destination"])
	case Delete:
		return e.delete(params["target"])
	case Zip:
		return e.zip(params["source"], params["destination"])
	case Download:
		return e.download(ctx, params["url"], params["destination"])
	case Email:
		return e.email(ctx, params)
	case Wallpaper:
		return e.wallpaper(ctx, params["image_path"])
	case Reboot:
		return e.power(ctx, true)
	case Shutdown:
		return e.power(ctx, false)
	case VPN:
		return e.vpn(ctx, params["command"])
	default:
		return failure(errors.Newf("unknown action %q", name))
	}
}
