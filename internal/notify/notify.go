// Package notify reports finished runs to a job's send_to target: a Discord,
// Slack or generic JSON webhook, or an email address.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/kylemclaren/local-tasks/internal/db"
	"github.com/kylemclaren/local-tasks/internal/mailer"
)

const footer = "local-tasks scheduler"

// webhookRetries is the retry count for webhook posts
const webhookRetries = 1

// Poster posts a JSON payload
type Poster interface {
	PostJSON(ctx context.Context, url string, payload []byte, retries int) error
}

// Notifier delivers run notifications
type Notifier struct {
	poster Poster
	mail   mailer.Sender
	smtp   mailer.Config
	logger *zap.SugaredLogger
}

// New creates a notifier. Email targets need smtp to be configured.
func New(poster Poster, mail mailer.Sender, smtp mailer.Config, logger *zap.SugaredLogger) *Notifier {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Notifier{poster: poster, mail: mail, smtp: smtp, logger: logger}
}

// Notify sends and logs failures; it never fails the run
func (n *Notifier) Notify(ctx context.Context, job *db.Job, run *db.RunRecord) {
	if strings.TrimSpace(job.SendTo) == "" {
		return
	}
	if err := n.Send(ctx, job, run); err != nil {
		n.logger.Warnw("Failed to send notification", "job_id", job.ID, "send_to", job.SendTo, "error", err)
		return
	}
	n.logger.Debugw("Notification sent", "job_id", job.ID, "send_to", job.SendTo)
}

// Supported reports whether target is a webhook URL or an email address
func Supported(target string) bool {
	target = strings.TrimSpace(target)
	return isWebhook(target) || isEmail(target)
}

func isWebhook(target string) bool { return strings.Contains(target, "://") }

func isEmail(target string) bool { return strings.Contains(target, "@") }

// Send delivers the notification for run to job.SendTo
func (n *Notifier) Send(ctx context.Context, job *db.Job, run *db.RunRecord) error {
	target := strings.TrimSpace(job.SendTo)
	switch {
	case isWebhook(target):
		return n.sendWebhook(ctx, target, job, run)
	case isEmail(target):
		return n.sendEmail(ctx, target, job, run)
	default:
		return errors.Newf("unsupported send_to target %q", target)
	}
}

func (n *Notifier) sendWebhook(ctx context.Context, target string, job *db.Job, run *db.RunRecord) error {
	var payload any
	switch webhookKind(target) {
	case "discord":
		payload = discordPayload(job, run)
	case "slack":
		payload = slackPayload(job, run)
	default:
		payload = db.RunLogEntry{RunRecord: *run, JobName: job.Name}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "failed to marshal payload")
	}
	if err := n.poster.PostJSON(ctx, target, data, webhookRetries); err != nil {
		return errors.Wrap(err, "failed to send webhook")
	}
	return nil
}

func (n *Notifier) sendEmail(ctx context.Context, to string, job *db.Job, run *db.RunRecord) error {
	if n.mail == nil || !n.smtp.Configured() {
		return errors.New("smtp is not configured")
	}
	subject := fmt.Sprintf("[local-tasks] %s: %s", job.Name, run.Status)
	msg, err := mailer.Message(n.smtp.Sender, to, subject, run.Details())
	if err != nil {
		return err
	}
	return n.mail.Send(ctx, n.smtp, msg)
}

func webhookKind(target string) string {
	u, err := url.Parse(target)
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	switch {
	case host == "discord.com" || host == "discordapp.com" || strings.HasSuffix(host, ".discord.com"):
		return "discord"
	case host == "hooks.slack.com":
		return "slack"
	default:
		return ""
	}
}

func duration(run *db.RunRecord) string {
	if run.EndTime.IsZero() || run.StartTime.IsZero() {
		return "unknown"
	}
	return run.EndTime.Sub(run.StartTime).Round(time.Second).String()
}

func exitCode(run *db.RunRecord) string {
	if run.ExitCode == nil {
		return "n/a"
	}
	return fmt.Sprintf("%d", *run.ExitCode)
}

// truncate cuts s to at most limit bytes on a rune boundary
func truncate(s string, limit int, suffix string) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + suffix
}
