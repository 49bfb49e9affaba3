package notify

import (
	"fmt"
	"time"

	"github.com/kylemclaren/local-tasks/internal/db"
)

// Message size limits, kept well under the services' own caps.
const (
	discordOutputLimit = 3500
	slackOutputLimit   = 2500
	errorLimit         = 500
	truncatedSuffix    = "\n... (truncated)"
)

type badge struct {
	label string
	rgb   int
	emoji string
	slack string
}

var badges = map[db.RunStatus]badge{
	db.RunStatusSuccess: {label: "Success", rgb: 0x00FF00, emoji: "✅", slack: ":white_check_mark:"},
	db.RunStatusFailed:  {label: "Failed", rgb: 0xFF0000, emoji: "❌", slack: ":x:"},
	db.RunStatusTimeout: {label: "Timed out", rgb: 0xFFA500, emoji: "⏱️", slack: ":stopwatch:"},
}

func badgeFor(status db.RunStatus) badge {
	if b, ok := badges[status]; ok {
		return b
	}
	return badges[db.RunStatusFailed]
}

func (b badge) hex() string { return fmt.Sprintf("#%06X", b.rgb) }

// Discord webhook body

type discordMessage struct {
	Content string         `json:"content,omitempty"`
	Embeds  []discordEmbed `json:"embeds,omitempty"`
}

type discordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Color       int            `json:"color"`
	Fields      []discordField `json:"fields,omitempty"`
	Timestamp   string         `json:"timestamp,omitempty"`
	Footer      *discordFooter `json:"footer,omitempty"`
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordFooter struct {
	Text string `json:"text"`
}

func discordPayload(job *db.Job, run *db.RunRecord) discordMessage {
	b := badgeFor(run.Status)

	description := "*No output*"
	if out := truncate(run.Output, discordOutputLimit, truncatedSuffix); out != "" {
		description = "```\n" + out + "\n```"
	}

	inline := func(name, value string) discordField {
		return discordField{Name: name, Value: value, Inline: true}
	}
	embed := discordEmbed{
		Title:       fmt.Sprintf("%s Job: %s", b.emoji, job.Name),
		Description: description,
		Color:       b.rgb,
		Fields: []discordField{
			inline("Status", string(run.Status)),
			inline("Duration", duration(run)),
			inline("Target", string(job.TargetKind())),
			inline("Exit", exitCode(run)),
		},
		Timestamp: run.StartTime.Format(time.RFC3339),
		Footer:    &discordFooter{Text: footer},
	}
	if run.Error != "" {
		embed.Fields = append(embed.Fields, discordField{
			Name:  "⚠️ Error",
			Value: "```\n" + truncate(run.Error, errorLimit, "...") + "\n```",
		})
	}
	return discordMessage{Embeds: []discordEmbed{embed}}
}

// Slack incoming-webhook body (Block Kit inside a colored attachment)

type slackMessage struct {
	Text        string            `json:"text,omitempty"`
	Attachments []slackAttachment `json:"attachments,omitempty"`
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Blocks []slackBlock `json:"blocks"`
}

type slackBlock struct {
	Type     string      `json:"type"`
	Text     *slackText  `json:"text,omitempty"`
	Fields   []slackText `json:"fields,omitempty"`
	Elements []slackText `json:"elements,omitempty"`
}

type slackText struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

func mrkdwn(format string, args ...any) slackText {
	return slackText{Type: "mrkdwn", Text: fmt.Sprintf(format, args...)}
}

func slackPayload(job *db.Job, run *db.RunRecord) slackMessage {
	b := badgeFor(run.Status)

	output := mrkdwn("_No output_")
	if out := truncate(run.Output, slackOutputLimit, truncatedSuffix); out != "" {
		output = mrkdwn("```%s```", out)
	}
	scheduled := fmt.Sprintf("<!date^%d^{date_short} {time}|%s>", run.ScheduledTime.Unix(), db.MinuteKey(run.ScheduledTime))

	blocks := []slackBlock{
		{Type: "header", Text: &slackText{Type: "plain_text", Text: fmt.Sprintf("%s Job: %s", b.slack, job.Name), Emoji: true}},
		{Type: "section", Fields: []slackText{
			mrkdwn("*Status:*\n%s", b.label),
			mrkdwn("*Duration:*\n%s", duration(run)),
			mrkdwn("*Exit:*\n%s", exitCode(run)),
			mrkdwn("*Scheduled:*\n%s", scheduled),
		}},
		{Type: "divider"},
		{Type: "section", Text: &output},
	}
	if run.Error != "" {
		errText := mrkdwn(":warning: *Error:*\n```%s```", truncate(run.Error, errorLimit, "..."))
		blocks = append(blocks, slackBlock{Type: "section", Text: &errText})
	}
	blocks = append(blocks, slackBlock{Type: "context", Elements: []slackText{mrkdwn("%s", footer)}})

	return slackMessage{
		Text:        job.Name + ": " + b.label,
		Attachments: []slackAttachment{{Color: b.hex(), Blocks: blocks}},
	}
}
