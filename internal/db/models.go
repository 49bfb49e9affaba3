package db

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Job represents a scheduled unit of work
type Job struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	SendTo      string     `json:"send_to,omitempty"`
	ProgramPath string     `json:"program_path,omitempty"`
	Parameters  string     `json:"parameters,omitempty"`
	BatchPath   string     `json:"batch_path,omitempty"`
	Action      *Action    `json:"action,omitempty"`
	HTTP        HTTPConfig `json:"http"`
	Active      bool       `json:"active"`
	OncePerDay  bool       `json:"once_per_day"`
	Autostart   bool       `json:"autostart"`
	RunAs       RunAs      `json:"run_as"`
	LastRunAt   *time.Time `json:"last_run_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`

	// SecretError is set when the stored run-as password could not be
	// decrypted. The password is left empty and the job must not launch.
	SecretError string `json:"-"`
}

// TargetKind identifies which backend executes a job
type TargetKind string

const (
	TargetHTTP    TargetKind = "http"
	TargetAction  TargetKind = "action"
	TargetBatch   TargetKind = "batch"
	TargetProcess TargetKind = "process"
	TargetNone    TargetKind = "none"
)

// TargetKind resolves the execution target by precedence:
// HTTP mode, utility action, batch script, program.
func (j *Job) TargetKind() TargetKind {
	switch {
	case j.HTTP.Ready():
		return TargetHTTP
	case j.Action != nil && j.Action.Name != "":
		return TargetAction
	case j.BatchPath != "":
		return TargetBatch
	case j.ProgramPath != "":
		return TargetProcess
	default:
		return TargetNone
	}
}

// Action is a built-in utility action with its parameters
type Action struct {
	Name   string            `json:"name"`
	Params map[string]string `json:"params,omitempty"`
}

// AuthKind is the Authorization scheme for HTTP jobs
type AuthKind string

const (
	AuthNone   AuthKind = "none"
	AuthBearer AuthKind = "bearer"
	AuthBasic  AuthKind = "basic"
)

// ParseAuthKind normalizes stored auth names ("Bearer", "basic", "None", "").
func ParseAuthKind(s string) AuthKind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "bearer":
		return AuthBearer
	case "basic":
		return AuthBasic
	default:
		return AuthNone
	}
}

// HTTPConfig describes the outbound request of an HTTP job
type HTTPConfig struct {
	Enabled        bool              `json:"enabled"`
	Method         string            `json:"method,omitempty"`
	URL            string            `json:"url,omitempty"`
	Headers        map[string]string `json:"headers,omitempty"`
	Body           string            `json:"body,omitempty"`
	AuthKind       AuthKind          `json:"auth_kind,omitempty"`
	AuthValue      string            `json:"-"`
	TimeoutSeconds int               `json:"timeout_seconds,omitempty"`
	Retries        int               `json:"retries,omitempty"`
}

// Ready reports whether HTTP mode takes precedence over other targets.
func (h HTTPConfig) Ready() bool {
	return h.Enabled && h.Method != "" && h.URL != ""
}

// RunAs holds alternate identity settings. Password is plaintext in memory only.
type RunAs struct {
	Enabled  bool   `json:"enabled"`
	Admin    bool   `json:"admin"`
	User     string `json:"user,omitempty"`
	Domain   string `json:"domain,omitempty"`
	Password string `json:"-"`
}

// ScheduleKind is the date rule shared by all slots of a job
type ScheduleKind string

const (
	KindRecurring ScheduleKind = "recurring"
	KindDate      ScheduleKind = "date"
	KindMonthly   ScheduleKind = "monthly"
)

// Weekday mask bits, Monday first.
const (
	Monday = 1 << iota
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
	Sunday

	Weekdays = Monday | Tuesday | Wednesday | Thursday | Friday
	AllDays  = Weekdays | Saturday | Sunday
)

// WeekdayBit returns the mask bit for t's weekday.
func WeekdayBit(t time.Time) int {
	return 1 << ((int(t.Weekday()) + 6) % 7)
}

// ScheduleSlot is one time-of-day at which a job fires
type ScheduleSlot struct {
	ID          int64        `json:"id"`
	JobID       int64        `json:"job_id"`
	Kind        ScheduleKind `json:"schedule_type"`
	DaysMask    int          `json:"days_mask"`
	Date        string       `json:"date,omitempty"`
	MinuteOfDay int          `json:"minute_of_day"`
	Active      bool         `json:"active"`
}

// SlotSpec is the job-wide schedule from which slots are built
type SlotSpec struct {
	Kind     ScheduleKind
	DaysMask int
	Date     string
	Minutes  []int
	Active   bool
}

// RunStatus represents the outcome of a run
type RunStatus string

const (
	RunStatusSuccess RunStatus = "success"
	RunStatusFailed  RunStatus = "failed"
	RunStatusTimeout RunStatus = "timeout"
)

// RunRecord is the persisted outcome of one execution
type RunRecord struct {
	ID            int64     `json:"id"`
	JobID         int64     `json:"job_id"`
	ScheduledTime time.Time `json:"scheduled_time"`
	StartTime     time.Time `json:"start_time"`
	EndTime       time.Time `json:"end_time"`
	Status        RunStatus `json:"status"`
	ExitCode      *int      `json:"exit_code,omitempty"`
	Output        string    `json:"output"`
	Error         string    `json:"error,omitempty"`
	Manual        bool      `json:"manual"`
}

// Details renders a run for display: a Start/End/Exit header, then output and error.
func (r *RunRecord) Details() string {
	var header []string
	if !r.StartTime.IsZero() {
		header = append(header, "Start: "+r.StartTime.Format(timeLayout))
	}
	if !r.EndTime.IsZero() {
		header = append(header, "End: "+r.EndTime.Format(timeLayout))
	}
	if r.ExitCode != nil {
		header = append(header, fmt.Sprintf("Exit: %d", *r.ExitCode))
	}
	headerText := strings.Join(header, "\n")

	body := r.Output
	if r.Output != "" && r.Error != "" {
		body += "\n"
	}
	body += r.Error

	if headerText != "" && body != "" {
		return headerText + "\n\n" + body
	}
	if headerText != "" {
		return headerText
	}
	return body
}

// RunLogEntry is a run joined with its job name
type RunLogEntry struct {
	RunRecord
	JobName string `json:"job_name"`
}

// Setting keys
const (
	SettingAutostart      = "autostart"
	SettingServiceInstall = "service_install"
)

const (
	timeLayout   = "2006-01-02T15:04:05"
	minuteLayout = "2006-01-02T15:04"
	manualLayout = "2006-01-02T15:04:05.000000"
	dateLayout   = "2006-01-02"
)

// MinuteKey formats the scheduled-minute part of the run idempotency key.
func MinuteKey(t time.Time) string {
	return t.Format(minuteLayout)
}

// RunKey formats the scheduled_time of a run. Manual runs are keyed to the
// microsecond so they never match a scheduled minute.
func RunKey(run *RunRecord) string {
	if run.Manual {
		return run.ScheduledTime.Format(manualLayout)
	}
	return MinuteKey(run.ScheduledTime)
}

// formatHeaders stores headers as "Key: Value" lines, sorted by key.
func formatHeaders(headers map[string]string) string {
	if len(headers) == 0 {
		return ""
	}
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, k+": "+headers[k])
	}
	return strings.Join(lines, "\n")
}

// ParseHeaders reads "Key: Value" lines. Lines without a colon are skipped.
func ParseHeaders(raw string) map[string]string {
	headers := make(map[string]string)
	for _, line := range strings.Split(raw, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok || strings.TrimSpace(key) == "" {
			continue
		}
		headers[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return headers
}

// parseLegacyParams decodes "key=value;key=value" strings from older rows.
func parseLegacyParams(raw string) map[string]string {
	params := make(map[string]string)
	for _, item := range strings.Split(raw, ";") {
		if item == "" {
			continue
		}
		key, value, _ := strings.Cut(item, "=")
		params[key] = value
	}
	return params
}
