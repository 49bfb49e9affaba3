package api

import (
	"time"

	"github.com/kylemclaren/local-tasks/internal/db"
)

// ScheduleRequest is one slot of a task. All slots of a task share the
// type, days mask, date and active flag of the first entry.
type ScheduleRequest struct {
	ScheduleType string  `json:"schedule_type"`
	DaysMask     int     `json:"days_mask"`
	Date         *string `json:"date,omitempty"`
	MinuteOfDay  int     `json:"minute_of_day"`
	Active       *bool   `json:"active,omitempty"`
}

// ActionRequest selects a built-in utility action
type ActionRequest struct {
	Name   string            `json:"name"`
	Params map[string]string `json:"params"`
}

// TaskRequest represents a task creation/update request. On update, nil
// fields keep their stored value; a present schedules list replaces every
// slot and an empty list clears them. schedule_active without schedules
// pauses or resumes the existing slots.
type TaskRequest struct {
	Name        *string        `json:"name"`
	Description *string        `json:"description"`
	SendTo      *string        `json:"send_to"`
	ProgramPath *string        `json:"program_path"`
	Parameters  *string        `json:"parameters"`
	BatchPath   *string        `json:"batch_path"`
	Action      *ActionRequest `json:"action"`

	APIEnabled   *bool              `json:"api_enabled"`
	APIMethod    *string            `json:"api_method"`
	APIURL       *string            `json:"api_url"`
	APIHeaders   *map[string]string `json:"api_headers"`
	APIBody      *string            `json:"api_body"`
	APIAuthType  *string            `json:"api_auth_type"`
	APIAuthValue *string            `json:"api_auth_value"`
	APITimeout   *int               `json:"api_timeout"`
	APIRetries   *int               `json:"api_retries"`

	Active     *bool `json:"active"`
	OncePerDay *bool `json:"once_per_day"`
	Autostart  *bool `json:"autostart"`

	RunAsEnabled  *bool   `json:"run_as_enabled"`
	RunAsAdmin    *bool   `json:"run_as_admin"`
	RunAsUser     *string `json:"run_as_user"`
	RunAsDomain   *string `json:"run_as_domain"`
	RunAsPassword *string `json:"run_as_password"`

	Schedules      *[]ScheduleRequest `json:"schedules"`
	ScheduleActive *bool              `json:"schedule_active"`
}

// ScheduleResponse represents a slot in API responses
type ScheduleResponse struct {
	ScheduleType string `json:"schedule_type"`
	DaysMask     int    `json:"days_mask"`
	Date         string `json:"date,omitempty"`
	MinuteOfDay  int    `json:"minute_of_day"`
	Active       bool   `json:"active"`
}

// TaskResponse represents a task in API responses. Credentials are never included.
type TaskResponse struct {
	ID           int64              `json:"id"`
	Name         string             `json:"name"`
	Description  string             `json:"description"`
	SendTo       string             `json:"send_to"`
	ProgramPath  string             `json:"program_path"`
	Parameters   string             `json:"parameters"`
	BatchPath    string             `json:"batch_path"`
	Action       *db.Action         `json:"action,omitempty"`
	Target       db.TargetKind      `json:"target"`
	APIEnabled   bool               `json:"api_enabled"`
	APIMethod    string             `json:"api_method"`
	APIURL       string             `json:"api_url"`
	APIHeaders   map[string]string  `json:"api_headers,omitempty"`
	APIBody      string             `json:"api_body"`
	APIAuthType  string             `json:"api_auth_type"`
	APITimeout   int                `json:"api_timeout"`
	APIRetries   int                `json:"api_retries"`
	Active       bool               `json:"active"`
	OncePerDay   bool               `json:"once_per_day"`
	Autostart    bool               `json:"autostart"`
	RunAsEnabled bool               `json:"run_as_enabled"`
	RunAsAdmin   bool               `json:"run_as_admin"`
	RunAsUser    string             `json:"run_as_user,omitempty"`
	RunAsDomain  string             `json:"run_as_domain,omitempty"`
	Schedules    []ScheduleResponse `json:"schedules"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
	LastRunAt    *time.Time         `json:"last_run_at,omitempty"`
	NextRunAt    *time.Time         `json:"next_run_at,omitempty"`
}

// TaskListResponse represents a list of tasks
type TaskListResponse struct {
	Tasks []TaskResponse `json:"tasks"`
	Total int            `json:"total"`
}

// CreatedResponse is returned by task creation
type CreatedResponse struct {
	ID int64 `json:"id"`
}

// RunsResponse represents a page of runs
type RunsResponse struct {
	Runs  []*db.RunLogEntry `json:"runs"`
	Total int               `json:"total"`
}

// TaskRunsResponse represents the latest runs of one task
type TaskRunsResponse struct {
	Runs  []*db.RunRecord `json:"runs"`
	Total int             `json:"total"`
}

// SettingsResponse represents the settings
type SettingsResponse struct {
	Settings map[string]string `json:"settings"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// SuccessResponse represents a generic success response
type SuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version,omitempty"`
	Scheduler string `json:"scheduler"`
}
