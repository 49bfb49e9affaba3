package api

import (
	"strings"

	"github.com/spf13/afero"

	"github.com/kylemclaren/local-tasks/internal/action"
	"github.com/kylemclaren/local-tasks/internal/db"
	"github.com/kylemclaren/local-tasks/internal/notify"
)

// Validation errors
type validationError string

func (e validationError) Error() string { return string(e) }

const (
	errEmptyName        validationError = "Name is required."
	errNoTarget         validationError = "Either a program path or a batch file path is required."
	errProgramMissing   validationError = "Program path does not exist."
	errBatchMissing     validationError = "Batch file path does not exist."
	errSendTo           validationError = "Send-to value looks invalid."
	errRunAsUser        validationError = "Run-as user is required when RunAs is enabled."
	errRunAsPassword    validationError = "Run-as password is required when RunAs is enabled."
	errAPIMethod        validationError = "API method is required when Send API request is enabled."
	errAPIURL           validationError = "API URL is required when Send API request is enabled."
	errAPIAuthValue     validationError = "API auth value is required when auth is enabled."
	errBasicAuthFormat  validationError = "Basic auth value must be in 'user:password' format."
	errNegativeAPILimit validationError = "API timeout and retries must not be negative."
)

// validationErrors collects every problem found in a task
type validationErrors []string

func (e validationErrors) Error() string { return strings.Join(e, " ") }

// applyRequest copies the non-nil fields of req onto job
func applyRequest(job *db.Job, req *TaskRequest) {
	setString(&job.Name, req.Name)
	setString(&job.Description, req.Description)
	setString(&job.SendTo, req.SendTo)
	setString(&job.ProgramPath, req.ProgramPath)
	setString(&job.Parameters, req.Parameters)
	setString(&job.BatchPath, req.BatchPath)
	if req.Action != nil {
		if req.Action.Name == "" {
			job.Action = nil
		} else {
			job.Action = &db.Action{Name: req.Action.Name, Params: req.Action.Params}
		}
	}

	setBool(&job.HTTP.Enabled, req.APIEnabled)
	if req.APIMethod != nil {
		job.HTTP.Method = strings.ToUpper(strings.TrimSpace(*req.APIMethod))
	}
	setString(&job.HTTP.URL, req.APIURL)
	if req.APIHeaders != nil {
		job.HTTP.Headers = *req.APIHeaders
	}
	setString(&job.HTTP.Body, req.APIBody)
	if req.APIAuthType != nil {
		job.HTTP.AuthKind = db.ParseAuthKind(*req.APIAuthType)
	}
	setString(&job.HTTP.AuthValue, req.APIAuthValue)
	setInt(&job.HTTP.TimeoutSeconds, req.APITimeout)
	setInt(&job.HTTP.Retries, req.APIRetries)

	setBool(&job.Active, req.Active)
	setBool(&job.OncePerDay, req.OncePerDay)
	setBool(&job.Autostart, req.Autostart)

	setBool(&job.RunAs.Enabled, req.RunAsEnabled)
	setBool(&job.RunAs.Admin, req.RunAsAdmin)
	setString(&job.RunAs.User, req.RunAsUser)
	setString(&job.RunAs.Domain, req.RunAsDomain)
	setString(&job.RunAs.Password, req.RunAsPassword)
}

// validateJob returns every problem with job, or nil
func validateJob(fs afero.Fs, job *db.Job) error {
	var problems validationErrors
	add := func(e validationError) { problems = append(problems, string(e)) }

	if strings.TrimSpace(job.Name) == "" {
		add(errEmptyName)
	}

	if !job.HTTP.Enabled {
		switch {
		case job.Action != nil:
			problems = append(problems, action.Validate(job.Action.Name, job.Action.Params)...)
		case job.ProgramPath == "" && job.BatchPath == "":
			add(errNoTarget)
		default:
			if job.ProgramPath != "" && !pathExists(fs, job.ProgramPath) {
				add(errProgramMissing)
			}
			if job.BatchPath != "" && !pathExists(fs, job.BatchPath) {
				add(errBatchMissing)
			}
		}
	}

	if job.SendTo != "" && !notify.Supported(job.SendTo) {
		add(errSendTo)
	}

	if job.RunAs.Enabled && !job.RunAs.Admin {
		if job.RunAs.User == "" {
			add(errRunAsUser)
		}
		if job.RunAs.Password == "" {
			add(errRunAsPassword)
		}
	}

	if job.HTTP.Enabled {
		if job.HTTP.Method == "" {
			add(errAPIMethod)
		}
		if job.HTTP.URL == "" {
			add(errAPIURL)
		}
		if job.HTTP.AuthKind == db.AuthBearer || job.HTTP.AuthKind == db.AuthBasic {
			if job.HTTP.AuthValue == "" {
				add(errAPIAuthValue)
			}
			if job.HTTP.AuthKind == db.AuthBasic && !strings.Contains(job.HTTP.AuthValue, ":") {
				add(errBasicAuthFormat)
			}
		}
		if job.HTTP.TimeoutSeconds < 0 || job.HTTP.Retries < 0 {
			add(errNegativeAPILimit)
		}
	}

	if len(problems) == 0 {
		return nil
	}
	return problems
}

// slotSpec converts request schedules into the shared slot spec. The first
// entry decides type, mask, date and active flag.
func slotSpec(reqs []ScheduleRequest) db.SlotSpec {
	if len(reqs) == 0 {
		return db.SlotSpec{Kind: db.KindRecurring, Active: true}
	}
	first := reqs[0]
	spec := db.SlotSpec{
		Kind:     db.ScheduleKind(first.ScheduleType),
		DaysMask: first.DaysMask,
		Active:   true,
	}
	if spec.Kind == "" {
		spec.Kind = db.KindRecurring
	}
	if first.Date != nil {
		spec.Date = *first.Date
	}
	if first.Active != nil {
		spec.Active = *first.Active
	}
	for _, r := range reqs {
		spec.Minutes = append(spec.Minutes, r.MinuteOfDay)
	}
	return spec
}

func pathExists(fs afero.Fs, path string) bool {
	ok, err := afero.Exists(fs, path)
	return err == nil && ok
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}
