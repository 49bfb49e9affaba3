package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kylemclaren/local-tasks/internal/db"
	"github.com/kylemclaren/local-tasks/internal/schedule"
	"github.com/kylemclaren/local-tasks/internal/version"
)

const (
	defaultRunsLimit = 50
	maxRunsLimit     = 500
	sseHeartbeat     = 15 * time.Second
)

// HealthCheck handles GET /health
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	state := "stopped"
	if s.dispatcher != nil && s.dispatcher.IsRunning() {
		state = "running"
	}
	s.jsonResponse(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Version:   version.Version,
		Scheduler: state,
	})
}

// ListTasks handles GET /tasks
func (s *Server) ListTasks(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.store.ListJobs(r.Context())
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Failed to fetch tasks", err)
		return
	}

	response := TaskListResponse{
		Tasks: make([]TaskResponse, 0, len(jobs)),
		Total: len(jobs),
	}
	for _, job := range jobs {
		slots, err := s.store.ListSlots(r.Context(), job.ID)
		if err != nil {
			s.errorResponse(w, http.StatusInternalServerError, "Failed to fetch schedules", err)
			return
		}
		response.Tasks = append(response.Tasks, s.taskToResponse(job, slots))
	}

	s.jsonResponse(w, http.StatusOK, response)
}

// CreateTask handles POST /tasks
func (s *Server) CreateTask(w http.ResponseWriter, r *http.Request) {
	var req TaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	job := &db.Job{Name: "New Job", Active: true, HTTP: db.HTTPConfig{AuthKind: db.AuthNone}}
	applyRequest(job, &req)
	if err := validateJob(s.fs, job); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Validation failed", err)
		return
	}

	var spec *db.SlotSpec
	if req.Schedules != nil && len(*req.Schedules) > 0 {
		sp := slotSpec(*req.Schedules)
		if err := sp.Validate(); err != nil {
			s.errorResponse(w, http.StatusBadRequest, "Invalid schedule", err)
			return
		}
		spec = &sp
	}

	if err := s.store.CreateJobWithSlots(r.Context(), job, spec); err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Failed to create task", err)
		return
	}

	s.jsonResponse(w, http.StatusCreated, CreatedResponse{ID: job.ID})
}

// GetTask handles GET /tasks/{id}
func (s *Server) GetTask(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	slots, err := s.store.ListSlots(r.Context(), job.ID)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Failed to fetch schedules", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, s.taskToResponse(job, slots))
}

// UpdateTask handles PUT /tasks/{id}
func (s *Server) UpdateTask(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}

	var req TaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	applyRequest(job, &req)
	if err := validateJob(s.fs, job); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Validation failed", err)
		return
	}

	change := db.SlotChange{Active: req.ScheduleActive}
	if req.Schedules != nil {
		sp := slotSpec(*req.Schedules)
		if err := sp.Validate(); err != nil {
			s.errorResponse(w, http.StatusBadRequest, "Invalid schedule", err)
			return
		}
		change.Replace = &sp
	}

	if err := s.store.UpdateJobWithSlots(r.Context(), job, change); err != nil {
		s.storeError(w, "Failed to update task", err)
		return
	}

	s.jsonResponse(w, http.StatusOK, SuccessResponse{Success: true, Message: "Task updated"})
}

// DeleteTask handles DELETE /tasks/{id}
func (s *Server) DeleteTask(w http.ResponseWriter, r *http.Request) {
	id, ok := s.taskID(w, r)
	if !ok {
		return
	}

	if err := s.store.DeleteJob(r.Context(), id); err != nil {
		s.storeError(w, "Failed to delete task", err)
		return
	}

	s.jsonResponse(w, http.StatusOK, SuccessResponse{
		Success: true,
		Message: "Task deleted",
	})
}

// RunTask handles POST /tasks/{id}/run
func (s *Server) RunTask(w http.ResponseWriter, r *http.Request) {
	id, ok := s.taskID(w, r)
	if !ok {
		return
	}
	if s.dispatcher == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "Scheduler not available", nil)
		return
	}

	if err := s.dispatcher.RunNow(r.Context(), id); err != nil {
		s.storeError(w, "Failed to start task", err)
		return
	}

	s.jsonResponse(w, http.StatusAccepted, SuccessResponse{
		Success: true,
		Message: "Task execution started",
	})
}

// GetTaskRuns handles GET /tasks/{id}/runs
func (s *Server) GetTaskRuns(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}

	limit, _ := pageParams(r)
	runs, err := s.store.ListJobRuns(r.Context(), job.ID, limit)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Failed to fetch task runs", err)
		return
	}
	if runs == nil {
		runs = []*db.RunRecord{}
	}

	s.jsonResponse(w, http.StatusOK, TaskRunsResponse{Runs: runs, Total: len(runs)})
}

// ListRuns handles GET /runs
func (s *Server) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)
	runs, err := s.store.ListRunLogs(r.Context(), limit, offset)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Failed to fetch runs", err)
		return
	}
	total, err := s.store.CountRuns(r.Context())
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Failed to count runs", err)
		return
	}
	if runs == nil {
		runs = []*db.RunLogEntry{}
	}

	s.jsonResponse(w, http.StatusOK, RunsResponse{Runs: runs, Total: total})
}

// StreamEvents handles GET /events as server-sent events. An optional
// task_id query parameter restricts the stream to one task.
func (s *Server) StreamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.errorResponse(w, http.StatusInternalServerError, "Streaming not supported", nil)
		return
	}

	var jobID int64
	if v := r.URL.Query().Get("task_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			s.errorResponse(w, http.StatusBadRequest, "Invalid task ID", err)
			return
		}
		jobID = id
	}

	clientID := uuid.NewString()
	client := s.streamMgr.Subscribe(clientID, jobID)
	defer s.streamMgr.Unsubscribe(clientID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-client.Done:
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case e := <-client.Events:
			data, err := json.Marshal(e)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, data)
			flusher.Flush()
		}
	}
}

// wellKnownSettings are always reported, "0" when never set
var wellKnownSettings = []string{db.SettingAutostart, db.SettingServiceInstall}

// GetSettings handles GET /settings
func (s *Server) GetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.store.ListSettings(r.Context())
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Failed to fetch settings", err)
		return
	}
	for _, key := range wellKnownSettings {
		if _, ok := settings[key]; ok {
			continue
		}
		value, err := s.store.GetSetting(r.Context(), key, "0")
		if err != nil {
			s.errorResponse(w, http.StatusInternalServerError, "Failed to fetch settings", err)
			return
		}
		settings[key] = value
	}
	s.jsonResponse(w, http.StatusOK, SettingsResponse{Settings: settings})
}

// UpdateSettings handles PUT /settings. Keys not in the body are left alone.
func (s *Server) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req map[string]string
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	for key := range req {
		if strings.TrimSpace(key) == "" {
			s.errorResponse(w, http.StatusBadRequest, "Setting key is required", nil)
			return
		}
	}

	for key, value := range req {
		if err := s.store.SetSetting(r.Context(), key, value); err != nil {
			s.errorResponse(w, http.StatusInternalServerError, "Failed to update settings", err)
			return
		}
	}

	s.GetSettings(w, r)
}

// Helper functions

func (s *Server) taskID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid task ID", err)
		return 0, false
	}
	return id, true
}

func (s *Server) loadJob(w http.ResponseWriter, r *http.Request) (*db.Job, bool) {
	id, ok := s.taskID(w, r)
	if !ok {
		return nil, false
	}
	job, err := s.store.GetJob(r.Context(), id)
	if err != nil {
		s.storeError(w, "Failed to fetch task", err)
		return nil, false
	}
	return job, true
}

// storeError maps a missing job to 404 and anything else to 500
func (s *Server) storeError(w http.ResponseWriter, message string, err error) {
	if errors.Is(err, db.ErrNotFound) {
		s.errorResponse(w, http.StatusNotFound, "Task not found", nil)
		return
	}
	s.errorResponse(w, http.StatusInternalServerError, message, err)
}

func pageParams(r *http.Request) (limit, offset int) {
	limit = defaultRunsLimit
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = min(v, maxRunsLimit)
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v > 0 {
		offset = v
	}
	return limit, offset
}

func (s *Server) taskToResponse(job *db.Job, slots []db.ScheduleSlot) TaskResponse {
	resp := TaskResponse{
		ID:           job.ID,
		Name:         job.Name,
		Description:  job.Description,
		SendTo:       job.SendTo,
		ProgramPath:  job.ProgramPath,
		Parameters:   job.Parameters,
		BatchPath:    job.BatchPath,
		Action:       job.Action,
		Target:       job.TargetKind(),
		APIEnabled:   job.HTTP.Enabled,
		APIMethod:    job.HTTP.Method,
		APIURL:       job.HTTP.URL,
		APIHeaders:   job.HTTP.Headers,
		APIBody:      job.HTTP.Body,
		APIAuthType:  string(job.HTTP.AuthKind),
		APITimeout:   job.HTTP.TimeoutSeconds,
		APIRetries:   job.HTTP.Retries,
		Active:       job.Active,
		OncePerDay:   job.OncePerDay,
		Autostart:    job.Autostart,
		RunAsEnabled: job.RunAs.Enabled,
		RunAsAdmin:   job.RunAs.Admin,
		RunAsUser:    job.RunAs.User,
		RunAsDomain:  job.RunAs.Domain,
		Schedules:    make([]ScheduleResponse, 0, len(slots)),
		CreatedAt:    job.CreatedAt,
		UpdatedAt:    job.UpdatedAt,
		LastRunAt:    job.LastRunAt,
	}
	for _, slot := range slots {
		resp.Schedules = append(resp.Schedules, ScheduleResponse{
			ScheduleType: string(slot.Kind),
			DaysMask:     slot.DaysMask,
			Date:         slot.Date,
			MinuteOfDay:  slot.MinuteOfDay,
			Active:       slot.Active,
		})
	}
	if job.Active {
		if next, ok := schedule.NextRun(slots, s.now()); ok {
			resp.NextRunAt = &next
		}
	}
	return resp
}

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) errorResponse(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{
		Error: message,
	}
	if err != nil {
		resp.Details = err.Error()
	}
	s.jsonResponse(w, status, resp)
}
