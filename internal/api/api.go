package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/kylemclaren/local-tasks/internal/db"
	"github.com/kylemclaren/local-tasks/internal/stream"
)

// Store is the subset of the job store used by the API
type Store interface {
	CreateJobWithSlots(ctx context.Context, job *db.Job, spec *db.SlotSpec) error
	GetJob(ctx context.Context, id int64) (*db.Job, error)
	ListJobs(ctx context.Context) ([]*db.Job, error)
	UpdateJobWithSlots(ctx context.Context, job *db.Job, change db.SlotChange) error
	DeleteJob(ctx context.Context, id int64) error
	ListSlots(ctx context.Context, jobID int64) ([]db.ScheduleSlot, error)
	ListJobRuns(ctx context.Context, jobID int64, limit int) ([]*db.RunRecord, error)
	ListRunLogs(ctx context.Context, limit, offset int) ([]*db.RunLogEntry, error)
	CountRuns(ctx context.Context) (int, error)
	GetSetting(ctx context.Context, key, def string) (string, error)
	ListSettings(ctx context.Context) (map[string]string, error)
	SetSetting(ctx context.Context, key, value string) error
}

// Dispatcher runs jobs on demand
type Dispatcher interface {
	RunNow(ctx context.Context, jobID int64) error
	IsRunning() bool
}

// Server represents the API server
type Server struct {
	store      Store
	dispatcher Dispatcher
	streamMgr  *stream.Manager
	fs         afero.Fs
	logger     *zap.SugaredLogger
	now        func() time.Time
	router     chi.Router
}

// Option configures a Server
type Option func(*Server)

// WithStreamManager exposes run events on /events
func WithStreamManager(m *stream.Manager) Option {
	return func(s *Server) { s.streamMgr = m }
}

// WithFs sets the filesystem used to check program and batch paths
func WithFs(fs afero.Fs) Option {
	return func(s *Server) { s.fs = fs }
}

// WithLogger sets the request logger
func WithLogger(l *zap.SugaredLogger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides time.Now for next-run computation
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// NewServer creates a new API server. dispatcher may be nil, in which case
// on-demand runs are rejected.
func NewServer(store Store, dispatcher Dispatcher, opts ...Option) *Server {
	s := &Server{
		store:      store,
		dispatcher: dispatcher,
		fs:         afero.NewOsFs(),
		logger:     zap.NewNop().Sugar(),
		now:        time.Now,
		router:     chi.NewRouter(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.streamMgr == nil {
		s.streamMgr = stream.NewManager()
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := s.router

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.HealthCheck)

	r.Get("/tasks", s.ListTasks)
	r.Post("/tasks", s.CreateTask)
	r.Get("/tasks/{id}", s.GetTask)
	r.Put("/tasks/{id}", s.UpdateTask)
	r.Delete("/tasks/{id}", s.DeleteTask)
	r.Post("/tasks/{id}/run", s.RunTask)
	r.Get("/tasks/{id}/runs", s.GetTaskRuns)

	r.Get("/runs", s.ListRuns)
	r.Get("/events", s.StreamEvents)

	r.Get("/settings", s.GetSettings)
	r.Put("/settings", s.UpdateSettings)
}

// requestLogger logs one line per request
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Infow("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// Router returns the chi router for use with http.Server
func (s *Server) Router() http.Handler {
	return s.router
}
