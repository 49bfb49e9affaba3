package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/kylemclaren/local-tasks/internal/api"
	"github.com/kylemclaren/local-tasks/internal/db"
	"github.com/kylemclaren/local-tasks/internal/stream"
)

const (
	shutdownTimeout    = 30 * time.Second
	eventCleanupPeriod = 10 * time.Minute
	eventMaxAge        = time.Hour
)

func runDaemon(cmd *cobra.Command, args []string) error {
	a, err := newApp(configFile)
	if err != nil {
		return err
	}
	defer a.Close()

	pidPath := a.cfg.PIDPath()
	if pid, running := isDaemonRunning(pidPath); running {
		return errors.Newf("daemon already running (PID %d)", pid)
	}
	if err := writePIDFile(pidPath); err != nil {
		return err
	}
	defer os.Remove(pidPath)

	sched := a.newScheduler(nil)
	if err := sched.Start(); err != nil {
		return errors.Wrap(err, "failed to start scheduler")
	}
	defer sched.Stop()

	a.log.Infow("Daemon started", "pid", os.Getpid(), "database", a.cfg.DatabasePath())

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	a.log.Info("Shutting down")
	return nil
}

func runServer(cmd *cobra.Command, args []string) error {
	a, err := newApp(configFile)
	if err != nil {
		return err
	}
	defer a.Close()

	addr := a.cfg.API.Addr
	if serveAddr != "" {
		addr = serveAddr
	}

	// Shared between the scheduler and the SSE endpoint
	streamMgr := stream.NewManager()

	sched := a.newScheduler(streamMgr)
	if err := sched.EnsureRunning(); err != nil {
		return errors.Wrap(err, "failed to start scheduler")
	}
	defer sched.Stop()

	server := api.NewServer(a.store, sched,
		api.WithStreamManager(streamMgr),
		api.WithLogger(a.log.Named("api")),
	)
	srv := &http.Server{
		Addr:              addr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		ticker := time.NewTicker(eventCleanupPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				streamMgr.CleanupOldEvents(eventMaxAge)
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		a.log.Infow("API server starting", "addr", addr, "database", a.cfg.DatabasePath())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return errors.Wrap(err, "server failed")
		}
		return nil
	case <-ctx.Done():
	}

	a.log.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runRuns(cmd *cobra.Command, args []string) error {
	a, err := newApp(configFile)
	if err != nil {
		return err
	}
	defer a.Close()

	runs, err := a.store.ListRunLogs(cmd.Context(), runsLimit, 0)
	if err != nil {
		return err
	}
	printRuns(cmd.OutOrStdout(), runs)
	return nil
}

func printRuns(w io.Writer, runs []*db.RunLogEntry) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded yet")
		return
	}
	fmt.Fprintf(w, "%-16s  %-24s  %-8s  %4s  %s\n", "SCHEDULED", "JOB", "STATUS", "EXIT", "OUTPUT")
	for _, run := range runs {
		exit := "-"
		if run.ExitCode != nil {
			exit = strconv.Itoa(*run.ExitCode)
		}
		summary := run.Output
		if summary == "" {
			summary = run.Error
		}
		if i := strings.IndexByte(summary, '\n'); i >= 0 {
			summary = summary[:i]
		}
		fmt.Fprintf(w, "%-16s  %-24s  %-8s  %4s  %s\n",
			run.ScheduledTime.Format("2006-01-02 15:04"), run.JobName, run.Status, exit, summary)
	}
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(err, "failed to create data directory")
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0644); err != nil {
		return errors.Wrap(err, "failed to write PID file")
	}
	return nil
}

// isDaemonRunning checks if a daemon is running by reading PID file and checking process
func isDaemonRunning(pidPath string) (int, bool) {
	data, err := os.ReadFile(pidPath)
	if err != nil {
		return 0, false
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return 0, false
	}

	// On Unix, FindProcess always succeeds, so send signal 0 to check if alive
	if err := process.Signal(syscall.Signal(0)); err != nil {
		return 0, false
	}

	return pid, true
}
