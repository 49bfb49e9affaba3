package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kylemclaren/local-tasks/internal/db"
)

func TestPIDFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "daemon.pid")

	_, running := isDaemonRunning(path)
	assert.False(t, running, "no pid file")

	require.NoError(t, writePIDFile(path))
	pid, running := isDaemonRunning(path)
	assert.True(t, running)
	assert.Equal(t, os.Getpid(), pid)
}

func TestIsDaemonRunningIgnoresGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.pid")
	for _, content := range []string{"", "abc", "-4", "0"} {
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
		_, running := isDaemonRunning(path)
		assert.False(t, running, "content %q", content)
	}
}

func TestPrintRuns(t *testing.T) {
	var buf bytes.Buffer
	printRuns(&buf, nil)
	assert.Equal(t, "No runs recorded yet\n", buf.String())

	code := 2
	buf.Reset()
	printRuns(&buf, []*db.RunLogEntry{{
		RunRecord: db.RunRecord{
			ScheduledTime: time.Date(2025, 3, 5, 10, 0, 0, 0, time.Local),
			Status:        db.RunStatusFailed,
			ExitCode:      &code,
			Error:         "boom\nstack",
		},
		JobName: "backup",
	}})
	out := buf.String()
	assert.Contains(t, out, "SCHEDULED")
	assert.Contains(t, out, "2025-03-05 10:00")
	assert.Contains(t, out, "backup")
	assert.Contains(t, out, "failed")
	assert.Contains(t, out, strconv.Itoa(code))
	assert.Contains(t, out, "boom")
	assert.NotContains(t, out, "stack")
}

func TestVersionCommand(t *testing.T) {
	var buf bytes.Buffer
	versionCmd.SetOut(&buf)
	versionCmd.Run(versionCmd, nil)
	assert.Contains(t, buf.String(), "local-tasks")
}
