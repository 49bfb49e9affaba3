package db

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/cockroachdb/errors"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kylemclaren/local-tasks/internal/secret"
)

func newTestDB(t *testing.T, opts ...Option) *DB {
	t.Helper()
	database, err := New(filepath.Join(t.TempDir(), "tasks.db"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database
}

func sampleJob() *Job {
	return &Job{
		Name:        "backup",
		Description: "nightly backup",
		SendTo:      "ops@example.com",
		ProgramPath: "/usr/bin/rsync",
		Parameters:  `-a "/home/me/My Documents" /mnt/backup`,
		Active:      true,
		HTTP: HTTPConfig{
			Headers:  map[string]string{"X-Trace": "1"},
			AuthKind: AuthNone,
		},
	}
}

func ptr[T any](v T) *T { return &v }

func TestCreateAndGetJob(t *testing.T) {
	ctx := context.Background()
	database := newTestDB(t)

	job := sampleJob()
	job.HTTP = HTTPConfig{
		Enabled:        true,
		Method:         "POST",
		URL:            "https://example.com/hook",
		Headers:        map[string]string{"X-One": "1", "X-Two": "two: parts"},
		Body:           `{"a":1}`,
		AuthKind:       AuthBearer,
		AuthValue:      "token",
		TimeoutSeconds: 10,
		Retries:        2,
	}
	require.NoError(t, database.CreateJob(ctx, job))
	require.NotZero(t, job.ID)

	got, err := database.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.Name, got.Name)
	assert.Equal(t, job.Parameters, got.Parameters)
	assert.Equal(t, job.HTTP, got.HTTP)
	assert.True(t, got.Active)
	assert.Nil(t, got.LastRunAt)
	assert.Equal(t, TargetHTTP, got.TargetKind())
	assert.False(t, got.CreatedAt.IsZero())
}

func TestGetJobNotFound(t *testing.T) {
	database := newTestDB(t)
	_, err := database.GetJob(context.Background(), 42)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestUpdateJob(t *testing.T) {
	ctx := context.Background()
	database := newTestDB(t)

	job := sampleJob()
	require.NoError(t, database.CreateJob(ctx, job))

	job.Name = "renamed"
	job.ProgramPath = ""
	job.Action = &Action{Name: "delete", Params: map[string]string{"target": "/tmp/x"}}
	require.NoError(t, database.UpdateJob(ctx, job))

	got, err := database.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
	require.NotNil(t, got.Action)
	assert.Equal(t, "delete", got.Action.Name)
	assert.Equal(t, "/tmp/x", got.Action.Params["target"])
	assert.Equal(t, TargetAction, got.TargetKind())

	missing := &Job{ID: 999, Name: "ghost"}
	assert.True(t, errors.Is(database.UpdateJob(ctx, missing), ErrNotFound))
}

func TestRunAsPasswordEncryptedAtRest(t *testing.T) {
	ctx := context.Background()
	box, err := secret.NewBox(make([]byte, 32))
	require.NoError(t, err)
	database := newTestDB(t, WithCodec(box))

	job := sampleJob()
	job.RunAs = RunAs{Enabled: true, User: "svc", Domain: "CORP", Password: "s3cret"}
	require.NoError(t, database.CreateJob(ctx, job))

	var raw string
	require.NoError(t, database.conn.QueryRow("SELECT run_as_password FROM jobs WHERE id = ?", job.ID).Scan(&raw))
	assert.True(t, secret.IsEncoded(raw))
	assert.NotContains(t, raw, "s3cret")

	got, err := database.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", got.RunAs.Password)
	assert.Equal(t, "CORP", got.RunAs.Domain)
}

func TestLegacyPlaintextPasswordPassesThrough(t *testing.T) {
	ctx := context.Background()
	box, err := secret.NewBox(make([]byte, 32))
	require.NoError(t, err)
	database := newTestDB(t, WithCodec(box))

	_, err = database.conn.Exec(`INSERT INTO jobs (name, run_as_enabled, run_as_user, run_as_password, created_at, updated_at)
		VALUES ('old', 1, 'svc', 'plain', '2024-01-02T10:00:00', '2024-01-02T10:00:00')`)
	require.NoError(t, err)

	jobs, err := database.ListJobs(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "plain", jobs[0].RunAs.Password)
}

func TestLegacyToolRowConverted(t *testing.T) {
	ctx := context.Background()
	database := newTestDB(t)

	res, err := database.conn.Exec(`INSERT INTO jobs (name, program_path, parameters, created_at, updated_at)
		VALUES ('legacy', 'tool:copy', 'source=/a;destination=/b;flag', '2024-01-02T10:00:00', '2024-01-02T10:00:00')`)
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)

	job, err := database.GetJob(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, job.Action)
	assert.Equal(t, "copy", job.Action.Name)
	assert.Equal(t, map[string]string{"source": "/a", "destination": "/b", "flag": ""}, job.Action.Params)
	assert.Empty(t, job.ProgramPath)
	assert.Equal(t, TargetAction, job.TargetKind())
	assert.Equal(t, time.Date(2024, 1, 2, 10, 0, 0, 0, time.Local), job.CreatedAt)
}

func TestReplaceSlots(t *testing.T) {
	ctx := context.Background()
	database := newTestDB(t)
	job := sampleJob()
	require.NoError(t, database.CreateJob(ctx, job))

	spec := SlotSpec{Kind: KindRecurring, DaysMask: Weekdays, Minutes: []int{600, 540, 600}, Active: true}
	require.NoError(t, database.ReplaceSlots(ctx, job.ID, spec))

	slots, err := database.ListSlots(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, slots, 2)
	assert.Equal(t, 540, slots[0].MinuteOfDay)
	assert.Equal(t, 600, slots[1].MinuteOfDay)
	for _, s := range slots {
		assert.Equal(t, KindRecurring, s.Kind)
		assert.Equal(t, Weekdays, s.DaysMask)
		assert.True(t, s.Active)
	}

	// Replacement is total, never partial.
	require.NoError(t, database.ReplaceSlots(ctx, job.ID, SlotSpec{Kind: KindMonthly, Date: "31", Minutes: []int{0}, Active: true}))
	slots, err = database.ListSlots(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.Equal(t, KindMonthly, slots[0].Kind)
	assert.Equal(t, "31", slots[0].Date)

	require.NoError(t, database.SetSlotsActive(ctx, job.ID, false))
	slots, err = database.ListSlots(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, slots[0].Active)

	require.NoError(t, database.ReplaceSlots(ctx, job.ID, SlotSpec{}))
	slots, err = database.ListSlots(ctx, job.ID)
	require.NoError(t, err)
	assert.Empty(t, slots)
}

func TestCreateJobWithSlots(t *testing.T) {
	ctx := context.Background()
	database := newTestDB(t)

	job := sampleJob()
	spec := &SlotSpec{Kind: KindRecurring, DaysMask: Weekdays, Minutes: []int{600, 900}, Active: true}
	require.NoError(t, database.CreateJobWithSlots(ctx, job, spec))
	slots, err := database.ListSlots(ctx, job.ID)
	require.NoError(t, err)
	assert.Len(t, slots, 2)

	bad := sampleJob()
	err = database.CreateJobWithSlots(ctx, bad, &SlotSpec{Kind: KindRecurring, DaysMask: Weekdays, Minutes: []int{601}})
	assert.ErrorIs(t, err, ErrInvalidSchedule)
	assert.Zero(t, bad.ID)
	jobs, err := database.ListJobs(ctx)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestCreateJobWithSlotsRollsBack(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()
	database := NewFromConn(conn)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO jobs").WillReturnResult(sqlmock.NewResult(3, 1))
	mock.ExpectExec("DELETE FROM schedules").WithArgs(int64(3)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectPrepare("INSERT INTO schedules").ExpectExec().WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	job := sampleJob()
	err = database.CreateJobWithSlots(context.Background(), job, &SlotSpec{Kind: KindRecurring, DaysMask: Weekdays, Minutes: []int{600}, Active: true})
	require.Error(t, err)
	assert.Zero(t, job.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateJobWithSlots(t *testing.T) {
	ctx := context.Background()
	database := newTestDB(t)
	job := sampleJob()
	require.NoError(t, database.CreateJobWithSlots(ctx, job, &SlotSpec{Kind: KindRecurring, DaysMask: AllDays, Minutes: []int{600}, Active: true}))

	paused := false
	job.Name = "paused"
	require.NoError(t, database.UpdateJobWithSlots(ctx, job, SlotChange{Active: &paused}))
	slots, err := database.ListSlots(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.False(t, slots[0].Active)

	// an invalid replacement leaves the job untouched
	job.Name = "broken"
	err = database.UpdateJobWithSlots(ctx, job, SlotChange{Replace: &SlotSpec{Kind: KindDate, Date: "tomorrow", Minutes: []int{600}}})
	assert.ErrorIs(t, err, ErrInvalidSchedule)
	got, err := database.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "paused", got.Name)

	job.Name = "monthly"
	require.NoError(t, database.UpdateJobWithSlots(ctx, job, SlotChange{
		Replace: &SlotSpec{Kind: KindMonthly, Date: "15", Minutes: []int{300, 310}, Active: true},
		Active:  &paused,
	}))
	slots, err = database.ListSlots(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, slots, 2)
	assert.True(t, slots[0].Active, "replace wins over active")
	assert.Equal(t, KindMonthly, slots[0].Kind)
}

func TestSlotSpecValidate(t *testing.T) {
	tests := []struct {
		name string
		spec SlotSpec
		ok   bool
	}{
		{"empty clears", SlotSpec{}, true},
		{"recurring", SlotSpec{Kind: KindRecurring, DaysMask: Monday, Minutes: []int{5}}, true},
		{"off grid", SlotSpec{Kind: KindRecurring, DaysMask: Monday, Minutes: []int{7}}, false},
		{"out of range", SlotSpec{Kind: KindRecurring, DaysMask: Monday, Minutes: []int{1440}}, false},
		{"no weekdays", SlotSpec{Kind: KindRecurring, Minutes: []int{0}}, false},
		{"date", SlotSpec{Kind: KindDate, Date: "2025-02-28", Minutes: []int{0}}, true},
		{"bad date", SlotSpec{Kind: KindDate, Date: "28/02/2025", Minutes: []int{0}}, false},
		{"monthly", SlotSpec{Kind: KindMonthly, Date: "7", Minutes: []int{0}}, true},
		{"monthly 32", SlotSpec{Kind: KindMonthly, Date: "32", Minutes: []int{0}}, false},
		{"unknown kind", SlotSpec{Kind: "hourly", Minutes: []int{0}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.True(t, errors.Is(err, ErrInvalidSchedule), "got %v", err)
			}
		})
	}
}

func TestListDueCandidates(t *testing.T) {
	ctx := context.Background()
	database := newTestDB(t)

	active := sampleJob()
	require.NoError(t, database.CreateJob(ctx, active))
	require.NoError(t, database.ReplaceSlots(ctx, active.ID, SlotSpec{Kind: KindRecurring, DaysMask: AllDays, Minutes: []int{600, 605}, Active: true}))

	inactiveJob := sampleJob()
	inactiveJob.Active = false
	require.NoError(t, database.CreateJob(ctx, inactiveJob))
	require.NoError(t, database.ReplaceSlots(ctx, inactiveJob.ID, SlotSpec{Kind: KindRecurring, DaysMask: AllDays, Minutes: []int{600}, Active: true}))

	inactiveSlot := sampleJob()
	require.NoError(t, database.CreateJob(ctx, inactiveSlot))
	require.NoError(t, database.ReplaceSlots(ctx, inactiveSlot.ID, SlotSpec{Kind: KindRecurring, DaysMask: AllDays, Minutes: []int{600}, Active: false}))

	candidates, err := database.ListDueCandidates(ctx, 600)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, active.ID, candidates[0].Job.ID)
	assert.Equal(t, 600, candidates[0].Slot.MinuteOfDay)
}

func TestRecordRunIsIdempotent(t *testing.T) {
	ctx := context.Background()
	database := newTestDB(t)
	job := sampleJob()
	require.NoError(t, database.CreateJob(ctx, job))

	scheduled := time.Date(2025, 3, 5, 10, 0, 0, 0, time.Local)
	first := &RunRecord{
		JobID:         job.ID,
		ScheduledTime: scheduled.Add(12 * time.Second),
		StartTime:     scheduled.Add(time.Second),
		EndTime:       scheduled.Add(3 * time.Second),
		Status:        RunStatusSuccess,
		ExitCode:      ptr(0),
		Output:        "first",
	}
	inserted, err := database.RecordRun(ctx, first)
	require.NoError(t, err)
	assert.True(t, inserted)

	second := *first
	second.Output = "second"
	second.Status = RunStatusFailed
	inserted, err = database.RecordRun(ctx, &second)
	require.NoError(t, err)
	assert.False(t, inserted)

	n, err := database.CountRuns(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	run, err := database.GetRun(ctx, job.ID, scheduled)
	require.NoError(t, err)
	assert.Equal(t, "first", run.Output)
	assert.Equal(t, RunStatusSuccess, run.Status)
	require.NotNil(t, run.ExitCode)
	assert.Equal(t, 0, *run.ExitCode)
	assert.Equal(t, scheduled, run.ScheduledTime)

	has, err := database.HasRun(ctx, job.ID, scheduled.Add(30*time.Second))
	require.NoError(t, err)
	assert.True(t, has)

	got, err := database.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastRunAt)
	assert.Equal(t, scheduled.Add(3*time.Second), *got.LastRunAt)
}

func TestManualRunKeyedSeparately(t *testing.T) {
	ctx := context.Background()
	database := newTestDB(t)
	job := sampleJob()
	require.NoError(t, database.CreateJob(ctx, job))

	at := time.Date(2025, 3, 5, 10, 0, 20, 0, time.Local)
	scheduled := &RunRecord{JobID: job.ID, ScheduledTime: at, StartTime: at, EndTime: at, Status: RunStatusSuccess}
	inserted, err := database.RecordRun(ctx, scheduled)
	require.NoError(t, err)
	require.True(t, inserted)

	for _, offset := range []time.Duration{0, 250 * time.Millisecond} {
		manual := &RunRecord{JobID: job.ID, ScheduledTime: at.Add(offset), StartTime: at, EndTime: at, Status: RunStatusFailed, Manual: true}
		inserted, err = database.RecordRun(ctx, manual)
		require.NoError(t, err)
		assert.True(t, inserted)
	}

	runs, err := database.ListJobRuns(ctx, job.ID, 10)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.True(t, runs[0].Manual)
	assert.Equal(t, at.Add(250*time.Millisecond), runs[0].ScheduledTime)
	assert.False(t, runs[2].Manual)

	run, err := database.GetRun(ctx, job.ID, at)
	require.NoError(t, err)
	assert.Equal(t, RunStatusSuccess, run.Status)
	assert.False(t, run.Manual)

	// retention compares keys as text; manual keys sort inside their minute
	n, err := database.CleanupRuns(ctx, at.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestUndecryptableSecretDoesNotFailQueries(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tasks.db")

	oldKey, err := secret.NewBox(make([]byte, 32))
	require.NoError(t, err)
	database, err := New(path, WithCodec(oldKey))
	require.NoError(t, err)

	locked := sampleJob()
	locked.RunAs = RunAs{Enabled: true, User: "svc", Password: "s3cret"}
	require.NoError(t, database.CreateJob(ctx, locked))
	plain := sampleJob()
	require.NoError(t, database.CreateJob(ctx, plain))
	for _, id := range []int64{locked.ID, plain.ID} {
		require.NoError(t, database.ReplaceSlots(ctx, id, SlotSpec{Kind: KindRecurring, DaysMask: AllDays, Minutes: []int{600}, Active: true}))
	}
	require.NoError(t, database.Close())

	key := make([]byte, 32)
	key[0] = 1
	newKey, err := secret.NewBox(key)
	require.NoError(t, err)
	database, err = New(path, WithCodec(newKey))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	jobs, err := database.ListJobs(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 2)

	candidates, err := database.ListDueCandidates(ctx, 600)
	require.NoError(t, err)
	require.Len(t, candidates, 2)

	got, err := database.GetJob(ctx, locked.ID)
	require.NoError(t, err)
	assert.Empty(t, got.RunAs.Password)
	assert.Contains(t, got.SecretError, "could not be decrypted")

	got, err = database.GetJob(ctx, plain.ID)
	require.NoError(t, err)
	assert.Empty(t, got.SecretError)
}

func TestDeleteJobCascades(t *testing.T) {
	ctx := context.Background()
	database := newTestDB(t)
	job := sampleJob()
	require.NoError(t, database.CreateJob(ctx, job))
	require.NoError(t, database.ReplaceSlots(ctx, job.ID, SlotSpec{Kind: KindRecurring, DaysMask: Monday, Minutes: []int{0}, Active: true}))
	_, err := database.RecordRun(ctx, &RunRecord{JobID: job.ID, ScheduledTime: time.Now(), StartTime: time.Now(), EndTime: time.Now(), Status: RunStatusSuccess})
	require.NoError(t, err)

	require.NoError(t, database.DeleteJob(ctx, job.ID))

	slots, err := database.ListSlots(ctx, job.ID)
	require.NoError(t, err)
	assert.Empty(t, slots)
	n, err := database.CountRuns(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	assert.True(t, errors.Is(database.DeleteJob(ctx, job.ID), ErrNotFound))
}

func TestListRunLogsPagination(t *testing.T) {
	ctx := context.Background()
	database := newTestDB(t)
	job := sampleJob()
	require.NoError(t, database.CreateJob(ctx, job))

	base := time.Date(2025, 1, 1, 8, 0, 0, 0, time.Local)
	for i := 0; i < 5; i++ {
		at := base.Add(time.Duration(i) * time.Hour)
		_, err := database.RecordRun(ctx, &RunRecord{JobID: job.ID, ScheduledTime: at, StartTime: at, EndTime: at, Status: RunStatusSuccess})
		require.NoError(t, err)
	}

	page, err := database.ListRunLogs(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "backup", page[0].JobName)
	assert.Equal(t, base.Add(4*time.Hour), page[0].ScheduledTime)
	assert.Equal(t, base.Add(3*time.Hour), page[1].ScheduledTime)

	page, err = database.ListRunLogs(ctx, 2, 4)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, base, page[0].ScheduledTime)

	runs, err := database.ListJobRuns(ctx, job.ID, 3)
	require.NoError(t, err)
	assert.Len(t, runs, 3)
}

func TestCleanupRuns(t *testing.T) {
	ctx := context.Background()
	database := newTestDB(t)
	job := sampleJob()
	require.NoError(t, database.CreateJob(ctx, job))

	now := time.Now()
	for _, at := range []time.Time{now.AddDate(0, 0, -40), now.AddDate(0, 0, -31), now.AddDate(0, 0, -1)} {
		_, err := database.RecordRun(ctx, &RunRecord{JobID: job.ID, ScheduledTime: at, StartTime: at, EndTime: at, Status: RunStatusSuccess})
		require.NoError(t, err)
	}

	deleted, err := database.CleanupRuns(ctx, now.AddDate(0, 0, -30))
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)
	n, err := database.CountRuns(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSettings(t *testing.T) {
	ctx := context.Background()
	database := newTestDB(t)

	v, err := database.GetSetting(ctx, SettingAutostart, "0")
	require.NoError(t, err)
	assert.Equal(t, "0", v)

	require.NoError(t, database.SetSetting(ctx, SettingAutostart, "1"))
	require.NoError(t, database.SetSetting(ctx, SettingAutostart, "0"))
	require.NoError(t, database.SetSetting(ctx, SettingServiceInstall, "1"))

	v, err = database.GetSetting(ctx, SettingAutostart, "")
	require.NoError(t, err)
	assert.Equal(t, "0", v)

	all, err := database.ListSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{SettingAutostart: "0", SettingServiceInstall: "1"}, all)
}

func TestMigrateAddsMissingColumns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")
	conn, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = conn.Exec(`CREATE TABLE jobs (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT,
		send_to TEXT,
		program_path TEXT,
		parameters TEXT,
		batch_path TEXT,
		active INTEGER NOT NULL DEFAULT 1,
		once_per_day INTEGER NOT NULL DEFAULT 0,
		autostart INTEGER NOT NULL DEFAULT 0,
		run_as_enabled INTEGER NOT NULL DEFAULT 0,
		run_as_user TEXT,
		run_as_domain TEXT,
		run_as_password TEXT,
		last_run_at TEXT,
		created_at TEXT,
		updated_at TEXT
	)`)
	require.NoError(t, err)
	_, err = conn.Exec(`INSERT INTO jobs (name, program_path) VALUES ('kept', '/bin/true')`)
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	database, err := New(path)
	require.NoError(t, err)
	defer database.Close()

	jobs, err := database.ListJobs(context.Background())
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "kept", jobs[0].Name)
	assert.False(t, jobs[0].HTTP.Enabled)
	assert.False(t, jobs[0].RunAs.Admin)
	assert.Equal(t, AuthNone, jobs[0].HTTP.AuthKind)
}

func TestDeleteJobRollsBackOnFailure(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()
	database := NewFromConn(conn)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM schedules").WithArgs(int64(7)).WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("DELETE FROM run_logs").WithArgs(int64(7)).WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	err = database.DeleteJob(context.Background(), 7)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk I/O error")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRunSwallowsUniqueViolation(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()
	database := NewFromConn(conn)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO run_logs").
		WillReturnError(sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintUnique})
	mock.ExpectCommit()

	now := time.Now()
	inserted, err := database.RecordRun(context.Background(), &RunRecord{JobID: 1, ScheduledTime: now, StartTime: now, EndTime: now, Status: RunStatusSuccess})
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRunPropagatesStorageErrors(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()
	database := NewFromConn(conn)

	mock.ExpectBegin().WillReturnError(errors.New("database is locked"))

	now := time.Now()
	_, err = database.RecordRun(context.Background(), &RunRecord{JobID: 1, ScheduledTime: now, StartTime: now, EndTime: now, Status: RunStatusSuccess})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunRecordDetails(t *testing.T) {
	start := time.Date(2025, 1, 1, 10, 0, 0, 0, time.Local)
	run := &RunRecord{StartTime: start, EndTime: start.Add(2 * time.Second), ExitCode: ptr(3), Output: "out", Error: "err"}
	assert.Equal(t, "Start: 2025-01-01T10:00:00\nEnd: 2025-01-01T10:00:02\nExit: 3\n\nout\nerr", run.Details())

	assert.Equal(t, "only", (&RunRecord{Output: "only"}).Details())
}

func TestWeekdayBit(t *testing.T) {
	// 2025-03-03 is a Monday.
	monday := time.Date(2025, 3, 3, 0, 0, 0, 0, time.Local)
	assert.Equal(t, Monday, WeekdayBit(monday))
	assert.Equal(t, Wednesday, WeekdayBit(monday.AddDate(0, 0, 2)))
	assert.Equal(t, Sunday, WeekdayBit(monday.AddDate(0, 0, 6)))
}
