package db

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	_ "github.com/mattn/go-sqlite3"

	"github.com/kylemclaren/local-tasks/internal/secret"
)

// ErrNotFound is returned when a job or run does not exist
var ErrNotFound = errors.New("not found")

// DB wraps the SQLite database connection
type DB struct {
	conn  *sql.DB
	codec secret.Codec
}

// Option configures a DB
type Option func(*DB)

// WithCodec sets the codec applied to stored run-as passwords
func WithCodec(c secret.Codec) Option {
	return func(db *DB) {
		if c != nil {
			db.codec = c
		}
	}
}

// New creates a new database connection
func New(dbPath string, opts ...Option) (*DB, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create db directory")
	}

	conn, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	// One writer at a time; all calls are short transactions.
	conn.SetMaxOpenConns(1)

	db := NewFromConn(conn, opts...)
	if err := db.migrate(context.Background()); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "failed to migrate database")
	}

	return db, nil
}

// NewFromConn wraps an existing connection without migrating it.
func NewFromConn(conn *sql.DB, opts ...Option) *DB {
	db := &DB{conn: conn, codec: secret.Passthrough{}}
	for _, opt := range opts {
		opt(db)
	}
	return db
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		description TEXT DEFAULT '',
		send_to TEXT DEFAULT '',
		program_path TEXT DEFAULT '',
		parameters TEXT DEFAULT '',
		batch_path TEXT DEFAULT '',
		active INTEGER NOT NULL DEFAULT 1,
		once_per_day INTEGER NOT NULL DEFAULT 0,
		autostart INTEGER NOT NULL DEFAULT 0,
		run_as_enabled INTEGER NOT NULL DEFAULT 0,
		run_as_user TEXT DEFAULT '',
		run_as_domain TEXT DEFAULT '',
		run_as_password TEXT DEFAULT '',
		last_run_at TEXT,
		created_at TEXT,
		updated_at TEXT
	);

	CREATE TABLE IF NOT EXISTS schedules (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id INTEGER NOT NULL,
		schedule_type TEXT NOT NULL,
		days_mask INTEGER NOT NULL DEFAULT 0,
		date TEXT,
		minute_of_day INTEGER NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT,
		updated_at TEXT,
		FOREIGN KEY (job_id) REFERENCES jobs(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS run_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id INTEGER NOT NULL,
		scheduled_time TEXT NOT NULL,
		start_time TEXT,
		end_time TEXT,
		status TEXT NOT NULL,
		exit_code INTEGER,
		output TEXT DEFAULT '',
		error TEXT DEFAULT '',
		FOREIGN KEY (job_id) REFERENCES jobs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_schedules_job_time ON schedules(job_id, minute_of_day);
	CREATE INDEX IF NOT EXISTS idx_schedules_date_time ON schedules(date, minute_of_day);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_run_logs_unique ON run_logs(job_id, scheduled_time);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT
	);
	`

	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return err
	}

	// Columns added after the first release. Additive only.
	columns := []struct{ table, name, definition string }{
		{"jobs", "run_as_admin", "INTEGER NOT NULL DEFAULT 0"},
		{"jobs", "api_enabled", "INTEGER NOT NULL DEFAULT 0"},
		{"jobs", "api_method", "TEXT DEFAULT ''"},
		{"jobs", "api_url", "TEXT DEFAULT ''"},
		{"jobs", "api_headers", "TEXT DEFAULT ''"},
		{"jobs", "api_body", "TEXT DEFAULT ''"},
		{"jobs", "api_auth_type", "TEXT DEFAULT ''"},
		{"jobs", "api_auth_value", "TEXT DEFAULT ''"},
		{"jobs", "api_timeout", "INTEGER DEFAULT 0"},
		{"jobs", "api_retries", "INTEGER DEFAULT 0"},
		{"jobs", "action_name", "TEXT DEFAULT ''"},
		{"jobs", "action_params", "TEXT DEFAULT ''"},
	}
	for _, c := range columns {
		if err := db.ensureColumn(ctx, c.table, c.name, c.definition); err != nil {
			return errors.Wrapf(err, "failed to add column %s.%s", c.table, c.name)
		}
	}

	return nil
}

// ensureColumn adds a column when PRAGMA table_info does not list it.
func (db *DB) ensureColumn(ctx context.Context, table, column, definition string) error {
	rows, err := db.conn.QueryContext(ctx, "PRAGMA table_info("+table+")")
	if err != nil {
		return err
	}

	found := false
	for rows.Next() {
		var (
			cid       int
			name      string
			ctype     string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dfltValue, &pk); err != nil {
			rows.Close()
			return err
		}
		if name == column {
			found = true
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	if found {
		return nil
	}
	_, err = db.conn.ExecContext(ctx, "ALTER TABLE "+table+" ADD COLUMN "+column+" "+definition)
	return err
}

// withTx runs fn inside a transaction, rolling back on error
func (db *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit transaction")
	}
	return nil
}

// GetSetting retrieves a setting value, returning def when unset
func (db *DB) GetSetting(ctx context.Context, key, def string) (string, error) {
	var value sql.NullString
	err := db.conn.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return def, nil
	}
	if err != nil {
		return "", errors.Wrapf(err, "failed to read setting %s", key)
	}
	return value.String, nil
}

// SetSetting sets a setting value
func (db *DB) SetSetting(ctx context.Context, key, value string) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return errors.Wrapf(err, "failed to write setting %s", key)
	}
	return nil
}

// ListSettings returns every stored setting
func (db *DB) ListSettings(ctx context.Context) (map[string]string, error) {
	rows, err := db.conn.QueryContext(ctx, "SELECT key, value FROM settings ORDER BY key")
	if err != nil {
		return nil, errors.Wrap(err, "failed to list settings")
	}
	defer rows.Close()

	settings := make(map[string]string)
	for rows.Next() {
		var key string
		var value sql.NullString
		if err := rows.Scan(&key, &value); err != nil {
			return nil, errors.Wrap(err, "failed to scan setting")
		}
		settings[key] = value.String
	}
	return settings, rows.Err()
}
