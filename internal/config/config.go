// Package config loads local-tasks settings from defaults, an optional TOML
// file and LOCAL_TASKS_* environment variables.
package config

import (
	"path/filepath"
	"time"

	"github.com/kylemclaren/local-tasks/internal/mailer"
)

// Config is the complete runtime configuration
type Config struct {
	DataDir   string          `mapstructure:"data_dir"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Log       LogConfig       `mapstructure:"log"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Executor  ExecutorConfig  `mapstructure:"executor"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Retention RetentionConfig `mapstructure:"retention"`
	API       APIConfig       `mapstructure:"api"`
	Secret    SecretConfig    `mapstructure:"secret"`
	SMTP      mailer.Config   `mapstructure:"smtp"`
}

// DatabaseConfig locates the SQLite file
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// LogConfig selects level and encoding
type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// SchedulerConfig tunes the polling loop and worker pool
type SchedulerConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Workers      int           `mapstructure:"workers"`
	StopTimeout  time.Duration `mapstructure:"stop_timeout"`
}

// ExecutorConfig controls process launching
type ExecutorConfig struct {
	ProcessTimeout time.Duration `mapstructure:"process_timeout"`
	Shell          []string      `mapstructure:"shell"`
	ElevateCommand []string      `mapstructure:"elevate_command"`
}

// HTTPConfig controls the outbound HTTP client
type HTTPConfig struct {
	RetryWait       time.Duration `mapstructure:"retry_wait"`
	DefaultTimeout  time.Duration `mapstructure:"default_timeout"`
	DownloadTimeout time.Duration `mapstructure:"download_timeout"`
}

// RetentionConfig controls the run history sweep
type RetentionConfig struct {
	Days     int    `mapstructure:"days"`
	Schedule string `mapstructure:"schedule"`
}

// APIConfig controls the management API listener
type APIConfig struct {
	Addr string `mapstructure:"addr"`
}

// SecretConfig locates the key used for stored credentials
type SecretConfig struct {
	KeyFile string `mapstructure:"key_file"`
}

// DatabasePath returns the configured database file, defaulting into DataDir
func (c *Config) DatabasePath() string {
	if c.Database.Path != "" {
		return c.Database.Path
	}
	return filepath.Join(c.DataDir, "tasks.db")
}

// KeyFile returns the secret key file, defaulting into DataDir
func (c *Config) KeyFile() string {
	if c.Secret.KeyFile != "" {
		return c.Secret.KeyFile
	}
	return filepath.Join(c.DataDir, "secret.key")
}

// PIDPath returns the daemon pid file
func (c *Config) PIDPath() string {
	return filepath.Join(c.DataDir, "daemon.pid")
}
