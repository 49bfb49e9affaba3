package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. LOCAL_TASKS_SCHEDULER_WORKERS
const EnvPrefix = "LOCAL_TASKS"

// New returns a viper instance with defaults and environment binding
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// Load reads configuration. An empty configFile looks for FileName in the
// data directory and is not an error when absent.
func Load(configFile string) (*Config, error) {
	return LoadWithViper(New(), configFile)
}

// LoadWithViper loads configuration into a prepared viper instance
func LoadWithViper(v *viper.Viper, configFile string) (*Config, error) {
	if configFile == "" {
		candidate := filepath.Join(expandHome(v.GetString("data_dir")), FileName)
		if _, err := os.Stat(candidate); err == nil {
			configFile = candidate
		}
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "failed to read config file %s", configFile)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	cfg.DataDir = expandHome(cfg.DataDir)
	cfg.Database.Path = expandHome(cfg.Database.Path)
	cfg.Secret.KeyFile = expandHome(cfg.Secret.KeyFile)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the scheduler cannot run with
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("data_dir is required")
	}
	if c.Scheduler.Workers < 1 {
		return errors.Newf("scheduler.workers must be at least 1, got %d", c.Scheduler.Workers)
	}
	if c.Scheduler.PollInterval <= 0 {
		return errors.New("scheduler.poll_interval must be positive")
	}
	if c.Retention.Days < 0 {
		return errors.Newf("retention.days must not be negative, got %d", c.Retention.Days)
	}
	return nil
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
