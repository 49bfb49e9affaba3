package config

import (
	"github.com/spf13/viper"
)

// FileName is the optional config file looked up in the data directory
const FileName = "local-tasks.toml"

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", "~/.local-tasks")
	v.SetDefault("database.path", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)

	v.SetDefault("scheduler.poll_interval", "1s")
	v.SetDefault("scheduler.workers", 4)
	v.SetDefault("scheduler.stop_timeout", "5s")

	v.SetDefault("executor.process_timeout", "1h")
	v.SetDefault("executor.shell", []string{})
	v.SetDefault("executor.elevate_command", []string{})

	v.SetDefault("http.retry_wait", "1s")
	v.SetDefault("http.default_timeout", "30s")
	v.SetDefault("http.download_timeout", "10m")

	v.SetDefault("retention.days", 30)
	v.SetDefault("retention.schedule", "@daily")

	v.SetDefault("api.addr", "127.0.0.1:11349")

	v.SetDefault("secret.key_file", "")

	// SMTP is only used by email notifications; empty host disables it
	v.SetDefault("smtp.host", "")
	v.SetDefault("smtp.port", 25)
	v.SetDefault("smtp.username", "")
	v.SetDefault("smtp.password", "")
	v.SetDefault("smtp.sender", "")
	v.SetDefault("smtp.use_tls", true)
}
