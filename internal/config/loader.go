package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Loader handles configuration loading from YAML files and environment variables
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		v: viper.New(),
	}
}

// LoadFile loads configuration from an explicit file path instead of the
// search paths. An empty path falls back to the regular search.
func (l *Loader) LoadFile(path string) (*Config, error) {
	if path != "" {
		l.v.SetConfigFile(path)
	}
	return l.Load()
}

// Load loads configuration from files and environment variables.
// YAML files take precedence over defaults, ENV variables override both.
func (l *Loader) Load() (*Config, error) {
	l.v.SetConfigName("config")
	l.v.SetConfigType("yaml")

	// Search paths in order of priority
	l.v.AddConfigPath("/etc/infra-processor")
	l.v.AddConfigPath("$HOME/.infra-processor")
	l.v.AddConfigPath(".")

	l.v.SetEnvPrefix("INFRAPROC")
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	l.setDefaults()

	// Config file is optional; defaults and ENV are enough to run.
	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func (l *Loader) setDefaults() {
	l.v.SetDefault("log.level", "info")
	l.v.SetDefault("log.format", "json")

	l.v.SetDefault("processor.strategy", "sequential")
	l.v.SetDefault("processor.poll_interval", "10s")
	l.v.SetDefault("processor.default_create_timeout", "20m")

	l.v.SetDefault("store.backend", "sqlite")
	l.v.SetDefault("store.sqlite.path", "./data/infraprocessor.db")
	l.v.SetDefault("store.sqlite.max_open_conns", 25)
	l.v.SetDefault("store.sqlite.max_idle_conns", 5)
	l.v.SetDefault("store.sqlite.conn_max_lifetime", 300)
	l.v.SetDefault("store.badger.path", "./data/infraprocessor.badger")

	l.v.SetDefault("resource.backend", "dummy")
	l.v.SetDefault("resource.hcloud.server_type", "cx22")
	l.v.SetDefault("resource.hcloud.image", "ubuntu-24.04")
	l.v.SetDefault("resource.hcloud.location", "nbg1")

	l.v.SetDefault("nats.url", "nats://127.0.0.1:4222")
	l.v.SetDefault("nats.work_subject", "infraprocessor.work")
	l.v.SetDefault("nats.control_subject", "infraprocessor.control")
	l.v.SetDefault("nats.queue_group", "infraprocessor")
}
