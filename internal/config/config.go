package config

import (
	"fmt"
	"time"

	"github.com/occopus/infra-processor/internal/shared/logger"
)

// Config is the top-level configuration for the infrastructure processor.
type Config struct {
	Log       logger.Config   `mapstructure:"log"`
	Processor ProcessorConfig `mapstructure:"processor"`
	Store     StoreConfig     `mapstructure:"store"`
	Resource  ResourceConfig  `mapstructure:"resource"`
	NATS      NATSConfig      `mapstructure:"nats"`
}

// ProcessorConfig controls batch execution and node synchronization.
type ProcessorConfig struct {
	Strategy             string        `mapstructure:"strategy"` // sequential|parallel
	PollInterval         time.Duration `mapstructure:"poll_interval"`
	DefaultCreateTimeout time.Duration `mapstructure:"default_create_timeout"`
}

// StoreConfig selects and configures the durable store backend.
type StoreConfig struct {
	Backend string        `mapstructure:"backend"` // sqlite|badger|memory
	SQLite  SQLiteConfig  `mapstructure:"sqlite"`
	Badger  BadgerConfig  `mapstructure:"badger"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// SQLiteConfig holds SQLite store settings.
type SQLiteConfig struct {
	Path            string `mapstructure:"path"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"` // seconds
}

// BadgerConfig holds Badger store settings.
type BadgerConfig struct {
	Path string `mapstructure:"path"`
}

// ResourceConfig selects and configures the resource handler backend.
type ResourceConfig struct {
	Backend string       `mapstructure:"backend"` // hcloud|dummy
	Hcloud  HcloudConfig `mapstructure:"hcloud"`
}

// HcloudConfig holds Hetzner Cloud settings for the hcloud resource handler.
type HcloudConfig struct {
	Token      string `mapstructure:"token"`
	ServerType string `mapstructure:"server_type"`
	Image      string `mapstructure:"image"`
	Location   string `mapstructure:"location"`
}

// NATSConfig holds the remote transport settings.
type NATSConfig struct {
	URL            string `mapstructure:"url"`
	WorkSubject    string `mapstructure:"work_subject"`
	ControlSubject string `mapstructure:"control_subject"`
	QueueGroup     string `mapstructure:"queue_group"`
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	switch c.Processor.Strategy {
	case "sequential", "parallel":
	default:
		return fmt.Errorf("processor.strategy must be sequential or parallel, got %q", c.Processor.Strategy)
	}

	if c.Processor.PollInterval <= 0 {
		return fmt.Errorf("processor.poll_interval must be positive, got %v", c.Processor.PollInterval)
	}
	if c.Processor.DefaultCreateTimeout < 0 {
		return fmt.Errorf("processor.default_create_timeout must not be negative, got %v", c.Processor.DefaultCreateTimeout)
	}

	switch c.Store.Backend {
	case "sqlite":
		if c.Store.SQLite.Path == "" {
			return fmt.Errorf("store.sqlite.path is required for the sqlite backend")
		}
	case "badger":
		if c.Store.Badger.Path == "" {
			return fmt.Errorf("store.badger.path is required for the badger backend")
		}
	case "memory":
	default:
		return fmt.Errorf("store.backend must be sqlite, badger or memory, got %q", c.Store.Backend)
	}

	switch c.Resource.Backend {
	case "hcloud":
		if c.Resource.Hcloud.Token == "" {
			return fmt.Errorf("resource.hcloud.token is required for the hcloud backend")
		}
	case "dummy":
	default:
		return fmt.Errorf("resource.backend must be hcloud or dummy, got %q", c.Resource.Backend)
	}

	return nil
}
