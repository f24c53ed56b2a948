// Package config loads the operator configuration: filesystem locations,
// monitoring defaults and the application catalog seeded into new
// containers. Per-container state lives in the sidecar record instead.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nace/skrinja/internal/container"
)

// DefaultPath is where the operator config is looked up unless overridden.
const DefaultPath = "/etc/skrinja/config.yaml"

// Config holds operator-tunable settings. Every field has a working
// default; a missing config file is not an error.
type Config struct {
	// BaseDir holds backing files and sidecar records.
	BaseDir string `yaml:"base_dir"`
	// MountDir is where decrypted volumes get mounted, one subdirectory
	// per container name.
	MountDir string `yaml:"mount_dir"`
	// Filesystem created inside new containers (ext4, xfs, btrfs).
	Filesystem string `yaml:"filesystem"`
	// AutoUnmountTimeoutMinutes seeds new containers and is the fallback
	// when a sidecar record is unreadable.
	AutoUnmountTimeoutMinutes int `yaml:"auto_unmount_timeout_minutes"`
	// CheckIntervalSeconds is the inactivity check cadence. Kept short and
	// independent of the timeout so checks stay responsive.
	CheckIntervalSeconds int `yaml:"check_interval_seconds"`
	// ProbeTimeoutSeconds bounds each application liveness probe.
	ProbeTimeoutSeconds int `yaml:"probe_timeout_seconds"`
	// ProbeAddress is the fallback probe endpoint for applications that
	// don't declare their own.
	ProbeAddress string `yaml:"probe_address"`
	// Applications is the catalog copied into the sidecar record of every
	// newly created container.
	Applications []container.ApplicationSpec `yaml:"applications"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		BaseDir:                   "/var/lib/skrinja",
		MountDir:                  "/mnt/skrinja",
		Filesystem:                "ext4",
		AutoUnmountTimeoutMinutes: 15,
		CheckIntervalSeconds:      30,
		ProbeTimeoutSeconds:       2,
		ProbeAddress:              "127.0.0.1:4040",
	}
}

// Load reads the config at path, layered over the defaults. A missing
// file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.AutoUnmountTimeoutMinutes <= 0 {
		return fmt.Errorf("auto_unmount_timeout_minutes must be > 0")
	}
	if c.CheckIntervalSeconds <= 0 {
		return fmt.Errorf("check_interval_seconds must be > 0")
	}
	switch c.Filesystem {
	case "ext4", "xfs", "btrfs":
	default:
		return fmt.Errorf("unsupported filesystem: %s", c.Filesystem)
	}
	for _, app := range c.Applications {
		if app.Name == "" {
			return fmt.Errorf("application with empty name")
		}
	}
	return nil
}

// CheckInterval returns the inactivity check cadence as a duration
func (c *Config) CheckInterval() time.Duration {
	return time.Duration(c.CheckIntervalSeconds) * time.Second
}

// ProbeTimeout returns the liveness probe bound as a duration
func (c *Config) ProbeTimeout() time.Duration {
	return time.Duration(c.ProbeTimeoutSeconds) * time.Second
}

// DefaultTimeout returns the fallback inactivity timeout as a duration
func (c *Config) DefaultTimeout() time.Duration {
	return time.Duration(c.AutoUnmountTimeoutMinutes) * time.Minute
}
