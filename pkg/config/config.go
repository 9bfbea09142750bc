// Package config provides configuration file support for coordkit.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jvs-project/coordkit/pkg/errclass"
	"github.com/jvs-project/coordkit/pkg/fsutil"
	"github.com/jvs-project/coordkit/pkg/logging"
	"github.com/jvs-project/coordkit/pkg/model"
)

// DirName is the per-root directory holding config and, by default, state.
const DirName = ".coordkit"

// FileName is the config file inside DirName.
const FileName = "config.yaml"

// Config represents the coordkit configuration.
type Config struct {
	// StateDir holds locks and maps. Relative paths resolve against the root.
	StateDir string        `yaml:"state_dir"`
	Lock     LockConfig    `yaml:"lock"`
	Retry    RetryConfig   `yaml:"retry"`
	Cache    CacheConfig   `yaml:"cache"`
	Logging  LoggingConfig `yaml:"logging"`
}

// LockConfig configures the expiring file lock.
type LockConfig struct {
	DefaultTTL   Duration `yaml:"default_ttl"`
	MaxWait      Duration `yaml:"max_wait"`
	PollInterval Duration `yaml:"poll_interval"`
	Backoff      string   `yaml:"backoff,omitempty"`
}

// RetryConfig holds the defaults handed to retry builders.
type RetryConfig struct {
	Delay       Duration `yaml:"delay"`
	Backoff     string   `yaml:"backoff"` // constant, linear, exponential
	MaxDuration Duration `yaml:"max_duration"`
}

// CacheConfig configures the per-process TTL cache.
type CacheConfig struct {
	DefaultValidFor Duration `yaml:"default_valid_for"`
}

// LoggingConfig configures logging behavior.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json, text
}

// Default returns the default configuration.
func Default() *Config {
	policy := model.DefaultLockPolicy()
	return &Config{
		StateDir: filepath.Join(DirName, "state"),
		Lock: LockConfig{
			DefaultTTL:   Duration(policy.DefaultTTL),
			MaxWait:      Duration(policy.MaxWait),
			PollInterval: Duration(policy.PollInterval),
		},
		Retry: RetryConfig{
			Delay:       Duration(100 * time.Millisecond),
			Backoff:     string(model.BackoffConstant),
			MaxDuration: Duration(30 * time.Second),
		},
		Cache: CacheConfig{
			DefaultValidFor: Duration(5 * time.Minute),
		},
		Logging: LoggingConfig{
			Level:  string(logging.LevelInfo),
			Format: string(logging.FormatText),
		},
	}
}

// Path returns the config file location under root.
func Path(root string) string {
	return filepath.Join(root, DirName, FileName)
}

// Load loads configuration from .coordkit/config.yaml under root.
// Returns default config if file doesn't exist. Keys missing from the file
// keep their defaults.
func Load(root string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(Path(root))
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errclass.ErrConfigInvalid.WithMessage("parse config").Wrap(err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes configuration to .coordkit/config.yaml under root.
func Save(root string, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := fsutil.AtomicWrite(Path(root), data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	if c.StateDir == "" {
		return errclass.ErrConfigInvalid.WithMessage("state_dir must not be empty")
	}
	if c.Lock.DefaultTTL.Std() <= 0 {
		return errclass.ErrConfigInvalid.WithMessage("lock.default_ttl must be positive")
	}
	if c.Lock.MaxWait.Std() < 0 {
		return errclass.ErrConfigInvalid.WithMessage("lock.max_wait must not be negative")
	}
	if c.Lock.PollInterval.Std() <= 0 {
		return errclass.ErrConfigInvalid.WithMessage("lock.poll_interval must be positive")
	}
	if _, err := model.ParseBackoffKind(c.Lock.Backoff); err != nil {
		return errclass.ErrConfigInvalid.WithMessagef("lock.backoff: %v", err)
	}
	if c.Retry.Delay.Std() < 0 {
		return errclass.ErrConfigInvalid.WithMessage("retry.delay must not be negative")
	}
	if c.Retry.MaxDuration.Std() < 0 {
		return errclass.ErrConfigInvalid.WithMessage("retry.max_duration must not be negative")
	}
	if _, err := model.ParseBackoffKind(c.Retry.Backoff); err != nil {
		return errclass.ErrConfigInvalid.WithMessagef("retry.backoff: %v", err)
	}
	if c.Cache.DefaultValidFor.Std() < 0 {
		return errclass.ErrConfigInvalid.WithMessage("cache.default_valid_for must not be negative")
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return errclass.ErrConfigInvalid.WithMessagef("logging.level: %v", err)
	}
	switch logging.Format(c.Logging.Format) {
	case logging.FormatJSON, logging.FormatText:
	default:
		return errclass.ErrConfigInvalid.WithMessagef("logging.format: unknown format %q", c.Logging.Format)
	}
	return nil
}

// StatePath resolves StateDir against root.
func (c *Config) StatePath(root string) string {
	if filepath.IsAbs(c.StateDir) {
		return c.StateDir
	}
	return filepath.Join(root, c.StateDir)
}

// LocksDir is where lock files live.
func (c *Config) LocksDir(root string) string {
	return filepath.Join(c.StatePath(root), "locks")
}

// MapsDir is where shared map files live.
func (c *Config) MapsDir(root string) string {
	return filepath.Join(c.StatePath(root), "maps")
}

// LockPolicy converts the lock section.
func (c *Config) LockPolicy() model.LockPolicy {
	backoff, _ := model.ParseBackoffKind(c.Lock.Backoff)
	return model.LockPolicy{
		DefaultTTL:   c.Lock.DefaultTTL.Std(),
		MaxWait:      c.Lock.MaxWait.Std(),
		PollInterval: c.Lock.PollInterval.Std(),
		Backoff:      backoff,
	}
}
