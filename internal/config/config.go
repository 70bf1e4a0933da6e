// Package config loads the sheetdb configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/maruel/sheetdb/internal/schema"
	"github.com/maruel/sheetdb/internal/sheetdb"
	"gopkg.in/yaml.v3"
)

// Config is the content of sheetdb.yaml.
type Config struct {
	// Dir is the jsonlsheet document directory.
	Dir string `yaml:"dir"`
	// LockTimeout bounds the wait for a batch lock.
	LockTimeout time.Duration `yaml:"lock_timeout"`
	// StaleLock breaks lock files older than this. 0 never breaks them.
	StaleLock time.Duration `yaml:"stale_lock,omitempty"`
	// Capacity is the cell ceiling usage is reported against.
	Capacity int `yaml:"capacity"`
	// Rate limits backing-store calls per second. 0 is unlimited.
	Rate float64 `yaml:"rate"`
	// Burst is the limiter burst when Rate is set.
	Burst int `yaml:"burst"`
	// MetricsAddr serves prometheus metrics while watching, when set.
	MetricsAddr string `yaml:"metrics_addr,omitempty"`
	// Etcd moves batch locks to an etcd cluster, when set.
	Etcd *Etcd `yaml:"etcd,omitempty"`
	// Collections declares per-collection settings. When any collection
	// declares columns, every collection of the document must be listed.
	Collections map[string]Collection `yaml:"collections,omitempty"`
}

// Etcd configures the distributed lock client.
type Etcd struct {
	Endpoints   []string      `yaml:"endpoints"`
	Prefix      string        `yaml:"prefix"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
	// TTL is the session lease in seconds.
	TTL int `yaml:"ttl"`
}

// Collection configures one collection.
type Collection struct {
	// KeyColumn is the 0-based primary key column.
	KeyColumn int             `yaml:"key_column,omitempty"`
	Columns   []schema.Column `yaml:"columns,omitempty"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Dir:         "./data",
		LockTimeout: sheetdb.DefaultLockTimeout,
		Capacity:    sheetdb.DefaultCapacity,
		Burst:       1,
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path) //nolint:gosec // User-specified config path
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		return cfg, nil
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if cfg.Etcd != nil {
		if cfg.Etcd.Prefix == "" {
			cfg.Etcd.Prefix = "/sheetdb/"
		}
		if cfg.Etcd.DialTimeout == 0 {
			cfg.Etcd.DialTimeout = 5 * time.Second
		}
		if cfg.Etcd.TTL == 0 {
			cfg.Etcd.TTL = 60
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Dir == "" {
		return errors.New("dir is required")
	}
	if c.LockTimeout <= 0 {
		return fmt.Errorf("lock_timeout must be positive, got %s", c.LockTimeout)
	}
	if c.StaleLock < 0 {
		return fmt.Errorf("stale_lock must not be negative, got %s", c.StaleLock)
	}
	if c.Capacity <= 0 {
		return fmt.Errorf("capacity must be positive, got %d", c.Capacity)
	}
	if c.Rate < 0 {
		return fmt.Errorf("rate must not be negative, got %g", c.Rate)
	}
	if c.Rate > 0 && c.Burst < 1 {
		return fmt.Errorf("burst must be at least 1, got %d", c.Burst)
	}
	if c.Etcd != nil && len(c.Etcd.Endpoints) == 0 {
		return errors.New("etcd.endpoints is required")
	}
	for name, col := range c.Collections {
		if col.KeyColumn < 0 {
			return fmt.Errorf("collection %q: key_column must not be negative", name)
		}
		if _, err := schema.New(col.Columns); err != nil {
			return fmt.Errorf("collection %q: %w", name, err)
		}
	}
	return nil
}

// Options returns the registry options described by the configuration.
func (c *Config) Options() (sheetdb.Options, error) {
	opts := sheetdb.Options{
		LockTimeout: c.LockTimeout,
		Capacity:    c.Capacity,
	}
	typed := false
	for _, col := range c.Collections {
		if len(col.Columns) > 0 {
			typed = true
		}
	}
	for name, col := range c.Collections {
		if col.KeyColumn != 0 {
			if opts.KeyColumns == nil {
				opts.KeyColumns = map[string]int{}
			}
			opts.KeyColumns[name] = col.KeyColumn
		}
		if !typed {
			continue
		}
		s, err := schema.New(col.Columns)
		if err != nil {
			return sheetdb.Options{}, fmt.Errorf("collection %q: %w", name, err)
		}
		if opts.Schemas == nil {
			opts.Schemas = map[string]sheetdb.Schema{}
		}
		opts.Schemas[name] = s
	}
	return opts, nil
}
