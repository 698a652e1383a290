// Package config reads and writes the global ~/.msgcore/config.toml.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// DefaultProfile is used when neither a flag nor the config names one.
const DefaultProfile = "main"

// Config represents the global ~/.msgcore/config.toml.
type Config struct {
	DefaultProfile string `toml:"default_profile"`
	Log            Log    `toml:"log"`
	Sync           Sync   `toml:"sync"`
}

// Log configures the daemon logger.
type Log struct {
	Level string `toml:"level"`
}

// Sync tunes the RemoteSync loop.
type Sync struct {
	Interval    Duration `toml:"interval"`
	BatchSize   int      `toml:"batch_size"`
	MaxRetries  int      `toml:"max_retries"`
	BaseBackoff Duration `toml:"base_backoff"`
	MaxBackoff  Duration `toml:"max_backoff"`
}

// Duration is a time.Duration written as "500ms", "5m".
type Duration struct {
	time.Duration
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DefaultProfile: DefaultProfile,
		Log:            Log{Level: "info"},
		Sync: Sync{
			Interval:    Duration{500 * time.Millisecond},
			BatchSize:   100,
			MaxRetries:  8,
			BaseBackoff: Duration{time.Second},
			MaxBackoff:  Duration{5 * time.Minute},
		},
	}
}

// WithDefaults returns a copy of cfg with zero fields filled from Default.
func (c *Config) WithDefaults() *Config {
	def := Default()
	if c == nil {
		return def
	}
	out := *c
	if out.DefaultProfile == "" {
		out.DefaultProfile = def.DefaultProfile
	}
	if out.Log.Level == "" {
		out.Log.Level = def.Log.Level
	}
	s, ds := &out.Sync, def.Sync
	if s.Interval.Duration <= 0 {
		s.Interval = ds.Interval
	}
	if s.BatchSize <= 0 {
		s.BatchSize = ds.BatchSize
	}
	if s.MaxRetries <= 0 {
		s.MaxRetries = ds.MaxRetries
	}
	if s.BaseBackoff.Duration <= 0 {
		s.BaseBackoff = ds.BaseBackoff
	}
	if s.MaxBackoff.Duration <= 0 {
		s.MaxBackoff = ds.MaxBackoff
	}
	if s.MaxBackoff.Duration < s.BaseBackoff.Duration {
		s.MaxBackoff = s.BaseBackoff
	}
	return &out
}

// Load reads config from the given path. Returns zero config and error if file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault is Load with defaults applied; a missing file yields Default.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg.WithDefaults(), nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
