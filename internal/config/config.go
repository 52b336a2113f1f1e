package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config represents the global ~/.tilechat/config.toml.
type Config struct {
	DefaultProfile string     `toml:"default_profile"`
	LogLevel       string     `toml:"log_level"`
	MetricsAddr    string     `toml:"metrics_addr"`
	API            APIConfig  `toml:"api"`
	Poll           PollConfig `toml:"poll"`
}

// APIConfig locates the shop backend.
type APIConfig struct {
	BaseURL string   `toml:"base_url"`
	Timeout Duration `toml:"timeout"`
}

// PollConfig controls the background refresh loops.
type PollConfig struct {
	ConversationsInterval Duration `toml:"conversations_interval"`
	MessagesInterval      Duration `toml:"messages_interval"`
	Backoff               bool     `toml:"backoff"`
	MaxBackoff            Duration `toml:"max_backoff"`
}

// Duration is a time.Duration encoded as a TOML string ("30s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		API: APIConfig{
			BaseURL: "http://localhost:8000",
			Timeout: Duration{15 * time.Second},
		},
		Poll: PollConfig{
			ConversationsInterval: Duration{30 * time.Second},
			MessagesInterval:      Duration{5 * time.Second},
			Backoff:               true,
			MaxBackoff:            Duration{5 * time.Minute},
		},
	}
}

// Load reads config from the given path on top of Default. Returns error if file missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.fillDefaults()
	return cfg, nil
}

// LoadOrDefault is Load that tolerates a missing file. Environment overrides
// are applied in both cases.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg, err = Default(), nil
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overlays TILECHAT_* environment variables, reading an optional .env
// file in the working directory first. Variables already set in the process
// environment win over the file.
func (c *Config) ApplyEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	if v := os.Getenv("TILECHAT_BASE_URL"); v != "" {
		c.API.BaseURL = v
	}
	if v := os.Getenv("TILECHAT_METRICS_ADDR"); v != "" {
		c.MetricsAddr = v
	}
	if v := os.Getenv("TILECHAT_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	return nil
}

func (c *Config) fillDefaults() {
	def := Default()
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.API.BaseURL == "" {
		c.API.BaseURL = def.API.BaseURL
	}
	if c.API.Timeout.Duration <= 0 {
		c.API.Timeout = def.API.Timeout
	}
	if c.Poll.ConversationsInterval.Duration <= 0 {
		c.Poll.ConversationsInterval = def.Poll.ConversationsInterval
	}
	if c.Poll.MessagesInterval.Duration <= 0 {
		c.Poll.MessagesInterval = def.Poll.MessagesInterval
	}
	if c.Poll.MaxBackoff.Duration <= 0 {
		c.Poll.MaxBackoff = def.Poll.MaxBackoff
	}
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
