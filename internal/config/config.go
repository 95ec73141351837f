// Package config loads client configuration for the fieldops CLI and
// libraries. Configuration lives in a YAML file; a handful of environment
// variables override file values so secrets stay out of the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// EnvAuthorityURL overrides authority.base_url.
	EnvAuthorityURL = "FIELDOPS_AUTHORITY_URL"
	// EnvCredentialsPath overrides credentials.path.
	EnvCredentialsPath = "FIELDOPS_CREDENTIALS"
)

// Duration wraps time.Duration so YAML values like "15s" parse.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped standard duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// AuthorityConfig describes how to reach the backend of record.
type AuthorityConfig struct {
	BaseURL string   `yaml:"base_url"`
	Timeout Duration `yaml:"timeout"`
}

// CredentialsConfig locates the persisted credential pair.
type CredentialsConfig struct {
	Path string `yaml:"path"`
}

// RateConfig bounds outbound request rate. Zero disables the limiter.
type RateConfig struct {
	PerSec float64 `yaml:"per_sec"`
	Burst  int     `yaml:"burst"`
}

// Config models the fieldops client configuration file.
type Config struct {
	Authority   AuthorityConfig   `yaml:"authority"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Rate        RateConfig        `yaml:"rate"`
}

// Default returns the configuration used when no file exists.
func Default() Config {
	home, _ := os.UserHomeDir()
	return Config{
		Authority: AuthorityConfig{
			BaseURL: "http://localhost:8080",
			Timeout: Duration(15 * time.Second),
		},
		Credentials: CredentialsConfig{
			Path: filepath.Join(home, ".fieldops", "credentials.json"),
		},
	}
}

// Load reads the YAML file at path and applies env overrides. A missing file
// is not an error; defaults apply.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			// fall through to defaults
		case err != nil:
			return Config{}, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config: %w", err)
			}
		}
	}
	applyEnv(&cfg)
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv(EnvAuthorityURL)); v != "" {
		cfg.Authority.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvCredentialsPath)); v != "" {
		cfg.Credentials.Path = v
	}
}

func (c Config) validate() error {
	if strings.TrimSpace(c.Authority.BaseURL) == "" {
		return errors.New("config: authority.base_url is required")
	}
	if c.Authority.Timeout < 0 {
		return errors.New("config: authority.timeout must be >= 0")
	}
	if c.Rate.PerSec < 0 || c.Rate.Burst < 0 {
		return errors.New("config: rate values must be >= 0")
	}
	return nil
}
