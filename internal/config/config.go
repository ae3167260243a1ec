// Package config loads server configuration from a YAML file, environment
// variables, and an optional .env file. Precedence is flags, then
// environment, then file, then defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// GitConfig configures the version control layer.
type GitConfig struct {
	// RemoteURL is cloned from and pushed to. Empty means local-only.
	RemoteURL string `yaml:"remote_url"`
	// Token authenticates pushes. With a remote but no token the server
	// runs read-only.
	Token       string `yaml:"token"`
	Backend     string `yaml:"backend"` // "exec" or "gogit"
	AuthorName  string `yaml:"author_name"`
	AuthorEmail string `yaml:"author_email"`
}

// SearchConfig configures the search subsystem.
type SearchConfig struct {
	TimeoutSeconds float64 `yaml:"timeout_seconds"`
}

// RateLimitConfig configures the per-IP token bucket. Zero requests
// disables limiting.
type RateLimitConfig struct {
	Requests      int `yaml:"requests"`
	WindowSeconds int `yaml:"window_seconds"`
	Burst         int `yaml:"burst"`
}

// Config is the full server configuration.
type Config struct {
	HTTPAddr  string          `yaml:"http_addr"`
	DataDir   string          `yaml:"data_dir"`
	LogLevel  string          `yaml:"log_level"`
	Git       GitConfig       `yaml:"git"`
	Search    SearchConfig    `yaml:"search"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		HTTPAddr: "localhost:8000",
		DataDir:  "./data",
		LogLevel: "info",
		Search:   SearchConfig{TimeoutSeconds: 30},
		RateLimit: RateLimitConfig{
			Requests:      300,
			WindowSeconds: 60,
			Burst:         50,
		},
	}
}

// Load builds the configuration from the YAML file at path (skipped when
// empty or absent) and the environment. A .env file in the current
// directory is loaded first when present.
func Load(path string) (Config, error) {
	// Existing environment variables win over .env entries.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("failed to load .env: %w", err)
	}

	c := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return Config{}, fmt.Errorf("failed to read %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &c); err != nil {
				return Config{}, fmt.Errorf("failed to parse %s: %w", path, err)
			}
		}
	}
	c.applyEnv()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) applyEnv() {
	setString(&c.HTTPAddr, "HTTP_ADDR")
	setString(&c.DataDir, "MEMORY_ROOT")
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.Git.RemoteURL, "GIT_REMOTE_URL")
	setString(&c.Git.Token, "GITHUB_TOKEN")
	setString(&c.Git.Backend, "GIT_BACKEND")
	setFloat(&c.Search.TimeoutSeconds, "SEARCH_TIMEOUT_SECONDS")
	setInt(&c.RateLimit.Requests, "RATE_LIMIT_REQUESTS")
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("data directory must not be empty")
	}
	if c.Search.TimeoutSeconds <= 0 || c.Search.TimeoutSeconds > 300 {
		return fmt.Errorf("search timeout %v out of range (0, 300]", c.Search.TimeoutSeconds)
	}
	switch c.Git.Backend {
	case "", "exec", "gogit":
	default:
		return fmt.Errorf("unknown git backend %q", c.Git.Backend)
	}
	if c.Git.Token != "" && c.Git.RemoteURL == "" {
		return errors.New("git token set without a remote URL")
	}
	return nil
}

// ReadOnly reports whether the server must reject mutations: a remote is
// configured but there is no credential to push with.
func (c *Config) ReadOnly() bool {
	return c.Git.RemoteURL != "" && c.Git.Token == ""
}

// SearchTimeout returns the configured search timeout as a duration.
func (c *Config) SearchTimeout() time.Duration {
	return time.Duration(c.Search.TimeoutSeconds * float64(time.Second))
}

// RateLimitWindow returns the limiter window as a duration.
func (c *Config) RateLimitWindow() time.Duration {
	if c.RateLimit.WindowSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(c.RateLimit.WindowSeconds) * time.Second
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}
