// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// EnvVar names the environment variable Load reads the config path
// from.
const EnvVar = "GMTSYNC_CONFIG"

// Environment selects which override section applies.
type Environment string

const (
	Development Environment = "development"
	Production  Environment = "production"
)

// Config is the complete configuration of the sync engine.
type Config struct {
	Environment Environment `yaml:"environment"`

	API     APIConfig     `yaml:"api"`
	Poll    PollConfig    `yaml:"poll"`
	Push    PushConfig    `yaml:"push"`
	Journal JournalConfig `yaml:"journal"`
	Metrics MetricsConfig `yaml:"metrics"`
	Log     LogConfig     `yaml:"log"`

	// Per-environment overrides, applied after the base values.
	Development *Overrides `yaml:"development,omitempty"`
	Production  *Overrides `yaml:"production,omitempty"`
}

// Overrides holds the sections an environment may override. Empty
// strings and zero numbers leave the base value alone.
type Overrides struct {
	API     *APIConfig     `yaml:"api,omitempty"`
	Poll    *PollConfig    `yaml:"poll,omitempty"`
	Push    *PushConfig    `yaml:"push,omitempty"`
	Journal *JournalConfig `yaml:"journal,omitempty"`
	Metrics *MetricsConfig `yaml:"metrics,omitempty"`
	Log     *LogConfig     `yaml:"log,omitempty"`
}

// APIConfig locates the service.
type APIConfig struct {
	// BaseURL is the REST root, including the version path.
	BaseURL string `yaml:"base_url"`

	// ImageURL is the image upload endpoint.
	ImageURL string `yaml:"image_url"`

	// PushURL is the Bayeux websocket endpoint.
	PushURL string `yaml:"push_url"`

	// RequestsPerSecond and Burst rate-limit REST calls client-side.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`

	// Timeout bounds each HTTP request.
	Timeout time.Duration `yaml:"timeout"`
}

// PollConfig tunes the polling cycles.
type PollConfig struct {
	SlowInterval         time.Duration `yaml:"slow_interval"`
	FastInterval         time.Duration `yaml:"fast_interval"`
	MaxConcurrentFetches int           `yaml:"max_concurrent_fetches"`
	FetchTimeout         time.Duration `yaml:"fetch_timeout"`
}

// PushConfig controls the real-time connection.
type PushConfig struct {
	Enabled bool `yaml:"enabled"`

	// Reconnect after unexpected socket loss, backing off from
	// InitialBackoff to MaxBackoff.
	Reconnect      bool          `yaml:"reconnect"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

// JournalConfig controls the update journal. An empty Path disables
// it.
type JournalConfig struct {
	Path     string `yaml:"path"`
	Compress bool   `yaml:"compress"`
}

// MetricsConfig controls the debug HTTP listener. An empty Listen
// disables it.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// LogConfig controls logging.
type LogConfig struct {
	// Level is debug, info, warn, or error.
	Level string `yaml:"level"`
}

// Default returns the configuration used for every value a file
// leaves unset.
func Default() *Config {
	return &Config{
		Environment: Development,
		API: APIConfig{
			BaseURL:           "https://api.groupme.com/v3",
			ImageURL:          "https://image.groupme.com/pictures",
			PushURL:           "wss://push.groupme.com/faye",
			RequestsPerSecond: 5,
			Burst:             10,
			Timeout:           30 * time.Second,
		},
		Poll: PollConfig{
			SlowInterval:         7 * time.Second,
			FastInterval:         3 * time.Second,
			MaxConcurrentFetches: 4,
			FetchTimeout:         30 * time.Second,
		},
		Push: PushConfig{
			Enabled:        true,
			Reconnect:      true,
			InitialBackoff: time.Second,
			MaxBackoff:     time.Minute,
		},
		Journal: JournalConfig{},
		Metrics: MetricsConfig{Listen: "127.0.0.1:9464"},
		Log:     LogConfig{Level: "info"},
	}
}

// Load reads the file named by GMTSYNC_CONFIG. When the variable is
// unset the defaults are returned.
func Load() (*Config, error) {
	path := os.Getenv(EnvVar)
	if path == "" {
		config := Default()
		config.expandVariables()
		return config, nil
	}
	return LoadFile(path)
}

// LoadFile reads a YAML file, or a JSON file with comments when the
// extension is .json or .jsonc, over the defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	config, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return config, nil
}

// Parse decodes configuration data over the defaults. ext selects the
// format as in LoadFile.
func Parse(data []byte, ext string) (*Config, error) {
	switch strings.ToLower(ext) {
	case ".json", ".jsonc":
		// Plain JSON is YAML, so one decoder handles both and
		// durations parse the same way in either format.
		data = jsonc.ToJSON(data)
	}
	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, err
	}
	config.applyEnvironmentOverrides()
	config.expandVariables()
	return config, nil
}

func (c *Config) applyEnvironmentOverrides() {
	var overrides *Overrides
	switch c.Environment {
	case Development:
		overrides = c.Development
	case Production:
		overrides = c.Production
		if overrides == nil {
			overrides = &Overrides{Log: &LogConfig{Level: "warn"}}
		}
	}
	if overrides == nil {
		return
	}

	if api := overrides.API; api != nil {
		overrideString(&c.API.BaseURL, api.BaseURL)
		overrideString(&c.API.ImageURL, api.ImageURL)
		overrideString(&c.API.PushURL, api.PushURL)
		overrideNumber(&c.API.RequestsPerSecond, api.RequestsPerSecond)
		overrideNumber(&c.API.Burst, api.Burst)
		overrideNumber(&c.API.Timeout, api.Timeout)
	}
	if poll := overrides.Poll; poll != nil {
		overrideNumber(&c.Poll.SlowInterval, poll.SlowInterval)
		overrideNumber(&c.Poll.FastInterval, poll.FastInterval)
		overrideNumber(&c.Poll.MaxConcurrentFetches, poll.MaxConcurrentFetches)
		overrideNumber(&c.Poll.FetchTimeout, poll.FetchTimeout)
	}
	if push := overrides.Push; push != nil {
		// Booleans have no unset value, so an override section
		// always sets them.
		c.Push.Enabled = push.Enabled
		c.Push.Reconnect = push.Reconnect
		overrideNumber(&c.Push.InitialBackoff, push.InitialBackoff)
		overrideNumber(&c.Push.MaxBackoff, push.MaxBackoff)
	}
	if journal := overrides.Journal; journal != nil {
		overrideString(&c.Journal.Path, journal.Path)
		c.Journal.Compress = journal.Compress
	}
	if metrics := overrides.Metrics; metrics != nil {
		overrideString(&c.Metrics.Listen, metrics.Listen)
	}
	if log := overrides.Log; log != nil {
		overrideString(&c.Log.Level, log.Level)
	}
}

func overrideString(target *string, value string) {
	if value != "" {
		*target = value
	}
}

func overrideNumber[T int | float64 | time.Duration](target *T, value T) {
	if value != 0 {
		*target = value
	}
}

func (c *Config) expandVariables() {
	home, _ := os.UserHomeDir()
	vars := map[string]string{"HOME": home}
	c.Journal.Path = expandVars(c.Journal.Path, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default}, consulting vars before
// the process environment.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		name, fallback := parts[1], parts[2]
		if value := vars[name]; value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return fallback
	})
}

// Validate reports every invalid value.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Production {
		errs = append(errs, fmt.Errorf("environment must be development or production, got %q", c.Environment))
	}
	for name, raw := range map[string]string{
		"api.base_url":  c.API.BaseURL,
		"api.image_url": c.API.ImageURL,
	} {
		if err := checkURL(raw, "http", "https"); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	if c.Push.Enabled {
		if err := checkURL(c.API.PushURL, "ws", "wss"); err != nil {
			errs = append(errs, fmt.Errorf("api.push_url: %w", err))
		}
	}
	if c.API.RequestsPerSecond <= 0 || c.API.Burst <= 0 {
		errs = append(errs, errors.New("api.requests_per_second and api.burst must be positive"))
	}
	if c.Poll.SlowInterval <= 0 || c.Poll.FastInterval <= 0 {
		errs = append(errs, errors.New("poll intervals must be positive"))
	}
	if c.Poll.MaxConcurrentFetches <= 0 {
		errs = append(errs, errors.New("poll.max_concurrent_fetches must be positive"))
	}
	if c.Push.InitialBackoff <= 0 || c.Push.MaxBackoff < c.Push.InitialBackoff {
		errs = append(errs, errors.New("push backoff must be positive with max_backoff >= initial_backoff"))
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func checkURL(raw string, schemes ...string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	for _, scheme := range schemes {
		if parsed.Scheme == scheme && parsed.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("%q is not an absolute %s URL", raw, strings.Join(schemes, "/"))
}

// SlogLevel parses Level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}
