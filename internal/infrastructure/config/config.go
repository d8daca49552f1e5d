package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"
)

// Config holds all pagebridge configuration.
type Config struct {
	Logging    LogConfig        `toml:"logging"`
	Hook       HookConfig       `toml:"hook"`
	Page       PageConfig       `toml:"page"`
	Fetch      FetchConfig      `toml:"fetch"`
	Serializer SerializerConfig `toml:"serializer"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `toml:"level" envconfig:"PAGEBRIDGE_LOG_LEVEL"`
	Development bool   `toml:"development" envconfig:"PAGEBRIDGE_LOG_DEV"`
}

// HookConfig names the markers a hook manager instance leaves in a page.
type HookConfig struct {
	LeaveInPage    bool   `toml:"leave_in_page" envconfig:"PAGEBRIDGE_LEAVE_IN_PAGE"`
	ArtifactPrefix string `toml:"artifact_prefix" envconfig:"PAGEBRIDGE_ARTIFACT_PREFIX"`
	MarkerPrefix   string `toml:"marker_prefix" envconfig:"PAGEBRIDGE_MARKER_PREFIX"`
	GlobalPrefix   string `toml:"global_prefix" envconfig:"PAGEBRIDGE_GLOBAL_PREFIX"`
}

// PageConfig bounds the page runtime.
type PageConfig struct {
	ScriptTimeout Duration `toml:"script_timeout" envconfig:"PAGEBRIDGE_SCRIPT_TIMEOUT"`
	TaskBudget    int      `toml:"task_budget" envconfig:"PAGEBRIDGE_TASK_BUDGET"`
	MaxHTMLBytes  int64    `toml:"max_html_bytes" envconfig:"PAGEBRIDGE_MAX_HTML_BYTES"`
	URL           string   `toml:"url" envconfig:"PAGEBRIDGE_PAGE_URL"`
}

// FetchConfig configures the transport behind the page's fetch.
type FetchConfig struct {
	Timeout   Duration `toml:"timeout" envconfig:"PAGEBRIDGE_FETCH_TIMEOUT"`
	Retries   int      `toml:"retries" envconfig:"PAGEBRIDGE_FETCH_RETRIES"`
	RPS       float64  `toml:"rps" envconfig:"PAGEBRIDGE_FETCH_RPS"`
	UserAgent string   `toml:"user_agent" envconfig:"PAGEBRIDGE_USER_AGENT"`
}

// SerializerConfig selects strict or best-effort value serialization.
type SerializerConfig struct {
	Lenient bool `toml:"lenient" envconfig:"PAGEBRIDGE_LENIENT"`
}

// Duration is a time.Duration that decodes from "5s"-style text in both
// environment variables and TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Load overlays environment variables onto Default.
func Load() (*Config, error) {
	cfg := Default()
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// LoadFile reads a TOML file on top of Default, then applies environment
// variables, which win over the file.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// LoadOrDefault loads configuration from the environment or returns Default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		Hook: HookConfig{
			LeaveInPage:    false,
			ArtifactPrefix: "pagebridge-hook-js",
			MarkerPrefix:   "pagebridge-hook",
			GlobalPrefix:   "pagebridgeHook",
		},
		Page: PageConfig{
			ScriptTimeout: Duration{5 * time.Second},
			TaskBudget:    10000,
			MaxHTMLBytes:  10 * 1024 * 1024,
			URL:           "about:blank",
		},
		Fetch: FetchConfig{
			Timeout:   Duration{30 * time.Second},
			Retries:   3,
			RPS:       0,
			UserAgent: "pagebridge/1.0",
		},
		Serializer: SerializerConfig{
			Lenient: false,
		},
	}
}
