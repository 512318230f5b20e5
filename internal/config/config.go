// Package config loads flowledger settings.
//
// Settings resolve in three layers: built-in defaults, then a YAML file
// (flowledger.yaml in the working directory unless a path is given), then
// FLOWLEDGER_* environment variables. Validate runs last.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/flowledger/internal/claim"
	"github.com/roach88/flowledger/internal/engine"
	"github.com/roach88/flowledger/internal/lineage"
	"github.com/roach88/flowledger/internal/logging"
)

// DefaultFile is the config file looked up when no path is given.
const DefaultFile = "flowledger.yaml"

// Config holds all flowledger settings.
type Config struct {
	Engine  EngineConfig  `json:"engine" yaml:"engine"`
	Lineage LineageConfig `json:"lineage" yaml:"lineage"`
	Claims  ClaimsConfig  `json:"claims" yaml:"claims"`
	Store   StoreConfig   `json:"store" yaml:"store"`
	Logging LoggingConfig `json:"logging" yaml:"logging"`
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`
}

// EngineConfig bounds simulation runs.
type EngineConfig struct {
	// MaxSteps is the engine-wide step quota. Zero disables it.
	MaxSteps int64 `json:"max_steps" yaml:"max_steps"`

	// MaxTicks is the default simulated-time horizon for run. Zero means
	// unbounded.
	MaxTicks int64 `json:"max_ticks" yaml:"max_ticks"`
}

// LineageConfig selects how lineage is reconstructed.
type LineageConfig struct {
	Mode     string `json:"mode" yaml:"mode"`
	Lookback int64  `json:"lookback" yaml:"lookback"`
}

// ClaimsConfig controls claim construction.
type ClaimsConfig struct {
	IncludeProofs bool `json:"include_proofs" yaml:"include_proofs"`
}

// StoreConfig locates the SQLite database.
type StoreConfig struct {
	Path string `json:"path" yaml:"path"`
}

// LoggingConfig controls log verbosity.
type LoggingConfig struct {
	// Level is one of trace, debug, info, warn, error.
	Level string `json:"level" yaml:"level"`
}

// MetricsConfig controls the Prometheus summary printed after runs.
type MetricsConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// Default returns a Config with all default values.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			MaxSteps: engine.DefaultMaxSteps,
		},
		Lineage: LineageConfig{
			Mode:     string(lineage.ModeExact),
			Lookback: lineage.DefaultLookback,
		},
		Claims: ClaimsConfig{
			IncludeProofs: true,
		},
		Store: StoreConfig{
			Path: "flowledger.db",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load resolves configuration from path, or from DefaultFile when path is
// empty and the file exists, then applies environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		if _, err := os.Stat(DefaultFile); err == nil {
			path = DefaultFile
		}
	}
	if path != "" {
		fileCfg, err := LoadFromFile(path)
		if err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
		cfg = fileCfg
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile reads a YAML config file over the defaults. Unknown keys are
// rejected.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML config data over the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	cfg.Store.Path = expandEnvVars(cfg.Store.Path)
	return cfg, nil
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Engine.MaxSteps < 0 {
		return fmt.Errorf("engine.max_steps must be non-negative, got %d", c.Engine.MaxSteps)
	}
	if c.Engine.MaxTicks < 0 {
		return fmt.Errorf("engine.max_ticks must be non-negative, got %d", c.Engine.MaxTicks)
	}

	switch lineage.Mode(c.Lineage.Mode) {
	case "", lineage.ModeExact, lineage.ModeHeuristic:
	default:
		return fmt.Errorf("invalid lineage.mode: %s (valid: %s, %s)", c.Lineage.Mode, lineage.ModeExact, lineage.ModeHeuristic)
	}
	if c.Lineage.Lookback < 0 {
		return fmt.Errorf("lineage.lookback must be non-negative, got %d", c.Lineage.Lookback)
	}

	if !logging.ValidLevel(c.Logging.Level) {
		return fmt.Errorf("invalid logging.level: %s (valid: trace, debug, info, warn, error, or empty for default)", c.Logging.Level)
	}
	return nil
}

// EngineOptions translates the engine section into engine options.
func (c *Config) EngineOptions() []engine.EngineOption {
	return []engine.EngineOption{engine.WithMaxSteps(c.Engine.MaxSteps)}
}

// RunOptions returns the default bounds for a run.
func (c *Config) RunOptions() engine.RunOptions {
	return engine.RunOptions{MaxTicks: c.Engine.MaxTicks}
}

// LineageOptions translates the lineage section.
func (c *Config) LineageOptions() lineage.Options {
	return lineage.Options{
		Mode:     lineage.Mode(c.Lineage.Mode),
		Lookback: c.Lineage.Lookback,
	}
}

// ClaimOptions translates the claims section.
func (c *Config) ClaimOptions() claim.Options {
	return claim.Options{IncludeProofs: c.Claims.IncludeProofs}
}

// applyEnvOverrides applies FLOWLEDGER_* environment variables.
func applyEnvOverrides(c *Config) error {
	ints := []struct {
		env string
		dst *int64
	}{
		{"FLOWLEDGER_MAX_STEPS", &c.Engine.MaxSteps},
		{"FLOWLEDGER_MAX_TICKS", &c.Engine.MaxTicks},
		{"FLOWLEDGER_LINEAGE_LOOKBACK", &c.Lineage.Lookback},
	}
	for _, o := range ints {
		if v := os.Getenv(o.env); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return fmt.Errorf("%s: %w", o.env, err)
			}
			*o.dst = n
		}
	}

	bools := []struct {
		env string
		dst *bool
	}{
		{"FLOWLEDGER_INCLUDE_PROOFS", &c.Claims.IncludeProofs},
		{"FLOWLEDGER_METRICS", &c.Metrics.Enabled},
	}
	for _, o := range bools {
		if v := os.Getenv(o.env); v != "" {
			*o.dst = v == "true" || v == "1"
		}
	}

	if v := os.Getenv("FLOWLEDGER_LINEAGE_MODE"); v != "" {
		c.Lineage.Mode = v
	}
	if v := os.Getenv("FLOWLEDGER_STORE_PATH"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("FLOWLEDGER_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	return nil
}

func expandEnvVars(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, os.Getenv)
}
