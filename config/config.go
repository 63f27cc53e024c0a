// Package config loads library settings from YAML and builds the configured
// components from them.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wudi/colorkit/cmm"
	"github.com/wudi/colorkit/colorerr"
	"github.com/wudi/colorkit/convert"
	"github.com/wudi/colorkit/filters"
	"github.com/wudi/colorkit/observability"
	"github.com/wudi/colorkit/policy"
	"github.com/wudi/colorkit/profilepool"
	"github.com/wudi/colorkit/recovery"
	"github.com/wudi/colorkit/workerpool"
)

// Config is the complete library configuration.
type Config struct {
	// Domain selects per-domain rule severities (e.g. pdfx).
	Domain string `yaml:"domain"`
	// RulesPath points at a YAML or JSON rule file. Empty uses the embedded
	// rules. Relative paths resolve against the config file.
	RulesPath string `yaml:"rules_path"`
	// Recovery is "strict" or "lenient".
	Recovery           string `yaml:"recovery"`
	AlwaysPreSwapInput bool   `yaml:"always_pre_swap_input"`
	LogLevel           string `yaml:"log_level"` // debug, info, warn, error

	Engine   EngineConfig      `yaml:"engine"`
	Workers  WorkerPoolConfig  `yaml:"workers"`
	Profiles ProfilePoolConfig `yaml:"profiles"`
	Limits   Limits            `yaml:"limits"`
}

// EngineConfig tunes the reference engine.
type EngineConfig struct {
	DisableMultiProfile     bool    `yaml:"disable_multi_profile"`
	DisableAdaptiveClamping bool    `yaml:"disable_adaptive_clamping"`
	NeutralTolerance        float64 `yaml:"neutral_tolerance"`
}

// WorkerPoolConfig sizes the worker pool.
type WorkerPoolConfig struct {
	Count        int  `yaml:"count"` // 0 = half the CPUs
	InitTimeoutS int  `yaml:"init_timeout_s"`
	EagerInit    bool `yaml:"eager_init"`
}

// ProfilePoolConfig bounds the shared profile pool.
type ProfilePoolConfig struct {
	MaxBytes      int64 `yaml:"max_bytes"`
	MaxEntries    int   `yaml:"max_entries"`
	PrivateCopies bool  `yaml:"private_copies"`
}

// Limits bound untrusted inputs.
type Limits struct {
	// Maximum profile file size. Default: 16 MB.
	MaxProfileSize int64 `yaml:"max_profile_size"`
	// Maximum decompressed image payload. Default: 256 MB.
	MaxDecompressedSize int64 `yaml:"max_decompressed_size"`
	// Maximum decode time per payload in seconds. Default: 30.
	MaxDecodeTimeS int `yaml:"max_decode_time_s"`
	// Maximum time for one rule predicate in milliseconds. Default: 100.
	PredicateTimeoutMS int `yaml:"predicate_timeout_ms"`
}

// DefaultLimits returns the limits used when a config leaves them unset.
func DefaultLimits() Limits {
	return Limits{
		MaxProfileSize:      profilepool.DefaultMaxProfileSize,
		MaxDecompressedSize: 256 * 1024 * 1024, // 256 MB
		MaxDecodeTimeS:      30,
		PredicateTimeoutMS:  100,
	}
}

// Default returns a config using the embedded rules and default bounds.
func Default() *Config {
	pp := profilepool.DefaultConfig()
	return &Config{
		Recovery: "strict",
		LogLevel: "info",
		Workers: WorkerPoolConfig{
			InitTimeoutS: int(workerpool.DefaultInitTimeout / time.Second),
		},
		Profiles: ProfilePoolConfig{
			MaxBytes:   pp.MaxBytes,
			MaxEntries: pp.MaxEntries,
		},
		Limits: DefaultLimits(),
	}
}

// Load reads a YAML configuration file over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if cfg.RulesPath != "" && !filepath.IsAbs(cfg.RulesPath) {
		cfg.RulesPath = filepath.Join(filepath.Dir(path), cfg.RulesPath)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate reports every invalid field.
func Validate(cfg *Config) error {
	var errs []error
	switch cfg.Recovery {
	case "", "strict", "lenient":
	default:
		errs = append(errs, colorerr.Configf("recovery", "must be strict or lenient, got %q", cfg.Recovery))
	}
	if _, err := parseLevel(cfg.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if cfg.Engine.NeutralTolerance < 0 {
		errs = append(errs, colorerr.Configf("engine.neutral_tolerance", "must not be negative"))
	}
	if cfg.Workers.Count < 0 {
		errs = append(errs, colorerr.Configf("workers.count", "must not be negative"))
	}
	if cfg.Workers.InitTimeoutS < 0 {
		errs = append(errs, colorerr.Configf("workers.init_timeout_s", "must not be negative"))
	}
	if cfg.Profiles.MaxBytes < 0 || cfg.Profiles.MaxEntries < 0 {
		errs = append(errs, colorerr.Configf("profiles", "bounds must not be negative"))
	}
	l := cfg.Limits
	if l.MaxProfileSize <= 0 {
		errs = append(errs, colorerr.Configf("limits.max_profile_size", "must be positive"))
	}
	if l.MaxDecompressedSize <= 0 {
		errs = append(errs, colorerr.Configf("limits.max_decompressed_size", "must be positive"))
	}
	if l.MaxDecodeTimeS < 0 || l.PredicateTimeoutMS < 0 {
		errs = append(errs, colorerr.Configf("limits", "timeouts must not be negative"))
	}
	return errors.Join(errs...)
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, colorerr.Configf("log_level", "unknown level %q", s)
}

// NewLogger writes text records at LogLevel to w.
func (c *Config) NewLogger(w io.Writer) observability.Logger {
	level, _ := parseLevel(c.LogLevel)
	return observability.NewSlogLogger(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
}

// RuleSet loads RulesPath, or the embedded rules.
func (c *Config) RuleSet() (*policy.RuleSet, error) {
	if c.RulesPath == "" {
		return policy.Default()
	}
	return policy.Load(c.RulesPath)
}

// RecoveryStrategy builds the configured strategy.
func (c *Config) RecoveryStrategy(logger observability.Logger) recovery.Strategy {
	if c.Recovery == "lenient" {
		return recovery.NewLenientStrategy(logger)
	}
	return recovery.NewStrictStrategy()
}

// EngineConfig maps engine settings.
func (c *Config) EngineConfig(logger observability.Logger) cmm.EngineConfig {
	return cmm.EngineConfig{
		Logger:                  logger,
		DisableMultiProfile:     c.Engine.DisableMultiProfile,
		DisableAdaptiveClamping: c.Engine.DisableAdaptiveClamping,
		NeutralTolerance:        c.Engine.NeutralTolerance,
	}
}

// ProfilePool builds the shared pool with a size-bounded file loader.
func (c *Config) ProfilePool(logger observability.Logger) *profilepool.Pool {
	return profilepool.New(profilepool.Config{
		MaxBytes:      c.Profiles.MaxBytes,
		MaxEntries:    c.Profiles.MaxEntries,
		PrivateCopies: c.Profiles.PrivateCopies,
		Loader:        &profilepool.FileLoader{MaxSize: c.Limits.MaxProfileSize},
		Logger:        logger,
	})
}

// FilterLimits maps payload limits.
func (c *Config) FilterLimits() filters.Limits {
	return filters.Limits{
		MaxDecompressedSize: c.Limits.MaxDecompressedSize,
		MaxDecodeTime:       time.Duration(c.Limits.MaxDecodeTimeS) * time.Second,
	}
}

func (c *Config) predicateTimeout() time.Duration {
	return time.Duration(c.Limits.PredicateTimeoutMS) * time.Millisecond
}

// NewConverter builds an in-process converter over provider.
func (c *Config) NewConverter(provider cmm.Provider, rules *policy.RuleSet, pool *profilepool.Pool, logger observability.Logger) (*convert.Converter, error) {
	return convert.New(convert.Config{
		Provider:           provider,
		Rules:              rules,
		Domain:             c.Domain,
		PredicateTimeout:   c.predicateTimeout(),
		Recovery:           c.RecoveryStrategy(logger),
		Pool:               pool,
		AlwaysPreSwapInput: c.AlwaysPreSwapInput,
		Logger:             logger,
	})
}

// ExecutorConfig is the template each worker context builds its executor
// from. Every context opens its own reference engine.
func (c *Config) ExecutorConfig(rules *policy.RuleSet, pool *profilepool.Pool, logger observability.Logger) convert.ExecutorConfig {
	engine := c.EngineConfig(logger)
	return convert.ExecutorConfig{
		NewProvider: func() (cmm.Provider, error) {
			return cmm.NewEngine(engine), nil
		},
		Rules:              rules,
		Domain:             c.Domain,
		PredicateTimeout:   c.predicateTimeout(),
		Recovery:           c.RecoveryStrategy(logger),
		Pool:               pool,
		Limits:             c.FilterLimits(),
		AlwaysPreSwapInput: c.AlwaysPreSwapInput,
		Logger:             logger,
	}
}

// NewWorkerPool builds an uninitialized worker pool.
func (c *Config) NewWorkerPool(rules *policy.RuleSet, pool *profilepool.Pool, logger observability.Logger) *workerpool.Pool {
	return workerpool.New(workerpool.Config{
		Workers:     c.Workers.Count,
		InitTimeout: time.Duration(c.Workers.InitTimeoutS) * time.Second,
		EagerInit:   c.Workers.EagerInit,
		Executor:    c.ExecutorConfig(rules, pool, logger),
		Profiles:    pool,
		Logger:      logger,
	})
}
