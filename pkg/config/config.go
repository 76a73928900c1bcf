// Package config loads run configuration from YAML and materializes the
// component configurations for the pool, cache, and optimizers.
package config

import (
	stderrors "errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/quellaran/treeopt/pkg/cache"
	"github.com/quellaran/treeopt/pkg/errors"
	"github.com/quellaran/treeopt/pkg/eval"
	"github.com/quellaran/treeopt/pkg/logging"
	"github.com/quellaran/treeopt/pkg/optimizers"
)

var validate = validator.New()

// Config is the full configuration for one optimization run.
type Config struct {
	Logging        Logging                         `yaml:"logging"`
	Pool           Pool                            `yaml:"pool"`
	Cache          Cache                           `yaml:"cache"`
	Greedy         optimizers.GreedyConfig         `yaml:"greedy"`
	Genetic        optimizers.GeneticConfig        `yaml:"genetic"`
	MultiObjective optimizers.MultiObjectiveConfig `yaml:"multi_objective"`
}

// Logging selects log level and optional file output.
type Logging struct {
	Level string `yaml:"level" validate:"omitempty,oneof=DEBUG INFO WARN ERROR FATAL"`
	File  string `yaml:"file"`
}

// Severity returns the configured level, defaulting to INFO.
func (l Logging) Severity() logging.Severity {
	return logging.ParseSeverity(l.Level)
}

// Pool is the YAML-facing worker pool configuration. Durations are given in
// seconds.
type Pool struct {
	Size                  int      `yaml:"size" validate:"omitempty,min=1,max=64"`
	Command               []string `yaml:"command" validate:"required,min=1"`
	TimeoutSeconds        float64  `yaml:"timeout_seconds" validate:"omitempty,gt=0"`
	HealthIntervalSeconds float64  `yaml:"health_interval_seconds" validate:"omitempty,gt=0"`
}

// PoolConfig converts to the runtime pool configuration.
func (p Pool) PoolConfig() eval.PoolConfig {
	cfg := eval.DefaultPoolConfig()
	cfg.Command = p.Command
	if p.Size > 0 {
		cfg.Size = p.Size
	}
	if p.TimeoutSeconds > 0 {
		cfg.Timeout = time.Duration(p.TimeoutSeconds * float64(time.Second))
	}
	if p.HealthIntervalSeconds > 0 {
		cfg.HealthInterval = time.Duration(p.HealthIntervalSeconds * float64(time.Second))
	}
	return cfg
}

// Cache is the YAML-facing memoization cache configuration.
type Cache struct {
	Type       string  `yaml:"type" validate:"omitempty,oneof=memory sqlite"`
	MaxSizeMB  int64   `yaml:"max_size_mb" validate:"omitempty,min=1"`
	TTLSeconds float64 `yaml:"ttl_seconds" validate:"omitempty,gt=0"`
	Path       string  `yaml:"path"`
}

// CacheConfig converts to the runtime cache configuration.
func (c Cache) CacheConfig() cache.Config {
	cfg := cache.Config{
		Type:            c.Type,
		CleanupInterval: time.Minute,
	}
	if c.MaxSizeMB > 0 {
		cfg.MaxSize = c.MaxSizeMB * 1024 * 1024
	}
	if c.TTLSeconds > 0 {
		cfg.DefaultTTL = time.Duration(c.TTLSeconds * float64(time.Second))
	}
	cfg.SQLite = cache.SQLiteConfig{Path: c.Path, EnableWAL: true}
	return cfg
}

// Default returns the configuration used when a field is omitted.
func Default() *Config {
	return &Config{
		Logging: Logging{Level: "INFO"},
		Cache:   Cache{Type: "memory"},
		Greedy:  optimizers.DefaultGreedyConfig(),
		Genetic: optimizers.DefaultGeneticConfig(),
		MultiObjective: optimizers.MultiObjectiveConfig{
			Genetic:    optimizers.DefaultGeneticConfig(),
			Objectives: []string{eval.MetricTotalDamage, eval.MetricLife},
		},
	}
}

// Load reads, parses, and validates a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ResourceNotFound, "failed to read config file")
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, errors.InvalidInput, "failed to parse config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate fails fast with field-level messages on an invalid configuration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if stderrors.As(err, &fieldErrs) {
			msgs := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return errors.WithFields(
				errors.New(errors.ValidationFailed, "invalid configuration"),
				errors.Fields{"violations": strings.Join(msgs, "; ")},
			)
		}
		return errors.Wrap(err, errors.ValidationFailed, "invalid configuration")
	}

	rates := map[string]float64{
		"genetic.crossover_rate":        c.Genetic.CrossoverRate,
		"genetic.mutation_rate":         c.Genetic.MutationRate,
		"genetic.inclusion_probability": c.Genetic.InclusionProbability,
	}
	for name, rate := range rates {
		if rate < 0 || rate > 1 {
			return errors.WithFields(
				errors.New(errors.ValidationFailed, "rate must be between 0 and 1"),
				errors.Fields{"field": name, "value": rate},
			)
		}
	}

	if n := len(c.MultiObjective.Objectives); n == 1 {
		return errors.New(errors.ValidationFailed, "multi_objective.objectives requires at least two metrics")
	}
	return nil
}
