// Package config loads and validates engine configuration from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/deltastream/errors"
	"github.com/c360/deltastream/processor"
)

// Duration wraps time.Duration so YAML values like "50ms" or "30s" decode
// directly.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return errors.WrapInvalid(err, "Duration", "UnmarshalYAML", fmt.Sprintf("parse %q", raw))
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// SchedulerConfig mirrors processor.Config with YAML-friendly durations.
type SchedulerConfig struct {
	MaxBatchSize   int      `yaml:"max_batch_size"`
	PollTimeout    Duration `yaml:"poll_timeout"`
	StrictOrdering bool     `yaml:"strict_ordering"`
	DedupTTL       Duration `yaml:"dedup_ttl"`
}

// FreshnessConfig adds the bounded-queue settings of the freshness variant.
type FreshnessConfig struct {
	SchedulerConfig `yaml:",inline"`
	Capacity        int      `yaml:"capacity"`
	MaxAge          Duration `yaml:"max_age"`
}

// Config is the complete engine configuration.
type Config struct {
	Strict SchedulerConfig `yaml:"strict"`
	Fresh  FreshnessConfig `yaml:"fresh"`
}

// Default returns a configuration matching the processor package defaults.
func Default() Config {
	strict := processor.DefaultConfig()
	fresh := processor.DefaultFreshConfig()

	return Config{
		Strict: SchedulerConfig{
			MaxBatchSize:   strict.MaxBatchSize,
			PollTimeout:    Duration(strict.PollTimeout),
			StrictOrdering: strict.StrictOrdering,
			DedupTTL:       Duration(strict.DedupTTL),
		},
		Fresh: FreshnessConfig{
			SchedulerConfig: SchedulerConfig{
				MaxBatchSize:   fresh.MaxBatchSize,
				PollTimeout:    Duration(fresh.PollTimeout),
				StrictOrdering: fresh.StrictOrdering,
				DedupTTL:       Duration(fresh.DedupTTL),
			},
			Capacity: fresh.Capacity,
			MaxAge:   Duration(fresh.MaxAge),
		},
	}
}

// Parse decodes YAML, applying defaults for omitted fields.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.WrapInvalid(err, "Config", "Parse", "yaml decode")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Load reads and parses a YAML config file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "Config", "Load", "read file")
	}
	return Parse(data)
}

// Validate checks all sections.
func (c Config) Validate() error {
	if err := c.Strict.validate("strict"); err != nil {
		return err
	}
	if err := c.Fresh.SchedulerConfig.validate("fresh"); err != nil {
		return err
	}
	if c.Fresh.Capacity <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"fresh.capacity must be positive")
	}
	if c.Fresh.MaxAge < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"fresh.max_age cannot be negative")
	}
	return nil
}

func (s SchedulerConfig) validate(section string) error {
	if s.MaxBatchSize <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			section+".max_batch_size must be positive")
	}
	if s.PollTimeout <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			section+".poll_timeout must be positive")
	}
	if s.DedupTTL < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			section+".dedup_ttl cannot be negative")
	}
	return nil
}

// StrictProcessor converts the strict section to a processor.Config.
func (c Config) StrictProcessor() processor.Config {
	return processor.Config{
		MaxBatchSize:   c.Strict.MaxBatchSize,
		PollTimeout:    c.Strict.PollTimeout.Std(),
		StrictOrdering: c.Strict.StrictOrdering,
		DedupTTL:       c.Strict.DedupTTL.Std(),
		Retry:          errors.DefaultRetryConfig(),
	}
}

// FreshProcessor converts the fresh section to a processor.FreshConfig.
func (c Config) FreshProcessor() processor.FreshConfig {
	return processor.FreshConfig{
		Config: processor.Config{
			MaxBatchSize:   c.Fresh.MaxBatchSize,
			PollTimeout:    c.Fresh.PollTimeout.Std(),
			StrictOrdering: c.Fresh.StrictOrdering,
			DedupTTL:       c.Fresh.DedupTTL.Std(),
			Retry:          errors.DefaultRetryConfig(),
		},
		Capacity: c.Fresh.Capacity,
		MaxAge:   c.Fresh.MaxAge.Std(),
	}
}
