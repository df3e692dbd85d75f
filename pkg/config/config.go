// Package config loads and validates process-wide configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the process-wide configuration, initialized once at startup.
type Config struct {
	Scheduler *SchedulerConfig
	Retention *RetentionConfig
}

// fileConfig is the testrig.yaml file structure. All sections are optional;
// missing values fall back to the built-in defaults.
type fileConfig struct {
	Scheduler *SchedulerConfig `yaml:"scheduler"`
	Retention *RetentionConfig `yaml:"retention"`
}

// Initialize loads testrig.yaml from configDir (if present), applies
// defaults, and validates the result. This is the primary entry point for
// configuration loading.
func Initialize(configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg := &Config{
		Scheduler: DefaultSchedulerConfig(),
		Retention: DefaultRetentionConfig(),
	}

	path := filepath.Join(configDir, "testrig.yaml")
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		log.Info("No testrig.yaml found, using built-in defaults")
	case err != nil:
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	default:
		var file fileConfig
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		applyFile(cfg, &file)
		log.Info("Loaded configuration file", "path", path)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	log.Info("Configuration initialized",
		"tick_interval", cfg.Scheduler.TickInterval,
		"max_attempts", cfg.Scheduler.MaxAttempts,
		"tenant_weights", len(cfg.Scheduler.TenantWeights))
	return cfg, nil
}

// applyFile overlays non-zero file values onto the defaults.
func applyFile(cfg *Config, file *fileConfig) {
	if file.Scheduler != nil {
		s := file.Scheduler
		d := cfg.Scheduler
		if s.TickInterval > 0 {
			d.TickInterval = s.TickInterval
		}
		if s.LivenessTTL > 0 {
			d.LivenessTTL = s.LivenessTTL
		}
		if s.AgentRecordTTL > 0 {
			d.AgentRecordTTL = s.AgentRecordTTL
		}
		if s.JobRecordTTL > 0 {
			d.JobRecordTTL = s.JobRecordTTL
		}
		if s.GroupMaxIdle > 0 {
			d.GroupMaxIdle = s.GroupMaxIdle
		}
		if s.JobMaxRuntime > 0 {
			d.JobMaxRuntime = s.JobMaxRuntime
		}
		if s.MaxAttempts > 0 {
			d.MaxAttempts = s.MaxAttempts
		}
		if len(s.TenantWeights) > 0 {
			d.TenantWeights = s.TenantWeights
		}
	}
	if file.Retention != nil && file.Retention.SweepInterval > 0 {
		cfg.Retention.SweepInterval = file.Retention.SweepInterval
	}
}

func validate(cfg *Config) error {
	s := cfg.Scheduler
	if s.TickInterval <= 0 {
		return fmt.Errorf("scheduler.tick_interval must be positive")
	}
	if s.LivenessTTL <= 0 {
		return fmt.Errorf("scheduler.liveness_ttl must be positive")
	}
	if s.AgentRecordTTL < s.LivenessTTL {
		return fmt.Errorf("scheduler.agent_record_ttl (%v) must not be shorter than liveness_ttl (%v)",
			s.AgentRecordTTL, s.LivenessTTL)
	}
	if s.MaxAttempts < 1 {
		return fmt.Errorf("scheduler.max_attempts must be at least 1")
	}
	for tenant, weight := range s.TenantWeights {
		if weight < 0 {
			return fmt.Errorf("scheduler.tenant_weights[%s] must not be negative", tenant)
		}
	}
	if cfg.Retention.SweepInterval <= 0 {
		return fmt.Errorf("retention.sweep_interval must be positive")
	}
	return nil
}
