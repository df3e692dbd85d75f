package config

import "time"

// RetentionConfig controls the expired-record sweeper.
type RetentionConfig struct {
	// SweepInterval is how often physically-expired store rows are removed.
	// Reads never see expired rows; this bounds table growth.
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// DefaultRetentionConfig returns the built-in retention defaults.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		SweepInterval: 1 * time.Hour,
	}
}
