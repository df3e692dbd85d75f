package config

import "time"

// DefaultTenantWeight is used for tenants missing from the weights mapping.
const DefaultTenantWeight = 10

// SchedulerConfig controls the scheduling loop, liveness tracking, retry
// policy, and record retention.
type SchedulerConfig struct {
	// TickInterval is the cadence of the scheduler loop. Submissions and
	// completions also wake the loop early.
	TickInterval time.Duration `yaml:"tick_interval"`

	// LivenessTTL is the window after the last heartbeat within which an
	// agent is considered live. Non-live agents are excluded from
	// scheduling regardless of their recorded state.
	LivenessTTL time.Duration `yaml:"liveness_ttl"`

	// AgentRecordTTL is how long agent records persist in the store after
	// the last heartbeat.
	AgentRecordTTL time.Duration `yaml:"agent_record_ttl"`

	// JobRecordTTL bounds job record retention.
	JobRecordTTL time.Duration `yaml:"job_record_ttl"`

	// GroupMaxIdle is the maximum age of a build-affinity group that is not
	// currently processing before housekeeping discards it.
	GroupMaxIdle time.Duration `yaml:"group_max_idle"`

	// JobMaxRuntime bounds a single execution. Running jobs older than this
	// are reverted to pending by the reconciliation sweep.
	JobMaxRuntime time.Duration `yaml:"job_max_runtime"`

	// MaxAttempts is the total number of execution attempts before a job
	// is marked failed.
	MaxAttempts int `yaml:"max_attempts"`

	// TenantWeights maps tenants to fairness weights (higher is scheduled
	// first). Unknown tenants get DefaultTenantWeight.
	TenantWeights map[string]int `yaml:"tenant_weights"`
}

// DefaultSchedulerConfig returns the built-in scheduler defaults.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		TickInterval:   5 * time.Second,
		LivenessTTL:    120 * time.Second,
		AgentRecordTTL: 300 * time.Second,
		JobRecordTTL:   24 * time.Hour,
		GroupMaxIdle:   10 * time.Minute,
		JobMaxRuntime:  30 * time.Minute,
		MaxAttempts:    3,
		TenantWeights:  map[string]int{},
	}
}

// TenantWeight returns the configured weight for a tenant, or the default.
func (c *SchedulerConfig) TenantWeight(tenant string) int {
	if w, ok := c.TenantWeights[tenant]; ok {
		return w
	}
	return DefaultTenantWeight
}
