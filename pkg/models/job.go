// Package models defines the core data shapes shared by the services,
// scheduler, and API layers.
package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Priority selects which of the three dispatch queues a job enters.
type Priority string

// Priority values, ordered from most to least urgent.
const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Priorities returns all priorities in scheduling order (high first).
func Priorities() []Priority {
	return []Priority{PriorityHigh, PriorityMedium, PriorityLow}
}

// ParsePriority validates a priority string. Empty defaults to medium.
func ParsePriority(s string) (Priority, error) {
	switch Priority(s) {
	case "":
		return PriorityMedium, nil
	case PriorityHigh, PriorityMedium, PriorityLow:
		return Priority(s), nil
	}
	return "", fmt.Errorf("invalid priority %q: must be high, medium, or low", s)
}

// Target identifies the kind of environment a job must run against.
type Target string

// Target values.
const (
	TargetEmulator Target = "emulator"
	TargetDevice   Target = "device"
	TargetCloud    Target = "cloud"
)

// ParseTarget validates a target string. Empty defaults to emulator.
// "browserstack" is accepted as a legacy alias for cloud.
func ParseTarget(s string) (Target, error) {
	switch Target(s) {
	case "":
		return TargetEmulator, nil
	case TargetEmulator, TargetDevice, TargetCloud:
		return Target(s), nil
	case "browserstack":
		return TargetCloud, nil
	}
	return "", fmt.Errorf("invalid target %q: must be emulator, device, or cloud", s)
}

// JobState is the lifecycle state of a job record.
type JobState string

// Job lifecycle states.
const (
	JobStatePending        JobState = "pending"
	JobStateQueuedForGroup JobState = "queued-for-group"
	JobStateRunning        JobState = "running"
	JobStateRetrying       JobState = "retrying"
	JobStateCompleted      JobState = "completed"
	JobStateFailed         JobState = "failed"
	JobStateCancelled      JobState = "cancelled"
)

// ParseJobState validates a job state string.
func ParseJobState(s string) (JobState, error) {
	switch JobState(s) {
	case JobStatePending, JobStateQueuedForGroup, JobStateRunning,
		JobStateRetrying, JobStateCompleted, JobStateFailed, JobStateCancelled:
		return JobState(s), nil
	}
	return "", fmt.Errorf("invalid job state %q", s)
}

// Terminal reports whether the state admits no further transitions.
func (s JobState) Terminal() bool {
	return s == JobStateCompleted || s == JobStateFailed || s == JobStateCancelled
}

// Job is a single test execution request.
//
// Terminal records (completed/failed/cancelled) are immutable after
// CompletedAt is stamped; the record expires from the store after the
// configured job retention TTL.
type Job struct {
	ID       string   `json:"id"`
	Tenant   string   `json:"tenant"`
	Build    string   `json:"build"`
	Artifact string   `json:"artifact"`
	Priority Priority `json:"priority"`
	Target   Target   `json:"target"`
	State    JobState `json:"state"`

	// Attempt counts completed execution attempts; it is incremented only
	// when an agent reports a test failure, never on crash recovery.
	Attempt   int    `json:"attempt"`
	LastError string `json:"last_error,omitempty"`

	// AssignedAgent is the agent running (or reserved for) this job. Set on
	// claim and on build-affinity grouping; cleared when the job is reverted
	// to pending.
	AssignedAgent string `json:"assigned_agent,omitempty"`

	// GroupKey annotates jobs parked in a build-affinity group.
	GroupKey string `json:"group_key,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Result is an opaque payload recorded on terminal states.
	Result json.RawMessage `json:"result,omitempty"`
}

// SubmitJobRequest is the input to job submission.
type SubmitJobRequest struct {
	ID       string `json:"id,omitempty"`
	Tenant   string `json:"tenant"`
	Build    string `json:"build"`
	Artifact string `json:"artifact"`
	Priority string `json:"priority,omitempty"`
	Target   string `json:"target,omitempty"`
}

// JobFilter narrows List results. Zero values match everything.
type JobFilter struct {
	Tenant string
	State  JobState
	Build  string
	Limit  int
}

// TransitionPatch carries the optional fields a state transition may set.
type TransitionPatch struct {
	AssignedAgent *string
	GroupKey      *string
	LastError     *string
	Attempt       *int
	Result        json.RawMessage
}
