package models

import (
	"fmt"
	"time"
)

// AgentState is the recorded status of a worker process.
type AgentState string

// Agent states.
const (
	AgentStateIdle        AgentState = "idle"
	AgentStateBusy        AgentState = "busy"
	AgentStateMaintenance AgentState = "maintenance"
	AgentStateOffline     AgentState = "offline"
)

// ParseAgentState validates an agent state string.
func ParseAgentState(s string) (AgentState, error) {
	switch AgentState(s) {
	case AgentStateIdle, AgentStateBusy, AgentStateMaintenance, AgentStateOffline:
		return AgentState(s), nil
	}
	return "", fmt.Errorf("invalid agent state %q", s)
}

// Agent is a worker process that executes jobs.
//
// The recorded State is advisory: an agent whose last heartbeat is older
// than the liveness TTL is excluded from scheduling regardless of State.
type Agent struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Capabilities []Target          `json:"capabilities"`
	State        AgentState        `json:"state"`
	CurrentJob   string            `json:"current_job,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	LastSeen     time.Time         `json:"last_seen"`
	RegisteredAt time.Time         `json:"registered_at"`
}

// CanRun reports whether the agent's capability set covers the target.
func (a *Agent) CanRun(target Target) bool {
	for _, c := range a.Capabilities {
		if c == target {
			return true
		}
	}
	return false
}

// RegisterAgentRequest is the input to agent registration.
type RegisterAgentRequest struct {
	Name         string            `json:"name"`
	Capabilities []string          `json:"capabilities"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}
