package api

import "encoding/json"

// TransitionJobRequest is the HTTP request body for POST /api/v1/jobs/:id/transition.
// An administrative escape hatch; normal lifecycle flows through claim/complete.
type TransitionJobRequest struct {
	State     string          `json:"state"`
	LastError string          `json:"last_error,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
}

// SetAgentStateRequest is the HTTP request body for POST /api/v1/agents/:id/state.
type SetAgentStateRequest struct {
	State      string `json:"state"`
	CurrentJob string `json:"current_job,omitempty"`
}

// ClaimRequest is the HTTP request body for POST /api/v1/agents/:id/claim.
type ClaimRequest struct {
	JobID string `json:"job_id"`
}

// CompleteRequest is the HTTP request body for POST /api/v1/agents/:id/complete.
type CompleteRequest struct {
	JobID   string          `json:"job_id"`
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
}
