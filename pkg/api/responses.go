package api

import (
	"github.com/codeready-toolchain/testrig/pkg/database"
	"github.com/codeready-toolchain/testrig/pkg/models"
	"github.com/codeready-toolchain/testrig/pkg/scheduler"
)

// SubmitJobResponse is returned by POST /api/v1/jobs.
type SubmitJobResponse struct {
	Job           *models.Job `json:"job"`
	QueuePosition int         `json:"queue_position"`
}

// JobListResponse is returned by GET /api/v1/jobs.
type JobListResponse struct {
	Jobs  []*models.Job `json:"jobs"`
	Count int           `json:"count"`
}

// AgentListResponse is returned by GET /api/v1/agents.
type AgentListResponse struct {
	Agents []*models.Agent `json:"agents"`
	Count  int             `json:"count"`
}

// QueueSnapshotResponse is returned by GET /api/v1/queues/:priority.
type QueueSnapshotResponse struct {
	Priority string   `json:"priority"`
	JobIDs   []string `json:"job_ids"`
	Length   int      `json:"length"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status    string                    `json:"status"`
	Version   string                    `json:"version"`
	Store     string                    `json:"store"`
	Database  *database.HealthStatus    `json:"database,omitempty"`
	Scheduler scheduler.SchedulerHealth `json:"scheduler"`
}
