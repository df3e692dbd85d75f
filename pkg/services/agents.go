package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/testrig/pkg/models"
	"github.com/codeready-toolchain/testrig/pkg/store"
)

// CompletionHandler receives validated completion reports. The scheduler's
// lifecycle driver implements it; handling is serialized with scheduler
// ticks so the group table is never mutated from two paths at once.
type CompletionHandler interface {
	HandleCompletion(ctx context.Context, agentID string, job *models.Job, success bool, errMsg string, result json.RawMessage) (*models.Job, error)
}

// AgentService is the agent registry: registration, heartbeats, liveness
// filtering, and the claim/complete operations agents call.
type AgentService struct {
	records     *store.Records
	jobs        *JobService
	livenessTTL time.Duration

	completion CompletionHandler
}

// NewAgentService creates the agent registry.
func NewAgentService(records *store.Records, jobs *JobService, livenessTTL time.Duration) *AgentService {
	return &AgentService{records: records, jobs: jobs, livenessTTL: livenessTTL}
}

// SetCompletionHandler wires the lifecycle driver. Must be called before
// agents report completions.
func (s *AgentService) SetCompletionHandler(h CompletionHandler) { s.completion = h }

// Register creates an agent record in state idle with a fresh TTL.
func (s *AgentService) Register(ctx context.Context, req models.RegisterAgentRequest) (*models.Agent, error) {
	if req.Name == "" {
		return nil, NewValidationError("name", "required")
	}
	if len(req.Capabilities) == 0 {
		return nil, NewValidationError("capabilities", "at least one capability required")
	}
	capabilities := make([]models.Target, 0, len(req.Capabilities))
	for _, c := range req.Capabilities {
		target, err := models.ParseTarget(c)
		if err != nil || c == "" {
			return nil, NewValidationError("capabilities", fmt.Sprintf("invalid capability %q", c))
		}
		capabilities = append(capabilities, target)
	}

	now := time.Now()
	agent := &models.Agent{
		ID:           uuid.New().String(),
		Name:         req.Name,
		Capabilities: capabilities,
		State:        models.AgentStateIdle,
		Metadata:     req.Metadata,
		LastSeen:     now,
		RegisteredAt: now,
	}
	if err := s.records.PutAgent(ctx, agent); err != nil {
		return nil, err
	}

	slog.Info("Agent registered",
		"agent_id", agent.ID,
		"name", agent.Name,
		"capabilities", agent.Capabilities)
	return agent, nil
}

// Get loads an agent record.
func (s *AgentService) Get(ctx context.Context, id string) (*models.Agent, error) {
	agent, err := s.records.GetAgent(ctx, id)
	if errors.Is(err, store.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: agent %s", ErrNotFound, id)
	}
	return agent, err
}

// Heartbeat refreshes last_seen and the record TTL. Idempotent.
func (s *AgentService) Heartbeat(ctx context.Context, id string) error {
	agent, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	agent.LastSeen = time.Now()
	return s.records.PutAgent(ctx, agent)
}

// SetState updates the recorded agent status. busy requires currentJob; any
// other state clears it. Refreshes last_seen.
func (s *AgentService) SetState(ctx context.Context, id string, state models.AgentState, currentJob string) (*models.Agent, error) {
	if _, err := models.ParseAgentState(string(state)); err != nil {
		return nil, NewValidationError("state", err.Error())
	}
	if state == models.AgentStateBusy && currentJob == "" {
		return nil, NewValidationError("current_job", "required when state is busy")
	}
	if state != models.AgentStateBusy {
		currentJob = ""
	}

	agent, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	agent.State = state
	agent.CurrentJob = currentJob
	agent.LastSeen = time.Now()
	if err := s.records.PutAgent(ctx, agent); err != nil {
		return nil, err
	}
	return agent, nil
}

// Live reports whether the agent's last heartbeat is within the liveness TTL.
func (s *AgentService) Live(agent *models.Agent) bool {
	return time.Since(agent.LastSeen) < s.livenessTTL
}

// LiveAgents returns agents whose records have not expired and whose last
// heartbeat is within the liveness TTL. Stale entries are skipped; garbage
// collection is passive via record expiry.
func (s *AgentService) LiveAgents(ctx context.Context) ([]*models.Agent, error) {
	all, err := s.records.ListAgents(ctx)
	if err != nil {
		return nil, err
	}
	live := make([]*models.Agent, 0, len(all))
	for _, agent := range all {
		if s.Live(agent) {
			live = append(live, agent)
		}
	}
	return live, nil
}

// Claim binds a claimable job to a live, capable agent.
//
// The store is not transactional, so the job mutation happens first; if the
// agent mutation then fails, the scheduler's reconciliation sweep detects
// the half-claimed job and reverts it to pending.
func (s *AgentService) Claim(ctx context.Context, agentID, jobID string) (*models.Job, error) {
	agent, err := s.Get(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if !s.Live(agent) {
		return nil, fmt.Errorf("%w: agent %s is not live", ErrConflict, agentID)
	}

	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.State != models.JobStatePending && job.State != models.JobStateQueuedForGroup {
		return nil, fmt.Errorf("%w: job %s is %s, not claimable", ErrConflict, jobID, job.State)
	}
	if !agent.CanRun(job.Target) {
		return nil, fmt.Errorf("%w: agent %s cannot run target %s", ErrForbidden, agentID, job.Target)
	}

	job, err = s.jobs.Transition(ctx, jobID, models.JobStateRunning, models.TransitionPatch{
		AssignedAgent: &agentID,
	})
	if err != nil {
		return nil, err
	}

	if _, err := s.SetState(ctx, agentID, models.AgentStateBusy, jobID); err != nil {
		// Half-claimed: the job says running but the agent record was not
		// updated. Reconciliation rolls the job back on the next tick.
		slog.Warn("Agent mutation failed after job claim; awaiting reconciliation",
			"agent_id", agentID, "job_id", jobID, "error", err)
		return nil, err
	}

	slog.Info("Job claimed", "job_id", jobID, "agent_id", agentID)
	return job, nil
}

// Complete accepts an agent's termination report and hands it to the
// lifecycle driver.
//
// A report for an already-cancelled job from the owning agent is accepted
// (the agent is freed, its group advanced) but the record stays cancelled.
// Any other mismatch is Forbidden, which also makes duplicate reports safe.
func (s *AgentService) Complete(ctx context.Context, agentID, jobID string, success bool, errMsg string, result json.RawMessage) (*models.Job, error) {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.AssignedAgent != agentID {
		return nil, fmt.Errorf("%w: job %s is not assigned to agent %s", ErrForbidden, jobID, agentID)
	}
	if job.State != models.JobStateRunning && job.State != models.JobStateCancelled {
		return nil, fmt.Errorf("%w: job %s is %s, not running", ErrForbidden, jobID, job.State)
	}
	if s.completion == nil {
		return nil, fmt.Errorf("no completion handler configured")
	}
	return s.completion.HandleCompletion(ctx, agentID, job, success, errMsg, result)
}
