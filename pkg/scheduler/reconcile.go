package scheduler

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/codeready-toolchain/testrig/pkg/models"
)

// reconcile is the crash-recovery sweep run at the start of every tick.
//
// The store is not transactional, so invariants between job and agent
// records are enforced here rather than by locking:
//   - a running job whose agent is gone or silent is reverted to pending
//     (attempt untouched; a crash is not a test failure) and re-queued;
//   - a running job past the max runtime is likewise reverted;
//   - a half-claimed job (running, but its agent record never became busy)
//     is rolled back;
//   - the in-memory group table, lost on restart, is rebuilt lazily: every
//     healthy running job heads a singleton group, and parked
//     queued-for-group jobs are re-attached behind it or reverted;
//   - a busy agent whose recorded job no longer points back at it is freed;
//   - a pending job found in no queue is re-appended to its priority queue,
//     and an interrupted retry sequence is finished.
//
// Caller holds s.mu.
func (s *Scheduler) reconcile(ctx context.Context) error {
	jobs, err := s.records.ListJobs(ctx)
	if err != nil {
		return err
	}
	agents, err := s.records.ListAgents(ctx)
	if err != nil {
		return err
	}

	liveByID := make(map[string]*models.Agent, len(agents))
	for _, agent := range agents {
		if s.agents.Live(agent) {
			liveByID[agent.ID] = agent
		}
	}

	// Grace period before declaring a claim half-finished: the job write
	// and the agent write are separate store operations, and an API claim
	// may be between them right now.
	grace := s.cfg.TickInterval

	for _, job := range jobs {
		if job.State != models.JobStateRunning {
			continue
		}

		agent, live := liveByID[job.AssignedAgent]
		overRuntime := job.StartedAt != nil && time.Since(*job.StartedAt) > s.cfg.JobMaxRuntime

		switch {
		case !live:
			s.revert(ctx, job, "agent not live")
		case overRuntime:
			s.revert(ctx, job, "exceeded max runtime")
		case agent.CurrentJob != job.ID && time.Since(job.UpdatedAt) > grace:
			s.revert(ctx, job, "agent record inconsistent")
		default:
			// Healthy: make sure a group exists so completion handling can
			// advance it even after a restart wiped the table.
			key := groupKey{agentID: job.AssignedAgent, build: job.Build}
			if _, ok := s.groups[key]; !ok {
				s.groups[key] = &group{
					jobs:       []string{job.ID},
					createdAt:  time.Now(),
					processing: true,
				}
			}
		}
	}

	s.reattachParkedJobs(ctx, jobs, liveByID)
	s.freeStuckAgents(ctx, jobs, agents)
	return s.recoverStrandedJobs(ctx, jobs)
}

// freeStuckAgents releases agents recorded busy on a job that no longer
// points back at them. The completion and retry sequences run under s.mu, so
// this direction of inconsistency only arises when one of their store writes
// failed partway, never transiently.
func (s *Scheduler) freeStuckAgents(ctx context.Context, jobs []*models.Job, agents []*models.Agent) {
	byID := make(map[string]*models.Job, len(jobs))
	for _, job := range jobs {
		byID[job.ID] = job
	}

	for _, agent := range agents {
		if agent.State != models.AgentStateBusy || agent.CurrentJob == "" {
			continue
		}
		job := byID[agent.CurrentJob]
		// A cancelled job keeps its agent until the late report arrives.
		if job != nil && job.AssignedAgent == agent.ID &&
			(job.State == models.JobStateRunning || job.State == models.JobStateCancelled) {
			continue
		}
		slog.Warn("Freeing agent stuck on a job that left it",
			"agent_id", agent.ID, "job_id", agent.CurrentJob)

		for key, g := range s.groups {
			if key.agentID != agent.ID {
				continue
			}
			for _, id := range g.jobs {
				if _, err := s.jobs.Revert(ctx, id); err != nil && !isStateError(err) {
					slog.Error("Failed to revert job from stuck group", "job_id", id, "error", err)
				}
			}
			delete(s.groups, key)
		}
		if err := s.freeAgent(ctx, agent.ID); err != nil {
			slog.Error("Failed to free stuck agent", "agent_id", agent.ID, "error", err)
		}
	}
}

// recoverStrandedJobs returns pending jobs found in no queue to their
// priority queue, and finishes interrupted retry sequences. The record and
// its queue entry are written in two steps, so a failed write (submit,
// retry, revert, or a dispatch error path) can strand the record. The grace
// period avoids racing an in-flight submit whose append has not landed yet.
func (s *Scheduler) recoverStrandedJobs(ctx context.Context, jobs []*models.Job) error {
	queued := make(map[string]bool)
	for _, priority := range models.Priorities() {
		ids, err := s.queues.Snapshot(ctx, priority)
		if err != nil {
			return err
		}
		for _, id := range ids {
			queued[id] = true
		}
	}

	grace := s.cfg.TickInterval
	for _, job := range jobs {
		switch job.State {
		case models.JobStateRetrying:
			// A retry that never reached pending: finish the sequence.
			if time.Since(job.UpdatedAt) <= grace {
				continue
			}
			cleared := ""
			if _, err := s.jobs.Transition(ctx, job.ID, models.JobStatePending, models.TransitionPatch{
				AssignedAgent: &cleared,
				GroupKey:      &cleared,
			}); err != nil {
				slog.Error("Failed to recover retrying job", "job_id", job.ID, "error", err)
				continue
			}
		case models.JobStatePending:
			if queued[job.ID] || time.Since(job.UpdatedAt) <= grace {
				continue
			}
		default:
			continue
		}
		slog.Warn("Re-queueing stranded job", "job_id", job.ID, "priority", job.Priority)
		if err := s.queues.Append(ctx, job.Priority, job.ID); err != nil {
			slog.Error("Failed to re-queue stranded job", "job_id", job.ID, "error", err)
		}
	}
	return nil
}

// revert rolls a job back to pending and re-queues it. The member group, if
// any, is dropped with its parked jobs reverted too.
func (s *Scheduler) revert(ctx context.Context, job *models.Job, reason string) {
	slog.Warn("Reverting running job to pending",
		"job_id", job.ID, "agent_id", job.AssignedAgent, "reason", reason)

	key := groupKey{agentID: job.AssignedAgent, build: job.Build}
	if g, ok := s.groups[key]; ok {
		for _, id := range g.jobs {
			if id == job.ID {
				continue
			}
			if _, err := s.jobs.Revert(ctx, id); err != nil {
				slog.Error("Failed to revert parked group member", "job_id", id, "error", err)
			}
		}
		delete(s.groups, key)
	}

	if _, err := s.jobs.Revert(ctx, job.ID); err != nil {
		slog.Error("Failed to revert job", "job_id", job.ID, "error", err)
		return
	}
	s.jobsReverted++

	// If the agent is still around but stuck on this job, release it.
	if agent, err := s.agents.Get(ctx, job.AssignedAgent); err == nil {
		if agent.State == models.AgentStateBusy && agent.CurrentJob == job.ID {
			if err := s.freeAgent(ctx, agent.ID); err != nil {
				slog.Error("Failed to free agent after revert", "agent_id", agent.ID, "error", err)
			}
		}
	}
}

// reattachParkedJobs rebuilds group membership for queued-for-group jobs
// that the in-memory table no longer knows about (restart, pruned group).
// Jobs whose agent is gone are reverted to pending.
func (s *Scheduler) reattachParkedJobs(ctx context.Context, jobs []*models.Job, liveByID map[string]*models.Agent) {
	parked := make([]*models.Job, 0)
	for _, job := range jobs {
		if job.State == models.JobStateQueuedForGroup {
			parked = append(parked, job)
		}
	}
	// Oldest first so re-attachment preserves submission order.
	sort.Slice(parked, func(i, j int) bool {
		return parked[i].CreatedAt.Before(parked[j].CreatedAt)
	})

	for _, job := range parked {
		key := groupKey{agentID: job.AssignedAgent, build: job.Build}
		g, ok := s.groups[key]
		if !ok || liveByID[job.AssignedAgent] == nil {
			slog.Warn("Reverting orphaned parked job", "job_id", job.ID, "group", key.String())
			if _, err := s.jobs.Revert(ctx, job.ID); err != nil {
				slog.Error("Failed to revert parked job", "job_id", job.ID, "error", err)
			}
			continue
		}
		if !containsJob(g.jobs, job.ID) {
			g.jobs = append(g.jobs, job.ID)
		}
	}
}

func containsJob(ids []string, id string) bool {
	for _, existing := range ids {
		if existing == id {
			return true
		}
	}
	return false
}
