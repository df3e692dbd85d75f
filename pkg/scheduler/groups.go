package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/codeready-toolchain/testrig/pkg/models"
	"github.com/codeready-toolchain/testrig/pkg/store"
)

// groupKey identifies a build-affinity group: the jobs of one build queued
// behind one agent.
type groupKey struct {
	agentID string
	build   string
}

func (k groupKey) String() string {
	return fmt.Sprintf("%s/%s", k.agentID, k.build)
}

// group is the ephemeral, scheduler-held affinity list. The head of jobs is
// the one currently running (when processing) or next to run. The table is
// lost on restart and rebuilt lazily by reconciliation.
type group struct {
	jobs       []string
	createdAt  time.Time
	processing bool
}

// findGroupForJob returns the key of a group holding the job's build whose
// agent can serve the job's target: build affinity never overrides capability
// matching. Keys are walked in sorted order so placement is deterministic.
func (s *Scheduler) findGroupForJob(ctx context.Context, job *models.Job) (groupKey, bool) {
	keys := make([]groupKey, 0, len(s.groups))
	for key := range s.groups {
		if key.build == job.Build {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].agentID < keys[j].agentID })

	for _, key := range keys {
		agent, err := s.records.GetAgent(ctx, key.agentID)
		if err != nil {
			continue
		}
		if agent.CanRun(job.Target) {
			return key, true
		}
	}
	return groupKey{}, false
}

// attachToGroup parks a pending job at the tail of an existing group and
// marks it queued-for-group with the group annotation.
func (s *Scheduler) attachToGroup(ctx context.Context, key groupKey, job *models.Job) error {
	agentID := key.agentID
	keyStr := key.String()
	_, err := s.jobs.Transition(ctx, job.ID, models.JobStateQueuedForGroup, models.TransitionPatch{
		AssignedAgent: &agentID,
		GroupKey:      &keyStr,
	})
	if err != nil {
		return err
	}
	s.groups[key].jobs = append(s.groups[key].jobs, job.ID)
	slog.Info("Job attached to build-affinity group",
		"job_id", job.ID, "group", keyStr)
	return nil
}

// advanceGroup removes a finished job from its group head and promotes the
// next queued job, or frees the agent and discards the group.
// Caller holds s.mu.
func (s *Scheduler) advanceGroup(ctx context.Context, key groupKey, finishedJobID string) error {
	g, ok := s.groups[key]
	if !ok {
		// No group (table lost on restart, or singleton never rebuilt):
		// just release the agent.
		return s.freeAgent(ctx, key.agentID)
	}

	if len(g.jobs) > 0 && g.jobs[0] == finishedJobID {
		g.jobs = g.jobs[1:]
	}

	// Promote the next head. Jobs cancelled while parked are skipped.
	for len(g.jobs) > 0 {
		next := g.jobs[0]
		agentID := key.agentID
		_, err := s.jobs.Transition(ctx, next, models.JobStateRunning, models.TransitionPatch{
			AssignedAgent: &agentID,
		})
		if err != nil {
			if isStateError(err) {
				slog.Warn("Skipping unpromotable group member", "job_id", next, "group", key.String(), "error", err)
				g.jobs = g.jobs[1:]
				continue
			}
			return err
		}
		g.processing = true
		if _, err := s.agents.SetState(ctx, key.agentID, models.AgentStateBusy, next); err != nil {
			return err
		}
		slog.Info("Promoted next job in group", "job_id", next, "group", key.String())
		return nil
	}

	delete(s.groups, key)
	return s.freeAgent(ctx, key.agentID)
}

// freeAgent returns an agent to idle. The record is written directly so
// last_seen is not refreshed: freeing a silent agent must not make it look
// live again. A vanished record (TTL expiry) is not an error.
func (s *Scheduler) freeAgent(ctx context.Context, agentID string) error {
	agent, err := s.records.GetAgent(ctx, agentID)
	if err != nil {
		if errors.Is(err, store.ErrKeyNotFound) {
			return nil
		}
		return err
	}
	agent.State = models.AgentStateIdle
	agent.CurrentJob = ""
	return s.records.PutAgent(ctx, agent)
}

// pruneStaleGroups discards groups that are not processing and older than
// the configured idle limit, reverting their parked jobs to pending.
// Caller holds s.mu.
func (s *Scheduler) pruneStaleGroups(ctx context.Context) {
	for key, g := range s.groups {
		if g.processing || time.Since(g.createdAt) <= s.cfg.GroupMaxIdle {
			continue
		}
		slog.Warn("Discarding stale build-affinity group",
			"group", key.String(), "queued_jobs", len(g.jobs))
		for _, id := range g.jobs {
			if _, err := s.jobs.Revert(ctx, id); err != nil {
				slog.Error("Failed to revert job from stale group", "job_id", id, "error", err)
			}
		}
		delete(s.groups, key)
	}
}
