// Package scheduler implements the matching loop: it orders the priority
// queues by tenant weight, binds jobs to live idle agents, maintains
// build-affinity groups, drives job completion and retry, and reconciles
// state left behind by crashed agents or processes.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/codeready-toolchain/testrig/pkg/config"
	"github.com/codeready-toolchain/testrig/pkg/models"
	"github.com/codeready-toolchain/testrig/pkg/queue"
	"github.com/codeready-toolchain/testrig/pkg/services"
	"github.com/codeready-toolchain/testrig/pkg/store"
)

// Scheduler owns the tick loop and the in-memory group table. The table is
// guarded by mu, which also serializes completion handling with ticks: the
// two paths never mutate groups concurrently.
type Scheduler struct {
	cfg     *config.SchedulerConfig
	records *store.Records
	queues  *queue.Queues
	jobs    *services.JobService
	agents  *services.AgentService

	mu     sync.Mutex
	groups map[groupKey]*group

	wakeCh   chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// Health tracking
	lastTick      time.Time
	ticksRun      int
	jobsReverted  int
	jobsDispatched int
}

// New creates a scheduler. Call Start to run the loop, or Tick directly for
// manual control.
func New(cfg *config.SchedulerConfig, records *store.Records, queues *queue.Queues, jobs *services.JobService, agents *services.AgentService) *Scheduler {
	return &Scheduler{
		cfg:     cfg,
		records: records,
		queues:  queues,
		jobs:    jobs,
		agents:  agents,
		groups:  make(map[groupKey]*group),
		wakeCh:  make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
	}
}

// Start launches the tick loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.run(ctx)
	slog.Info("Scheduler started", "tick_interval", s.cfg.TickInterval)
}

// Stop signals the loop to exit after the current tick and waits for it.
// In-flight assignments are not rolled back; they reconcile on next startup.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
	slog.Info("Scheduler stopped")
}

// Wake triggers an early tick (called on submission and completion).
func (s *Scheduler) Wake() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-s.wakeCh:
		}

		if err := s.Tick(ctx); err != nil {
			// Abort this tick; the next cadence retries.
			slog.Error("Scheduler tick failed", "error", err)
		}
	}
}

// Tick runs one scheduling pass: reconciliation, group housekeeping, then
// the drain-sort-walk cycle per priority queue.
func (s *Scheduler) Tick(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastTick = time.Now()
	s.ticksRun++

	if err := s.reconcile(ctx); err != nil {
		return err
	}
	s.pruneStaleGroups(ctx)

	liveAgents, err := s.agents.LiveAgents(ctx)
	if err != nil {
		return err
	}
	idle := make([]*models.Agent, 0, len(liveAgents))
	for _, agent := range liveAgents {
		if agent.State == models.AgentStateIdle {
			idle = append(idle, agent)
		}
	}

	for _, priority := range models.Priorities() {
		idle, err = s.dispatchQueue(ctx, priority, idle)
		if err != nil {
			return err
		}
	}
	return nil
}

// dispatchQueue drains one priority queue in tenant-weight order, binding
// jobs to agents. Jobs that cannot be placed are re-appended in sorted
// order; concurrent submissions append after the drain and are picked up
// next tick. Returns the remaining idle agents.
func (s *Scheduler) dispatchQueue(ctx context.Context, priority models.Priority, idle []*models.Agent) ([]*models.Agent, error) {
	// The drained ids are the authoritative working set: everything popped
	// here is either placed or re-appended before returning, and entries
	// appended concurrently stay in the list untouched.
	drained, err := s.queues.Drain(ctx, priority)
	if err != nil {
		s.requeue(ctx, priority, drained)
		return idle, err
	}
	if len(drained) == 0 {
		return idle, nil
	}

	// Resolve ids to records, dropping entries that vanished or whose state
	// advanced past pending (claimed by an agent, cancelled, grouped).
	// Transient read failures keep their entry for the next tick.
	jobs := make([]*models.Job, 0, len(drained))
	var unresolved []string
	seen := make(map[string]bool, len(drained))
	for _, id := range drained {
		if seen[id] {
			continue
		}
		seen[id] = true
		job, err := s.jobs.Get(ctx, id)
		if err != nil {
			if !errors.Is(err, services.ErrNotFound) {
				unresolved = append(unresolved, id)
			}
			continue
		}
		if job.State != models.JobStatePending {
			continue
		}
		jobs = append(jobs, job)
	}

	// Higher tenant weight first, then older submissions first.
	sort.SliceStable(jobs, func(i, j int) bool {
		wi, wj := s.cfg.TenantWeight(jobs[i].Tenant), s.cfg.TenantWeight(jobs[j].Tenant)
		if wi != wj {
			return wi > wj
		}
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})

	var leftover []string
	for i, job := range jobs {
		placed, remaining, err := s.place(ctx, job, idle)
		if err != nil {
			// Put this job and everything not yet walked back, then
			// surface the error.
			for _, j := range jobs[i:] {
				leftover = append(leftover, j.ID)
			}
			s.requeue(ctx, priority, append(leftover, unresolved...))
			return remaining, err
		}
		idle = remaining
		if !placed {
			leftover = append(leftover, job.ID)
		}
	}
	s.requeue(ctx, priority, append(leftover, unresolved...))
	return idle, nil
}

// place tries to bind one job: first to an existing build-affinity group,
// otherwise to a suitable idle agent. Returns whether the job was placed
// and the remaining idle agents.
func (s *Scheduler) place(ctx context.Context, job *models.Job, idle []*models.Agent) (bool, []*models.Agent, error) {
	// A group with this build keeps its agent reserved: park the job at the
	// group's tail instead of consuming another agent. It is promoted when
	// the current head completes. Only groups whose agent can serve the
	// job's target qualify.
	if key, ok := s.findGroupForJob(ctx, job); ok {
		if err := s.attachToGroup(ctx, key, job); err != nil {
			return false, idle, err
		}
		return true, idle, nil
	}

	for i, agent := range idle {
		if !agent.CanRun(job.Target) {
			continue
		}
		if _, err := s.agents.Claim(ctx, agent.ID, job.ID); err != nil {
			if errors.Is(err, services.ErrConflict) || errors.Is(err, services.ErrForbidden) {
				// Lost the race to a polling agent; the job is no longer
				// ours to place.
				slog.Warn("Claim lost during dispatch", "job_id", job.ID, "agent_id", agent.ID, "error", err)
				return true, idle, nil
			}
			if errors.Is(err, services.ErrNotFound) {
				// The agent record expired under us; try the next one.
				continue
			}
			// Store failure mid-claim: surface it so the caller re-queues
			// the job. If the claim half-landed, reconciliation rolls the
			// record back.
			return false, idle, err
		}
		s.groups[groupKey{agentID: agent.ID, build: job.Build}] = &group{
			jobs:       []string{job.ID},
			createdAt:  time.Now(),
			processing: true,
		}
		s.jobsDispatched++
		slog.Info("Job dispatched", "job_id", job.ID, "agent_id", agent.ID, "build", job.Build)
		return true, append(idle[:i:i], idle[i+1:]...), nil
	}

	// No suitable agent this tick; the job goes back to its queue.
	return false, idle, nil
}

func (s *Scheduler) requeue(ctx context.Context, priority models.Priority, ids []string) {
	for _, id := range ids {
		if err := s.queues.Append(ctx, priority, id); err != nil {
			slog.Error("Failed to re-append job to queue", "job_id", id, "error", err)
		}
	}
}

// Health returns a snapshot of scheduler activity for the health endpoint.
func (s *Scheduler) Health() SchedulerHealth {
	s.mu.Lock()
	defer s.mu.Unlock()

	grouped := 0
	for _, g := range s.groups {
		grouped += len(g.jobs)
	}
	return SchedulerHealth{
		LastTick:       s.lastTick,
		TicksRun:       s.ticksRun,
		Groups:         len(s.groups),
		GroupedJobs:    grouped,
		JobsDispatched: s.jobsDispatched,
		JobsReverted:   s.jobsReverted,
	}
}

// SchedulerHealth is the scheduler section of the health endpoint response.
type SchedulerHealth struct {
	LastTick       time.Time `json:"last_tick"`
	TicksRun       int       `json:"ticks_run"`
	Groups         int       `json:"groups"`
	GroupedJobs    int       `json:"grouped_jobs"`
	JobsDispatched int       `json:"jobs_dispatched"`
	JobsReverted   int       `json:"jobs_reverted"`
}
