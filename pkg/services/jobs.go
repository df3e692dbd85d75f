// Package services implements the job and agent registries: validation,
// persistence, and the job state machine.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/testrig/pkg/models"
	"github.com/codeready-toolchain/testrig/pkg/queue"
	"github.com/codeready-toolchain/testrig/pkg/store"
)

// legalTransitions is the job state machine. Any edge not listed is
// rejected with ErrIllegalState.
var legalTransitions = map[models.JobState][]models.JobState{
	models.JobStatePending: {
		models.JobStateQueuedForGroup, models.JobStateRunning,
		models.JobStateCancelled, models.JobStateFailed,
	},
	models.JobStateQueuedForGroup: {
		models.JobStateRunning, models.JobStateCancelled,
	},
	models.JobStateRunning: {
		models.JobStateCompleted, models.JobStateFailed,
		models.JobStateRetrying, models.JobStateCancelled,
	},
	models.JobStateRetrying: {
		models.JobStatePending,
	},
	// completed / failed / cancelled are terminal.
}

func transitionLegal(from, to models.JobState) bool {
	for _, s := range legalTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// JobService is the job registry: it owns job record CRUD and is the single
// entry point for state transitions and timestamp stamping.
type JobService struct {
	records *store.Records
	queues  *queue.Queues

	// notify pokes the scheduler after a submission; may be nil.
	notify func()
}

// NewJobService creates the job registry.
func NewJobService(records *store.Records, queues *queue.Queues) *JobService {
	return &JobService{records: records, queues: queues}
}

// SetNotifier registers a callback invoked after each successful submission
// so the scheduler can tick without waiting for its cadence.
func (s *JobService) SetNotifier(fn func()) { s.notify = fn }

// Submit validates the request, persists the job in state pending, and
// appends its id to the matching priority queue. The record is stored before
// the queue append so any reader observing the queue can resolve the id.
// Returns the created record and the queue length after the append.
func (s *JobService) Submit(ctx context.Context, req models.SubmitJobRequest) (*models.Job, int, error) {
	if req.Tenant == "" {
		return nil, 0, NewValidationError("tenant", "required")
	}
	if req.Build == "" {
		return nil, 0, NewValidationError("build", "required")
	}
	if req.Artifact == "" {
		return nil, 0, NewValidationError("artifact", "required")
	}
	priority, err := models.ParsePriority(req.Priority)
	if err != nil {
		return nil, 0, NewValidationError("priority", err.Error())
	}
	target, err := models.ParseTarget(req.Target)
	if err != nil {
		return nil, 0, NewValidationError("target", err.Error())
	}

	id := req.ID
	if id != "" {
		if _, err := s.records.GetJob(ctx, id); err == nil {
			return nil, 0, fmt.Errorf("%w: job %s already exists", ErrConflict, id)
		} else if !errors.Is(err, store.ErrKeyNotFound) {
			return nil, 0, err
		}
	} else {
		id = uuid.New().String()
	}

	now := time.Now()
	job := &models.Job{
		ID:        id,
		Tenant:    req.Tenant,
		Build:     req.Build,
		Artifact:  req.Artifact,
		Priority:  priority,
		Target:    target,
		State:     models.JobStatePending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.records.PutJob(ctx, job); err != nil {
		return nil, 0, err
	}
	if err := s.queues.Append(ctx, priority, job.ID); err != nil {
		return nil, 0, err
	}
	queueLen, err := s.queues.Len(ctx, priority)
	if err != nil {
		return nil, 0, err
	}

	slog.Info("Job submitted",
		"job_id", job.ID,
		"tenant", job.Tenant,
		"build", job.Build,
		"priority", job.Priority,
		"target", job.Target,
		"queue_len", queueLen)

	if s.notify != nil {
		s.notify()
	}
	return job, queueLen, nil
}

// Get loads a job record.
func (s *JobService) Get(ctx context.Context, id string) (*models.Job, error) {
	job, err := s.records.GetJob(ctx, id)
	if errors.Is(err, store.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: job %s", ErrNotFound, id)
	}
	return job, err
}

// List returns jobs matching the filter, ordered by descending created_at.
func (s *JobService) List(ctx context.Context, filter models.JobFilter) ([]*models.Job, error) {
	all, err := s.records.ListJobs(ctx)
	if err != nil {
		return nil, err
	}

	jobs := make([]*models.Job, 0, len(all))
	for _, job := range all {
		if filter.Tenant != "" && job.Tenant != filter.Tenant {
			continue
		}
		if filter.State != "" && job.State != filter.State {
			continue
		}
		if filter.Build != "" && job.Build != filter.Build {
			continue
		}
		jobs = append(jobs, job)
	}

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})

	if filter.Limit > 0 && len(jobs) > filter.Limit {
		jobs = jobs[:filter.Limit]
	}
	return jobs, nil
}

// Cancel moves a pending or running job to cancelled. A cancelled running
// job still occupies its agent until the agent reports completion; the late
// report is accepted but does not re-open the record.
func (s *JobService) Cancel(ctx context.Context, id string) (*models.Job, error) {
	job, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.State != models.JobStatePending && job.State != models.JobStateRunning {
		return nil, fmt.Errorf("%w: cannot cancel job in state %s", ErrIllegalState, job.State)
	}
	return s.Transition(ctx, id, models.JobStateCancelled, models.TransitionPatch{})
}

// Transition validates the state-machine edge, applies the patch, stamps
// timestamps, and persists the record. This is the only place timestamps are
// stamped: running sets started_at, terminal states set completed_at.
func (s *JobService) Transition(ctx context.Context, id string, newState models.JobState, patch models.TransitionPatch) (*models.Job, error) {
	job, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !transitionLegal(job.State, newState) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrIllegalState, job.State, newState)
	}

	now := time.Now()
	job.State = newState
	job.UpdatedAt = now

	if patch.AssignedAgent != nil {
		job.AssignedAgent = *patch.AssignedAgent
	}
	if patch.GroupKey != nil {
		job.GroupKey = *patch.GroupKey
	}
	if patch.LastError != nil {
		job.LastError = *patch.LastError
	}
	if patch.Attempt != nil {
		job.Attempt = *patch.Attempt
	}
	if patch.Result != nil {
		job.Result = patch.Result
	}

	switch {
	case newState == models.JobStateRunning:
		job.StartedAt = &now
	case newState.Terminal():
		job.CompletedAt = &now
	}

	if err := s.records.PutJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// Revert resets a running or queued-for-group job back to pending without
// touching its attempt counter. This is the crash-recovery path used by the
// scheduler's reconciliation sweep; it deliberately bypasses the public
// state machine, which has no running -> pending edge.
func (s *JobService) Revert(ctx context.Context, id string) (*models.Job, error) {
	job, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.State != models.JobStateRunning && job.State != models.JobStateQueuedForGroup {
		return nil, fmt.Errorf("%w: cannot revert job in state %s", ErrIllegalState, job.State)
	}
	job.State = models.JobStatePending
	job.AssignedAgent = ""
	job.GroupKey = ""
	job.StartedAt = nil
	job.UpdatedAt = time.Now()
	if err := s.records.PutJob(ctx, job); err != nil {
		return nil, err
	}
	if err := s.queues.Append(ctx, job.Priority, job.ID); err != nil {
		return nil, err
	}
	return job, nil
}
