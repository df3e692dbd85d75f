package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/codeready-toolchain/testrig/pkg/models"
	"github.com/codeready-toolchain/testrig/pkg/services"
)

// HandleCompletion is the lifecycle driver (services.CompletionHandler).
// The agent registry has already validated ownership; this finalizes or
// retries the job, then advances or closes the agent's affinity group.
// It takes the scheduler mutex so group mutation is serialized with ticks.
func (s *Scheduler) HandleCompletion(ctx context.Context, agentID string, job *models.Job, success bool, errMsg string, result json.RawMessage) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := groupKey{agentID: agentID, build: job.Build}
	log := slog.With("job_id", job.ID, "agent_id", agentID)

	// A submitter cancelled the job while it ran: the record is already
	// terminal. Accept the late report, free the agent, advance the group.
	if job.State == models.JobStateCancelled {
		log.Info("Late completion report for cancelled job accepted")
		if err := s.advanceGroup(ctx, key, job.ID); err != nil {
			return nil, err
		}
		s.Wake()
		return job, nil
	}

	var (
		updated *models.Job
		err     error
	)
	if success {
		updated, err = s.jobs.Transition(ctx, job.ID, models.JobStateCompleted, models.TransitionPatch{
			Result: result,
		})
		if err != nil {
			return nil, err
		}
		log.Info("Job completed")
	} else {
		updated, err = s.retry(ctx, job, errMsg, result)
		if err != nil {
			return nil, err
		}
	}

	if err := s.advanceGroup(ctx, key, job.ID); err != nil {
		return nil, err
	}
	s.Wake()
	return updated, nil
}

// retry applies the retry policy to a failed execution: re-enqueue at the
// tail of the job's priority queue while attempts remain, otherwise mark
// the job failed.
func (s *Scheduler) retry(ctx context.Context, job *models.Job, errMsg string, result json.RawMessage) (*models.Job, error) {
	log := slog.With("job_id", job.ID, "attempt", job.Attempt)

	attempt := job.Attempt + 1
	if attempt < s.cfg.MaxAttempts {
		if _, err := s.jobs.Transition(ctx, job.ID, models.JobStateRetrying, models.TransitionPatch{
			Attempt:   &attempt,
			LastError: &errMsg,
		}); err != nil {
			return nil, err
		}
		// Submit ordering: the record must read pending before its id is
		// appended, so a failed append leaves a pending record that the
		// reconciliation sweep re-queues, never a stuck retrying one.
		cleared := ""
		updated, err := s.jobs.Transition(ctx, job.ID, models.JobStatePending, models.TransitionPatch{
			AssignedAgent: &cleared,
			GroupKey:      &cleared,
		})
		if err != nil {
			return nil, err
		}
		if err := s.queues.Append(ctx, job.Priority, job.ID); err != nil {
			return nil, err
		}
		log.Info("Job re-enqueued for retry", "next_attempt", attempt)
		return updated, nil
	}

	updated, err := s.jobs.Transition(ctx, job.ID, models.JobStateFailed, models.TransitionPatch{
		Attempt:   &attempt,
		LastError: &errMsg,
		Result:    result,
	})
	if err != nil {
		return nil, err
	}
	log.Warn("Job failed permanently", "attempts", attempt, "error", errMsg)
	return updated, nil
}

func isStateError(err error) bool {
	return errors.Is(err, services.ErrIllegalState) || errors.Is(err, services.ErrNotFound)
}
