package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/codeready-toolchain/testrig/pkg/models"
)

// Records is the typed wrapper over the raw store: it owns serialization of
// job and agent records and applies the configured record TTLs on write.
type Records struct {
	store    Store
	jobTTL   time.Duration
	agentTTL time.Duration
}

// NewRecords creates a typed record accessor.
// jobTTL bounds retention of job records; agentTTL bounds agent records and
// is refreshed on every heartbeat.
func NewRecords(s Store, jobTTL, agentTTL time.Duration) *Records {
	return &Records{store: s, jobTTL: jobTTL, agentTTL: agentTTL}
}

// Store exposes the underlying raw store (used for queue lists and health).
func (r *Records) Store() Store { return r.store }

// PutJob upserts a job record.
func (r *Records) PutJob(ctx context.Context, job *models.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshaling job %s: %w", job.ID, err)
	}
	return r.store.Put(ctx, JobKey(job.ID), data, r.jobTTL)
}

// GetJob loads a job record. Returns ErrKeyNotFound if absent or expired.
func (r *Records) GetJob(ctx context.Context, id string) (*models.Job, error) {
	data, err := r.store.Get(ctx, JobKey(id))
	if err != nil {
		return nil, err
	}
	var job models.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("unmarshaling job %s: %w", id, err)
	}
	return &job, nil
}

// DeleteJob removes a job record.
func (r *Records) DeleteJob(ctx context.Context, id string) error {
	return r.store.Delete(ctx, JobKey(id))
}

// ListJobs loads all job records. Keys that vanish between scan and get
// (expiry races) are skipped.
func (r *Records) ListJobs(ctx context.Context) ([]*models.Job, error) {
	keys, err := r.store.Scan(ctx, jobKeyPrefix)
	if err != nil {
		return nil, err
	}
	jobs := make([]*models.Job, 0, len(keys))
	for _, key := range keys {
		job, err := r.GetJob(ctx, strings.TrimPrefix(key, jobKeyPrefix))
		if err != nil {
			if errors.Is(err, ErrKeyNotFound) {
				continue
			}
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// PutAgent upserts an agent record, refreshing its TTL.
func (r *Records) PutAgent(ctx context.Context, agent *models.Agent) error {
	data, err := json.Marshal(agent)
	if err != nil {
		return fmt.Errorf("marshaling agent %s: %w", agent.ID, err)
	}
	return r.store.Put(ctx, AgentKey(agent.ID), data, r.agentTTL)
}

// GetAgent loads an agent record. Returns ErrKeyNotFound if absent or expired.
func (r *Records) GetAgent(ctx context.Context, id string) (*models.Agent, error) {
	data, err := r.store.Get(ctx, AgentKey(id))
	if err != nil {
		return nil, err
	}
	var agent models.Agent
	if err := json.Unmarshal(data, &agent); err != nil {
		return nil, fmt.Errorf("unmarshaling agent %s: %w", id, err)
	}
	return &agent, nil
}

// ListAgents loads all unexpired agent records.
func (r *Records) ListAgents(ctx context.Context) ([]*models.Agent, error) {
	keys, err := r.store.Scan(ctx, agentKeyPrefix)
	if err != nil {
		return nil, err
	}
	agents := make([]*models.Agent, 0, len(keys))
	for _, key := range keys {
		agent, err := r.GetAgent(ctx, strings.TrimPrefix(key, agentKeyPrefix))
		if err != nil {
			if errors.Is(err, ErrKeyNotFound) {
				continue
			}
			return nil, err
		}
		agents = append(agents, agent)
	}
	return agents, nil
}
