package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/testrig/pkg/config"
	"github.com/codeready-toolchain/testrig/pkg/models"
	"github.com/codeready-toolchain/testrig/pkg/queue"
	"github.com/codeready-toolchain/testrig/pkg/scheduler"
	"github.com/codeready-toolchain/testrig/pkg/services"
	"github.com/codeready-toolchain/testrig/pkg/store"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	cfg := config.DefaultSchedulerConfig()
	mem := store.NewMemoryStore()
	records := store.NewRecords(mem, cfg.JobRecordTTL, cfg.AgentRecordTTL)
	queues := queue.New(mem)
	jobs := services.NewJobService(records, queues)
	agents := services.NewAgentService(records, jobs, cfg.LivenessTTL)
	sched := scheduler.New(cfg, records, queues, jobs, agents)
	agents.SetCompletionHandler(sched)

	return NewServer(jobs, agents, sched, records, queues, mem, nil)
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestSubmitJobHandler(t *testing.T) {
	s := newTestServer(t)

	t.Run("accepts a valid job", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodPost, "/api/v1/jobs", map[string]string{
			"tenant": "acme", "build": "b1", "artifact": "app.apk", "priority": "high",
		})
		require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

		resp := decode[SubmitJobResponse](t, rec)
		assert.NotEmpty(t, resp.Job.ID)
		assert.Equal(t, models.JobStatePending, resp.Job.State)
		assert.Equal(t, 1, resp.QueuePosition)
	})

	t.Run("rejects missing fields", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodPost, "/api/v1/jobs", map[string]string{
			"build": "b1", "artifact": "app.apk",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "tenant")
	})

	t.Run("rejects invalid priority", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodPost, "/api/v1/jobs", map[string]string{
			"tenant": "acme", "build": "b1", "artifact": "app.apk", "priority": "urgent",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejects duplicate id with conflict", func(t *testing.T) {
		body := map[string]string{
			"id": "dup-1", "tenant": "acme", "build": "b1", "artifact": "app.apk",
		}
		rec := doJSON(t, s, http.MethodPost, "/api/v1/jobs", body)
		require.Equal(t, http.StatusAccepted, rec.Code)

		rec = doJSON(t, s, http.MethodPost, "/api/v1/jobs", body)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestJobReadHandlers(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/jobs", map[string]string{
		"tenant": "acme", "build": "b1", "artifact": "app.apk",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	created := decode[SubmitJobResponse](t, rec).Job

	t.Run("get by id", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodGet, "/api/v1/jobs/"+created.ID, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		got := decode[models.Job](t, rec)
		assert.Equal(t, created.ID, got.ID)
	})

	t.Run("get unknown id", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodGet, "/api/v1/jobs/nope", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("list with filters", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodGet, "/api/v1/jobs?tenant=acme", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[JobListResponse](t, rec)
		assert.Equal(t, 1, resp.Count)

		rec = doJSON(t, s, http.MethodGet, "/api/v1/jobs?tenant=other", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		resp = decode[JobListResponse](t, rec)
		assert.Zero(t, resp.Count)
	})

	t.Run("list rejects bad state filter", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodGet, "/api/v1/jobs?state=bogus", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("cancel", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodPost, fmt.Sprintf("/api/v1/jobs/%s/cancel", created.ID), nil)
		require.Equal(t, http.StatusOK, rec.Code)
		got := decode[models.Job](t, rec)
		assert.Equal(t, models.JobStateCancelled, got.State)

		// A second cancel conflicts
		rec = doJSON(t, s, http.MethodPost, fmt.Sprintf("/api/v1/jobs/%s/cancel", created.ID), nil)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestTransitionJobHandler(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/jobs", map[string]string{
		"tenant": "acme", "build": "b2", "artifact": "app.apk",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	job := decode[SubmitJobResponse](t, rec).Job
	url := fmt.Sprintf("/api/v1/jobs/%s/transition", job.ID)

	t.Run("rejects unknown state", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodPost, url, map[string]string{"state": "bogus"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejects illegal edge", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodPost, url, map[string]string{"state": "completed"})
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("legal edge with patch", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodPost, url, map[string]string{
			"state": "failed", "last_error": "device pool exhausted",
		})
		require.Equal(t, http.StatusOK, rec.Code)
		got := decode[models.Job](t, rec)
		assert.Equal(t, models.JobStateFailed, got.State)
		assert.Equal(t, "device pool exhausted", got.LastError)
	})
}

func TestAgentHandlers(t *testing.T) {
	s := newTestServer(t)

	register := func(t *testing.T) *models.Agent {
		t.Helper()
		rec := doJSON(t, s, http.MethodPost, "/api/v1/agents", map[string]any{
			"name": "rack-1", "capabilities": []string{"emulator"},
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		agent := decode[models.Agent](t, rec)
		return &agent
	}

	t.Run("register validates capabilities", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodPost, "/api/v1/agents", map[string]any{
			"name": "rack-1", "capabilities": []string{"toaster"},
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("register, heartbeat, get", func(t *testing.T) {
		agent := register(t)
		assert.Equal(t, models.AgentStateIdle, agent.State)

		rec := doJSON(t, s, http.MethodPost, fmt.Sprintf("/api/v1/agents/%s/heartbeat", agent.ID), nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)

		rec = doJSON(t, s, http.MethodGet, "/api/v1/agents/"+agent.ID, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		rec = doJSON(t, s, http.MethodPost, "/api/v1/agents/nope/heartbeat", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("set state requires current_job for busy", func(t *testing.T) {
		agent := register(t)
		rec := doJSON(t, s, http.MethodPost, fmt.Sprintf("/api/v1/agents/%s/state", agent.ID),
			SetAgentStateRequest{State: "busy"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = doJSON(t, s, http.MethodPost, fmt.Sprintf("/api/v1/agents/%s/state", agent.ID),
			SetAgentStateRequest{State: "maintenance"})
		require.Equal(t, http.StatusOK, rec.Code)
		got := decode[models.Agent](t, rec)
		assert.Equal(t, models.AgentStateMaintenance, got.State)
	})

	t.Run("claim and complete round trip", func(t *testing.T) {
		agent := register(t)

		rec := doJSON(t, s, http.MethodPost, "/api/v1/jobs", map[string]string{
			"tenant": "acme", "build": "b-claim", "artifact": "app.apk",
		})
		require.Equal(t, http.StatusAccepted, rec.Code)
		job := decode[SubmitJobResponse](t, rec).Job

		rec = doJSON(t, s, http.MethodPost, fmt.Sprintf("/api/v1/agents/%s/claim", agent.ID),
			ClaimRequest{JobID: job.ID})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		claimed := decode[models.Job](t, rec)
		assert.Equal(t, models.JobStateRunning, claimed.State)
		assert.Equal(t, agent.ID, claimed.AssignedAgent)

		// A second claim conflicts
		rec = doJSON(t, s, http.MethodPost, fmt.Sprintf("/api/v1/agents/%s/claim", agent.ID),
			ClaimRequest{JobID: job.ID})
		assert.Equal(t, http.StatusConflict, rec.Code)

		rec = doJSON(t, s, http.MethodPost, fmt.Sprintf("/api/v1/agents/%s/complete", agent.ID),
			CompleteRequest{JobID: job.ID, Success: true, Result: json.RawMessage(`{"passed":1}`)})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		done := decode[models.Job](t, rec)
		assert.Equal(t, models.JobStateCompleted, done.State)
	})

	t.Run("claim requires job_id", func(t *testing.T) {
		agent := register(t)
		rec := doJSON(t, s, http.MethodPost, fmt.Sprintf("/api/v1/agents/%s/claim", agent.ID),
			ClaimRequest{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("complete from a non-owning agent is forbidden", func(t *testing.T) {
		owner := register(t)
		other := register(t)

		rec := doJSON(t, s, http.MethodPost, "/api/v1/jobs", map[string]string{
			"tenant": "acme", "build": "b-own", "artifact": "app.apk",
		})
		require.Equal(t, http.StatusAccepted, rec.Code)
		job := decode[SubmitJobResponse](t, rec).Job

		rec = doJSON(t, s, http.MethodPost, fmt.Sprintf("/api/v1/agents/%s/claim", owner.ID),
			ClaimRequest{JobID: job.ID})
		require.Equal(t, http.StatusOK, rec.Code)

		rec = doJSON(t, s, http.MethodPost, fmt.Sprintf("/api/v1/agents/%s/complete", other.ID),
			CompleteRequest{JobID: job.ID, Success: true})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("list agents", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodGet, "/api/v1/agents", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[AgentListResponse](t, rec)
		assert.NotZero(t, resp.Count)

		rec = doJSON(t, s, http.MethodGet, "/api/v1/agents?live=true", nil)
		require.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestQueueSnapshotHandler(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/jobs", map[string]string{
		"tenant": "acme", "build": "b1", "artifact": "app.apk", "priority": "low",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	job := decode[SubmitJobResponse](t, rec).Job

	rec = doJSON(t, s, http.MethodGet, "/api/v1/queues/low", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[QueueSnapshotResponse](t, rec)
	assert.Equal(t, "low", resp.Priority)
	assert.Equal(t, []string{job.ID}, resp.JobIDs)
	assert.Equal(t, 1, resp.Length)

	rec = doJSON(t, s, http.MethodGet, "/api/v1/queues/urgent", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthHandler(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[HealthResponse](t, rec)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "memory", resp.Store)
	assert.Nil(t, resp.Database)
	assert.NotEmpty(t, resp.Version)
}

func TestSecurityHeaders(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}
