package api

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/testrig/pkg/models"
)

// submitJobHandler handles POST /api/v1/jobs.
// Persists the job, enqueues it, and returns its queue position.
func (s *Server) submitJobHandler(c *echo.Context) error {
	var req models.SubmitJobRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	job, position, err := s.jobs.Submit(c.Request().Context(), req)
	if err != nil {
		return mapServiceError(err)
	}

	// Submission wakes the scheduler through the job service notifier; the
	// response only reports where the job landed.
	return c.JSON(http.StatusAccepted, &SubmitJobResponse{
		Job:           job,
		QueuePosition: position,
	})
}

// getJobHandler handles GET /api/v1/jobs/:id.
func (s *Server) getJobHandler(c *echo.Context) error {
	job, err := s.jobs.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, job)
}

// listJobsHandler handles GET /api/v1/jobs with optional tenant/state/build/limit filters.
func (s *Server) listJobsHandler(c *echo.Context) error {
	var filter models.JobFilter

	filter.Tenant = c.QueryParam("tenant")
	filter.Build = c.QueryParam("build")

	if v := c.QueryParam("state"); v != "" {
		state, err := models.ParseJobState(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		filter.State = state
	}
	if v := c.QueryParam("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a non-negative integer")
		}
		filter.Limit = limit
	}

	jobs, err := s.jobs.List(c.Request().Context(), filter)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &JobListResponse{Jobs: jobs, Count: len(jobs)})
}

// cancelJobHandler handles POST /api/v1/jobs/:id/cancel.
func (s *Server) cancelJobHandler(c *echo.Context) error {
	job, err := s.jobs.Cancel(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, job)
}

// transitionJobHandler handles POST /api/v1/jobs/:id/transition.
// Subject to the same state machine as internal transitions.
func (s *Server) transitionJobHandler(c *echo.Context) error {
	var req TransitionJobRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	state, err := models.ParseJobState(req.State)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	patch := models.TransitionPatch{Result: req.Result}
	if req.LastError != "" {
		patch.LastError = &req.LastError
	}

	job, err := s.jobs.Transition(c.Request().Context(), c.Param("id"), state, patch)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, job)
}
