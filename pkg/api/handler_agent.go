package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/testrig/pkg/models"
)

// registerAgentHandler handles POST /api/v1/agents.
func (s *Server) registerAgentHandler(c *echo.Context) error {
	var req models.RegisterAgentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	agent, err := s.agents.Register(c.Request().Context(), req)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, agent)
}

// getAgentHandler handles GET /api/v1/agents/:id.
func (s *Server) getAgentHandler(c *echo.Context) error {
	agent, err := s.agents.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, agent)
}

// listAgentsHandler handles GET /api/v1/agents. With ?live=true only agents
// inside the liveness window are returned.
func (s *Server) listAgentsHandler(c *echo.Context) error {
	ctx := c.Request().Context()

	var (
		agents []*models.Agent
		err    error
	)
	if c.QueryParam("live") == "true" {
		agents, err = s.agents.LiveAgents(ctx)
	} else {
		agents, err = s.records.ListAgents(ctx)
	}
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &AgentListResponse{Agents: agents, Count: len(agents)})
}

// heartbeatHandler handles POST /api/v1/agents/:id/heartbeat.
func (s *Server) heartbeatHandler(c *echo.Context) error {
	if err := s.agents.Heartbeat(c.Request().Context(), c.Param("id")); err != nil {
		return mapServiceError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// setAgentStateHandler handles POST /api/v1/agents/:id/state.
func (s *Server) setAgentStateHandler(c *echo.Context) error {
	var req SetAgentStateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	state, err := models.ParseAgentState(req.State)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	agent, err := s.agents.SetState(c.Request().Context(), c.Param("id"), state, req.CurrentJob)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, agent)
}

// claimJobHandler handles POST /api/v1/agents/:id/claim.
// Used by agents that pull work directly instead of waiting for dispatch.
func (s *Server) claimJobHandler(c *echo.Context) error {
	var req ClaimRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.JobID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "job_id field is required")
	}

	job, err := s.agents.Claim(c.Request().Context(), c.Param("id"), req.JobID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, job)
}

// completeJobHandler handles POST /api/v1/agents/:id/complete.
func (s *Server) completeJobHandler(c *echo.Context) error {
	var req CompleteRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.JobID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "job_id field is required")
	}

	job, err := s.agents.Complete(c.Request().Context(), c.Param("id"), req.JobID, req.Success, req.Error, req.Result)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, job)
}
