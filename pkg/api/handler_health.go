package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/testrig/pkg/version"
)

const (
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"
)

// healthHandler handles GET /health.
func (s *Server) healthHandler(c *echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	resp := &HealthResponse{
		Status:    statusHealthy,
		Version:   version.Full(),
		Store:     "memory",
		Scheduler: s.sched.Health(),
	}

	code := http.StatusOK
	if err := s.st.Ping(ctx); err != nil {
		resp.Status = statusUnhealthy
		code = http.StatusServiceUnavailable
	}

	if s.dbClient != nil {
		resp.Store = "postgres"
		dbStatus, err := s.dbClient.Health(ctx)
		if err != nil {
			resp.Status = statusUnhealthy
			code = http.StatusServiceUnavailable
		} else {
			resp.Database = dbStatus
		}
	}

	return c.JSON(code, resp)
}
