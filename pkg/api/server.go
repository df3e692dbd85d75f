// Package api is the HTTP adapter over the core operations: a thin layer
// that binds requests, delegates to the services, and maps errors.
package api

import (
	"context"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/testrig/pkg/database"
	"github.com/codeready-toolchain/testrig/pkg/queue"
	"github.com/codeready-toolchain/testrig/pkg/scheduler"
	"github.com/codeready-toolchain/testrig/pkg/services"
	"github.com/codeready-toolchain/testrig/pkg/store"
)

// Server is the HTTP API server.
type Server struct {
	jobs    *services.JobService
	agents  *services.AgentService
	sched   *scheduler.Scheduler
	records *store.Records
	queues  *queue.Queues
	st      store.Store

	// dbClient is nil when running on the in-memory store.
	dbClient *database.Client

	echo       *echo.Echo
	httpServer *http.Server
}

// NewServer wires the API over the core services.
func NewServer(jobs *services.JobService, agents *services.AgentService, sched *scheduler.Scheduler,
	records *store.Records, queues *queue.Queues, st store.Store, dbClient *database.Client) *Server {
	s := &Server{
		jobs:     jobs,
		agents:   agents,
		sched:    sched,
		records:  records,
		queues:   queues,
		st:       st,
		dbClient: dbClient,
	}

	e := echo.New()
	e.Use(securityHeaders())
	e.Use(requestLogger())

	v1 := e.Group("/api/v1")

	v1.POST("/jobs", s.submitJobHandler)
	v1.GET("/jobs", s.listJobsHandler)
	v1.GET("/jobs/:id", s.getJobHandler)
	v1.POST("/jobs/:id/cancel", s.cancelJobHandler)
	v1.POST("/jobs/:id/transition", s.transitionJobHandler)

	v1.POST("/agents", s.registerAgentHandler)
	v1.GET("/agents", s.listAgentsHandler)
	v1.GET("/agents/:id", s.getAgentHandler)
	v1.POST("/agents/:id/heartbeat", s.heartbeatHandler)
	v1.POST("/agents/:id/state", s.setAgentStateHandler)
	v1.POST("/agents/:id/claim", s.claimJobHandler)
	v1.POST("/agents/:id/complete", s.completeJobHandler)

	v1.GET("/queues/:priority", s.queueSnapshotHandler)
	v1.GET("/health", s.healthHandler)

	e.GET("/health", s.healthHandler)

	s.echo = e
	return s
}

// Start begins serving on addr. Blocks until shutdown or failure.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.echo}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the underlying handler for tests.
func (s *Server) Handler() http.Handler { return s.echo }
