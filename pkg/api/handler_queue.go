package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/testrig/pkg/models"
)

// queueSnapshotHandler handles GET /api/v1/queues/:priority.
// Returns the current FIFO ordering without consuming entries.
func (s *Server) queueSnapshotHandler(c *echo.Context) error {
	priority, err := models.ParsePriority(c.Param("priority"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ids, err := s.queues.Snapshot(c.Request().Context(), priority)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &QueueSnapshotResponse{
		Priority: string(priority),
		JobIDs:   ids,
		Length:   len(ids),
	})
}
