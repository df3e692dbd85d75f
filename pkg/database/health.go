package database

import (
	"context"
	"time"
)

// PoolStats is the subset of sql.DBStats surfaced by the health endpoint.
// Wait pressure climbing while in_use sits at max_open means the scheduler
// and API are starving for connections.
type PoolStats struct {
	Open      int   `json:"open"`
	InUse     int   `json:"in_use"`
	Idle      int   `json:"idle"`
	WaitCount int64 `json:"wait_count"`
	WaitMs    int64 `json:"wait_ms"`
	MaxOpen   int   `json:"max_open"`
}

// HealthStatus reports connectivity and pool pressure of the backing
// database.
type HealthStatus struct {
	Status       string    `json:"status"`
	ResponseTime int64     `json:"response_time_ms"`
	Pool         PoolStats `json:"pool"`
}

// Health pings the database and captures pool statistics.
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	start := time.Now()

	if err := c.db.PingContext(ctx); err != nil {
		return &HealthStatus{
			Status:       "unhealthy",
			ResponseTime: time.Since(start).Milliseconds(),
		}, err
	}

	stats := c.db.Stats()
	return &HealthStatus{
		Status:       "healthy",
		ResponseTime: time.Since(start).Milliseconds(),
		Pool: PoolStats{
			Open:      stats.OpenConnections,
			InUse:     stats.InUse,
			Idle:      stats.Idle,
			WaitCount: stats.WaitCount,
			WaitMs:    stats.WaitDuration.Milliseconds(),
			MaxOpen:   stats.MaxOpenConnections,
		},
	}, nil
}
