// Package cleanup provides the expired-record sweeper.
//
// Expired store rows are already invisible to reads; the sweeper bounds
// physical growth by removing them on an interval. All operations are
// idempotent and safe to run from multiple replicas.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/testrig/pkg/config"
	"github.com/codeready-toolchain/testrig/pkg/store"
)

// Service periodically deletes physically-expired store entries.
type Service struct {
	config  *config.RetentionConfig
	expirer store.Expirer

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new cleanup service.
func NewService(cfg *config.RetentionConfig, expirer store.Expirer) *Service {
	return &Service{config: cfg, expirer: expirer}
}

// Start launches the background sweep loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Cleanup service started", "sweep_interval", s.config.SweepInterval)
}

// Stop signals the sweep loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// Sweep runs one cleanup pass. Exposed for tests and manual triggering.
func (s *Service) Sweep(ctx context.Context) { s.sweep(ctx) }

func (s *Service) sweep(ctx context.Context) {
	removed, err := s.expirer.DeleteExpired(ctx)
	if err != nil {
		slog.Error("Expired-record sweep failed", "error", err)
		return
	}
	if removed > 0 {
		slog.Info("Removed expired records", "count", removed)
	}
}
