// Package cleanup sweeps up container state left behind by interrupted
// operations: teardowns that failed after the pending-delete marker was set,
// and provisional reservations whose create never finished.
package cleanup

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/denhq/control-plane/internal/lifecycle"
	"github.com/denhq/control-plane/internal/models"
	"github.com/denhq/control-plane/internal/store"
)

// Config holds sweeper configuration.
type Config struct {
	// Interval between sweeps.
	Interval time.Duration
	// StaleAge is how old a creating reservation must be before it is
	// considered abandoned. Must exceed the agent call timeout.
	StaleAge time.Duration
}

// DefaultConfig returns sweeper defaults.
func DefaultConfig() *Config {
	return &Config{
		Interval: time.Minute,
		StaleAge: 10 * time.Minute,
	}
}

// Service retries interrupted teardowns and reaps abandoned reservations.
type Service struct {
	cfg       *Config
	store     store.Store
	lifecycle *lifecycle.Service
	logger    *slog.Logger
	now       func() time.Time
}

// NewService creates a new cleanup service.
func NewService(cfg *Config, st store.Store, lc *lifecycle.Service, logger *slog.Logger) *Service {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:       cfg,
		store:     st,
		lifecycle: lc,
		logger:    logger,
		now:       time.Now,
	}
}

// Run sweeps on the configured interval until the context is canceled.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one pass over both kinds of leftover state. Failures are logged
// and retried on the next pass.
func (s *Service) Sweep(ctx context.Context) {
	s.retryPendingDeletes(ctx)
	s.reapStaleReservations(ctx)
}

// retryPendingDeletes finishes teardowns that were marked but never completed,
// usually because the node's agent was unreachable.
func (s *Service) retryPendingDeletes(ctx context.Context) {
	containers, err := s.store.Containers().ListByStatus(ctx, models.ContainerStatusPendingDelete)
	if err != nil {
		s.logger.Error("failed to list pending-delete containers", "error", err)
		return
	}

	for _, container := range containers {
		if err := s.lifecycle.DeleteContainer(ctx, container.UserID); err != nil {
			s.logger.Warn("teardown retry failed",
				"container_id", container.ID,
				"user_id", container.UserID,
				"error", err)
			continue
		}
		s.logger.Info("teardown retry succeeded",
			"container_id", container.ID, "user_id", container.UserID)
	}
}

// reapStaleReservations deletes provisional rows whose create never finished.
// The reservation holds node capacity, so leaving it would leak resources and
// block the owner from ever getting a container.
func (s *Service) reapStaleReservations(ctx context.Context) {
	containers, err := s.store.Containers().ListByStatus(ctx, models.ContainerStatusCreating)
	if err != nil {
		s.logger.Error("failed to list creating containers", "error", err)
		return
	}

	cutoff := s.now().Add(-s.cfg.StaleAge)
	for _, container := range containers {
		if !strings.HasPrefix(container.ID, "pending-") || container.CreatedAt.After(cutoff) {
			continue
		}
		if err := s.store.Containers().Delete(ctx, container.ID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			s.logger.Error("failed to reap stale reservation",
				"container_id", container.ID, "error", err)
			continue
		}
		s.logger.Info("reaped stale reservation",
			"container_id", container.ID,
			"user_id", container.UserID,
			"age", s.now().Sub(container.CreatedAt))
	}
}
