// Package lifecycle orchestrates per-user containers: placement, creation,
// port allocation, and teardown. All state transitions go through the store;
// agent calls happen outside transactions so a slow node never holds a
// database lock.
package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/denhq/control-plane/internal/agent"
	"github.com/denhq/control-plane/internal/apperrors"
	"github.com/denhq/control-plane/internal/gate"
	"github.com/denhq/control-plane/internal/models"
	"github.com/denhq/control-plane/internal/store"
)

// Config holds lifecycle configuration.
type Config struct {
	// FreshnessWindow decides which nodes count as online for placement.
	FreshnessWindow time.Duration
	// Default reservation for new containers.
	DefaultMemoryMB  int
	DefaultCPUCores  int
	DefaultStorageGB int
	// MaxPortsPerUser caps host ports per container.
	MaxPortsPerUser int
}

// DefaultConfig returns lifecycle defaults.
func DefaultConfig() *Config {
	return &Config{
		FreshnessWindow:  30 * time.Second,
		DefaultMemoryMB:  4096,
		DefaultCPUCores:  4,
		DefaultStorageGB: 15,
		MaxPortsPerUser:  5,
	}
}

// Invalidator drops cached routing entries after cascades remove subdomains.
type Invalidator interface {
	InvalidateAll()
}

// Service manages container lifecycle.
type Service struct {
	cfg    *Config
	store  store.Store
	agent  agent.Client
	routes Invalidator
	logger *slog.Logger
	now    func() time.Time

	userMu *keyedMutex[int64]
	nodeMu *keyedMutex[int64]
}

// NewService creates a new lifecycle service. routes may be nil when no
// routing cache is in play (tests).
func NewService(cfg *Config, st store.Store, agentClient agent.Client, routes Invalidator, logger *slog.Logger) *Service {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:    cfg,
		store:  st,
		agent:  agentClient,
		routes: routes,
		logger: logger,
		now:    time.Now,
		userMu: newKeyedMutex[int64](),
		nodeMu: newKeyedMutex[int64](),
	}
}

// Get returns the user's container, or a not-found error.
func (s *Service) Get(ctx context.Context, userID int64) (*models.Container, error) {
	container, err := s.store.Containers().GetByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperrors.NotFound("no container")
		}
		return nil, apperrors.Internal("loading container").WithCause(err)
	}
	return container, nil
}

// EnsureContainer provisions the user's container if it does not already
// exist. The call is idempotent: a user who already owns a container gets it
// back unchanged, whatever its status.
func (s *Service) EnsureContainer(ctx context.Context, user *models.User) (*models.Container, error) {
	if err := gate.Require(user); err != nil {
		return nil, err
	}

	s.userMu.Lock(user.ID)
	defer s.userMu.Unlock(user.ID)

	if existing, err := s.store.Containers().GetByUser(ctx, user.ID); err == nil {
		return existing, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, apperrors.Internal("loading container").WithCause(err)
	}

	target, provisional, err := s.reserve(ctx, user)
	if err != nil {
		return nil, err
	}

	info, err := s.agent.CreateContainer(ctx, target, user.ID, user.Username)
	if err != nil {
		s.release(provisional.ID)
		return nil, err
	}

	final, err := s.finalize(ctx, user, target, provisional, info)
	if err != nil {
		s.release(provisional.ID)
		return nil, err
	}

	s.logger.Info("container created",
		"user_id", user.ID,
		"username", user.Username,
		"container_id", final.ID,
		"node_id", target.ID)
	return final, nil
}

// reserve picks a node and inserts a provisional row so the capacity is held
// while the agent works. The row carries a placeholder ID until the agent
// reports the real one.
func (s *Service) reserve(ctx context.Context, user *models.User) (*models.Node, *models.Container, error) {
	nodes, err := s.store.Nodes().List(ctx)
	if err != nil {
		return nil, nil, apperrors.Internal("listing nodes").WithCause(err)
	}
	if len(nodes) == 0 {
		return nil, nil, apperrors.Capacity("no nodes registered")
	}

	provisional := &models.Container{
		ID:        "pending-" + uuid.New().String(),
		UserID:    user.ID,
		Status:    models.ContainerStatusCreating,
		MemoryMB:  s.cfg.DefaultMemoryMB,
		CPUCores:  s.cfg.DefaultCPUCores,
		StorageGB: s.cfg.DefaultStorageGB,
	}

	now := s.now()
	var target *models.Node

	// The capacity check and the provisional insert must see the same
	// reservations; serialize placement per node around the transaction.
	// Lock in ID order so concurrent placements cannot deadlock.
	ids := make([]int64, len(nodes))
	for i, node := range nodes {
		ids[i] = node.ID
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		s.nodeMu.Lock(id)
	}
	unlockAll := func() {
		for i := len(ids) - 1; i >= 0; i-- {
			s.nodeMu.Unlock(ids[i])
		}
	}

	err = s.store.WithTx(ctx, func(tx store.Store) error {
		usages := make([]*nodeUsage, 0, len(nodes))
		for _, node := range nodes {
			containers, err := tx.Containers().ListByNode(ctx, node.ID)
			if err != nil {
				return apperrors.Internal("listing node containers").WithCause(err)
			}
			usages = append(usages, sumUsage(node, containers))
		}

		best := pickNode(usages, now, s.cfg.FreshnessWindow,
			provisional.MemoryMB, provisional.CPUCores, provisional.StorageGB)
		if best == nil {
			return apperrors.Capacity("no node has capacity for a new container")
		}

		target = best.node
		provisional.NodeID = target.ID
		if err := tx.Containers().Create(ctx, provisional); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return apperrors.Conflict("container already exists")
			}
			return apperrors.Internal("reserving container").WithCause(err)
		}
		return nil
	})
	unlockAll()
	if err != nil {
		return nil, nil, err
	}

	return target, provisional, nil
}

// finalize swaps the provisional row for the agent-reported container and
// points the user at it, in one transaction.
func (s *Service) finalize(ctx context.Context, user *models.User, node *models.Node, provisional *models.Container, info *agent.ContainerInfo) (*models.Container, error) {
	final := &models.Container{
		ID:        info.ID,
		UserID:    user.ID,
		NodeID:    node.ID,
		Name:      info.Name,
		Status:    models.ContainerStatusRunning,
		SSHPort:   info.SSHPort,
		MemoryMB:  provisional.MemoryMB,
		CPUCores:  provisional.CPUCores,
		StorageGB: provisional.StorageGB,
	}
	if info.IP != "" {
		final.IPAddress = &info.IP
	}

	err := s.store.WithTx(ctx, func(tx store.Store) error {
		if err := tx.Containers().Delete(ctx, provisional.ID); err != nil {
			return apperrors.Internal("clearing reservation").WithCause(err)
		}
		if err := tx.Containers().Create(ctx, final); err != nil {
			return apperrors.Internal("recording container").WithCause(err)
		}
		if err := tx.Users().SetContainer(ctx, user.ID, &final.ID); err != nil {
			return apperrors.Internal("linking container to user").WithCause(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	user.ContainerID = &final.ID
	return final, nil
}

// release drops a provisional reservation after a failed create. Best effort;
// an orphaned creating row older than the agent timeout is garbage.
func (s *Service) release(provisionalID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.Containers().Delete(ctx, provisionalID); err != nil && !errors.Is(err, store.ErrNotFound) {
		s.logger.Error("failed to release container reservation",
			"container_id", provisionalID, "error", err)
	}
}

// AllocatePort asks the user's node for a fresh host port and records it.
func (s *Service) AllocatePort(ctx context.Context, user *models.User) (int, error) {
	if err := gate.Require(user); err != nil {
		return 0, err
	}

	s.userMu.Lock(user.ID)
	defer s.userMu.Unlock(user.ID)

	container, err := s.Get(ctx, user.ID)
	if err != nil {
		return 0, err
	}
	if container.Status != models.ContainerStatusRunning {
		return 0, apperrors.Conflict("container is %s", container.Status)
	}
	if len(container.AllocatedPorts) >= s.cfg.MaxPortsPerUser {
		return 0, apperrors.Capacity("port limit reached (%d)", s.cfg.MaxPortsPerUser)
	}

	node, err := s.store.Nodes().Get(ctx, container.NodeID)
	if err != nil {
		return 0, apperrors.Internal("loading node").WithCause(err)
	}

	port, err := s.agent.AllocatePort(ctx, node, container.ID)
	if err != nil {
		return 0, err
	}

	if err := s.store.Containers().AddPort(ctx, container.ID, port); err != nil {
		return 0, apperrors.Internal("recording port").WithCause(err)
	}

	s.logger.Info("port allocated", "user_id", user.ID, "container_id", container.ID, "port", port)
	return port, nil
}

// RemovePort releases a host port and cascades away any subdomains that
// targeted it. Routes pointing at a dead port must not outlive it.
func (s *Service) RemovePort(ctx context.Context, user *models.User, port int) error {
	s.userMu.Lock(user.ID)
	defer s.userMu.Unlock(user.ID)

	container, err := s.Get(ctx, user.ID)
	if err != nil {
		return err
	}
	if !container.HasPort(port) {
		return apperrors.NotFound("port %d is not allocated", port)
	}

	err = s.store.WithTx(ctx, func(tx store.Store) error {
		if err := tx.Containers().RemovePort(ctx, container.ID, port); err != nil {
			return apperrors.Internal("removing port").WithCause(err)
		}
		if err := tx.Subdomains().DeleteByPort(ctx, user.ID, port); err != nil {
			return apperrors.Internal("removing port subdomains").WithCause(err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.invalidateRoutes()
	s.logger.Info("port removed", "user_id", user.ID, "container_id", container.ID, "port", port)
	return nil
}

// DeleteContainer tears down a user's container and everything hanging off
// it. The row is marked pending-delete before the agent call so a crash
// leaves a visible marker instead of a phantom running container.
func (s *Service) DeleteContainer(ctx context.Context, userID int64) error {
	s.userMu.Lock(userID)
	defer s.userMu.Unlock(userID)

	container, err := s.Get(ctx, userID)
	if err != nil {
		return err
	}

	if err := s.store.Containers().UpdateStatus(ctx, container.ID, models.ContainerStatusPendingDelete); err != nil {
		return apperrors.Internal("marking container for deletion").WithCause(err)
	}

	node, err := s.store.Nodes().Get(ctx, container.NodeID)
	if err != nil {
		return apperrors.Internal("loading node").WithCause(err)
	}

	if err := s.agent.DeleteContainer(ctx, node, container.ID); err != nil {
		// The pending-delete marker stays; a retry will pick it up.
		return err
	}

	err = s.store.WithTx(ctx, func(tx store.Store) error {
		if err := tx.Subdomains().DeleteByUser(ctx, userID); err != nil {
			return apperrors.Internal("removing subdomains").WithCause(err)
		}
		if err := tx.Users().SetContainer(ctx, userID, nil); err != nil {
			return apperrors.Internal("unlinking container").WithCause(err)
		}
		if err := tx.Containers().Delete(ctx, container.ID); err != nil {
			return apperrors.Internal("deleting container").WithCause(err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.invalidateRoutes()
	s.logger.Info("container deleted", "user_id", userID, "container_id", container.ID)
	return nil
}

func (s *Service) invalidateRoutes() {
	if s.routes != nil {
		s.routes.InvalidateAll()
	}
}
