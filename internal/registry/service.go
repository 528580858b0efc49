// Package registry manages the node fleet: registration, token rotation,
// heartbeats, and derived liveness.
package registry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/denhq/control-plane/internal/apperrors"
	"github.com/denhq/control-plane/internal/auth"
	"github.com/denhq/control-plane/internal/models"
	"github.com/denhq/control-plane/internal/store"
)

// Config holds registry configuration.
type Config struct {
	// FreshnessWindow bounds how stale a heartbeat may be before a node is
	// reported offline.
	FreshnessWindow time.Duration
	// Default capacity applied when registration omits a dimension.
	DefaultMemoryMB  int
	DefaultCPUCores  int
	DefaultStorageGB int
}

// DefaultConfig returns registry defaults.
func DefaultConfig() *Config {
	return &Config{
		FreshnessWindow:  30 * time.Second,
		DefaultMemoryMB:  4096,
		DefaultCPUCores:  4,
		DefaultStorageGB: 15,
	}
}

// Service manages node records and authentication.
type Service struct {
	cfg    *Config
	store  store.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a new registry service.
func NewService(cfg *Config, st store.Store, logger *slog.Logger) *Service {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:    cfg,
		store:  st,
		logger: logger,
		now:    time.Now,
	}
}

// RegisterInput describes a node to register.
type RegisterInput struct {
	Name           string  `json:"name"`
	Hostname       string  `json:"hostname"`
	PublicHostname *string `json:"public_hostname"`
	MaxMemoryMB    int     `json:"max_memory_mb"`
	MaxCPUCores    int     `json:"max_cpu_cores"`
	MaxStorageGB   int     `json:"max_storage_gb"`
}

// Register creates a node record and mints its bearer token. The raw token is
// returned exactly once; only the node row holds it afterward.
func (s *Service) Register(ctx context.Context, input RegisterInput) (*models.Node, error) {
	if input.Name == "" {
		return nil, apperrors.Validation("node name is required")
	}
	if input.Hostname == "" {
		return nil, apperrors.Validation("node hostname is required")
	}

	if input.MaxMemoryMB == 0 {
		input.MaxMemoryMB = s.cfg.DefaultMemoryMB
	}
	if input.MaxCPUCores == 0 {
		input.MaxCPUCores = s.cfg.DefaultCPUCores
	}
	if input.MaxStorageGB == 0 {
		input.MaxStorageGB = s.cfg.DefaultStorageGB
	}
	if input.MaxMemoryMB < 0 || input.MaxCPUCores < 0 || input.MaxStorageGB < 0 {
		return nil, apperrors.Validation("node capacity must be positive")
	}

	token, err := auth.NewNodeToken()
	if err != nil {
		return nil, apperrors.Internal("generating node token").WithCause(err)
	}

	node := &models.Node{
		Name:           input.Name,
		Hostname:       input.Hostname,
		PublicHostname: input.PublicHostname,
		Token:          token,
		MaxMemoryMB:    input.MaxMemoryMB,
		MaxCPUCores:    input.MaxCPUCores,
		MaxStorageGB:   input.MaxStorageGB,
	}

	if err := s.store.Nodes().Create(ctx, node); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, apperrors.Conflict("node hostname %q is already registered", input.Hostname)
		}
		return nil, apperrors.Internal("creating node").WithCause(err)
	}

	s.logger.Info("node registered", "node_id", node.ID, "hostname", node.Hostname)
	return node, nil
}

// RotateToken replaces a node's token. The old value stops authenticating the
// instant the update commits.
func (s *Service) RotateToken(ctx context.Context, nodeID int64) (string, error) {
	token, err := auth.NewNodeToken()
	if err != nil {
		return "", apperrors.Internal("generating node token").WithCause(err)
	}

	if err := s.store.Nodes().UpdateToken(ctx, nodeID, token); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", apperrors.NotFound("node %d not found", nodeID)
		}
		return "", apperrors.Internal("rotating node token").WithCause(err)
	}

	s.logger.Info("node token rotated", "node_id", nodeID)
	return token, nil
}

// Delete removes a node. A node still hosting containers cannot be removed;
// its workloads have to be drained first.
func (s *Service) Delete(ctx context.Context, nodeID int64) error {
	return s.store.WithTx(ctx, func(tx store.Store) error {
		if _, err := tx.Nodes().Get(ctx, nodeID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return apperrors.NotFound("node %d not found", nodeID)
			}
			return apperrors.Internal("loading node").WithCause(err)
		}

		containers, err := tx.Containers().ListByNode(ctx, nodeID)
		if err != nil {
			return apperrors.Internal("listing node containers").WithCause(err)
		}
		if len(containers) > 0 {
			return apperrors.Conflict("node %d still hosts %d containers", nodeID, len(containers))
		}

		if err := tx.Nodes().Delete(ctx, nodeID); err != nil {
			return apperrors.Internal("deleting node").WithCause(err)
		}

		s.logger.Info("node deleted", "node_id", nodeID)
		return nil
	})
}

// Get retrieves a node with derived liveness.
func (s *Service) Get(ctx context.Context, nodeID int64) (*models.Node, error) {
	node, err := s.store.Nodes().Get(ctx, nodeID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperrors.NotFound("node %d not found", nodeID)
		}
		return nil, apperrors.Internal("loading node").WithCause(err)
	}
	node.IsOnline = node.OnlineAt(s.now(), s.cfg.FreshnessWindow)
	return node, nil
}

// List retrieves all nodes with derived liveness. Tokens are blanked; they
// never leave the registry after minting.
func (s *Service) List(ctx context.Context) ([]*models.Node, error) {
	nodes, err := s.store.Nodes().List(ctx)
	if err != nil {
		return nil, apperrors.Internal("listing nodes").WithCause(err)
	}

	now := s.now()
	for _, node := range nodes {
		node.IsOnline = node.OnlineAt(now, s.cfg.FreshnessWindow)
		node.Token = ""
	}
	return nodes, nil
}

// Heartbeat authenticates a node token and records the heartbeat instant.
func (s *Service) Heartbeat(ctx context.Context, token string) (*models.Node, error) {
	node, err := s.AuthenticateToken(ctx, token)
	if err != nil {
		return nil, err
	}

	if err := s.store.Nodes().Touch(ctx, node.ID, s.now()); err != nil {
		return nil, apperrors.Internal("recording heartbeat").WithCause(err)
	}

	node.IsOnline = true
	return node, nil
}

// AuthenticateToken resolves a node by its bearer token. Comparison is
// constant-time per candidate so response timing does not narrow the token
// search space.
func (s *Service) AuthenticateToken(ctx context.Context, token string) (*models.Node, error) {
	if token == "" {
		return nil, apperrors.Auth("missing node token")
	}

	nodes, err := s.store.Nodes().List(ctx)
	if err != nil {
		return nil, apperrors.Internal("listing nodes").WithCause(err)
	}

	var matched *models.Node
	for _, node := range nodes {
		if auth.SecureCompare(node.Token, token) && matched == nil {
			matched = node
		}
	}
	if matched == nil {
		return nil, apperrors.Auth("invalid node token")
	}
	return matched, nil
}

// FreshnessWindow exposes the configured liveness window.
func (s *Service) FreshnessWindow() time.Duration {
	return s.cfg.FreshnessWindow
}

// WithClock overrides the time source. Tests only.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}
