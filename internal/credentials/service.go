// Package credentials provisions SSH access to a user's container. A user
// holds exactly one credential at a time: setting a password clears any
// stored public key and vice versa.
package credentials

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/ssh"

	"github.com/denhq/control-plane/internal/agent"
	"github.com/denhq/control-plane/internal/apperrors"
	"github.com/denhq/control-plane/internal/gate"
	"github.com/denhq/control-plane/internal/models"
	"github.com/denhq/control-plane/internal/store"
)

const minPasswordLength = 8

// Service applies SSH credentials to containers and records them.
type Service struct {
	store  store.Store
	agent  agent.Client
	logger *slog.Logger
}

// NewService creates a new credentials service.
func NewService(st store.Store, agentClient agent.Client, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  st,
		agent:  agentClient,
		logger: logger,
	}
}

// SetInput carries the new credential. Exactly one of Password or PublicKey
// must be set.
type SetInput struct {
	Password  string `json:"password,omitempty"`
	PublicKey string `json:"public_key,omitempty"`
}

// Set validates the credential, pushes it to the container's node, and
// persists it. The plaintext password never touches the database; only a
// bcrypt digest is stored.
func (s *Service) Set(ctx context.Context, user *models.User, input SetInput) error {
	if err := gate.Require(user); err != nil {
		return err
	}

	input.Password = strings.TrimSpace(input.Password)
	input.PublicKey = strings.TrimSpace(input.PublicKey)

	switch {
	case input.Password == "" && input.PublicKey == "":
		return apperrors.Validation("either a password or a public key is required")
	case input.Password != "" && input.PublicKey != "":
		return apperrors.Validation("provide a password or a public key, not both")
	case input.Password != "" && len(input.Password) < minPasswordLength:
		return apperrors.Validation("password must be at least %d characters", minPasswordLength)
	}

	if input.PublicKey != "" {
		if _, _, _, _, err := ssh.ParseAuthorizedKey([]byte(input.PublicKey)); err != nil {
			return apperrors.Validation("public key is not a valid authorized_keys entry")
		}
	}

	container, err := s.store.Containers().GetByUser(ctx, user.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperrors.NotFound("no container to apply credentials to")
		}
		return apperrors.Internal("loading container").WithCause(err)
	}
	if container.Status != models.ContainerStatusRunning {
		return apperrors.Conflict("container is %s", container.Status)
	}

	node, err := s.store.Nodes().Get(ctx, container.NodeID)
	if err != nil {
		return apperrors.Internal("loading node").WithCause(err)
	}

	if err := s.agent.ApplyCredential(ctx, node, agent.Credential{
		ContainerID: container.ID,
		Username:    user.Username,
		PublicKey:   input.PublicKey,
		Password:    input.Password,
	}); err != nil {
		return err
	}

	if input.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
		if err != nil {
			return apperrors.Internal("hashing password").WithCause(err)
		}
		if err := s.store.Users().SetSSHPassword(ctx, user.ID, string(hash)); err != nil {
			return apperrors.Internal("storing credential").WithCause(err)
		}
		h := string(hash)
		user.SSHPasswordHash = &h
		user.SSHPublicKey = nil
		s.logger.Info("ssh password set", "user_id", user.ID, "container_id", container.ID)
		return nil
	}

	if err := s.store.Users().SetSSHPublicKey(ctx, user.ID, input.PublicKey); err != nil {
		return apperrors.Internal("storing credential").WithCause(err)
	}
	key := input.PublicKey
	user.SSHPublicKey = &key
	user.SSHPasswordHash = nil
	s.logger.Info("ssh public key set", "user_id", user.ID, "container_id", container.ID)
	return nil
}
