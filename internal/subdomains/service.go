// Package subdomains manages public subdomain claims and the name-to-route
// index consumed by the reverse proxy.
package subdomains

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/denhq/control-plane/internal/apperrors"
	"github.com/denhq/control-plane/internal/gate"
	"github.com/denhq/control-plane/internal/models"
	"github.com/denhq/control-plane/internal/store"
)

// Service manages subdomain records. Name uniqueness is arbitrated by the
// store's unique constraint, not a check-then-insert; concurrent claims of
// the same name resolve to exactly one winner.
type Service struct {
	store    store.Store
	resolver *Resolver
	domain   string
	logger   *slog.Logger
}

// NewService creates a new subdomain service. domain is the platform apex
// domain that claimed names are published under.
func NewService(st store.Store, resolver *Resolver, domain string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    st,
		resolver: resolver,
		domain:   domain,
		logger:   logger,
	}
}

// CreateInput describes a subdomain claim.
type CreateInput struct {
	Subdomain     string `json:"subdomain"`
	TargetPort    int    `json:"target_port"`
	SubdomainType string `json:"subdomain_type,omitempty"`
}

// CreateResult is the outcome of a successful claim.
type CreateResult struct {
	Subdomain *models.Subdomain
	// FullName is the complete public hostname.
	FullName string
}

// Create validates and records a subdomain claim for the user.
func (s *Service) Create(ctx context.Context, user *models.User, input CreateInput) (*CreateResult, error) {
	if err := gate.Require(user); err != nil {
		return nil, err
	}

	if input.SubdomainType == "" {
		input.SubdomainType = models.SubdomainTypeProject
	}
	if input.SubdomainType != models.SubdomainTypeUsername && input.SubdomainType != models.SubdomainTypeProject {
		return nil, apperrors.Validation("subdomain_type must be 'username' or 'project'")
	}
	if input.SubdomainType == models.SubdomainTypeUsername && input.Subdomain != user.Username {
		return nil, apperrors.Validation("username subdomain must match your username")
	}

	if err := validateLabel(input.Subdomain); err != nil {
		return nil, err
	}
	if input.SubdomainType == models.SubdomainTypeProject && isReserved(input.Subdomain) {
		return nil, apperrors.Validation("subdomain %q is reserved", strings.ToLower(input.Subdomain))
	}

	// A user without a container owns no ports, so the claim fails the same
	// way as any other unowned port.
	container, err := s.store.Containers().GetByUser(ctx, user.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, apperrors.Internal("loading container").WithCause(err)
	}
	if container == nil || !container.HasPort(input.TargetPort) {
		return nil, apperrors.NotFound("port %d is not allocated to your container", input.TargetPort)
	}

	sub := &models.Subdomain{
		UserID:        user.ID,
		Subdomain:     input.Subdomain,
		TargetPort:    input.TargetPort,
		SubdomainType: input.SubdomainType,
		IsActive:      true,
	}
	if err := s.store.Subdomains().Create(ctx, sub); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, apperrors.Conflict("subdomain already taken")
		}
		return nil, apperrors.Internal("creating subdomain").WithCause(err)
	}

	s.invalidate(sub.Subdomain)
	s.logger.Info("subdomain created",
		"user_id", user.ID,
		"subdomain", sub.Subdomain,
		"type", sub.SubdomainType,
		"target_port", sub.TargetPort)

	return &CreateResult{
		Subdomain: sub,
		FullName:  sub.FullName(user.Username, s.domain),
	}, nil
}

// List returns the user's subdomains.
func (s *Service) List(ctx context.Context, userID int64) ([]*models.Subdomain, error) {
	subs, err := s.store.Subdomains().ListByUser(ctx, userID)
	if err != nil {
		return nil, apperrors.Internal("listing subdomains").WithCause(err)
	}
	return subs, nil
}

// Delete removes a subdomain. Only the owner may delete it; anyone else gets
// the same not-found as a nonexistent record, so ownership is not probeable.
func (s *Service) Delete(ctx context.Context, user *models.User, id int64) error {
	if err := gate.Require(user); err != nil {
		return err
	}

	sub, err := s.store.Subdomains().Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperrors.NotFound("subdomain not found")
		}
		return apperrors.Internal("loading subdomain").WithCause(err)
	}
	if sub.UserID != user.ID {
		return apperrors.NotFound("subdomain not found")
	}

	if err := s.store.Subdomains().Delete(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperrors.NotFound("subdomain not found")
		}
		return apperrors.Internal("deleting subdomain").WithCause(err)
	}

	s.invalidate(sub.Subdomain)
	s.logger.Info("subdomain deleted", "user_id", user.ID, "subdomain", sub.Subdomain)
	return nil
}

func (s *Service) invalidate(name string) {
	if s.resolver != nil {
		s.resolver.Invalidate(name)
	}
}
