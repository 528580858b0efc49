// Package exporter packages a user's container filesystem into a
// time-limited downloadable artifact.
package exporter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/denhq/control-plane/internal/agent"
	"github.com/denhq/control-plane/internal/apperrors"
	"github.com/denhq/control-plane/internal/models"
	"github.com/denhq/control-plane/internal/store"
)

const (
	minTTLDays     = 1
	maxTTLDays     = 365
	defaultTTLDays = 7

	// runTimeout bounds the whole background export, including the agent's
	// tar-and-upload on the node.
	runTimeout = 30 * time.Minute

	// maxPresignExpiry is the S3 signature-v4 ceiling on pre-signed URLs.
	// Records may carry a longer expires_at; the signed URL itself cannot.
	maxPresignExpiry = 7 * 24 * time.Hour
)

// Config holds exporter tunables.
type Config struct {
	// UploadURLExpiry is how long the agent's pre-signed PUT stays valid.
	UploadURLExpiry time.Duration
}

// DefaultConfig returns the exporter defaults.
func DefaultConfig() Config {
	return Config{UploadURLExpiry: 2 * time.Hour}
}

// Service runs export jobs. Start returns as soon as the job is recorded;
// the agent call and URL signing happen in the background.
type Service struct {
	cfg     Config
	store   store.Store
	agent   agent.Client
	objects ObjectStore
	logger  *slog.Logger
	now     func() time.Time
}

// NewService creates a new exporter service.
func NewService(cfg Config, st store.Store, agentClient agent.Client, objects ObjectStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.UploadURLExpiry <= 0 {
		cfg.UploadURLExpiry = DefaultConfig().UploadURLExpiry
	}
	return &Service{
		cfg:     cfg,
		store:   st,
		agent:   agentClient,
		objects: objects,
		logger:  logger,
		now:     time.Now,
	}
}

// Start records an export job for the target user's container and kicks off
// the background run. ttlDays bounds how long the finished artifact stays
// downloadable; zero means the default policy.
func (s *Service) Start(ctx context.Context, targetUserID int64, ttlDays int, requestedBy int64) (*models.Export, error) {
	if ttlDays == 0 {
		ttlDays = defaultTTLDays
	}
	if ttlDays < minTTLDays || ttlDays > maxTTLDays {
		return nil, apperrors.Validation("ttl_days must be between %d and %d", minTTLDays, maxTTLDays)
	}

	container, err := s.store.Containers().GetByUser(ctx, targetUserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperrors.NotFound("user has no container to export")
		}
		return nil, apperrors.Internal("loading container").WithCause(err)
	}
	if container.Status != models.ContainerStatusRunning {
		return nil, apperrors.Conflict("container is %s", container.Status)
	}

	node, err := s.store.Nodes().Get(ctx, container.NodeID)
	if err != nil {
		return nil, apperrors.Internal("loading node").WithCause(err)
	}

	now := s.now()
	export := &models.Export{
		UserID:      targetUserID,
		ContainerID: container.ID,
		ObjectKey:   fmt.Sprintf("exports/%s/%d/%d.tar.zst", container.ID, targetUserID, now.Unix()),
		Status:      models.ExportStatusPending,
		ExpiresAt:   now.Add(time.Duration(ttlDays) * 24 * time.Hour),
		RequestedBy: &requestedBy,
	}
	if err := s.store.Exports().Create(ctx, export); err != nil {
		return nil, apperrors.Internal("recording export").WithCause(err)
	}

	s.logger.Info("export started",
		"export_id", export.ID,
		"user_id", targetUserID,
		"container_id", container.ID,
		"ttl_days", ttlDays,
		"requested_by", requestedBy)

	// Detached from the request context: the caller gets an immediate ack
	// and polls the record.
	go s.run(export, node, time.Duration(ttlDays)*24*time.Hour)

	return export, nil
}

// Get returns an export record.
func (s *Service) Get(ctx context.Context, id int64) (*models.Export, error) {
	export, err := s.store.Exports().Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperrors.NotFound("export not found")
		}
		return nil, apperrors.Internal("loading export").WithCause(err)
	}
	return export, nil
}

func (s *Service) run(export *models.Export, node *models.Node, ttl time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	putURL, err := s.objects.PresignedPut(ctx, export.ObjectKey, s.cfg.UploadURLExpiry)
	if err != nil {
		s.fail(ctx, export.ID, err)
		return
	}

	if err := s.setStatus(ctx, export.ID, models.ExportStatusUploading); err != nil {
		s.fail(ctx, export.ID, err)
		return
	}

	if err := s.agent.ExportFilesystem(ctx, node, export.ContainerID, putURL); err != nil {
		s.fail(ctx, export.ID, err)
		return
	}

	if ttl > maxPresignExpiry {
		ttl = maxPresignExpiry
	}
	getURL, err := s.objects.PresignedGet(ctx, export.ObjectKey, ttl)
	if err != nil {
		s.fail(ctx, export.ID, err)
		return
	}

	if err := s.store.Exports().SetComplete(ctx, export.ID, getURL); err != nil {
		s.logger.Error("marking export complete", "export_id", export.ID, "error", err)
		return
	}
	s.logger.Info("export complete", "export_id", export.ID, "object_key", export.ObjectKey)
}

func (s *Service) setStatus(ctx context.Context, id int64, status string) error {
	return s.store.Exports().SetStatus(ctx, id, status, nil)
}

func (s *Service) fail(ctx context.Context, id int64, cause error) {
	s.logger.Error("export failed", "export_id", id, "error", cause)
	msg := cause.Error()
	if err := s.store.Exports().SetStatus(ctx, id, models.ExportStatusFailed, &msg); err != nil {
		s.logger.Error("marking export failed", "export_id", id, "error", err)
	}
}
