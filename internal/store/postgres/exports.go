package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/denhq/control-plane/internal/models"
	"github.com/denhq/control-plane/internal/store"
)

// ExportStore implements store.ExportStore using PostgreSQL.
type ExportStore struct {
	db     *sql.DB
	tx     *sql.Tx
	logger *slog.Logger
}

func (s *ExportStore) conn() queryable {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

const exportColumns = `id, user_id, container_id, object_key, status, size_bytes,
	download_url, expires_at, requested_by, error, created_at, updated_at`

// Create inserts an export record.
func (s *ExportStore) Create(ctx context.Context, export *models.Export) error {
	query := `
		INSERT INTO exports (user_id, container_id, object_key, status, expires_at, requested_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`

	err := s.conn().QueryRowContext(ctx, query,
		export.UserID,
		export.ContainerID,
		export.ObjectKey,
		export.Status,
		export.ExpiresAt,
		export.RequestedBy,
	).Scan(&export.ID, &export.CreatedAt, &export.UpdatedAt)
	if err != nil {
		return fmt.Errorf("creating export: %w", err)
	}

	return nil
}

// Get retrieves an export by ID.
func (s *ExportStore) Get(ctx context.Context, id int64) (*models.Export, error) {
	query := `SELECT ` + exportColumns + ` FROM exports WHERE id = $1`

	export := &models.Export{}
	err := s.conn().QueryRowContext(ctx, query, id).Scan(
		&export.ID,
		&export.UserID,
		&export.ContainerID,
		&export.ObjectKey,
		&export.Status,
		&export.SizeBytes,
		&export.DownloadURL,
		&export.ExpiresAt,
		&export.RequestedBy,
		&export.Error,
		&export.CreatedAt,
		&export.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("querying export: %w", err)
	}

	return export, nil
}

// SetStatus updates an export's status and optional error message.
func (s *ExportStore) SetStatus(ctx context.Context, id int64, status string, errMsg *string) error {
	return s.exec(ctx, `
		UPDATE exports SET status = $2, error = $3, updated_at = NOW()
		WHERE id = $1`, id, status, errMsg)
}

// SetComplete marks an export complete with its download URL.
func (s *ExportStore) SetComplete(ctx context.Context, id int64, downloadURL string) error {
	return s.exec(ctx, `
		UPDATE exports
		SET status = $2, download_url = $3, error = NULL, updated_at = NOW()
		WHERE id = $1`, id, models.ExportStatusComplete, downloadURL)
}

func (s *ExportStore) exec(ctx context.Context, query string, args ...any) error {
	result, err := s.conn().ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating export: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return store.ErrNotFound
	}

	return nil
}
