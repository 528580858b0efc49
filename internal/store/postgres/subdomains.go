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

// SubdomainStore implements store.SubdomainStore using PostgreSQL.
type SubdomainStore struct {
	db     *sql.DB
	tx     *sql.Tx
	logger *slog.Logger
}

func (s *SubdomainStore) conn() queryable {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

const subdomainColumns = `id, user_id, subdomain, target_port, subdomain_type,
	is_active, created_at, updated_at`

// Create inserts a new subdomain. The unique index on the name column is the
// arbiter for concurrent claims of the same label.
func (s *SubdomainStore) Create(ctx context.Context, sub *models.Subdomain) error {
	query := `
		INSERT INTO subdomains (user_id, subdomain, target_port, subdomain_type, is_active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`

	err := s.conn().QueryRowContext(ctx, query,
		sub.UserID,
		sub.Subdomain,
		sub.TargetPort,
		sub.SubdomainType,
		sub.IsActive,
	).Scan(&sub.ID, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicate
		}
		return fmt.Errorf("creating subdomain: %w", err)
	}

	return nil
}

// Get retrieves a subdomain by ID.
func (s *SubdomainStore) Get(ctx context.Context, id int64) (*models.Subdomain, error) {
	query := `SELECT ` + subdomainColumns + ` FROM subdomains WHERE id = $1`
	return s.get(ctx, query, id)
}

// GetByName retrieves a subdomain by its unique name.
func (s *SubdomainStore) GetByName(ctx context.Context, name string) (*models.Subdomain, error) {
	query := `SELECT ` + subdomainColumns + ` FROM subdomains WHERE subdomain = $1`
	return s.get(ctx, query, name)
}

func (s *SubdomainStore) get(ctx context.Context, query string, arg any) (*models.Subdomain, error) {
	sub, err := scanSubdomain(s.conn().QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("querying subdomain: %w", err)
	}
	return sub, nil
}

// ListByUser retrieves all subdomains owned by a user, newest first.
func (s *SubdomainStore) ListByUser(ctx context.Context, userID int64) ([]*models.Subdomain, error) {
	query := `SELECT ` + subdomainColumns + ` FROM subdomains
		WHERE user_id = $1 ORDER BY created_at DESC`

	rows, err := s.conn().QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("querying subdomains: %w", err)
	}
	defer rows.Close()

	var subs []*models.Subdomain
	for rows.Next() {
		sub, err := scanSubdomain(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning subdomain row: %w", err)
		}
		subs = append(subs, sub)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating subdomain rows: %w", err)
	}

	return subs, nil
}

// Delete removes a subdomain by ID.
func (s *SubdomainStore) Delete(ctx context.Context, id int64) error {
	result, err := s.conn().ExecContext(ctx, `DELETE FROM subdomains WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting subdomain: %w", err)
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

// DeleteByUser removes all subdomains owned by a user. Deleting zero rows is
// not an error.
func (s *SubdomainStore) DeleteByUser(ctx context.Context, userID int64) error {
	_, err := s.conn().ExecContext(ctx, `DELETE FROM subdomains WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("deleting user subdomains: %w", err)
	}
	return nil
}

// DeleteByPort removes a user's subdomains targeting the given port.
func (s *SubdomainStore) DeleteByPort(ctx context.Context, userID int64, port int) error {
	_, err := s.conn().ExecContext(ctx, `
		DELETE FROM subdomains WHERE user_id = $1 AND target_port = $2`, userID, port)
	if err != nil {
		return fmt.Errorf("deleting subdomains by port: %w", err)
	}
	return nil
}

func scanSubdomain(row rowScanner) (*models.Subdomain, error) {
	sub := &models.Subdomain{}
	err := row.Scan(
		&sub.ID,
		&sub.UserID,
		&sub.Subdomain,
		&sub.TargetPort,
		&sub.SubdomainType,
		&sub.IsActive,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return sub, nil
}
