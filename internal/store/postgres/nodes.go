package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/denhq/control-plane/internal/models"
	"github.com/denhq/control-plane/internal/store"
)

// NodeStore implements store.NodeStore using PostgreSQL.
type NodeStore struct {
	db     *sql.DB
	tx     *sql.Tx
	logger *slog.Logger
}

func (s *NodeStore) conn() queryable {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

const nodeColumns = `id, name, hostname, public_hostname, token,
	max_memory_mb, max_cpu_cores, max_storage_gb, last_seen, created_at, updated_at`

// Create registers a new node.
func (s *NodeStore) Create(ctx context.Context, node *models.Node) error {
	query := `
		INSERT INTO nodes (name, hostname, public_hostname, token,
			max_memory_mb, max_cpu_cores, max_storage_gb)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`

	err := s.conn().QueryRowContext(ctx, query,
		node.Name,
		node.Hostname,
		node.PublicHostname,
		node.Token,
		node.MaxMemoryMB,
		node.MaxCPUCores,
		node.MaxStorageGB,
	).Scan(&node.ID, &node.CreatedAt, &node.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicate
		}
		return fmt.Errorf("creating node: %w", err)
	}

	return nil
}

// Get retrieves a node by ID.
func (s *NodeStore) Get(ctx context.Context, id int64) (*models.Node, error) {
	query := `SELECT ` + nodeColumns + ` FROM nodes WHERE id = $1`

	node, err := scanNode(s.conn().QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("querying node: %w", err)
	}

	return node, nil
}

// List retrieves all nodes, newest first.
func (s *NodeStore) List(ctx context.Context) ([]*models.Node, error) {
	query := `SELECT ` + nodeColumns + ` FROM nodes ORDER BY created_at DESC`

	rows, err := s.conn().QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying nodes: %w", err)
	}
	defer rows.Close()

	var nodes []*models.Node
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning node row: %w", err)
		}
		nodes = append(nodes, node)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating node rows: %w", err)
	}

	return nodes, nil
}

// UpdateToken replaces the node's auth token. The previous token is gone the
// moment this statement commits; there is no window where both are valid.
func (s *NodeStore) UpdateToken(ctx context.Context, id int64, token string) error {
	return s.exec(ctx, `
		UPDATE nodes SET token = $2, updated_at = NOW()
		WHERE id = $1`, id, token)
}

// Touch records a heartbeat at the given instant.
func (s *NodeStore) Touch(ctx context.Context, id int64, at time.Time) error {
	return s.exec(ctx, `
		UPDATE nodes SET last_seen = $2, updated_at = NOW()
		WHERE id = $1`, id, at.UTC())
}

// Delete removes a node and its token.
func (s *NodeStore) Delete(ctx context.Context, id int64) error {
	return s.exec(ctx, `DELETE FROM nodes WHERE id = $1`, id)
}

func (s *NodeStore) exec(ctx context.Context, query string, args ...any) error {
	result, err := s.conn().ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating node: %w", err)
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

func scanNode(row rowScanner) (*models.Node, error) {
	node := &models.Node{}
	err := row.Scan(
		&node.ID,
		&node.Name,
		&node.Hostname,
		&node.PublicHostname,
		&node.Token,
		&node.MaxMemoryMB,
		&node.MaxCPUCores,
		&node.MaxStorageGB,
		&node.LastSeen,
		&node.CreatedAt,
		&node.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return node, nil
}
