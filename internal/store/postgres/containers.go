package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lib/pq"

	"github.com/denhq/control-plane/internal/models"
	"github.com/denhq/control-plane/internal/store"
)

// ContainerStore implements store.ContainerStore using PostgreSQL.
type ContainerStore struct {
	db     *sql.DB
	tx     *sql.Tx
	logger *slog.Logger
}

func (s *ContainerStore) conn() queryable {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

const containerColumns = `id, user_id, node_id, name, status, ip_address,
	ssh_port, memory_mb, cpu_cores, storage_gb, allocated_ports, created_at, updated_at`

// Create inserts a new container record.
func (s *ContainerStore) Create(ctx context.Context, container *models.Container) error {
	query := `
		INSERT INTO containers (id, user_id, node_id, name, status, ip_address,
			ssh_port, memory_mb, cpu_cores, storage_gb, allocated_ports)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at`

	ports := container.AllocatedPorts
	if ports == nil {
		ports = []int{}
	}

	err := s.conn().QueryRowContext(ctx, query,
		container.ID,
		container.UserID,
		container.NodeID,
		container.Name,
		container.Status,
		container.IPAddress,
		container.SSHPort,
		container.MemoryMB,
		container.CPUCores,
		container.StorageGB,
		pq.Array(ports),
	).Scan(&container.CreatedAt, &container.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicate
		}
		return fmt.Errorf("creating container: %w", err)
	}

	return nil
}

// Get retrieves a container by ID.
func (s *ContainerStore) Get(ctx context.Context, id string) (*models.Container, error) {
	query := `SELECT ` + containerColumns + ` FROM containers WHERE id = $1`
	return s.get(ctx, query, id)
}

// GetByUser retrieves the container owned by a user.
func (s *ContainerStore) GetByUser(ctx context.Context, userID int64) (*models.Container, error) {
	query := `SELECT ` + containerColumns + ` FROM containers WHERE user_id = $1`
	return s.get(ctx, query, userID)
}

func (s *ContainerStore) get(ctx context.Context, query string, arg any) (*models.Container, error) {
	container, err := scanContainer(s.conn().QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("querying container: %w", err)
	}
	return container, nil
}

// ListByNode retrieves all containers scheduled on a node.
func (s *ContainerStore) ListByNode(ctx context.Context, nodeID int64) ([]*models.Container, error) {
	query := `SELECT ` + containerColumns + ` FROM containers
		WHERE node_id = $1 ORDER BY created_at DESC`

	rows, err := s.conn().QueryContext(ctx, query, nodeID)
	if err != nil {
		return nil, fmt.Errorf("querying containers: %w", err)
	}
	defer rows.Close()

	var containers []*models.Container
	for rows.Next() {
		container, err := scanContainer(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning container row: %w", err)
		}
		containers = append(containers, container)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating container rows: %w", err)
	}

	return containers, nil
}

// ListByStatus retrieves all containers in the given status, oldest first.
func (s *ContainerStore) ListByStatus(ctx context.Context, status string) ([]*models.Container, error) {
	query := `SELECT ` + containerColumns + ` FROM containers
		WHERE status = $1 ORDER BY created_at ASC`

	rows, err := s.conn().QueryContext(ctx, query, status)
	if err != nil {
		return nil, fmt.Errorf("querying containers: %w", err)
	}
	defer rows.Close()

	var containers []*models.Container
	for rows.Next() {
		container, err := scanContainer(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning container row: %w", err)
		}
		containers = append(containers, container)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating container rows: %w", err)
	}

	return containers, nil
}

// UpdateStatus sets the container status.
func (s *ContainerStore) UpdateStatus(ctx context.Context, id string, status string) error {
	return s.exec(ctx, `
		UPDATE containers SET status = $2, updated_at = NOW()
		WHERE id = $1`, id, status)
}

// Finalize records agent-provided runtime details and marks the container
// running.
func (s *ContainerStore) Finalize(ctx context.Context, id string, name, ip string, sshPort int) error {
	return s.exec(ctx, `
		UPDATE containers
		SET name = $2, ip_address = $3, ssh_port = $4, status = $5, updated_at = NOW()
		WHERE id = $1`, id, name, ip, sshPort, models.ContainerStatusRunning)
}

// AddPort appends a host port to the container's allocation.
func (s *ContainerStore) AddPort(ctx context.Context, id string, port int) error {
	return s.exec(ctx, `
		UPDATE containers
		SET allocated_ports = array_append(allocated_ports, $2), updated_at = NOW()
		WHERE id = $1`, id, port)
}

// RemovePort removes a host port from the container's allocation.
func (s *ContainerStore) RemovePort(ctx context.Context, id string, port int) error {
	return s.exec(ctx, `
		UPDATE containers
		SET allocated_ports = array_remove(allocated_ports, $2), updated_at = NOW()
		WHERE id = $1`, id, port)
}

// Delete removes the container record.
func (s *ContainerStore) Delete(ctx context.Context, id string) error {
	return s.exec(ctx, `DELETE FROM containers WHERE id = $1`, id)
}

func (s *ContainerStore) exec(ctx context.Context, query string, args ...any) error {
	result, err := s.conn().ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating container: %w", err)
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

func scanContainer(row rowScanner) (*models.Container, error) {
	container := &models.Container{}
	var ports pq.Int64Array

	err := row.Scan(
		&container.ID,
		&container.UserID,
		&container.NodeID,
		&container.Name,
		&container.Status,
		&container.IPAddress,
		&container.SSHPort,
		&container.MemoryMB,
		&container.CPUCores,
		&container.StorageGB,
		&ports,
		&container.CreatedAt,
		&container.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	container.AllocatedPorts = make([]int, len(ports))
	for i, p := range ports {
		container.AllocatedPorts[i] = int(p)
	}
	return container, nil
}
