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

// UserStore implements store.UserStore using PostgreSQL.
type UserStore struct {
	db     *sql.DB
	tx     *sql.Tx
	logger *slog.Logger
}

func (s *UserStore) conn() queryable {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

const userColumns = `id, username, display_name, email, is_admin, container_id,
	ssh_password, ssh_public_key, agreed_to_tos, agreed_to_privacy,
	assigned_questions, last_seen, created_at, updated_at`

// Create creates a new user.
func (s *UserStore) Create(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (username, display_name, email, is_admin)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at`

	err := s.conn().QueryRowContext(ctx, query,
		user.Username,
		user.DisplayName,
		user.Email,
		user.IsAdmin,
	).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicate
		}
		return fmt.Errorf("creating user: %w", err)
	}

	return nil
}

// Get retrieves a user by ID.
func (s *UserStore) Get(ctx context.Context, id int64) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return s.scanUser(s.conn().QueryRowContext(ctx, query, id))
}

// GetByUsername retrieves a user by username.
func (s *UserStore) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE username = $1`
	return s.scanUser(s.conn().QueryRowContext(ctx, query, username))
}

// List retrieves all users, newest first.
func (s *UserStore) List(ctx context.Context) ([]*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users ORDER BY created_at DESC`

	rows, err := s.conn().QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		user, err := s.scanUserRow(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating user rows: %w", err)
	}

	return users, nil
}

// Delete removes a user by ID.
func (s *UserStore) Delete(ctx context.Context, id int64) error {
	return s.exec(ctx, `DELETE FROM users WHERE id = $1`, id)
}

// SetAcceptance marks both policy consents accepted.
func (s *UserStore) SetAcceptance(ctx context.Context, id int64) error {
	return s.exec(ctx, `
		UPDATE users
		SET agreed_to_tos = TRUE, agreed_to_privacy = TRUE, updated_at = NOW()
		WHERE id = $1`, id)
}

// SetAssignedQuestions stores the user's assigned quiz question IDs.
func (s *UserStore) SetAssignedQuestions(ctx context.Context, id int64, questionIDs []int64) error {
	return s.exec(ctx, `
		UPDATE users SET assigned_questions = $2, updated_at = NOW()
		WHERE id = $1`, id, pq.Array(questionIDs))
}

// SetContainer sets or clears the user's container reference.
func (s *UserStore) SetContainer(ctx context.Context, id int64, containerID *string) error {
	return s.exec(ctx, `
		UPDATE users SET container_id = $2, updated_at = NOW()
		WHERE id = $1`, id, containerID)
}

// SetSSHPassword stores a password digest and clears any public key.
func (s *UserStore) SetSSHPassword(ctx context.Context, id int64, hash string) error {
	return s.exec(ctx, `
		UPDATE users
		SET ssh_password = $2, ssh_public_key = NULL, updated_at = NOW()
		WHERE id = $1`, id, hash)
}

// SetSSHPublicKey stores a public key and clears any password digest.
func (s *UserStore) SetSSHPublicKey(ctx context.Context, id int64, key string) error {
	return s.exec(ctx, `
		UPDATE users
		SET ssh_public_key = $2, ssh_password = NULL, updated_at = NOW()
		WHERE id = $1`, id, key)
}

func (s *UserStore) exec(ctx context.Context, query string, args ...any) error {
	result, err := s.conn().ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating user: %w", err)
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

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *UserStore) scanUser(row rowScanner) (*models.User, error) {
	user, err := s.scanUserRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return user, nil
}

func (s *UserStore) scanUserRow(row rowScanner) (*models.User, error) {
	user := &models.User{}
	var assigned pq.Int64Array

	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.DisplayName,
		&user.Email,
		&user.IsAdmin,
		&user.ContainerID,
		&user.SSHPasswordHash,
		&user.SSHPublicKey,
		&user.AgreedToTOS,
		&user.AgreedToPrivacy,
		&assigned,
		&user.LastSeen,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning user row: %w", err)
	}

	user.AssignedQuestions = []int64(assigned)
	return user, nil
}
