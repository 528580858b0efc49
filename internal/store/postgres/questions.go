package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/lib/pq"

	"github.com/denhq/control-plane/internal/models"
)

// QuestionStore implements store.QuestionStore using PostgreSQL.
type QuestionStore struct {
	db     *sql.DB
	tx     *sql.Tx
	logger *slog.Logger
}

func (s *QuestionStore) conn() queryable {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

const questionColumns = `id, prompt, correct_answer, is_active, created_at, updated_at`

// Create inserts a question.
func (s *QuestionStore) Create(ctx context.Context, q *models.Question) error {
	query := `
		INSERT INTO questions (prompt, correct_answer, is_active)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at`

	err := s.conn().QueryRowContext(ctx, query,
		q.Prompt,
		q.CorrectAnswer,
		q.IsActive,
	).Scan(&q.ID, &q.CreatedAt, &q.UpdatedAt)
	if err != nil {
		return fmt.Errorf("creating question: %w", err)
	}

	return nil
}

// ListActive retrieves all active questions.
func (s *QuestionStore) ListActive(ctx context.Context) ([]*models.Question, error) {
	query := `SELECT ` + questionColumns + ` FROM questions
		WHERE is_active = TRUE ORDER BY id`

	rows, err := s.conn().QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying questions: %w", err)
	}
	defer rows.Close()

	return collectQuestions(rows)
}

// GetByIDs retrieves the active questions with the given IDs, in ID order.
func (s *QuestionStore) GetByIDs(ctx context.Context, ids []int64) ([]*models.Question, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `SELECT ` + questionColumns + ` FROM questions
		WHERE id = ANY($1) AND is_active = TRUE ORDER BY id`

	rows, err := s.conn().QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("querying questions: %w", err)
	}
	defer rows.Close()

	return collectQuestions(rows)
}

// Count returns the total number of questions.
func (s *QuestionStore) Count(ctx context.Context) (int, error) {
	var count int
	err := s.conn().QueryRowContext(ctx, `SELECT COUNT(*) FROM questions`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting questions: %w", err)
	}
	return count, nil
}

func collectQuestions(rows *sql.Rows) ([]*models.Question, error) {
	var questions []*models.Question
	for rows.Next() {
		q := &models.Question{}
		err := rows.Scan(
			&q.ID,
			&q.Prompt,
			&q.CorrectAnswer,
			&q.IsActive,
			&q.CreatedAt,
			&q.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning question row: %w", err)
		}
		questions = append(questions, q)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating question rows: %w", err)
	}

	return questions, nil
}
