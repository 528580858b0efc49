// Package postgres provides the PostgreSQL implementation of the store
// interfaces.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/denhq/control-plane/internal/store"
)

// PostgresStore implements the Store interface using PostgreSQL.
type PostgresStore struct {
	db         *sql.DB
	logger     *slog.Logger
	users      *UserStore
	nodes      *NodeStore
	containers *ContainerStore
	subdomains *SubdomainStore
	questions  *QuestionStore
	exports    *ExportStore
}

// Config holds PostgreSQL connection configuration.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig(dsn string) *Config {
	return &Config{
		DSN:             dsn,
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 1 * time.Minute,
	}
}

// NewPostgresStore creates a new PostgreSQL store with the given configuration.
func NewPostgresStore(cfg *Config, logger *slog.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	s := &PostgresStore{
		db:     db,
		logger: logger,
	}

	s.users = &UserStore{db: db, logger: logger}
	s.nodes = &NodeStore{db: db, logger: logger}
	s.containers = &ContainerStore{db: db, logger: logger}
	s.subdomains = &SubdomainStore{db: db, logger: logger}
	s.questions = &QuestionStore{db: db, logger: logger}
	s.exports = &ExportStore{db: db, logger: logger}

	logger.Info("connected to PostgreSQL database")
	return s, nil
}

// Users returns the UserStore.
func (s *PostgresStore) Users() store.UserStore {
	return s.users
}

// Nodes returns the NodeStore.
func (s *PostgresStore) Nodes() store.NodeStore {
	return s.nodes
}

// Containers returns the ContainerStore.
func (s *PostgresStore) Containers() store.ContainerStore {
	return s.containers
}

// Subdomains returns the SubdomainStore.
func (s *PostgresStore) Subdomains() store.SubdomainStore {
	return s.subdomains
}

// Questions returns the QuestionStore.
func (s *PostgresStore) Questions() store.QuestionStore {
	return s.questions
}

// Exports returns the ExportStore.
func (s *PostgresStore) Exports() store.ExportStore {
	return s.exports
}

// WithTx executes the given function within a database transaction.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(store.Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	txs := &txStore{
		tx:     tx,
		logger: s.logger,
	}

	if err := fn(txs); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("failed to rollback transaction", "error", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	return nil
}

// Ping verifies database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	s.logger.Info("closing PostgreSQL connection")
	return s.db.Close()
}

// DB returns the underlying database connection.
func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// txStore wraps a transaction and implements the Store interface.
type txStore struct {
	tx         *sql.Tx
	logger     *slog.Logger
	users      *UserStore
	nodes      *NodeStore
	containers *ContainerStore
	subdomains *SubdomainStore
	questions  *QuestionStore
	exports    *ExportStore
}

func (s *txStore) Users() store.UserStore {
	if s.users == nil {
		s.users = &UserStore{tx: s.tx, logger: s.logger}
	}
	return s.users
}

func (s *txStore) Nodes() store.NodeStore {
	if s.nodes == nil {
		s.nodes = &NodeStore{tx: s.tx, logger: s.logger}
	}
	return s.nodes
}

func (s *txStore) Containers() store.ContainerStore {
	if s.containers == nil {
		s.containers = &ContainerStore{tx: s.tx, logger: s.logger}
	}
	return s.containers
}

func (s *txStore) Subdomains() store.SubdomainStore {
	if s.subdomains == nil {
		s.subdomains = &SubdomainStore{tx: s.tx, logger: s.logger}
	}
	return s.subdomains
}

func (s *txStore) Questions() store.QuestionStore {
	if s.questions == nil {
		s.questions = &QuestionStore{tx: s.tx, logger: s.logger}
	}
	return s.questions
}

func (s *txStore) Exports() store.ExportStore {
	if s.exports == nil {
		s.exports = &ExportStore{tx: s.tx, logger: s.logger}
	}
	return s.exports
}

func (s *txStore) WithTx(ctx context.Context, fn func(store.Store) error) error {
	// Already in a transaction, just execute the function
	return fn(s)
}

func (s *txStore) Close() error {
	// No-op for transaction store
	return nil
}

// queryable is an interface that both *sql.DB and *sql.Tx implement.
type queryable interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
