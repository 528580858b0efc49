package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/denhq/control-plane/internal/models"
	"github.com/denhq/control-plane/internal/store"
)

// getTestDSN returns the test database connection string, or "" to skip.
func getTestDSN() string {
	return os.Getenv("TEST_DATABASE_URL")
}

// setupTestDB creates a test database connection and applies the schema.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	dsn := getTestDSN()
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping database tests")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		t.Fatalf("failed to ping database: %v", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}

	return db
}

// runMigrations applies the database schema from a clean slate.
func runMigrations(db *sql.DB) error {
	for _, table := range []string{"exports", "subdomains", "containers", "questions", "users", "nodes"} {
		_, _ = db.Exec("DROP TABLE IF EXISTS " + table + " CASCADE")
	}

	schema := `
		CREATE TABLE users (
			id BIGSERIAL PRIMARY KEY,
			username VARCHAR(64) NOT NULL UNIQUE,
			display_name VARCHAR(255) NOT NULL DEFAULT '',
			email VARCHAR(255) NOT NULL,
			is_admin BOOLEAN NOT NULL DEFAULT FALSE,
			container_id VARCHAR(128),
			ssh_password TEXT,
			ssh_public_key TEXT,
			agreed_to_tos BOOLEAN NOT NULL DEFAULT FALSE,
			agreed_to_privacy BOOLEAN NOT NULL DEFAULT FALSE,
			assigned_questions BIGINT[] NOT NULL DEFAULT '{}',
			last_seen TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE nodes (
			id BIGSERIAL PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			hostname VARCHAR(255) NOT NULL UNIQUE,
			public_hostname VARCHAR(255),
			token VARCHAR(64) NOT NULL,
			max_memory_mb INTEGER NOT NULL,
			max_cpu_cores INTEGER NOT NULL,
			max_storage_gb INTEGER NOT NULL,
			last_seen TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE containers (
			id VARCHAR(128) PRIMARY KEY,
			user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			node_id BIGINT NOT NULL REFERENCES nodes(id),
			name VARCHAR(255) NOT NULL DEFAULT '',
			status VARCHAR(32) NOT NULL,
			ip_address VARCHAR(64),
			ssh_port INTEGER NOT NULL DEFAULT 0,
			memory_mb INTEGER NOT NULL DEFAULT 0,
			cpu_cores INTEGER NOT NULL DEFAULT 0,
			storage_gb INTEGER NOT NULL DEFAULT 0,
			allocated_ports INTEGER[] NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (user_id)
		);

		CREATE TABLE subdomains (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			subdomain VARCHAR(63) NOT NULL,
			target_port INTEGER NOT NULL,
			subdomain_type VARCHAR(16) NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE UNIQUE INDEX idx_subdomains_name ON subdomains(subdomain);

		CREATE TABLE questions (
			id BIGSERIAL PRIMARY KEY,
			prompt TEXT NOT NULL,
			correct_answer TEXT NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE exports (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL,
			container_id VARCHAR(128) NOT NULL,
			object_key TEXT NOT NULL,
			status VARCHAR(32) NOT NULL,
			size_bytes BIGINT,
			download_url TEXT,
			expires_at TIMESTAMPTZ NOT NULL,
			requested_by BIGINT,
			error TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`
	_, err := db.Exec(schema)
	return err
}

func quietTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// Tokens rotate atomically: after UpdateToken commits, only the new value is
// stored; the old one is gone with no overlap window.
func TestNodeTokenRotationReplacesOldToken(t *testing.T) {
	db := setupTestDB(t)
	defer func() {
		db.Exec("DELETE FROM nodes")
		db.Close()
	}()

	nodeStore := &NodeStore{db: db, logger: quietTestLogger()}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("rotation leaves exactly the new token", prop.ForAll(
		func(seq int64) bool {
			ctx := context.Background()

			oldToken := fmt.Sprintf("old-%016x", seq)
			newToken := fmt.Sprintf("new-%016x", seq)

			node := &models.Node{
				Name:         "rotate-node",
				Hostname:     fmt.Sprintf("rotate-%d.internal", seq),
				Token:        oldToken,
				MaxMemoryMB:  4096,
				MaxCPUCores:  4,
				MaxStorageGB: 15,
			}
			if err := nodeStore.Create(ctx, node); err != nil {
				t.Logf("failed to create node: %v", err)
				return false
			}
			defer db.Exec("DELETE FROM nodes WHERE id = $1", node.ID)

			if err := nodeStore.UpdateToken(ctx, node.ID, newToken); err != nil {
				t.Logf("failed to rotate token: %v", err)
				return false
			}

			stored, err := nodeStore.Get(ctx, node.ID)
			if err != nil {
				t.Logf("failed to get node: %v", err)
				return false
			}
			return stored.Token == newToken
		},
		gen.Int64Range(1, 1<<40),
	))

	properties.TestingRun(t)
}

// A heartbeat never moves last_seen backwards relative to what the caller
// recorded before it.
func TestHeartbeatIsMonotonic(t *testing.T) {
	db := setupTestDB(t)
	defer func() {
		db.Exec("DELETE FROM nodes")
		db.Close()
	}()

	ctx := context.Background()
	nodeStore := &NodeStore{db: db, logger: quietTestLogger()}

	node := &models.Node{
		Name:         "beat-node",
		Hostname:     "beat.internal",
		Token:        "beat-token",
		MaxMemoryMB:  4096,
		MaxCPUCores:  4,
		MaxStorageGB: 15,
	}
	if err := nodeStore.Create(ctx, node); err != nil {
		t.Fatalf("failed to create node: %v", err)
	}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("last_seen never decreases", prop.ForAll(
		func(offsetSec int64) bool {
			before, err := nodeStore.Get(ctx, node.ID)
			if err != nil {
				t.Logf("failed to get node: %v", err)
				return false
			}

			at := time.Now().Add(time.Duration(offsetSec) * time.Second)
			if before.LastSeen != nil && at.Before(*before.LastSeen) {
				at = *before.LastSeen
			}

			if err := nodeStore.Touch(ctx, node.ID, at); err != nil {
				t.Logf("failed to touch node: %v", err)
				return false
			}

			after, err := nodeStore.Get(ctx, node.ID)
			if err != nil || after.LastSeen == nil {
				return false
			}
			if before.LastSeen == nil {
				return true
			}
			return !after.LastSeen.Before(*before.LastSeen)
		},
		gen.Int64Range(0, 3600),
	))

	properties.TestingRun(t)
}

// The unique index on the subdomain name is the arbiter for concurrent
// claims: the second insert of any name fails with ErrDuplicate no matter
// who owns the first.
func TestSubdomainNamesAreGloballyUnique(t *testing.T) {
	db := setupTestDB(t)
	defer func() {
		db.Exec("DELETE FROM subdomains")
		db.Exec("DELETE FROM users")
		db.Close()
	}()

	ctx := context.Background()
	logger := quietTestLogger()
	userStore := &UserStore{db: db, logger: logger}
	subStore := &SubdomainStore{db: db, logger: logger}

	alice := &models.User{Username: "alice", Email: "alice@example.com"}
	bob := &models.User{Username: "bob", Email: "bob@example.com"}
	for _, u := range []*models.User{alice, bob} {
		if err := userStore.Create(ctx, u); err != nil {
			t.Fatalf("failed to create user: %v", err)
		}
	}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("second claim of a name is a duplicate", prop.ForAll(
		func(seq int64) bool {
			name := fmt.Sprintf("claim-%d", seq)

			first := &models.Subdomain{
				UserID:        alice.ID,
				Subdomain:     name,
				TargetPort:    8080,
				SubdomainType: models.SubdomainTypeProject,
				IsActive:      true,
			}
			if err := subStore.Create(ctx, first); err != nil {
				t.Logf("first claim failed: %v", err)
				return false
			}
			defer db.Exec("DELETE FROM subdomains WHERE id = $1", first.ID)

			second := &models.Subdomain{
				UserID:        bob.ID,
				Subdomain:     name,
				TargetPort:    9090,
				SubdomainType: models.SubdomainTypeProject,
				IsActive:      true,
			}
			err := subStore.Create(ctx, second)
			return errors.Is(err, store.ErrDuplicate)
		},
		gen.Int64Range(1, 1<<40),
	))

	properties.TestingRun(t)
}

// Port mutations round-trip through the integer array column.
func TestContainerPortMutations(t *testing.T) {
	db := setupTestDB(t)
	defer func() {
		db.Exec("DELETE FROM containers")
		db.Exec("DELETE FROM users")
		db.Exec("DELETE FROM nodes")
		db.Close()
	}()

	ctx := context.Background()
	logger := quietTestLogger()
	userStore := &UserStore{db: db, logger: logger}
	nodeStore := &NodeStore{db: db, logger: logger}
	containerStore := &ContainerStore{db: db, logger: logger}

	user := &models.User{Username: "carol", Email: "carol@example.com"}
	if err := userStore.Create(ctx, user); err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	node := &models.Node{
		Name: "port-node", Hostname: "port.internal", Token: "port-token",
		MaxMemoryMB: 4096, MaxCPUCores: 4, MaxStorageGB: 100,
	}
	if err := nodeStore.Create(ctx, node); err != nil {
		t.Fatalf("failed to create node: %v", err)
	}

	container := &models.Container{
		ID:     "den-carol",
		UserID: user.ID,
		NodeID: node.ID,
		Name:   "den-carol",
		Status: models.ContainerStatusRunning,
	}
	if err := containerStore.Create(ctx, container); err != nil {
		t.Fatalf("failed to create container: %v", err)
	}

	for _, port := range []int{20001, 20002, 20003} {
		if err := containerStore.AddPort(ctx, container.ID, port); err != nil {
			t.Fatalf("failed to add port %d: %v", port, err)
		}
	}
	if err := containerStore.RemovePort(ctx, container.ID, 20002); err != nil {
		t.Fatalf("failed to remove port: %v", err)
	}

	stored, err := containerStore.Get(ctx, container.ID)
	if err != nil {
		t.Fatalf("failed to get container: %v", err)
	}
	if len(stored.AllocatedPorts) != 2 || !stored.HasPort(20001) || !stored.HasPort(20003) || stored.HasPort(20002) {
		t.Fatalf("unexpected ports after mutations: %v", stored.AllocatedPorts)
	}
}

// One container per user is enforced by the table itself, not just the
// service path.
func TestOneContainerPerUserConstraint(t *testing.T) {
	db := setupTestDB(t)
	defer func() {
		db.Exec("DELETE FROM containers")
		db.Exec("DELETE FROM users")
		db.Exec("DELETE FROM nodes")
		db.Close()
	}()

	ctx := context.Background()
	logger := quietTestLogger()
	userStore := &UserStore{db: db, logger: logger}
	nodeStore := &NodeStore{db: db, logger: logger}
	containerStore := &ContainerStore{db: db, logger: logger}

	user := &models.User{Username: "dave", Email: "dave@example.com"}
	if err := userStore.Create(ctx, user); err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	node := &models.Node{
		Name: "dup-node", Hostname: "dup.internal", Token: "dup-token",
		MaxMemoryMB: 4096, MaxCPUCores: 4, MaxStorageGB: 100,
	}
	if err := nodeStore.Create(ctx, node); err != nil {
		t.Fatalf("failed to create node: %v", err)
	}

	first := &models.Container{
		ID: "den-dave", UserID: user.ID, NodeID: node.ID,
		Status: models.ContainerStatusRunning,
	}
	if err := containerStore.Create(ctx, first); err != nil {
		t.Fatalf("failed to create container: %v", err)
	}

	second := &models.Container{
		ID: "den-dave-2", UserID: user.ID, NodeID: node.ID,
		Status: models.ContainerStatusCreating,
	}
	if err := containerStore.Create(ctx, second); !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("expected duplicate error for second container, got %v", err)
	}
}
