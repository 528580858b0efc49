// Package store provides database access interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/denhq/control-plane/internal/models"
)

// Sentinel errors returned by store implementations.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when an insert violates a uniqueness
	// constraint (node hostname, subdomain name).
	ErrDuplicate = errors.New("duplicate record")
)

// UserStore defines operations for user records.
type UserStore interface {
	// Create creates a new user.
	Create(ctx context.Context, user *models.User) error
	// Get retrieves a user by ID.
	Get(ctx context.Context, id int64) (*models.User, error)
	// GetByUsername retrieves a user by username.
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	// List retrieves all users, newest first.
	List(ctx context.Context) ([]*models.User, error)
	// Delete removes a user by ID.
	Delete(ctx context.Context, id int64) error
	// SetAcceptance marks both policy consents accepted.
	SetAcceptance(ctx context.Context, id int64) error
	// SetAssignedQuestions stores the user's assigned quiz question IDs.
	SetAssignedQuestions(ctx context.Context, id int64, questionIDs []int64) error
	// SetContainer sets or clears the user's container reference.
	SetContainer(ctx context.Context, id int64, containerID *string) error
	// SetSSHPassword stores a password digest and clears any public key.
	SetSSHPassword(ctx context.Context, id int64, hash string) error
	// SetSSHPublicKey stores a public key and clears any password digest.
	SetSSHPublicKey(ctx context.Context, id int64, key string) error
}

// NodeStore defines operations for node records.
type NodeStore interface {
	// Create registers a new node. Returns ErrDuplicate on a hostname clash.
	Create(ctx context.Context, node *models.Node) error
	// Get retrieves a node by ID.
	Get(ctx context.Context, id int64) (*models.Node, error)
	// List retrieves all nodes, newest first.
	List(ctx context.Context) ([]*models.Node, error)
	// UpdateToken replaces the node's auth token.
	UpdateToken(ctx context.Context, id int64, token string) error
	// Touch records a heartbeat at the given instant.
	Touch(ctx context.Context, id int64, at time.Time) error
	// Delete removes a node and its token.
	Delete(ctx context.Context, id int64) error
}

// ContainerStore defines operations for container records.
type ContainerStore interface {
	// Create inserts a new container record.
	Create(ctx context.Context, container *models.Container) error
	// Get retrieves a container by ID.
	Get(ctx context.Context, id string) (*models.Container, error)
	// GetByUser retrieves the container owned by a user.
	GetByUser(ctx context.Context, userID int64) (*models.Container, error)
	// ListByNode retrieves all containers scheduled on a node.
	ListByNode(ctx context.Context, nodeID int64) ([]*models.Container, error)
	// ListByStatus retrieves all containers in the given status, oldest first.
	ListByStatus(ctx context.Context, status string) ([]*models.Container, error)
	// UpdateStatus sets the container status.
	UpdateStatus(ctx context.Context, id string, status string) error
	// Finalize records agent-provided runtime details and marks the
	// container running.
	Finalize(ctx context.Context, id string, name, ip string, sshPort int) error
	// AddPort appends a host port to the container's allocation.
	AddPort(ctx context.Context, id string, port int) error
	// RemovePort removes a host port from the container's allocation.
	RemovePort(ctx context.Context, id string, port int) error
	// Delete removes the container record.
	Delete(ctx context.Context, id string) error
}

// SubdomainStore defines operations for subdomain records.
type SubdomainStore interface {
	// Create inserts a new subdomain. Returns ErrDuplicate if the name is
	// taken, checked at the same transaction boundary as insertion.
	Create(ctx context.Context, sub *models.Subdomain) error
	// Get retrieves a subdomain by ID.
	Get(ctx context.Context, id int64) (*models.Subdomain, error)
	// GetByName retrieves a subdomain by its unique name.
	GetByName(ctx context.Context, name string) (*models.Subdomain, error)
	// ListByUser retrieves all subdomains owned by a user, newest first.
	ListByUser(ctx context.Context, userID int64) ([]*models.Subdomain, error)
	// Delete removes a subdomain by ID.
	Delete(ctx context.Context, id int64) error
	// DeleteByUser removes all subdomains owned by a user.
	DeleteByUser(ctx context.Context, userID int64) error
	// DeleteByPort removes a user's subdomains targeting the given port.
	DeleteByPort(ctx context.Context, userID int64, port int) error
}

// QuestionStore defines operations for the acceptable-use question bank.
type QuestionStore interface {
	// Create inserts a question.
	Create(ctx context.Context, q *models.Question) error
	// ListActive retrieves all active questions.
	ListActive(ctx context.Context) ([]*models.Question, error)
	// GetByIDs retrieves the active questions with the given IDs.
	GetByIDs(ctx context.Context, ids []int64) ([]*models.Question, error)
	// Count returns the total number of questions.
	Count(ctx context.Context) (int, error)
}

// ExportStore defines operations for export jobs.
type ExportStore interface {
	// Create inserts an export record.
	Create(ctx context.Context, export *models.Export) error
	// Get retrieves an export by ID.
	Get(ctx context.Context, id int64) (*models.Export, error)
	// SetStatus updates an export's status and optional error message.
	SetStatus(ctx context.Context, id int64, status string, errMsg *string) error
	// SetComplete marks an export complete with its download URL.
	SetComplete(ctx context.Context, id int64, downloadURL string) error
}

// Store is the main interface for database operations.
type Store interface {
	// Users returns the UserStore.
	Users() UserStore
	// Nodes returns the NodeStore.
	Nodes() NodeStore
	// Containers returns the ContainerStore.
	Containers() ContainerStore
	// Subdomains returns the SubdomainStore.
	Subdomains() SubdomainStore
	// Questions returns the QuestionStore.
	Questions() QuestionStore
	// Exports returns the ExportStore.
	Exports() ExportStore

	// WithTx executes the given function within a database transaction.
	// If the function returns an error, the transaction is rolled back.
	// Otherwise, the transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error

	// Close closes the database connection.
	Close() error
}
