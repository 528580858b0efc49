package subdomains

import (
	"context"
	"errors"
	"sync"

	"github.com/denhq/control-plane/internal/apperrors"
	"github.com/denhq/control-plane/internal/store"
)

// Route is where traffic for a subdomain should go.
type Route struct {
	NodeHost    string `json:"node_host"`
	ContainerID string `json:"container_id"`
	Port        int    `json:"port"`
}

// Resolver serves the reverse proxy's name lookups from an in-memory index
// so the hot path stays off the database. Entries are filled on miss and
// dropped on any mutation that could change them.
type Resolver struct {
	store store.Store

	mu    sync.RWMutex
	cache map[string]Route
}

// NewResolver creates a resolver over the store.
func NewResolver(st store.Store) *Resolver {
	return &Resolver{
		store: st,
		cache: make(map[string]Route),
	}
}

// Resolve maps a subdomain name to its route.
func (r *Resolver) Resolve(ctx context.Context, name string) (Route, error) {
	r.mu.RLock()
	route, ok := r.cache[name]
	r.mu.RUnlock()
	if ok {
		return route, nil
	}

	route, err := r.lookup(ctx, name)
	if err != nil {
		return Route{}, err
	}

	r.mu.Lock()
	r.cache[name] = route
	r.mu.Unlock()
	return route, nil
}

func (r *Resolver) lookup(ctx context.Context, name string) (Route, error) {
	sub, err := r.store.Subdomains().GetByName(ctx, name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Route{}, apperrors.NotFound("subdomain not found")
		}
		return Route{}, apperrors.Internal("loading subdomain").WithCause(err)
	}
	if !sub.IsActive {
		return Route{}, apperrors.NotFound("subdomain not found")
	}

	container, err := r.store.Containers().GetByUser(ctx, sub.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Route{}, apperrors.NotFound("no container for subdomain")
		}
		return Route{}, apperrors.Internal("loading container").WithCause(err)
	}

	node, err := r.store.Nodes().Get(ctx, container.NodeID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Route{}, apperrors.NotFound("no node for subdomain")
		}
		return Route{}, apperrors.Internal("loading node").WithCause(err)
	}

	return Route{
		NodeHost:    node.RouteHost(),
		ContainerID: container.ID,
		Port:        sub.TargetPort,
	}, nil
}

// Invalidate drops a single cached name.
func (r *Resolver) Invalidate(name string) {
	r.mu.Lock()
	delete(r.cache, name)
	r.mu.Unlock()
}

// InvalidateAll drops the whole index; used after cascades that may touch
// many names at once.
func (r *Resolver) InvalidateAll() {
	r.mu.Lock()
	r.cache = make(map[string]Route)
	r.mu.Unlock()
}
