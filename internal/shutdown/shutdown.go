// Package shutdown coordinates graceful termination. On SIGINT/SIGTERM the
// coordinator shuts registered components down in reverse registration order,
// so resources close after the things that use them.
package shutdown

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// DefaultTimeout bounds the whole shutdown sequence.
const DefaultTimeout = 30 * time.Second

// Component is anything that can be shut down cleanly.
type Component interface {
	// Name identifies the component in logs.
	Name() string
	// Shutdown stops the component, returning before the context deadline.
	Shutdown(ctx context.Context) error
}

// Coordinator runs registered components' shutdowns in LIFO order under a
// shared deadline.
type Coordinator struct {
	mu         sync.Mutex
	components []Component
	timeout    time.Duration
	logger     *slog.Logger

	signalCh chan os.Signal

	once     sync.Once
	done     chan struct{}
	exitCode int
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithTimeout sets the shutdown deadline.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Coordinator) { c.timeout = timeout }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

// WithSignalChannel injects a signal channel, for tests.
func WithSignalChannel(ch chan os.Signal) Option {
	return func(c *Coordinator) { c.signalCh = ch }
}

// NewCoordinator creates a shutdown coordinator.
func NewCoordinator(opts ...Option) *Coordinator {
	c := &Coordinator{
		timeout: DefaultTimeout,
		logger:  slog.Default(),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register adds a component. Components shut down in reverse registration
// order, so register dependencies before their dependents.
func (c *Coordinator) Register(component Component) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.components = append(c.components, component)
}

// WaitForSignal blocks until SIGINT or SIGTERM, then runs Shutdown.
func (c *Coordinator) WaitForSignal() {
	sigCh := c.signalCh
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	}

	sig := <-sigCh
	c.logger.Info("received shutdown signal", "signal", sig)
	c.Shutdown()
}

// Shutdown runs each component's Shutdown in LIFO order under a shared
// deadline. Safe to call more than once; only the first call runs.
func (c *Coordinator) Shutdown() {
	c.once.Do(func() {
		c.logger.Info("shutting down", "timeout", c.timeout)

		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()

		c.mu.Lock()
		components := make([]Component, len(c.components))
		copy(components, c.components)
		c.mu.Unlock()

		for i := len(components) - 1; i >= 0; i-- {
			component := components[i]
			if ctx.Err() != nil {
				c.logger.Warn("shutdown deadline exceeded", "skipped", component.Name())
				c.exitCode = 1
				continue
			}
			if err := component.Shutdown(ctx); err != nil {
				c.logger.Error("component shutdown failed",
					"component", component.Name(), "error", err)
				c.exitCode = 1
			} else {
				c.logger.Info("component stopped", "component", component.Name())
			}
		}

		close(c.done)
	})
}

// Wait blocks until Shutdown has completed.
func (c *Coordinator) Wait() {
	<-c.done
}

// ExitCode reports 0 after a clean shutdown, 1 if any component failed or
// the deadline was exceeded.
func (c *Coordinator) ExitCode() int {
	return c.exitCode
}
