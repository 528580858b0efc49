// Package health provides the liveness endpoint for the control plane.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Status values for the health response.
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// Response is the health check payload.
type Response struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Version  string `json:"version"`
	Uptime   string `json:"uptime"`
}

// Pinger is anything whose connectivity can be verified.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Checker reports the control plane's own health. Node liveness is a
// registry concern and not part of this check.
type Checker struct {
	pinger    Pinger
	version   string
	startTime time.Time
	timeout   time.Duration
}

// NewChecker creates a health checker over the database connection.
func NewChecker(pinger Pinger, version string) *Checker {
	return &Checker{
		pinger:    pinger,
		version:   version,
		startTime: time.Now(),
		timeout:   5 * time.Second,
	}
}

// Check runs the health probes and aggregates the result.
func (c *Checker) Check(ctx context.Context) *Response {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp := &Response{
		Status:   StatusHealthy,
		Database: "connected",
		Version:  c.version,
		Uptime:   time.Since(c.startTime).Round(time.Second).String(),
	}

	if c.pinger == nil {
		resp.Status = StatusUnhealthy
		resp.Database = "not configured"
	} else if err := c.pinger.Ping(ctx); err != nil {
		resp.Status = StatusUnhealthy
		resp.Database = "ping failed: " + err.Error()
	}
	return resp
}

// Handler returns the HTTP handler for the health endpoint.
func (c *Checker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := c.Check(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if resp.Status != StatusHealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(resp)
	}
}
