// Package agent provides the HTTP client for communicating with node agents.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/denhq/control-plane/internal/apperrors"
	"github.com/denhq/control-plane/internal/models"
)

// Client defines the operations the control plane invokes on node agents.
// Lifecycle and credential services depend on this interface so tests can
// substitute a fake agent.
type Client interface {
	// CreateContainer provisions a container for the user on the node.
	CreateContainer(ctx context.Context, node *models.Node, userID int64, username string) (*ContainerInfo, error)
	// DeleteContainer tears down a container on the node.
	DeleteContainer(ctx context.Context, node *models.Node, containerID string) error
	// AllocatePort asks the node to open a host port for the container.
	AllocatePort(ctx context.Context, node *models.Node, containerID string) (int, error)
	// ApplyCredential pushes SSH credentials into the container.
	ApplyCredential(ctx context.Context, node *models.Node, cred Credential) error
	// ExportFilesystem asks the node to archive the container filesystem and
	// upload it to the given URL.
	ExportFilesystem(ctx context.Context, node *models.Node, containerID, putURL string) error
}

// ContainerInfo is the agent's description of a provisioned container.
type ContainerInfo struct {
	ID      string `json:"ID"`
	Name    string `json:"Name"`
	IP      string `json:"IP"`
	SSHPort int    `json:"SSHPort"`
}

// Credential carries SSH access material for a container. Exactly one of
// PublicKey or Password is set.
type Credential struct {
	ContainerID string `json:"container_id"`
	Username    string `json:"username"`
	PublicKey   string `json:"public_key,omitempty"`
	Password    string `json:"password,omitempty"`
}

// Config holds agent transport configuration.
type Config struct {
	// Port is the port node agents listen on.
	Port int
	// Timeout bounds a single HTTP call.
	Timeout time.Duration
	// Retries is the number of attempts per operation.
	Retries int
	// RetryBackoff is the base delay between attempts, doubled each retry.
	RetryBackoff time.Duration
}

// DefaultConfig returns agent transport defaults.
func DefaultConfig() *Config {
	return &Config{
		Port:         8081,
		Timeout:      60 * time.Second,
		Retries:      3,
		RetryBackoff: 2 * time.Second,
	}
}

// HTTPClient talks JSON over HTTP to node agents.
type HTTPClient struct {
	cfg        *Config
	httpClient *http.Client
	logger     *slog.Logger
}

// NewHTTPClient creates a new agent client.
func NewHTTPClient(cfg *Config, logger *slog.Logger) *HTTPClient {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

// CreateContainer provisions a container for the user on the node.
func (c *HTTPClient) CreateContainer(ctx context.Context, node *models.Node, userID int64, username string) (*ContainerInfo, error) {
	payload := map[string]any{
		"user_id":  userID,
		"username": username,
	}

	var info ContainerInfo
	if err := c.do(ctx, node, http.MethodPost, "/api/containers", payload, &info); err != nil {
		return nil, err
	}
	if info.ID == "" {
		return nil, apperrors.Upstream("node agent returned no container ID")
	}
	return &info, nil
}

// DeleteContainer tears down a container on the node.
func (c *HTTPClient) DeleteContainer(ctx context.Context, node *models.Node, containerID string) error {
	return c.do(ctx, node, http.MethodDelete, "/api/containers/"+containerID, nil, nil)
}

// AllocatePort asks the node to open a host port for the container.
func (c *HTTPClient) AllocatePort(ctx context.Context, node *models.Node, containerID string) (int, error) {
	payload := map[string]string{"container_id": containerID}

	var res struct {
		Port int `json:"port"`
	}
	if err := c.do(ctx, node, http.MethodPost, "/api/ports/new", payload, &res); err != nil {
		return 0, err
	}
	if res.Port == 0 {
		return 0, apperrors.Upstream("node agent returned no port")
	}
	return res.Port, nil
}

// ApplyCredential pushes SSH credentials into the container.
func (c *HTTPClient) ApplyCredential(ctx context.Context, node *models.Node, cred Credential) error {
	return c.do(ctx, node, http.MethodPost, "/api/ssh", cred, nil)
}

// ExportFilesystem asks the node to archive the container filesystem and
// upload it to the given URL.
func (c *HTTPClient) ExportFilesystem(ctx context.Context, node *models.Node, containerID, putURL string) error {
	payload := map[string]string{
		"container_id": containerID,
		"put_url":      putURL,
	}
	return c.do(ctx, node, http.MethodPost, "/api/export", payload, nil)
}

// do performs one agent operation with bounded retries. Attempts that fail
// with a 4xx status are not retried; the agent has rejected the request and
// will keep rejecting it.
func (c *HTTPClient) do(ctx context.Context, node *models.Node, method, path string, payload, out any) error {
	url := fmt.Sprintf("http://%s:%d%s", node.Hostname, c.cfg.Port, path)

	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return apperrors.Internal("marshaling agent request").WithCause(err)
		}
	}

	var lastErr error
	backoff := c.cfg.RetryBackoff
	for attempt := 1; attempt <= c.cfg.Retries; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return apperrors.Upstream("node agent call canceled").WithCause(ctx.Err())
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		retryable, err := c.attempt(ctx, method, url, body, out)
		if err == nil {
			return nil
		}
		lastErr = err

		c.logger.Warn("node agent call failed",
			"node", node.Hostname,
			"method", method,
			"path", path,
			"attempt", attempt,
			"error", err)

		if !retryable {
			break
		}
	}

	return lastErr
}

func (c *HTTPClient) attempt(ctx context.Context, method, url string, body []byte, out any) (retryable bool, err error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return false, apperrors.Internal("building agent request").WithCause(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return true, apperrors.Upstream("node agent unreachable").WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return resp.StatusCode >= 500, apperrors.Upstream("node agent returned %d: %s", resp.StatusCode, string(msg))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return false, apperrors.Upstream("invalid node agent response").WithCause(err)
		}
	}

	return false, nil
}
