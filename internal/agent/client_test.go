package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/denhq/control-plane/internal/apperrors"
	"github.com/denhq/control-plane/internal/models"
)

// testNode points a node record at the given httptest server.
func testNode(t *testing.T, srv *httptest.Server) (*models.Node, *Config) {
	t.Helper()

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)

	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	node := &models.Node{ID: 1, Name: "node-1", Hostname: u.Hostname()}
	cfg := &Config{
		Port:         port,
		Timeout:      2 * time.Second,
		Retries:      3,
		RetryBackoff: time.Millisecond,
	}
	return node, cfg
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(testWriter{}, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestCreateContainerRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/containers", r.URL.Path)

		var req struct {
			UserID   int64  `json:"user_id"`
			Username string `json:"username"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, int64(42), req.UserID)
		assert.Equal(t, "alice", req.Username)

		json.NewEncoder(w).Encode(ContainerInfo{
			ID:      "den-alice",
			Name:    "den-alice",
			IP:      "10.0.3.7",
			SSHPort: 2201,
		})
	}))
	defer srv.Close()

	node, cfg := testNode(t, srv)
	client := NewHTTPClient(cfg, quietLogger())

	info, err := client.CreateContainer(context.Background(), node, 42, "alice")
	require.NoError(t, err)
	assert.Equal(t, "den-alice", info.ID)
	assert.Equal(t, "10.0.3.7", info.IP)
	assert.Equal(t, 2201, info.SSHPort)
}

func TestCreateContainerMissingID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	node, cfg := testNode(t, srv)
	client := NewHTTPClient(cfg, quietLogger())

	_, err := client.CreateContainer(context.Background(), node, 1, "bob")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindUpstream))
}

func TestServerErrorsAreRetried(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			http.Error(w, "transient failure", http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]int{"port": 31500})
	}))
	defer srv.Close()

	node, cfg := testNode(t, srv)
	client := NewHTTPClient(cfg, quietLogger())

	port, err := client.AllocatePort(context.Background(), node, "den-alice")
	require.NoError(t, err)
	assert.Equal(t, 31500, port)
	assert.Equal(t, 3, calls)
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "no such container", http.StatusNotFound)
	}))
	defer srv.Close()

	node, cfg := testNode(t, srv)
	client := NewHTTPClient(cfg, quietLogger())

	err := client.DeleteContainer(context.Background(), node, "den-ghost")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindUpstream))
	assert.Contains(t, err.Error(), "no such container")
	assert.Equal(t, 1, calls)
}

func TestUnreachableNodeExhaustsRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	node, cfg := testNode(t, srv)
	srv.Close() // nothing listening anymore

	client := NewHTTPClient(cfg, quietLogger())

	err := client.ApplyCredential(context.Background(), node, Credential{
		ContainerID: "den-alice",
		Username:    "alice",
		Password:    "hunter22",
	})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindUpstream))
}

func TestExportFilesystemSendsUploadURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/export", r.URL.Path)

		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "den-alice", req["container_id"])
		assert.True(t, strings.HasPrefix(req["put_url"], "https://"))

		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	node, cfg := testNode(t, srv)
	client := NewHTTPClient(cfg, quietLogger())

	err := client.ExportFilesystem(context.Background(), node, "den-alice", "https://storage.example/upload?sig=abc")
	require.NoError(t, err)
}
