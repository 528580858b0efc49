package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/denhq/control-plane/internal/agent"
	"github.com/denhq/control-plane/internal/apperrors"
	"github.com/denhq/control-plane/internal/models"
	"github.com/denhq/control-plane/internal/store/storetest"
)

// fakeAgent is an in-process agent.Client.
type fakeAgent struct {
	mu          sync.Mutex
	createCalls int
	deleteCalls int
	nextPort    int

	failCreate bool
	failDelete bool
	failPort   bool
}

func (f *fakeAgent) CreateContainer(ctx context.Context, node *models.Node, userID int64, username string) (*agent.ContainerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.failCreate {
		return nil, apperrors.Upstream("node agent unreachable")
	}
	return &agent.ContainerInfo{
		ID:      fmt.Sprintf("den-%s", username),
		Name:    fmt.Sprintf("den-%s", username),
		IP:      "10.0.3.7",
		SSHPort: 2200 + int(userID),
	}, nil
}

func (f *fakeAgent) DeleteContainer(ctx context.Context, node *models.Node, containerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls++
	if f.failDelete {
		return apperrors.Upstream("node agent unreachable")
	}
	return nil
}

func (f *fakeAgent) AllocatePort(ctx context.Context, node *models.Node, containerID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPort {
		return 0, apperrors.Upstream("node agent unreachable")
	}
	if f.nextPort == 0 {
		f.nextPort = 20000
	}
	f.nextPort++
	return f.nextPort, nil
}

func (f *fakeAgent) ApplyCredential(ctx context.Context, node *models.Node, cred agent.Credential) error {
	return nil
}

func (f *fakeAgent) ExportFilesystem(ctx context.Context, node *models.Node, containerID, putURL string) error {
	return nil
}

func setupLifecycle(t *testing.T, nodeCapacityGB int) (*Service, *storetest.Memory, *fakeAgent) {
	t.Helper()

	st := storetest.New()
	ctx := context.Background()

	now := time.Now()
	node := &models.Node{
		Name:         "node-1",
		Hostname:     "node1.internal",
		Token:        "tok",
		MaxMemoryMB:  1 << 20,
		MaxCPUCores:  1 << 10,
		MaxStorageGB: nodeCapacityGB,
		LastSeen:     &now,
	}
	require.NoError(t, st.Nodes().Create(ctx, node))

	ag := &fakeAgent{}
	svc := NewService(DefaultConfig(), st, ag, nil, nil)
	return svc, st, ag
}

func gatedUser(t *testing.T, st *storetest.Memory, username string) *models.User {
	t.Helper()

	u := &models.User{
		Username:        username,
		Email:           username + "@example.com",
		AgreedToTOS:     true,
		AgreedToPrivacy: true,
	}
	require.NoError(t, st.Users().Create(context.Background(), u))
	return u
}

func TestEnsureContainerCreatesOnce(t *testing.T) {
	svc, st, ag := setupLifecycle(t, 1000)
	user := gatedUser(t, st, "alice")
	ctx := context.Background()

	first, err := svc.EnsureContainer(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, "den-alice", first.ID)
	assert.Equal(t, models.ContainerStatusRunning, first.Status)
	require.NotNil(t, user.ContainerID)
	assert.Equal(t, first.ID, *user.ContainerID)

	second, err := svc.EnsureContainer(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, ag.createCalls)
}

func TestEnsureContainerRequiresGate(t *testing.T) {
	svc, st, _ := setupLifecycle(t, 1000)
	ctx := context.Background()

	user := &models.User{Username: "eve", Email: "eve@example.com"}
	require.NoError(t, st.Users().Create(ctx, user))

	_, err := svc.EnsureContainer(ctx, user)
	assert.True(t, apperrors.Is(err, apperrors.KindGate))
}

func TestConcurrentEnsureContainerYieldsOneContainer(t *testing.T) {
	svc, st, ag := setupLifecycle(t, 1000)
	user := gatedUser(t, st, "bob")
	ctx := context.Background()

	const workers = 16
	var wg sync.WaitGroup
	results := make([]*models.Container, workers)
	errs := make([]error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.EnsureContainer(ctx, user)
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "den-bob", results[i].ID)
	}
	assert.Equal(t, 1, ag.createCalls)

	containers, err := st.Containers().ListByNode(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, containers, 1)
}

func TestCapacityIsNeverExceeded(t *testing.T) {
	// Room for exactly two default 15 GB containers.
	svc, st, _ := setupLifecycle(t, 30)
	ctx := context.Background()

	users := make([]*models.User, 6)
	for i := range users {
		users[i] = gatedUser(t, st, fmt.Sprintf("user%d", i))
	}

	var wg sync.WaitGroup
	errs := make([]error, len(users))
	for i, u := range users {
		wg.Add(1)
		go func(i int, u *models.User) {
			defer wg.Done()
			_, errs[i] = svc.EnsureContainer(ctx, u)
		}(i, u)
	}
	wg.Wait()

	var created, refused int
	for _, err := range errs {
		switch {
		case err == nil:
			created++
		case apperrors.Is(err, apperrors.KindCapacity):
			refused++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 2, created)
	assert.Equal(t, 4, refused)

	containers, err := st.Containers().ListByNode(ctx, 1)
	require.NoError(t, err)

	var storage int
	for _, c := range containers {
		storage += c.StorageGB
	}
	assert.LessOrEqual(t, storage, 30)
}

func TestFailedCreateReleasesReservation(t *testing.T) {
	svc, st, ag := setupLifecycle(t, 15) // room for exactly one container
	user := gatedUser(t, st, "carol")
	ctx := context.Background()

	ag.failCreate = true
	_, err := svc.EnsureContainer(ctx, user)
	require.True(t, apperrors.Is(err, apperrors.KindUpstream))

	containers, err2 := st.Containers().ListByNode(ctx, 1)
	require.NoError(t, err2)
	assert.Empty(t, containers, "failed create must not leak a reservation")

	// Retry succeeds once the node recovers.
	ag.failCreate = false
	container, err := svc.EnsureContainer(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, "den-carol", container.ID)
}

func TestOfflineNodeIsNotPlaced(t *testing.T) {
	st := storetest.New()
	ctx := context.Background()

	stale := time.Now().Add(-10 * time.Minute)
	require.NoError(t, st.Nodes().Create(ctx, &models.Node{
		Name:         "node-1",
		Hostname:     "node1.internal",
		MaxMemoryMB:  1 << 20,
		MaxCPUCores:  1 << 10,
		MaxStorageGB: 1000,
		LastSeen:     &stale,
	}))

	svc := NewService(DefaultConfig(), st, &fakeAgent{}, nil, nil)
	user := gatedUser(t, st, "dave")

	_, err := svc.EnsureContainer(ctx, user)
	assert.True(t, apperrors.Is(err, apperrors.KindCapacity))
}

func TestAllocatePortEnforcesBudget(t *testing.T) {
	svc, st, _ := setupLifecycle(t, 1000)
	user := gatedUser(t, st, "erin")
	ctx := context.Background()

	container, err := svc.EnsureContainer(ctx, user)
	require.NoError(t, err)

	seen := make(map[int]bool)
	for i := 0; i < DefaultConfig().MaxPortsPerUser; i++ {
		port, err := svc.AllocatePort(ctx, user)
		require.NoError(t, err)
		assert.False(t, seen[port], "port %d allocated twice", port)
		seen[port] = true
	}

	_, err = svc.AllocatePort(ctx, user)
	assert.True(t, apperrors.Is(err, apperrors.KindCapacity))

	stored, err := st.Containers().Get(ctx, container.ID)
	require.NoError(t, err)
	assert.Len(t, stored.AllocatedPorts, DefaultConfig().MaxPortsPerUser)
}

func TestRemovePortCascadesSubdomains(t *testing.T) {
	svc, st, _ := setupLifecycle(t, 1000)
	user := gatedUser(t, st, "frank")
	ctx := context.Background()

	_, err := svc.EnsureContainer(ctx, user)
	require.NoError(t, err)

	port, err := svc.AllocatePort(ctx, user)
	require.NoError(t, err)

	require.NoError(t, st.Subdomains().Create(ctx, &models.Subdomain{
		UserID:        user.ID,
		Subdomain:     "blog",
		TargetPort:    port,
		SubdomainType: models.SubdomainTypeProject,
		IsActive:      true,
	}))
	require.NoError(t, st.Subdomains().Create(ctx, &models.Subdomain{
		UserID:        user.ID,
		Subdomain:     "wiki",
		TargetPort:    port + 1000,
		SubdomainType: models.SubdomainTypeProject,
		IsActive:      true,
	}))

	require.NoError(t, svc.RemovePort(ctx, user, port))

	subs, err := st.Subdomains().ListByUser(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "wiki", subs[0].Subdomain)

	err = svc.RemovePort(ctx, user, port)
	assert.True(t, apperrors.Is(err, apperrors.KindNotFound))
}

func TestDeleteContainerCascades(t *testing.T) {
	svc, st, _ := setupLifecycle(t, 1000)
	user := gatedUser(t, st, "grace")
	ctx := context.Background()

	container, err := svc.EnsureContainer(ctx, user)
	require.NoError(t, err)

	require.NoError(t, st.Subdomains().Create(ctx, &models.Subdomain{
		UserID:        user.ID,
		Subdomain:     "grace",
		TargetPort:    8080,
		SubdomainType: models.SubdomainTypeUsername,
		IsActive:      true,
	}))

	require.NoError(t, svc.DeleteContainer(ctx, user.ID))

	_, err = st.Containers().Get(ctx, container.ID)
	assert.Error(t, err)

	subs, err := st.Subdomains().ListByUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Empty(t, subs)

	reloaded, err := st.Users().Get(ctx, user.ID)
	require.NoError(t, err)
	assert.Nil(t, reloaded.ContainerID)
}

func TestFailedAgentDeleteLeavesPendingMarker(t *testing.T) {
	svc, st, ag := setupLifecycle(t, 1000)
	user := gatedUser(t, st, "heidi")
	ctx := context.Background()

	container, err := svc.EnsureContainer(ctx, user)
	require.NoError(t, err)

	ag.failDelete = true
	err = svc.DeleteContainer(ctx, user.ID)
	require.True(t, apperrors.Is(err, apperrors.KindUpstream))

	stored, err := st.Containers().Get(ctx, container.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ContainerStatusPendingDelete, stored.Status)

	// Retry finishes the job.
	ag.failDelete = false
	require.NoError(t, svc.DeleteContainer(ctx, user.ID))

	_, err = st.Containers().Get(ctx, container.ID)
	assert.Error(t, err)
}
