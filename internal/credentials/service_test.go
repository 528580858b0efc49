package credentials

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/ssh"

	"github.com/denhq/control-plane/internal/agent"
	"github.com/denhq/control-plane/internal/apperrors"
	"github.com/denhq/control-plane/internal/models"
	"github.com/denhq/control-plane/internal/store/storetest"
)

type fakeAgent struct {
	mu    sync.Mutex
	creds []agent.Credential
	fail  bool
}

func (f *fakeAgent) CreateContainer(ctx context.Context, node *models.Node, userID int64, username string) (*agent.ContainerInfo, error) {
	return nil, nil
}

func (f *fakeAgent) DeleteContainer(ctx context.Context, node *models.Node, containerID string) error {
	return nil
}

func (f *fakeAgent) AllocatePort(ctx context.Context, node *models.Node, containerID string) (int, error) {
	return 0, nil
}

func (f *fakeAgent) ApplyCredential(ctx context.Context, node *models.Node, cred agent.Credential) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return apperrors.Upstream("node agent unreachable")
	}
	f.creds = append(f.creds, cred)
	return nil
}

func (f *fakeAgent) ExportFilesystem(ctx context.Context, node *models.Node, containerID, putURL string) error {
	return nil
}

func testPublicKey(t *testing.T) string {
	t.Helper()

	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	sshPub, err := ssh.NewPublicKey(pub)
	require.NoError(t, err)
	return strings.TrimSpace(string(ssh.MarshalAuthorizedKey(sshPub)))
}

func setup(t *testing.T) (*Service, *storetest.Memory, *fakeAgent, *models.User) {
	t.Helper()

	st := storetest.New()
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, st.Nodes().Create(ctx, &models.Node{
		Name:         "node-1",
		Hostname:     "node1.internal",
		MaxMemoryMB:  1 << 20,
		MaxCPUCores:  1 << 10,
		MaxStorageGB: 1000,
		LastSeen:     &now,
	}))

	user := &models.User{
		Username:        "alice",
		Email:           "alice@example.com",
		AgreedToTOS:     true,
		AgreedToPrivacy: true,
	}
	require.NoError(t, st.Users().Create(ctx, user))

	containerID := "den-alice"
	require.NoError(t, st.Containers().Create(ctx, &models.Container{
		ID:     containerID,
		UserID: user.ID,
		NodeID: 1,
		Status: models.ContainerStatusRunning,
	}))
	require.NoError(t, st.Users().SetContainer(ctx, user.ID, &containerID))
	user.ContainerID = &containerID

	ag := &fakeAgent{}
	return NewService(st, ag, nil), st, ag, user
}

func TestSetPassword(t *testing.T) {
	svc, st, ag, user := setup(t)
	ctx := context.Background()

	require.NoError(t, svc.Set(ctx, user, SetInput{Password: "correct horse battery"}))

	require.Len(t, ag.creds, 1)
	assert.Equal(t, "den-alice", ag.creds[0].ContainerID)
	assert.Equal(t, "alice", ag.creds[0].Username)
	assert.Equal(t, "correct horse battery", ag.creds[0].Password)
	assert.Empty(t, ag.creds[0].PublicKey)

	stored, err := st.Users().Get(ctx, user.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.SSHPasswordHash)
	assert.Nil(t, stored.SSHPublicKey)
	assert.NotContains(t, *stored.SSHPasswordHash, "correct horse battery")
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(*stored.SSHPasswordHash), []byte("correct horse battery")))
}

func TestSetPublicKey(t *testing.T) {
	svc, st, ag, user := setup(t)
	ctx := context.Background()
	key := testPublicKey(t)

	require.NoError(t, svc.Set(ctx, user, SetInput{PublicKey: key}))

	require.Len(t, ag.creds, 1)
	assert.Equal(t, key, ag.creds[0].PublicKey)
	assert.Empty(t, ag.creds[0].Password)

	stored, err := st.Users().Get(ctx, user.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.SSHPublicKey)
	assert.Equal(t, key, *stored.SSHPublicKey)
	assert.Nil(t, stored.SSHPasswordHash)
}

func TestCredentialsAreMutuallyExclusive(t *testing.T) {
	svc, st, _, user := setup(t)
	ctx := context.Background()

	require.NoError(t, svc.Set(ctx, user, SetInput{Password: "hunter22hunter22"}))
	require.NoError(t, svc.Set(ctx, user, SetInput{PublicKey: testPublicKey(t)}))

	stored, err := st.Users().Get(ctx, user.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.SSHPublicKey)
	assert.Nil(t, stored.SSHPasswordHash, "setting a key must clear the password")

	require.NoError(t, svc.Set(ctx, user, SetInput{Password: "hunter22hunter22"}))
	stored, err = st.Users().Get(ctx, user.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.SSHPasswordHash)
	assert.Nil(t, stored.SSHPublicKey, "setting a password must clear the key")
}

func TestSetValidation(t *testing.T) {
	svc, _, _, user := setup(t)
	ctx := context.Background()

	cases := []struct {
		name  string
		input SetInput
	}{
		{"empty", SetInput{}},
		{"both", SetInput{Password: "longenough1", PublicKey: testPublicKey(t)}},
		{"short password", SetInput{Password: "short"}},
		{"garbage key", SetInput{PublicKey: "ssh-rsa not-a-key"}},
		{"whitespace only password", SetInput{Password: "         "}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := svc.Set(ctx, user, tc.input)
			assert.True(t, apperrors.Is(err, apperrors.KindValidation), "got %v", err)
		})
	}
}

func TestSetRequiresGate(t *testing.T) {
	svc, st, ag, _ := setup(t)
	ctx := context.Background()

	ungated := &models.User{Username: "mallory", Email: "m@example.com"}
	require.NoError(t, st.Users().Create(ctx, ungated))

	err := svc.Set(ctx, ungated, SetInput{Password: "longenough1"})
	assert.True(t, apperrors.Is(err, apperrors.KindGate))
	assert.Empty(t, ag.creds)
}

func TestSetWithoutContainer(t *testing.T) {
	svc, st, _, _ := setup(t)
	ctx := context.Background()

	other := &models.User{
		Username:        "bob",
		Email:           "bob@example.com",
		AgreedToTOS:     true,
		AgreedToPrivacy: true,
	}
	require.NoError(t, st.Users().Create(ctx, other))

	err := svc.Set(ctx, other, SetInput{Password: "longenough1"})
	assert.True(t, apperrors.Is(err, apperrors.KindNotFound))
}

func TestAgentFailureLeavesStoredCredentialUntouched(t *testing.T) {
	svc, st, ag, user := setup(t)
	ctx := context.Background()

	require.NoError(t, svc.Set(ctx, user, SetInput{Password: "originalpass1"}))
	before, err := st.Users().Get(ctx, user.ID)
	require.NoError(t, err)

	ag.fail = true
	err = svc.Set(ctx, user, SetInput{Password: "replacement1"})
	require.True(t, apperrors.Is(err, apperrors.KindUpstream))

	after, err := st.Users().Get(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, before.SSHPasswordHash, after.SSHPasswordHash)
}
