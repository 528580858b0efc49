// Package storetest provides an in-memory store.Store used by service and
// handler tests. Transactions serialize against each other, mirroring how
// the PostgreSQL implementation arbitrates concurrent writers.
package storetest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/denhq/control-plane/internal/models"
	"github.com/denhq/control-plane/internal/store"
)

// Memory is an in-memory implementation of store.Store.
type Memory struct {
	mu   sync.Mutex
	txMu sync.Mutex

	users      map[int64]*models.User
	nodes      map[int64]*models.Node
	containers map[string]*models.Container
	subdomains map[int64]*models.Subdomain
	questions  map[int64]*models.Question
	exports    map[int64]*models.Export

	nextUserID      int64
	nextNodeID      int64
	nextSubdomainID int64
	nextQuestionID  int64
	nextExportID    int64
}

// New creates an empty in-memory store.
func New() *Memory {
	return &Memory{
		users:      make(map[int64]*models.User),
		nodes:      make(map[int64]*models.Node),
		containers: make(map[string]*models.Container),
		subdomains: make(map[int64]*models.Subdomain),
		questions:  make(map[int64]*models.Question),
		exports:    make(map[int64]*models.Export),
	}
}

func (m *Memory) Users() store.UserStore           { return (*memUsers)(m) }
func (m *Memory) Nodes() store.NodeStore           { return (*memNodes)(m) }
func (m *Memory) Containers() store.ContainerStore { return (*memContainers)(m) }
func (m *Memory) Subdomains() store.SubdomainStore { return (*memSubdomains)(m) }
func (m *Memory) Questions() store.QuestionStore   { return (*memQuestions)(m) }
func (m *Memory) Exports() store.ExportStore       { return (*memExports)(m) }

// WithTx serializes the function against all other transactions.
func (m *Memory) WithTx(ctx context.Context, fn func(store.Store) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	return fn(m)
}

func (m *Memory) Close() error { return nil }

func copyUser(u *models.User) *models.User {
	c := *u
	if u.AssignedQuestions != nil {
		c.AssignedQuestions = append([]int64(nil), u.AssignedQuestions...)
	}
	return &c
}

func copyNode(n *models.Node) *models.Node {
	c := *n
	return &c
}

func copyContainer(cn *models.Container) *models.Container {
	c := *cn
	if cn.AllocatedPorts != nil {
		c.AllocatedPorts = append([]int(nil), cn.AllocatedPorts...)
	}
	return &c
}

func copySubdomain(s *models.Subdomain) *models.Subdomain {
	c := *s
	return &c
}

func copyQuestion(q *models.Question) *models.Question {
	c := *q
	return &c
}

func copyExport(e *models.Export) *models.Export {
	c := *e
	return &c
}

// memUsers implements store.UserStore.
type memUsers Memory

func (m *memUsers) Create(ctx context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.users {
		if existing.Username == user.Username {
			return store.ErrDuplicate
		}
	}

	m.nextUserID++
	user.ID = m.nextUserID
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	m.users[user.ID] = copyUser(user)
	return nil
}

func (m *memUsers) Get(ctx context.Context, id int64) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyUser(u), nil
}

func (m *memUsers) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if u.Username == username {
			return copyUser(u), nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memUsers) List(ctx context.Context) ([]*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	users := make([]*models.User, 0, len(m.users))
	for _, u := range m.users {
		users = append(users, copyUser(u))
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID > users[j].ID })
	return users, nil
}

func (m *memUsers) Delete(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.users, id)
	return nil
}

func (m *memUsers) update(id int64, fn func(*models.User)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return store.ErrNotFound
	}
	fn(u)
	u.UpdatedAt = time.Now()
	return nil
}

func (m *memUsers) SetAcceptance(ctx context.Context, id int64) error {
	return m.update(id, func(u *models.User) {
		u.AgreedToTOS = true
		u.AgreedToPrivacy = true
	})
}

func (m *memUsers) SetAssignedQuestions(ctx context.Context, id int64, questionIDs []int64) error {
	ids := append([]int64(nil), questionIDs...)
	return m.update(id, func(u *models.User) {
		u.AssignedQuestions = ids
	})
}

func (m *memUsers) SetContainer(ctx context.Context, id int64, containerID *string) error {
	return m.update(id, func(u *models.User) {
		u.ContainerID = containerID
	})
}

func (m *memUsers) SetSSHPassword(ctx context.Context, id int64, hash string) error {
	return m.update(id, func(u *models.User) {
		u.SSHPasswordHash = &hash
		u.SSHPublicKey = nil
	})
}

func (m *memUsers) SetSSHPublicKey(ctx context.Context, id int64, key string) error {
	return m.update(id, func(u *models.User) {
		u.SSHPublicKey = &key
		u.SSHPasswordHash = nil
	})
}

// memNodes implements store.NodeStore.
type memNodes Memory

func (m *memNodes) Create(ctx context.Context, node *models.Node) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.nodes {
		if existing.Hostname == node.Hostname {
			return store.ErrDuplicate
		}
	}

	m.nextNodeID++
	node.ID = m.nextNodeID
	node.CreatedAt = time.Now()
	node.UpdatedAt = node.CreatedAt
	m.nodes[node.ID] = copyNode(node)
	return nil
}

func (m *memNodes) Get(ctx context.Context, id int64) (*models.Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.nodes[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyNode(n), nil
}

func (m *memNodes) List(ctx context.Context) ([]*models.Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	nodes := make([]*models.Node, 0, len(m.nodes))
	for _, n := range m.nodes {
		nodes = append(nodes, copyNode(n))
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID > nodes[j].ID })
	return nodes, nil
}

func (m *memNodes) UpdateToken(ctx context.Context, id int64, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.nodes[id]
	if !ok {
		return store.ErrNotFound
	}
	n.Token = token
	n.UpdatedAt = time.Now()
	return nil
}

func (m *memNodes) Touch(ctx context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.nodes[id]
	if !ok {
		return store.ErrNotFound
	}
	t := at.UTC()
	n.LastSeen = &t
	n.UpdatedAt = time.Now()
	return nil
}

func (m *memNodes) Delete(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.nodes[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.nodes, id)
	return nil
}

// memContainers implements store.ContainerStore.
type memContainers Memory

func (m *memContainers) Create(ctx context.Context, container *models.Container) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.containers[container.ID]; ok {
		return store.ErrDuplicate
	}
	for _, existing := range m.containers {
		if existing.UserID == container.UserID {
			return store.ErrDuplicate
		}
	}

	container.CreatedAt = time.Now()
	container.UpdatedAt = container.CreatedAt
	m.containers[container.ID] = copyContainer(container)
	return nil
}

func (m *memContainers) Get(ctx context.Context, id string) (*models.Container, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.containers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyContainer(c), nil
}

func (m *memContainers) GetByUser(ctx context.Context, userID int64) (*models.Container, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range m.containers {
		if c.UserID == userID {
			return copyContainer(c), nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memContainers) ListByNode(ctx context.Context, nodeID int64) ([]*models.Container, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var containers []*models.Container
	for _, c := range m.containers {
		if c.NodeID == nodeID {
			containers = append(containers, copyContainer(c))
		}
	}
	sort.Slice(containers, func(i, j int) bool { return containers[i].ID < containers[j].ID })
	return containers, nil
}

func (m *memContainers) ListByStatus(ctx context.Context, status string) ([]*models.Container, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var containers []*models.Container
	for _, c := range m.containers {
		if c.Status == status {
			containers = append(containers, copyContainer(c))
		}
	}
	sort.Slice(containers, func(i, j int) bool {
		return containers[i].CreatedAt.Before(containers[j].CreatedAt)
	})
	return containers, nil
}

func (m *memContainers) update(id string, fn func(*models.Container)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.containers[id]
	if !ok {
		return store.ErrNotFound
	}
	fn(c)
	c.UpdatedAt = time.Now()
	return nil
}

func (m *memContainers) UpdateStatus(ctx context.Context, id string, status string) error {
	return m.update(id, func(c *models.Container) {
		c.Status = status
	})
}

func (m *memContainers) Finalize(ctx context.Context, id string, name, ip string, sshPort int) error {
	return m.update(id, func(c *models.Container) {
		c.Name = name
		c.IPAddress = &ip
		c.SSHPort = sshPort
		c.Status = models.ContainerStatusRunning
	})
}

func (m *memContainers) AddPort(ctx context.Context, id string, port int) error {
	return m.update(id, func(c *models.Container) {
		c.AllocatedPorts = append(c.AllocatedPorts, port)
	})
}

func (m *memContainers) RemovePort(ctx context.Context, id string, port int) error {
	return m.update(id, func(c *models.Container) {
		ports := c.AllocatedPorts[:0]
		for _, p := range c.AllocatedPorts {
			if p != port {
				ports = append(ports, p)
			}
		}
		c.AllocatedPorts = ports
	})
}

func (m *memContainers) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.containers[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.containers, id)
	return nil
}

// memSubdomains implements store.SubdomainStore.
type memSubdomains Memory

func (m *memSubdomains) Create(ctx context.Context, sub *models.Subdomain) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.subdomains {
		if existing.Subdomain == sub.Subdomain {
			return store.ErrDuplicate
		}
	}

	m.nextSubdomainID++
	sub.ID = m.nextSubdomainID
	sub.CreatedAt = time.Now()
	sub.UpdatedAt = sub.CreatedAt
	m.subdomains[sub.ID] = copySubdomain(sub)
	return nil
}

func (m *memSubdomains) Get(ctx context.Context, id int64) (*models.Subdomain, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.subdomains[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copySubdomain(s), nil
}

func (m *memSubdomains) GetByName(ctx context.Context, name string) (*models.Subdomain, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.subdomains {
		if s.Subdomain == name {
			return copySubdomain(s), nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memSubdomains) ListByUser(ctx context.Context, userID int64) ([]*models.Subdomain, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var subs []*models.Subdomain
	for _, s := range m.subdomains {
		if s.UserID == userID {
			subs = append(subs, copySubdomain(s))
		}
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].ID > subs[j].ID })
	return subs, nil
}

func (m *memSubdomains) Delete(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.subdomains[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.subdomains, id)
	return nil
}

func (m *memSubdomains) DeleteByUser(ctx context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, s := range m.subdomains {
		if s.UserID == userID {
			delete(m.subdomains, id)
		}
	}
	return nil
}

func (m *memSubdomains) DeleteByPort(ctx context.Context, userID int64, port int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, s := range m.subdomains {
		if s.UserID == userID && s.TargetPort == port {
			delete(m.subdomains, id)
		}
	}
	return nil
}

// memQuestions implements store.QuestionStore.
type memQuestions Memory

func (m *memQuestions) Create(ctx context.Context, q *models.Question) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextQuestionID++
	q.ID = m.nextQuestionID
	q.CreatedAt = time.Now()
	q.UpdatedAt = q.CreatedAt
	m.questions[q.ID] = copyQuestion(q)
	return nil
}

func (m *memQuestions) ListActive(ctx context.Context) ([]*models.Question, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var questions []*models.Question
	for _, q := range m.questions {
		if q.IsActive {
			questions = append(questions, copyQuestion(q))
		}
	}
	sort.Slice(questions, func(i, j int) bool { return questions[i].ID < questions[j].ID })
	return questions, nil
}

func (m *memQuestions) GetByIDs(ctx context.Context, ids []int64) ([]*models.Question, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var questions []*models.Question
	for _, id := range ids {
		if q, ok := m.questions[id]; ok && q.IsActive {
			questions = append(questions, copyQuestion(q))
		}
	}
	sort.Slice(questions, func(i, j int) bool { return questions[i].ID < questions[j].ID })
	return questions, nil
}

func (m *memQuestions) Count(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.questions), nil
}

// memExports implements store.ExportStore.
type memExports Memory

func (m *memExports) Create(ctx context.Context, export *models.Export) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextExportID++
	export.ID = m.nextExportID
	export.CreatedAt = time.Now()
	export.UpdatedAt = export.CreatedAt
	m.exports[export.ID] = copyExport(export)
	return nil
}

func (m *memExports) Get(ctx context.Context, id int64) (*models.Export, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.exports[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyExport(e), nil
}

func (m *memExports) SetStatus(ctx context.Context, id int64, status string, errMsg *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.exports[id]
	if !ok {
		return store.ErrNotFound
	}
	e.Status = status
	e.Error = errMsg
	e.UpdatedAt = time.Now()
	return nil
}

func (m *memExports) SetComplete(ctx context.Context, id int64, downloadURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.exports[id]
	if !ok {
		return store.ErrNotFound
	}
	e.Status = models.ExportStatusComplete
	e.DownloadURL = &downloadURL
	e.Error = nil
	e.UpdatedAt = time.Now()
	return nil
}
