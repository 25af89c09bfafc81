package handlers

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/matheuslanduci/vrdeploy/internal/models"
	"github.com/matheuslanduci/vrdeploy/internal/pubsub"
	"github.com/matheuslanduci/vrdeploy/internal/store"
)

// fakeDB is an in-memory DataStore for handler tests. Each entity has its
// own id sequence, like separate bigserial columns.
type fakeDB struct {
	mu               sync.Mutex
	agents           map[int64]*models.Agent
	versions         map[int64]*models.Version
	deployments      []models.Deployment
	nextAgentID      int64
	nextVersionID    int64
	nextDeploymentID int64
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		agents:           make(map[int64]*models.Agent),
		versions:         make(map[int64]*models.Version),
		nextAgentID:      1,
		nextVersionID:    1,
		nextDeploymentID: 1,
	}
}

func (f *fakeDB) addAgent(agent models.Agent) *models.Agent {
	f.mu.Lock()
	defer f.mu.Unlock()
	if agent.ID == 0 {
		agent.ID = f.nextAgentID
		f.nextAgentID++
	}
	f.agents[agent.ID] = &agent
	return &agent
}

func (f *fakeDB) addVersion(version models.Version) *models.Version {
	f.mu.Lock()
	defer f.mu.Unlock()
	if version.ID == 0 {
		version.ID = f.nextVersionID
		f.nextVersionID++
	}
	f.versions[version.ID] = &version
	return &version
}

func (f *fakeDB) Close() {}

func (f *fakeDB) Ping(ctx context.Context) error { return nil }

func (f *fakeDB) CreateAgent(ctx context.Context, macAddress, os, secretKey string) (*models.Agent, error) {
	return f.addAgent(models.Agent{
		MACAddress: macAddress,
		OS:         os,
		SecretKey:  secretKey,
		Active:     true,
		Status:     models.AgentPending,
	}), nil
}

func (f *fakeDB) GetAgentByID(ctx context.Context, id int64) (*models.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	agent, ok := f.agents[id]
	if !ok || agent.DeletedAt != nil {
		return nil, store.ErrNotFound
	}
	copied := *agent
	return &copied, nil
}

func (f *fakeDB) GetAgentBySecretKey(ctx context.Context, secretKey string) (*models.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, agent := range f.agents {
		if agent.SecretKey == secretKey && agent.DeletedAt == nil {
			copied := *agent
			return &copied, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeDB) ListAgents(ctx context.Context, page, pageSize int) ([]models.Agent, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	agents := make([]models.Agent, 0, len(f.agents))
	for _, agent := range f.agents {
		if agent.DeletedAt == nil {
			agents = append(agents, *agent)
		}
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].ID < agents[j].ID })
	return agents, int64(len(agents)), nil
}

func (f *fakeDB) ListAgentsByIDs(ctx context.Context, ids []int64) ([]models.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	agents := make([]models.Agent, 0, len(ids))
	for _, id := range ids {
		if agent, ok := f.agents[id]; ok && agent.DeletedAt == nil {
			agents = append(agents, *agent)
		}
	}
	return agents, nil
}

func (f *fakeDB) UpdateAgentStatus(ctx context.Context, id int64, status string) (*models.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	agent, ok := f.agents[id]
	if !ok || agent.DeletedAt != nil {
		return nil, store.ErrNotFound
	}
	agent.Status = status
	copied := *agent
	return &copied, nil
}

func (f *fakeDB) SoftDeleteAgent(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	agent, ok := f.agents[id]
	if !ok || agent.DeletedAt != nil {
		return store.ErrNotFound
	}
	now := agent.UpdatedAt
	agent.DeletedAt = &now
	return nil
}

func (f *fakeDB) GetVersionByID(ctx context.Context, id int64) (*models.Version, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	version, ok := f.versions[id]
	if !ok || version.DeletedAt != nil {
		return nil, store.ErrNotFound
	}
	copied := *version
	return &copied, nil
}

func (f *fakeDB) ListVersions(ctx context.Context, page, pageSize int) ([]models.Version, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	versions := make([]models.Version, 0, len(f.versions))
	for _, version := range f.versions {
		if version.DeletedAt == nil {
			versions = append(versions, *version)
		}
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i].ID < versions[j].ID })
	return versions, int64(len(versions)), nil
}

func (f *fakeDB) CreateDeployment(ctx context.Context, idVersion int64, agentIDs []int64) (*models.Deployment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	deployment := models.Deployment{
		ID:        f.nextDeploymentID,
		IDVersion: idVersion,
		Status:    models.DeploymentInProgress,
	}
	f.nextDeploymentID++
	f.deployments = append(f.deployments, deployment)
	return &deployment, nil
}

func (f *fakeDB) ListDeployments(ctx context.Context, page, pageSize int) ([]models.Deployment, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	deployments := make([]models.Deployment, len(f.deployments))
	copy(deployments, f.deployments)
	return deployments, int64(len(deployments)), nil
}

// fakePresence reports a fixed set of agents as online.
type fakePresence struct {
	online map[int64]bool
}

func (f *fakePresence) IsAgentOnline(ctx context.Context, agentID int64) bool {
	return f.online[agentID]
}

// fakeBus records published messages.
type fakeBus struct {
	mu        sync.Mutex
	published []publishedMessage
}

type publishedMessage struct {
	topic   string
	payload string
}

func (f *fakeBus) Publish(ctx context.Context, topic, payload string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, publishedMessage{topic, payload})
	return nil
}

func (f *fakeBus) Subscribe(topic string, fn pubsub.MessageHandler) (pubsub.Subscription, error) {
	return nil, fmt.Errorf("not implemented")
}

func (f *fakeBus) messages() []publishedMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]publishedMessage, len(f.published))
	copy(out, f.published)
	return out
}

// fakeSigner returns predictable URLs.
type fakeSigner struct{}

func (fakeSigner) PresignDownload(ctx context.Context, key string) (string, error) {
	return "https://storage.example/" + key + "?signed", nil
}

// fakeSessions records created terminal sessions.
type fakeSessions struct {
	mu      sync.Mutex
	created []string
}

func (f *fakeSessions) CreateTerminalSession(ctx context.Context, sessionID, userID string, agentID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, sessionID)
	return nil
}

// testHandler wires a Handler with fakes for direct endpoint tests.
type testHandler struct {
	*Handler
	db       *fakeDB
	presence *fakePresence
	bus      *fakeBus
	sessions *fakeSessions
}

func newTestHandler() *testHandler {
	db := newFakeDB()
	presence := &fakePresence{online: make(map[int64]bool)}
	bus := &fakeBus{}
	sessions := &fakeSessions{}

	return &testHandler{
		Handler: &Handler{
			db:       db,
			presence: presence,
			sessions: sessions,
			bus:      bus,
			signer:   fakeSigner{},
			logger:   zerolog.Nop(),
		},
		db:       db,
		presence: presence,
		bus:      bus,
		sessions: sessions,
	}
}
