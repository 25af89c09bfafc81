package store

import (
	"context"
	"errors"

	"github.com/matheuslanduci/vrdeploy/internal/models"
)

// ErrNotFound indicates the requested entity does not exist or is soft
// deleted.
var ErrNotFound = errors.New("not found")

// DataStore defines the interface for persistent storage of agents,
// versions and deployments. PostgresStore implements it; handler tests
// use an in-memory fake.
type DataStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// Agent operations
	CreateAgent(ctx context.Context, macAddress, os, secretKey string) (*models.Agent, error)
	GetAgentByID(ctx context.Context, id int64) (*models.Agent, error)
	GetAgentBySecretKey(ctx context.Context, secretKey string) (*models.Agent, error)
	ListAgents(ctx context.Context, page, pageSize int) ([]models.Agent, int64, error)
	ListAgentsByIDs(ctx context.Context, ids []int64) ([]models.Agent, error)
	UpdateAgentStatus(ctx context.Context, id int64, status string) (*models.Agent, error)
	SoftDeleteAgent(ctx context.Context, id int64) error

	// Version operations
	GetVersionByID(ctx context.Context, id int64) (*models.Version, error)
	ListVersions(ctx context.Context, page, pageSize int) ([]models.Version, int64, error)

	// Deployment operations
	CreateDeployment(ctx context.Context, idVersion int64, agentIDs []int64) (*models.Deployment, error)
	ListDeployments(ctx context.Context, page, pageSize int) ([]models.Deployment, int64, error)
}
