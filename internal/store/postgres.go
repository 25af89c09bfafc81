package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/matheuslanduci/vrdeploy/internal/models"
)

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const agentColumns = `id, id_pdv, endereco_mac, sistema_operacional, ativo, situacao, chave_secreta, created_at, updated_at, deleted_at`

func scanAgent(row pgx.Row) (*models.Agent, error) {
	var agent models.Agent
	err := row.Scan(
		&agent.ID,
		&agent.IDPdv,
		&agent.MACAddress,
		&agent.OS,
		&agent.Active,
		&agent.Status,
		&agent.SecretKey,
		&agent.CreatedAt,
		&agent.UpdatedAt,
		&agent.DeletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &agent, nil
}

// CreateAgent registers a new agent in the pending state.
func (s *PostgresStore) CreateAgent(ctx context.Context, macAddress, os, secretKey string) (*models.Agent, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO agente (endereco_mac, sistema_operacional, situacao, chave_secreta)
		VALUES ($1, $2, $3, $4)
		RETURNING `+agentColumns,
		macAddress, os, models.AgentPending, secretKey,
	)
	return scanAgent(row)
}

// GetAgentByID retrieves an agent by id, excluding soft-deleted rows.
func (s *PostgresStore) GetAgentByID(ctx context.Context, id int64) (*models.Agent, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+agentColumns+` FROM agente
		WHERE id = $1 AND deleted_at IS NULL`,
		id,
	)
	return scanAgent(row)
}

// GetAgentBySecretKey retrieves an agent by its secret key.
func (s *PostgresStore) GetAgentBySecretKey(ctx context.Context, secretKey string) (*models.Agent, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+agentColumns+` FROM agente
		WHERE chave_secreta = $1 AND deleted_at IS NULL`,
		secretKey,
	)
	return scanAgent(row)
}

// ListAgents returns a page of agents and the total count.
func (s *PostgresStore) ListAgents(ctx context.Context, page, pageSize int) ([]models.Agent, int64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+agentColumns+` FROM agente
		WHERE deleted_at IS NULL
		ORDER BY id DESC
		LIMIT $1 OFFSET $2`,
		pageSize, (page-1)*pageSize,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	agents := make([]models.Agent, 0, pageSize)
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, 0, err
		}
		agents = append(agents, *agent)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	var total int64
	err = s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM agente WHERE deleted_at IS NULL`).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	return agents, total, nil
}

// ListAgentsByIDs returns the non-deleted agents matching the given ids.
func (s *PostgresStore) ListAgentsByIDs(ctx context.Context, ids []int64) ([]models.Agent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+agentColumns+` FROM agente
		WHERE id = ANY($1) AND deleted_at IS NULL
		ORDER BY id`,
		ids,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	agents := make([]models.Agent, 0, len(ids))
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, *agent)
	}
	return agents, rows.Err()
}

// UpdateAgentStatus updates the lifecycle state of an agent.
func (s *PostgresStore) UpdateAgentStatus(ctx context.Context, id int64, status string) (*models.Agent, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE agente SET situacao = $2, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING `+agentColumns,
		id, status,
	)
	return scanAgent(row)
}

// SoftDeleteAgent marks an agent as deleted.
func (s *PostgresStore) SoftDeleteAgent(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE agente SET deleted_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL`,
		id,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const versionColumns = `id, semver, descricao, storage_key, manifest, created_at, updated_at, deleted_at`

func scanVersion(row pgx.Row) (*models.Version, error) {
	var version models.Version
	var manifest []byte
	err := row.Scan(
		&version.ID,
		&version.Semver,
		&version.Description,
		&version.StorageKey,
		&manifest,
		&version.CreatedAt,
		&version.UpdatedAt,
		&version.DeletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(manifest, &version.Manifest); err != nil {
		return nil, err
	}
	return &version, nil
}

// GetVersionByID retrieves a version by id, excluding soft-deleted rows.
func (s *PostgresStore) GetVersionByID(ctx context.Context, id int64) (*models.Version, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+versionColumns+` FROM versao
		WHERE id = $1 AND deleted_at IS NULL`,
		id,
	)
	return scanVersion(row)
}

// ListVersions returns a page of versions and the total count.
func (s *PostgresStore) ListVersions(ctx context.Context, page, pageSize int) ([]models.Version, int64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+versionColumns+` FROM versao
		WHERE deleted_at IS NULL
		ORDER BY id DESC
		LIMIT $1 OFFSET $2`,
		pageSize, (page-1)*pageSize,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	versions := make([]models.Version, 0, pageSize)
	for rows.Next() {
		version, err := scanVersion(rows)
		if err != nil {
			return nil, 0, err
		}
		versions = append(versions, *version)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	var total int64
	err = s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM versao WHERE deleted_at IS NULL`).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	return versions, total, nil
}

// CreateDeployment creates a deployment and its per-agent rows in one
// transaction.
func (s *PostgresStore) CreateDeployment(ctx context.Context, idVersion int64, agentIDs []int64) (*models.Deployment, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var deployment models.Deployment
	err = tx.QueryRow(ctx, `
		INSERT INTO implantacao (id_versao, status)
		VALUES ($1, $2)
		RETURNING id, id_versao, status, created_at, updated_at, deleted_at`,
		idVersion, models.DeploymentInProgress,
	).Scan(
		&deployment.ID,
		&deployment.IDVersion,
		&deployment.Status,
		&deployment.CreatedAt,
		&deployment.UpdatedAt,
		&deployment.DeletedAt,
	)
	if err != nil {
		return nil, err
	}

	for _, agentID := range agentIDs {
		_, err := tx.Exec(ctx, `
			INSERT INTO implantacao_agente (id_implantacao, id_agente, status)
			VALUES ($1, $2, $3)`,
			deployment.ID, agentID, models.DeploymentInProgress,
		)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	return &deployment, nil
}

// ListDeployments returns a page of deployments with their versions.
func (s *PostgresStore) ListDeployments(ctx context.Context, page, pageSize int) ([]models.Deployment, int64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT i.id, i.id_versao, i.status, i.created_at, i.updated_at, i.deleted_at,
		       v.id, v.semver, v.descricao, v.storage_key, v.manifest, v.created_at, v.updated_at, v.deleted_at
		FROM implantacao i
		LEFT JOIN versao v ON v.id = i.id_versao
		WHERE i.deleted_at IS NULL
		ORDER BY i.id DESC
		LIMIT $1 OFFSET $2`,
		pageSize, (page-1)*pageSize,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	deployments := make([]models.Deployment, 0, pageSize)
	for rows.Next() {
		var deployment models.Deployment
		var version models.Version
		var manifest []byte

		err := rows.Scan(
			&deployment.ID,
			&deployment.IDVersion,
			&deployment.Status,
			&deployment.CreatedAt,
			&deployment.UpdatedAt,
			&deployment.DeletedAt,
			&version.ID,
			&version.Semver,
			&version.Description,
			&version.StorageKey,
			&manifest,
			&version.CreatedAt,
			&version.UpdatedAt,
			&version.DeletedAt,
		)
		if err != nil {
			return nil, 0, err
		}

		if len(manifest) > 0 {
			if err := json.Unmarshal(manifest, &version.Manifest); err != nil {
				return nil, 0, err
			}
		}
		deployment.Version = &version

		deployments = append(deployments, deployment)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	var total int64
	err = s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM implantacao WHERE deleted_at IS NULL`).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	return deployments, total, nil
}
