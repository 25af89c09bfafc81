package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// migrations are applied in order. Each entry runs at most once; applied
// versions are tracked in the schema_migrations table.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS agente (
		id BIGSERIAL PRIMARY KEY,
		id_pdv BIGINT,
		endereco_mac CHAR(17) NOT NULL,
		sistema_operacional VARCHAR(255) NOT NULL,
		ativo BOOLEAN NOT NULL DEFAULT TRUE,
		situacao VARCHAR(32) NOT NULL DEFAULT 'pendente',
		chave_secreta CHAR(48) NOT NULL UNIQUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		deleted_at TIMESTAMPTZ
	)`,

	`CREATE TABLE IF NOT EXISTS versao (
		id BIGSERIAL PRIMARY KEY,
		semver VARCHAR(64) NOT NULL,
		descricao TEXT NOT NULL DEFAULT '',
		storage_key VARCHAR(255) NOT NULL,
		manifest JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		deleted_at TIMESTAMPTZ
	)`,

	`CREATE TABLE IF NOT EXISTS implantacao (
		id BIGSERIAL PRIMARY KEY,
		id_versao BIGINT NOT NULL REFERENCES versao(id),
		status VARCHAR(32) NOT NULL DEFAULT 'em_andamento',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		deleted_at TIMESTAMPTZ
	)`,

	`CREATE TABLE IF NOT EXISTS implantacao_agente (
		id BIGSERIAL PRIMARY KEY,
		id_implantacao BIGINT NOT NULL REFERENCES implantacao(id),
		id_agente BIGINT NOT NULL REFERENCES agente(id),
		status VARCHAR(32) NOT NULL DEFAULT 'em_andamento',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		deleted_at TIMESTAMPTZ
	)`,

	`CREATE INDEX IF NOT EXISTS idx_agente_chave_secreta ON agente(chave_secreta)`,
	`CREATE INDEX IF NOT EXISTS idx_agente_situacao ON agente(situacao)`,
	`CREATE INDEX IF NOT EXISTS idx_implantacao_agente_implantacao ON implantacao_agente(id_implantacao)`,
}

// RunMigrations applies pending schema migrations against the database.
func RunMigrations(databaseURL string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	conn, err := pgx.Connect(ctx, databaseURL)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)

	_, err = conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	if err != nil {
		return err
	}

	for i, stmt := range migrations {
		version := i + 1

		var applied bool
		err := conn.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)`,
			version,
		).Scan(&applied)
		if err != nil {
			return err
		}
		if applied {
			continue
		}

		if _, err := conn.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", version, err)
		}
		if _, err := conn.Exec(ctx,
			`INSERT INTO schema_migrations (version) VALUES ($1)`,
			version,
		); err != nil {
			return err
		}
	}

	return nil
}
