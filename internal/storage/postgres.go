package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/apetrenko/keyfort/internal/storage/migrations"
)

// PostgresManager backs the vault with PostgreSQL through the pgx stdlib
// driver.
type PostgresManager struct {
	db *sql.DB
}

// NewPostgresManager opens a PostgreSQL connection pool. The schema is not
// touched; call Migrate.
func NewPostgresManager(dsn string) (*PostgresManager, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	return &PostgresManager{db: db}, nil
}

func (m *PostgresManager) Conn() *sql.DB {
	return m.db
}

func (m *PostgresManager) Rebind(query string) string {
	return rebindDollar(query)
}

func (m *PostgresManager) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return fmt.Errorf("migration error: %w", err)
	}
	if err := goose.UpContext(ctx, m.db, "postgres"); err != nil {
		return fmt.Errorf("migration error: %w", err)
	}
	return nil
}

func (m *PostgresManager) Close() error {
	return m.db.Close()
}
