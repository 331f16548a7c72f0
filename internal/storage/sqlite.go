package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/apetrenko/keyfort/internal/storage/migrations"
)

// SQLiteManager backs the vault with a local SQLite file through the pure
// Go modernc driver. This is the default backend for single-host setups.
type SQLiteManager struct {
	db *sql.DB
}

// NewSQLiteManager opens (or creates) an SQLite database. The schema is not
// touched; call Migrate.
func NewSQLiteManager(dsn string) (*SQLiteManager, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	// SQLite allows one writer; a small pool avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)
	return &SQLiteManager{db: db}, nil
}

func (m *SQLiteManager) Conn() *sql.DB {
	return m.db
}

func (m *SQLiteManager) Rebind(query string) string {
	return query
}

func (m *SQLiteManager) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("migration error: %w", err)
	}
	if err := goose.UpContext(ctx, m.db, "sqlite"); err != nil {
		return fmt.Errorf("migration error: %w", err)
	}
	return nil
}

func (m *SQLiteManager) Close() error {
	return m.db.Close()
}
