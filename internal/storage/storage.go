// Package storage opens the vault database and keeps the schema current.
// Two backends are supported: PostgreSQL (pgx) and SQLite (modernc, pure
// Go). Migrations are embedded and applied with goose.
//
// Vault queries are written with '?' placeholders; Rebind translates them
// to the backend's placeholder style.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
)

// Manager is one opened vault database.
type Manager interface {
	// Conn returns the underlying connection pool.
	Conn() *sql.DB

	// Rebind rewrites '?' placeholders into the backend's style.
	Rebind(query string) string

	// Migrate applies all pending schema migrations.
	Migrate(ctx context.Context) error

	Close() error
}

// New opens a database for the given driver ("postgres" or "sqlite").
func New(driver, dsn string) (Manager, error) {
	switch driver {
	case "postgres":
		return NewPostgresManager(dsn)
	case "sqlite":
		return NewSQLiteManager(dsn)
	}
	return nil, fmt.Errorf("unknown database driver %q", driver)
}

// rebindDollar rewrites '?' placeholders to numbered '$N' ones. Queries
// never contain a literal question mark.
func rebindDollar(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] != '?' {
			b.WriteByte(query[i])
			continue
		}
		n++
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(n))
	}
	return b.String()
}
