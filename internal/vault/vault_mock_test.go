package vault

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apetrenko/keyfort/internal/common"
	"github.com/apetrenko/keyfort/internal/logging"
)

// mockManager satisfies storage.Manager over a sqlmock connection so that
// database failures can be injected.
type mockManager struct {
	db *sql.DB
}

func (m *mockManager) Conn() *sql.DB              { return m.db }
func (m *mockManager) Rebind(query string) string { return query }
func (m *mockManager) Migrate(context.Context) error {
	return nil
}
func (m *mockManager) Close() error { return m.db.Close() }

func setupMockVault(t *testing.T) (*Vault, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	log := logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	return New(log, &mockManager{db: db}), mock
}

func TestGet_DBErrorPropagates(t *testing.T) {
	v, mock := setupMockVault(t)

	dbErr := errors.New("connection reset")
	mock.ExpectQuery(`SELECT USERID, PERMISSIONS, EMAIL, PWDVALID FROM USERS`).
		WithArgs("alice").
		WillReturnError(dbErr)

	_, err := v.Get(context.Background(), "alice", "password")
	require.Error(t, err)
	assert.ErrorIs(t, err, dbErr)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStretchThreshold_BadMetaValue(t *testing.T) {
	v, mock := setupMockVault(t)

	mock.ExpectQuery(`SELECT VALUE FROM META WHERE KEY='STRETCH'`).
		WillReturnRows(sqlmock.NewRows([]string{"VALUE"}).AddRow("not-a-number"))

	_, err := v.StretchThreshold(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad STRETCH value")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckPassword_DBErrorIsNotUnauthorized(t *testing.T) {
	v, mock := setupMockVault(t)

	mock.ExpectQuery(`SELECT USERID, PERMISSIONS, EMAIL, PWDVALID FROM USERS`).
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows([]string{"USERID", "PERMISSIONS", "EMAIL", "PWDVALID"}).
			AddRow(1, PermissionUser, nil, nil))
	mock.ExpectQuery(`SELECT USERNAME, STRETCH, PWDSALT, HASHPWD, PWDVALID FROM USERS`).
		WithArgs(1).
		WillReturnError(errors.New("disk I/O error"))

	_, err := v.Get(context.Background(), "alice", "password")
	require.Error(t, err)
	// Infrastructure failures must stay distinguishable from bad credentials.
	assert.NotErrorIs(t, err, common.ErrUnauthorized)
	assert.Contains(t, err.Error(), "db error")
	assert.NoError(t, mock.ExpectationsWereMet())
}
