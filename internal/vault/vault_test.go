package vault

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apetrenko/keyfort/internal/common"
	"github.com/apetrenko/keyfort/internal/logging"
	"github.com/apetrenko/keyfort/internal/passhash"
	"github.com/apetrenko/keyfort/internal/storage"
)

var dbSeq int

func setupVault(t *testing.T) *Vault {
	t.Helper()
	dbSeq++
	dsn := fmt.Sprintf("file:vault_tests_%d?mode=memory&cache=shared", dbSeq)
	store, err := storage.New("sqlite", dsn)
	require.NoError(t, err)

	log := logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	v := New(log, store)
	t.Cleanup(func() { _ = v.Close() })

	require.NoError(t, v.Install(context.Background(), "admin", "admin-secret"))
	return v
}

func TestInstall_CreatesAdminAndMeta(t *testing.T) {
	ctx := context.Background()
	v := setupVault(t)

	var version string
	require.NoError(t, v.db.QueryRow(`SELECT VALUE FROM META WHERE KEY='VERSION'`).Scan(&version))
	assert.Equal(t, "1", version)

	threshold, err := v.StretchThreshold(ctx)
	require.NoError(t, err)
	assert.Equal(t, passhash.DefaultStretch, threshold)

	admin, err := v.Get(ctx, "admin", "admin-secret")
	require.NoError(t, err)
	assert.True(t, admin.IsAdmin())
}

func TestInstall_KeepsExistingAdminPassword(t *testing.T) {
	ctx := context.Background()
	v := setupVault(t)

	require.NoError(t, v.Install(ctx, "admin", "different-password"))

	_, err := v.Get(ctx, "admin", "admin-secret")
	assert.NoError(t, err, "original admin password must survive reinstall")
	_, err = v.Get(ctx, "admin", "different-password")
	assert.ErrorIs(t, err, common.ErrUnauthorized)
}

func TestGet_UnknownUser(t *testing.T) {
	v := setupVault(t)

	_, err := v.Get(context.Background(), "nobody", "password")
	assert.ErrorIs(t, err, common.ErrUnauthorized)
}

func TestGet_WrongPassword(t *testing.T) {
	ctx := context.Background()
	v := setupVault(t)

	_, err := v.NewUser(ctx, "alice", "alice-secret", 0)
	require.NoError(t, err)

	_, err = v.Get(ctx, "alice", "not-her-password")
	assert.ErrorIs(t, err, common.ErrUnauthorized)
}

func TestGet_StalePassword(t *testing.T) {
	ctx := context.Background()
	v := setupVault(t)

	past := time.Now().Add(-time.Hour).Unix()
	_, err := v.NewUser(ctx, "old", "old-secret", past)
	require.NoError(t, err)

	_, err = v.Get(ctx, "old", "old-secret")
	assert.ErrorIs(t, err, common.ErrUnauthorized)

	future := time.Now().Add(time.Hour).Unix()
	_, err = v.NewUser(ctx, "fresh", "fresh-secret", future)
	require.NoError(t, err)

	_, err = v.Get(ctx, "fresh", "fresh-secret")
	assert.NoError(t, err)
}

func TestNewUser_PasswordNeverStoredClear(t *testing.T) {
	ctx := context.Background()
	v := setupVault(t)

	_, err := v.NewUser(ctx, "alice", "alice-secret", 0)
	require.NoError(t, err)

	var hashpwd, hashkey string
	require.NoError(t, v.db.QueryRow(`SELECT HASHPWD, HASHKEY FROM USERS WHERE USERNAME='alice'`).
		Scan(&hashpwd, &hashkey))
	assert.NotContains(t, hashpwd, "alice-secret")
	assert.NotContains(t, hashkey, "alice-secret")
	assert.NotEqual(t, "invalid", hashkey, "envelope must be written on creation")
}

func TestNewUser_DuplicateRejected(t *testing.T) {
	ctx := context.Background()
	v := setupVault(t)

	_, err := v.NewUser(ctx, "alice", "alice-secret", 0)
	require.NoError(t, err)
	_, err = v.NewUser(ctx, "alice", "other", 0)
	assert.Error(t, err)
}

func TestKey_RoundTrip(t *testing.T) {
	ctx := context.Background()
	v := setupVault(t)

	_, err := v.NewUser(ctx, "alice", "alice-secret", 0)
	require.NoError(t, err)
	alice, err := v.Get(ctx, "alice", "alice-secret")
	require.NoError(t, err)

	key, err := alice.NewKey(ctx, "mail")
	require.NoError(t, err)
	require.NoError(t, key.SetPassword(ctx, "imap-password"))

	got, err := key.Password(ctx)
	require.NoError(t, err)
	assert.Equal(t, "imap-password", got)

	// The stored value is encrypted.
	var stored string
	require.NoError(t, v.db.QueryRow(`SELECT VALUE FROM KEYS WHERE KEYID=?`, key.id).Scan(&stored))
	assert.NotContains(t, stored, "imap-password")
}

func TestKey_UnsetValue(t *testing.T) {
	ctx := context.Background()
	v := setupVault(t)

	_, err := v.NewUser(ctx, "alice", "alice-secret", 0)
	require.NoError(t, err)
	alice, err := v.Get(ctx, "alice", "alice-secret")
	require.NoError(t, err)

	key, err := alice.NewKey(ctx, "empty")
	require.NoError(t, err)

	_, err = key.Password(ctx)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestKey_NotFound(t *testing.T) {
	ctx := context.Background()
	v := setupVault(t)

	_, err := v.NewUser(ctx, "alice", "alice-secret", 0)
	require.NoError(t, err)
	alice, err := v.Get(ctx, "alice", "alice-secret")
	require.NoError(t, err)

	_, err = alice.Key(ctx, "nonexistent")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestKeys_ListsNames(t *testing.T) {
	ctx := context.Background()
	v := setupVault(t)

	_, err := v.NewUser(ctx, "alice", "alice-secret", 0)
	require.NoError(t, err)
	alice, err := v.Get(ctx, "alice", "alice-secret")
	require.NoError(t, err)

	for _, name := range []string{"mail", "bank", "forum"} {
		_, err := alice.NewKey(ctx, name)
		require.NoError(t, err)
	}

	names, err := alice.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"bank", "forum", "mail"}, names)
}

func TestAdmin_CannotAccessKeys(t *testing.T) {
	ctx := context.Background()
	v := setupVault(t)

	admin, err := v.Get(ctx, "admin", "admin-secret")
	require.NoError(t, err)

	_, err = admin.NewKey(ctx, "nope")
	assert.ErrorIs(t, err, common.ErrPermissionDenied)
	_, err = admin.Keys(ctx)
	assert.ErrorIs(t, err, common.ErrPermissionDenied)
}

func TestSetPassword_RewrapsEnvelope(t *testing.T) {
	ctx := context.Background()
	v := setupVault(t)

	_, err := v.NewUser(ctx, "alice", "first-secret", 0)
	require.NoError(t, err)
	alice, err := v.Get(ctx, "alice", "first-secret")
	require.NoError(t, err)

	key, err := alice.NewKey(ctx, "mail")
	require.NoError(t, err)
	require.NoError(t, key.SetPassword(ctx, "imap-password"))

	require.NoError(t, alice.SetPassword(ctx, "second-secret", 0))

	_, err = v.Get(ctx, "alice", "first-secret")
	assert.ErrorIs(t, err, common.ErrUnauthorized)

	// Fresh vault over the same database: no cached symmetric key.
	v2 := New(v.log, v.store)
	alice2, err := v2.Get(ctx, "alice", "second-secret")
	require.NoError(t, err)

	key2, err := alice2.Key(ctx, "mail")
	require.NoError(t, err)
	got, err := key2.Password(ctx)
	require.NoError(t, err)
	assert.Equal(t, "imap-password", got, "stored values must survive a password change")
}

func TestSetEmail(t *testing.T) {
	ctx := context.Background()
	v := setupVault(t)

	_, err := v.NewUser(ctx, "alice", "alice-secret", 0)
	require.NoError(t, err)
	alice, err := v.Get(ctx, "alice", "alice-secret")
	require.NoError(t, err)

	require.NoError(t, alice.SetEmail(ctx, "alice@example.com"))
	assert.Equal(t, "alice@example.com", alice.Email())

	var email string
	require.NoError(t, v.db.QueryRow(`SELECT EMAIL FROM USERS WHERE USERNAME='alice'`).Scan(&email))
	assert.Equal(t, "alice@example.com", email)
}

func TestTags_SetAndReplace(t *testing.T) {
	ctx := context.Background()
	v := setupVault(t)

	_, err := v.NewUser(ctx, "alice", "alice-secret", 0)
	require.NoError(t, err)
	alice, err := v.Get(ctx, "alice", "alice-secret")
	require.NoError(t, err)

	key, err := alice.NewKey(ctx, "mail")
	require.NoError(t, err)

	_, _, err = key.Tag(ctx)
	assert.ErrorIs(t, err, common.ErrNotFound)

	require.NoError(t, key.SetTag(ctx, "url", "imap.example.com"))
	name, value, err := key.Tag(ctx)
	require.NoError(t, err)
	assert.Equal(t, "url", name)
	assert.Equal(t, "imap.example.com", value)

	require.NoError(t, key.SetTag(ctx, "note", "work account"))
	name, value, err = key.Tag(ctx)
	require.NoError(t, err)
	assert.Equal(t, "note", name)
	assert.Equal(t, "work account", value)
}

func TestCheckPassword_UpgradesStretch(t *testing.T) {
	ctx := context.Background()
	v := setupVault(t)

	_, err := v.NewUser(ctx, "alice", "alice-secret", 0)
	require.NoError(t, err)

	var saltBefore string
	var stretchBefore uint64
	require.NoError(t, v.db.QueryRow(`SELECT PWDSALT, STRETCH FROM USERS WHERE USERNAME='alice'`).
		Scan(&saltBefore, &stretchBefore))
	assert.Equal(t, passhash.DefaultStretch, stretchBefore)

	require.NoError(t, v.SetStretchThreshold(ctx, passhash.DefaultStretch+1024))

	_, err = v.Get(ctx, "alice", "alice-secret")
	require.NoError(t, err)

	var saltAfter string
	var stretchAfter uint64
	require.NoError(t, v.db.QueryRow(`SELECT PWDSALT, STRETCH FROM USERS WHERE USERNAME='alice'`).
		Scan(&saltAfter, &stretchAfter))
	assert.Equal(t, passhash.DefaultStretch+1024, stretchAfter, "hash must be re-stretched to the threshold")
	assert.Equal(t, saltBefore, saltAfter, "upgrade keeps the salt")

	// The upgraded hash still verifies.
	_, err = v.Get(ctx, "alice", "alice-secret")
	assert.NoError(t, err)
}

func TestGet_DuplicateUsernameDiscarded(t *testing.T) {
	ctx := context.Background()
	v := setupVault(t)

	// A second row for one username can only appear when the unique index
	// is gone; the lookup must discard the user instead of picking a row.
	_, err := v.db.Exec(`DROP INDEX USERS_IX`)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err := v.db.Exec(`INSERT INTO USERS (USERNAME, PERMISSIONS, STRETCH, PWDSALT, HASHPWD, PWDVALID, KEYSALT, HASHKEY)
		                     VALUES ('dup', 1, 0, 's', 'h', 0, 'ks', 'hk')`)
		require.NoError(t, err)
	}

	_, err = v.Get(ctx, "dup", "")
	assert.ErrorIs(t, err, common.ErrUnauthorized)
	assert.NotContains(t, v.users, "dup", "a duplicate user must not be cached")
}

func TestKey_DuplicateKeyNameDiscarded(t *testing.T) {
	ctx := context.Background()
	v := setupVault(t)

	alice, err := v.NewUser(ctx, "alice", "alice-secret", 0)
	require.NoError(t, err)

	_, err = v.db.Exec(`DROP INDEX KEYS_IX`)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err := v.db.Exec(`INSERT INTO KEYS (USERID, KEYNAME, SALT, STRETCH, VALUE) VALUES (?, 'mail', '', 0, '')`, alice.id)
		require.NoError(t, err)
	}

	_, err = alice.Key(ctx, "mail")
	assert.ErrorIs(t, err, common.ErrNotFound)
	assert.NotContains(t, alice.keys, "mail", "a duplicate key must not be cached")
}

func TestClose_WipesCachedSymmetricKeys(t *testing.T) {
	ctx := context.Background()
	v := setupVault(t)

	alice, err := v.NewUser(ctx, "alice", "alice-secret", 0)
	require.NoError(t, err)
	require.NotEmpty(t, alice.symmkey)

	require.NoError(t, v.Close())
	assert.Empty(t, alice.symmkey)
	assert.Empty(t, v.users)
}
