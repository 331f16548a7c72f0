// Package vault implements the credential store: users, their encrypted
// keys, and the symmetric-key envelope that protects them.
//
// Every user owns one random symmetric key. Key values are encrypted under
// it; the key itself is persisted encrypted under a hash derived from the
// user's password, so neither the clear password nor the clear symmetric
// key ever reaches the database. Changing the password only re-wraps the
// envelope, the stored key values stay untouched.
//
// A Vault is not safe for concurrent use. Callers must confine it to one
// goroutine and serialize access through message passing.
package vault

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/apetrenko/keyfort/internal/common"
	"github.com/apetrenko/keyfort/internal/dbx"
	"github.com/apetrenko/keyfort/internal/logging"
	"github.com/apetrenko/keyfort/internal/passhash"
	"github.com/apetrenko/keyfort/internal/storage"
)

// dbVersion is recorded in META on install.
const dbVersion = "1"

// Permission bits stored in USERS.PERMISSIONS.
const (
	PermissionRevoked = 0
	PermissionUser    = 1
	PermissionAdmin   = 2
)

// Vault is the aggregate root over one opened database.
type Vault struct {
	log   logging.Logger
	store storage.Manager
	db    *sql.DB
	users map[string]*User
}

// New wraps an opened storage backend. The schema must already exist
// (Install, or a previous run).
func New(log logging.Logger, store storage.Manager) *Vault {
	return &Vault{
		log:   log,
		store: store,
		db:    store.Conn(),
		users: make(map[string]*User),
	}
}

func (v *Vault) sql(query string) string {
	return v.store.Rebind(query)
}

// Install creates the schema, records the database version and the default
// stretch threshold, and makes sure the admin account exists. An existing
// admin keeps their password.
func (v *Vault) Install(ctx context.Context, adminUsername, adminPassword string) error {
	if err := v.store.Migrate(ctx); err != nil {
		return err
	}

	threshold, err := v.StretchThreshold(ctx)
	if err != nil {
		return err
	}

	// Both META rows land in one transaction.
	err = dbx.WithTx(ctx, v.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		query := v.sql(`INSERT INTO META (KEY, VALUE) VALUES ('VERSION', ?) ON CONFLICT (KEY) DO NOTHING`)
		if _, err := tx.ExecContext(ctx, query, dbVersion); err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		return v.setStretchThreshold(ctx, tx, threshold)
	})
	if err != nil {
		return err
	}

	admin, err := v.loadUser(ctx, adminUsername)
	if err == nil && admin != nil {
		v.log.Warn(ctx, "admin user already exists, ignoring password change", "username", adminUsername)
		return nil
	}
	if err != nil {
		return err
	}

	// The admin account manages users only; it carries no USER bit and
	// therefore owns no keys.
	_, err = v.newUser(ctx, adminUsername, adminPassword, 0, PermissionAdmin)
	return err
}

// Get returns the named user. With a non-empty password the user's
// credentials are verified and the symmetric key is unwrapped; a missing
// user, a wrong password and a stale password all come back as
// common.ErrUnauthorized so callers cannot tell them apart.
func (v *Vault) Get(ctx context.Context, username, password string) (*User, error) {
	if username == "" {
		return nil, common.ErrUnauthorized
	}

	user, err := v.loadUser(ctx, username)
	if err != nil {
		return nil, err
	}
	if user == nil {
		v.log.Warn(ctx, "user not found", "username", username)
		return nil, common.ErrUnauthorized
	}

	if password != "" {
		if err := user.checkPassword(ctx, password); err != nil {
			return nil, err
		}
		if user.symmkey == "" {
			if err := user.getSymmetricKey(ctx, password); err != nil {
				return nil, err
			}
		}
	}

	return user, nil
}

// NewUser creates a regular user with the given password and validity
// (unix seconds, 0 for no expiry).
func (v *Vault) NewUser(ctx context.Context, username, password string, validity int64) (*User, error) {
	return v.newUser(ctx, username, password, validity, PermissionUser)
}

func (v *Vault) newUser(ctx context.Context, username, password string, validity int64, permissions int) (*User, error) {
	if username == "" || password == "" {
		return nil, fmt.Errorf("%w: empty username or password", common.ErrInternal)
	}
	v.log.Info(ctx, "creating new user", "username", username)

	threshold, err := v.StretchThreshold(ctx)
	if err != nil {
		return nil, err
	}
	h := passhash.Hashing{Stretch: threshold, Clear: password}
	if err := passhash.Hash(ctx, v.log, &h); err != nil {
		return nil, err
	}

	query := v.sql(`INSERT INTO USERS (USERNAME, PERMISSIONS, STRETCH, PWDSALT, HASHPWD, PWDVALID, KEYSALT, HASHKEY)
	                VALUES (?, ?, ?, ?, ?, ?, 'invalid', 'invalid')`)
	if _, err := v.db.ExecContext(ctx, query, username, permissions, h.Stretch, h.Salt, h.Hashed, validity); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	user, err := v.loadUser(ctx, username)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("%w: just-created user %q not found", common.ErrInternal, username)
	}

	if err := user.setSymmetricKey(ctx, password); err != nil {
		v.log.Error(ctx, "symmetric key creation failed, the user may need help", "userid", user.id)
		return nil, err
	}
	return user, nil
}

// loadUser returns the cached user or loads it from the database. A nil
// user with a nil error means the user does not exist. A second row for the
// same username is an integrity violation: the user is discarded and
// treated as absent.
func (v *Vault) loadUser(ctx context.Context, username string) (*User, error) {
	if user, ok := v.users[username]; ok {
		return user, nil
	}

	query := v.sql(`SELECT USERID, PERMISSIONS, EMAIL, PWDVALID FROM USERS WHERE USERNAME=?`)
	rows, err := v.db.QueryContext(ctx, query, username)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		return nil, nil
	}

	user := &User{vault: v, log: v.log, name: username, keys: make(map[string]*Key)}
	var email sql.NullString
	var validity sql.NullInt64
	if err := rows.Scan(&user.id, &user.permissions, &email, &validity); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	user.email = email.String
	user.validity = validity.Int64

	if rows.Next() {
		v.log.Error(ctx, "integrity violation, duplicate username", "username", username)
		return nil, nil
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	v.users[username] = user
	return user, nil
}

// Close clears the cached symmetric keys, drops the user cache and closes
// the database.
func (v *Vault) Close() error {
	for _, user := range v.users {
		user.symmkey = ""
		user.keys = make(map[string]*Key)
	}
	v.users = make(map[string]*User)
	return v.store.Close()
}
