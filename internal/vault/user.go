package vault

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/apetrenko/keyfort/internal/common"
	"github.com/apetrenko/keyfort/internal/cryptox"
	"github.com/apetrenko/keyfort/internal/logging"
	"github.com/apetrenko/keyfort/internal/passhash"
)

// User is one vault account. The symmetric key is only present after a
// successful Get with the user's password.
type User struct {
	vault       *Vault
	log         logging.Logger
	id          int64
	name        string
	email       string
	permissions int
	validity    int64
	symmkey     string
	keys        map[string]*Key
}

func (u *User) Name() string {
	return u.name
}

func (u *User) Email() string {
	return u.email
}

func (u *User) IsAdmin() bool {
	return u.permissions&PermissionAdmin != 0
}

// Validity returns the unix second after which the password is stale;
// zero means it never expires.
func (u *User) Validity() int64 {
	return u.validity
}

// checkPassword verifies the password against the stored stretched hash.
// On success, a hash stretched below the current threshold is upgraded and
// persisted with the same salt. Any mismatch, stale validity or missing row
// comes back as common.ErrUnauthorized.
func (u *User) checkPassword(ctx context.Context, password string) error {
	u.log.Debug(ctx, "checking user password", "userid", u.id)

	query := u.vault.sql(`SELECT USERNAME, STRETCH, PWDSALT, HASHPWD, PWDVALID FROM USERS WHERE USERID=?`)
	row := u.vault.db.QueryRowContext(ctx, query, u.id)

	var username, salt, hash string
	var stretch uint64
	var validity sql.NullInt64
	err := row.Scan(&username, &stretch, &salt, &hash, &validity)
	if err == sql.ErrNoRows {
		u.log.Error(ctx, "user not found", "userid", u.id)
		return common.ErrUnauthorized
	}
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	if validity.Int64 != 0 && validity.Int64 <= time.Now().Unix() {
		u.log.Warn(ctx, "stale password", "username", username)
		return common.ErrUnauthorized
	}

	threshold, err := u.vault.StretchThreshold(ctx)
	if err != nil {
		return err
	}

	h := passhash.Hashing{Stretch: stretch, Clear: password, Salt: salt, Hashed: hash}
	ok, err := passhash.Compare(ctx, u.log, &h, threshold)
	if err != nil {
		return err
	}
	if !ok {
		u.log.Warn(ctx, "invalid password", "username", username)
		return common.ErrUnauthorized
	}

	if h.Stretch != stretch {
		update := u.vault.sql(`UPDATE USERS SET STRETCH=?, HASHPWD=? WHERE USERID=?`)
		if _, err := u.vault.db.ExecContext(ctx, update, h.Stretch, h.Hashed, u.id); err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		u.log.Info(ctx, "password hash upgraded", "userid", u.id, "stretch", h.Stretch)
	}

	return nil
}

// getSymmetricKey unwraps the envelope: the stored HASHKEY decrypts under
// a hash of the salted password, then unsalting yields the clear symmetric
// key. Kept in memory only.
func (u *User) getSymmetricKey(ctx context.Context, password string) error {
	query := u.vault.sql(`SELECT KEYSALT, HASHKEY FROM USERS WHERE USERID=?`)
	row := u.vault.db.QueryRowContext(ctx, query, u.id)

	var keysalt, hashkey string
	err := row.Scan(&keysalt, &hashkey)
	if err == sql.ErrNoRows {
		u.log.Error(ctx, "user not found", "userid", u.id)
		return common.ErrUnauthorized
	}
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if keysalt == "" || hashkey == "" {
		u.log.Error(ctx, "user has no key envelope", "userid", u.id)
		return common.ErrUnauthorized
	}

	passslt, err := cryptox.Salted(keysalt, password)
	if err != nil {
		return err
	}
	passkey, err := cryptox.Hashed(passslt)
	if err != nil {
		return err
	}
	saltedkey, err := cryptox.Decrypted(hashkey, passkey)
	if err != nil {
		u.log.Error(ctx, "could not decrypt key envelope", "userid", u.id)
		return common.ErrUnauthorized
	}
	symmkey, err := cryptox.Unsalted(keysalt, saltedkey)
	if err != nil {
		u.log.Error(ctx, "could not unsalt key envelope", "userid", u.id)
		return common.ErrUnauthorized
	}

	u.symmkey = symmkey
	return nil
}

// setSymmetricKey wraps the symmetric key under a new salt and the given
// password and persists the envelope. A user without a key yet gets a fresh
// random one; on a password change the existing key is kept so stored
// values stay decryptable.
func (u *User) setSymmetricKey(ctx context.Context, password string) error {
	keysalt, err := cryptox.Salt()
	if err != nil {
		return err
	}

	if u.symmkey == "" {
		u.symmkey, err = cryptox.NewSymmetricKey()
		if err != nil {
			return err
		}
	}

	sltkey, err := cryptox.Salted(keysalt, u.symmkey)
	if err != nil {
		return err
	}
	passslt, err := cryptox.Salted(keysalt, password)
	if err != nil {
		return err
	}
	passkey, err := cryptox.Hashed(passslt)
	if err != nil {
		return err
	}
	hashkey, err := cryptox.Encrypted(sltkey, passkey)
	if err != nil {
		return err
	}

	query := u.vault.sql(`UPDATE USERS SET KEYSALT=?, HASHKEY=? WHERE USERID=?`)
	if _, err := u.vault.db.ExecContext(ctx, query, keysalt, hashkey, u.id); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// SetPassword replaces the user's password and validity. The hash is
// stretched at the current threshold and the key envelope is re-wrapped
// under the new password.
func (u *User) SetPassword(ctx context.Context, password string, validity int64) error {
	if password == "" {
		return fmt.Errorf("%w: empty password", common.ErrInternal)
	}

	threshold, err := u.vault.StretchThreshold(ctx)
	if err != nil {
		return err
	}
	h := passhash.Hashing{Stretch: threshold, Clear: password}
	if err := passhash.Hash(ctx, u.log, &h); err != nil {
		return err
	}

	query := u.vault.sql(`UPDATE USERS SET PWDSALT=?, HASHPWD=?, STRETCH=?, PWDVALID=? WHERE USERID=?`)
	if _, err := u.vault.db.ExecContext(ctx, query, h.Salt, h.Hashed, h.Stretch, validity, u.id); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	u.validity = validity

	if err := u.setSymmetricKey(ctx, password); err != nil {
		u.log.Error(ctx, "symmetric key update failed, the user may need help", "userid", u.id)
		return err
	}
	return nil
}

// SetEmail updates the user's contact address.
func (u *User) SetEmail(ctx context.Context, email string) error {
	query := u.vault.sql(`UPDATE USERS SET EMAIL=? WHERE USERID=?`)
	if _, err := u.vault.db.ExecContext(ctx, query, email, u.id); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	u.email = email
	return nil
}

// Key returns the named key, or common.ErrNotFound.
func (u *User) Key(ctx context.Context, keyname string) (*Key, error) {
	if err := u.checkKeyAccess(ctx); err != nil {
		return nil, err
	}
	if keyname == "" {
		return nil, common.ErrNotFound
	}

	if key, ok := u.keys[keyname]; ok {
		return key, nil
	}

	query := u.vault.sql(`SELECT KEYID FROM KEYS WHERE USERID=? AND KEYNAME=?`)
	rows, err := u.vault.db.QueryContext(ctx, query, u.id, keyname)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		return nil, common.ErrNotFound
	}

	key := &Key{user: u, log: u.log, name: keyname}
	if err := rows.Scan(&key.id); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	// A second row for the same (user, name) is an integrity violation; the
	// key is discarded rather than guessed at.
	if rows.Next() {
		u.log.Error(ctx, "integrity violation, duplicate key", "userid", u.id, "keyname", keyname)
		return nil, common.ErrNotFound
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	u.keys[keyname] = key
	return key, nil
}

// Keys lists the names of all keys the user owns, sorted by the database.
func (u *User) Keys(ctx context.Context) ([]string, error) {
	if err := u.checkKeyAccess(ctx); err != nil {
		return nil, err
	}

	query := u.vault.sql(`SELECT KEYNAME FROM KEYS WHERE USERID=? ORDER BY KEYNAME`)
	rows, err := u.vault.db.QueryContext(ctx, query, u.id)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return names, nil
}

// NewKey creates an empty key with the given name. The value is set
// separately with Key.SetPassword.
func (u *User) NewKey(ctx context.Context, keyname string) (*Key, error) {
	if err := u.checkKeyAccess(ctx); err != nil {
		return nil, err
	}
	if keyname == "" {
		return nil, fmt.Errorf("%w: empty key name", common.ErrInternal)
	}

	query := u.vault.sql(`INSERT INTO KEYS (USERID, KEYNAME, SALT, STRETCH, VALUE) VALUES (?, ?, '', 0, '')`)
	if _, err := u.vault.db.ExecContext(ctx, query, u.id, keyname); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return u.Key(ctx, keyname)
}

// checkKeyAccess requires the USER permission bit. A pure admin account
// manages users, not keys.
func (u *User) checkKeyAccess(ctx context.Context) error {
	if u.permissions&PermissionUser == 0 {
		u.log.Error(ctx, "user does not have permission to access keys", "userid", u.id)
		return common.ErrPermissionDenied
	}
	return nil
}
