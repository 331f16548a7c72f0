package vault

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/apetrenko/keyfort/internal/common"
	"github.com/apetrenko/keyfort/internal/cryptox"
	"github.com/apetrenko/keyfort/internal/logging"
)

// Key is one named credential owned by a user. Its value is stored salted
// and encrypted under the owner's symmetric key.
type Key struct {
	user *User
	log  logging.Logger
	id   int64
	name string
}

func (k *Key) Name() string {
	return k.name
}

// Password decrypts and returns the stored value. The owner's symmetric
// key must be unwrapped, which requires a password-authenticated session.
func (k *Key) Password(ctx context.Context) (string, error) {
	if k.user.symmkey == "" {
		k.log.Error(ctx, "symmetric key not available", "keyid", k.id)
		return "", common.ErrUnauthorized
	}

	query := k.user.vault.sql(`SELECT SALT, VALUE FROM KEYS WHERE KEYID=?`)
	row := k.user.vault.db.QueryRowContext(ctx, query, k.id)

	var salt, value string
	err := row.Scan(&salt, &value)
	if err == sql.ErrNoRows {
		return "", common.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("db error: %w", err)
	}
	if value == "" {
		// Created but never set.
		return "", common.ErrNotFound
	}

	decvalue, err := cryptox.Decrypted(value, k.user.symmkey)
	if err != nil {
		return "", err
	}
	return cryptox.Unsalted(salt, decvalue)
}

// SetPassword stores a new value for the key, salted with a fresh salt and
// encrypted under the owner's symmetric key.
func (k *Key) SetPassword(ctx context.Context, password string) error {
	if k.user.symmkey == "" {
		k.log.Error(ctx, "symmetric key not available", "keyid", k.id)
		return common.ErrUnauthorized
	}

	salt, err := cryptox.Salt()
	if err != nil {
		return err
	}
	saltedpwd, err := cryptox.Salted(salt, password)
	if err != nil {
		return err
	}
	encpwd, err := cryptox.Encrypted(saltedpwd, k.user.symmkey)
	if err != nil {
		return err
	}

	query := k.user.vault.sql(`UPDATE KEYS SET SALT=?, VALUE=? WHERE KEYID=?`)
	if _, err := k.user.vault.db.ExecContext(ctx, query, salt, encpwd, k.id); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// Tag returns the key's tag, or common.ErrNotFound. The schema keeps at
// most one tag row per key.
func (k *Key) Tag(ctx context.Context) (name, value string, err error) {
	query := k.user.vault.sql(`SELECT NAME, VALUE FROM TAGS WHERE KEYID=?`)
	row := k.user.vault.db.QueryRowContext(ctx, query, k.id)

	err = row.Scan(&name, &value)
	if err == sql.ErrNoRows {
		return "", "", common.ErrNotFound
	}
	if err != nil {
		return "", "", fmt.Errorf("db error: %w", err)
	}
	return name, value, nil
}

// SetTag attaches a tag to the key, replacing any existing one.
func (k *Key) SetTag(ctx context.Context, name, value string) error {
	query := k.user.vault.sql(`INSERT INTO TAGS (KEYID, NAME, VALUE) VALUES (?, ?, ?)
	                           ON CONFLICT (KEYID) DO UPDATE SET NAME=excluded.NAME, VALUE=excluded.VALUE`)
	if _, err := k.user.vault.db.ExecContext(ctx, query, k.id, name, value); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
