package vault

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"github.com/apetrenko/keyfort/internal/dbx"
	"github.com/apetrenko/keyfort/internal/passhash"
)

// StretchThreshold returns the minimum password stretch recorded in META.
// An absent row yields the default with a warning; hashes stored below the
// threshold are upgraded on the next successful login.
func (v *Vault) StretchThreshold(ctx context.Context) (uint64, error) {
	query := v.sql(`SELECT VALUE FROM META WHERE KEY='STRETCH'`)
	var value string
	err := v.db.QueryRowContext(ctx, query).Scan(&value)
	if err == sql.ErrNoRows {
		v.log.Warn(ctx, "consider defining STRETCH in META, using default",
			"default", passhash.DefaultStretch)
		return passhash.DefaultStretch, nil
	}
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	threshold, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad STRETCH value %q: %w", value, err)
	}
	if threshold < passhash.DefaultStretch {
		v.log.Warn(ctx, "consider defining stronger STRETCH in META",
			"current", threshold, "minimum", passhash.DefaultStretch)
	}
	return threshold, nil
}

// SetStretchThreshold records the minimum password stretch. Values below
// the default are raised to it.
func (v *Vault) SetStretchThreshold(ctx context.Context, threshold uint64) error {
	return v.setStretchThreshold(ctx, v.db, threshold)
}

func (v *Vault) setStretchThreshold(ctx context.Context, db dbx.DBTX, threshold uint64) error {
	if threshold < passhash.DefaultStretch {
		v.log.Warn(ctx, "selected stretch threshold is too low, raising",
			"selected", threshold, "minimum", passhash.DefaultStretch)
		threshold = passhash.DefaultStretch
	}

	query := v.sql(`INSERT INTO META (KEY, VALUE) VALUES ('STRETCH', ?)
	                ON CONFLICT (KEY) DO UPDATE SET VALUE=excluded.VALUE`)
	// META.VALUE is text, so the number goes in as a string.
	if _, err := db.ExecContext(ctx, query, strconv.FormatUint(threshold, 10)); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
