// Package passhash turns clear passwords into hardened hashes by key
// stretching: many iterations of hash-then-salt with a configurable
// iteration count, and on-the-fly re-stretching when the global minimum
// increases.
package passhash

import (
	"context"
	"fmt"

	"github.com/apetrenko/keyfort/internal/common"
	"github.com/apetrenko/keyfort/internal/cryptox"
	"github.com/apetrenko/keyfort/internal/logging"
)

// DefaultStretch is the minimum allowed iteration count. Weaker values are
// forced up to it.
const DefaultStretch uint64 = 65536

// Hashing carries one password-hashing computation. Hash fills Salt and
// Hashed from Stretch and Clear; Compare checks Clear against Salt, Hashed
// and may upgrade Stretch and Hashed in place.
type Hashing struct {
	Stretch uint64
	Clear   string
	Salt    string
	Hashed  string
}

// stretch runs the hardening loop: each iteration hashes the clear password
// salted with the previous iteration's hash, the first iteration using
// h.Salt. The final hash replaces h.Hashed.
func stretch(h *Hashing) error {
	if h.Stretch == 0 {
		return fmt.Errorf("%w: zero stretch", common.ErrCrypto)
	}
	if h.Clear == "" || h.Salt == "" {
		return fmt.Errorf("%w: incomplete hashing input", common.ErrCrypto)
	}

	salt := h.Salt
	var acc string
	for i := uint64(0); i < h.Stretch; i++ {
		dec, err := cryptox.Salted(salt, h.Clear)
		if err != nil {
			return fmt.Errorf("stretch %d/%d: %w", i, h.Stretch, err)
		}
		enc, err := cryptox.Hashed(dec)
		if err != nil {
			return fmt.Errorf("stretch %d/%d: %w", i, h.Stretch, err)
		}
		salt = enc
		acc = enc
	}
	h.Hashed = acc
	return nil
}

// Hash generates a fresh salt and computes the stretched hash of h.Clear.
// A stretch below DefaultStretch is forced up with a warning. On failure
// nothing of the partial computation is kept.
func Hash(ctx context.Context, log logging.Logger, h *Hashing) error {
	if h.Stretch < DefaultStretch {
		log.Warn(ctx, "using default stretch instead of provided weak value",
			"provided", h.Stretch, "default", DefaultStretch)
		h.Stretch = DefaultStretch
	}

	salt, err := cryptox.Salt()
	if err != nil {
		return err
	}
	h.Salt = salt

	if err := stretch(h); err != nil {
		h.Salt = ""
		h.Hashed = ""
		return err
	}
	return nil
}

// Compare re-runs the stretch procedure over h.Clear with the stored salt
// and stretch, and reports whether the result matches h.Hashed.
//
// If it matches and minStretch exceeds the stored stretch, the hash is
// re-stretched in place (same salt, new stretch) so the caller can persist
// the upgraded values: h.Stretch and h.Hashed are then updated.
func Compare(ctx context.Context, log logging.Logger, h *Hashing, minStretch uint64) (bool, error) {
	cmp := Hashing{Stretch: h.Stretch, Clear: h.Clear, Salt: h.Salt}
	if err := stretch(&cmp); err != nil {
		return false, err
	}
	if cmp.Hashed != h.Hashed {
		return false, nil
	}
	if minStretch > h.Stretch {
		log.Debug(ctx, "re-stretching password hash", "from", h.Stretch, "to", minStretch)
		h.Stretch = minStretch
		if err := stretch(h); err != nil {
			return false, err
		}
	}
	return true, nil
}
