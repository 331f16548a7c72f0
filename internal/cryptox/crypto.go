// Package cryptox implements the cryptographic primitives of the vault:
// salt generation, salted-string construction, hashing, symmetric key
// generation and AES-CFB encryption of secret values.
//
// Every failure is returned as an error wrapping common.ErrCrypto together
// with the backend detail. Callers must treat any error as "operation
// aborted" and propagate it, never substitute defaults.
package cryptox

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha512"
	"fmt"
	mrand "math/rand/v2"
	"strings"

	"github.com/apetrenko/keyfort/internal/common"
	"github.com/apetrenko/keyfort/internal/encx"
)

const (
	// SaltSize is the number of random bytes in a salt.
	SaltSize = 16
	// KeySize is the symmetric cipher key size (AES-256).
	KeySize = 32
	// HashSize is the number of hash bytes kept from SHA-512.
	HashSize = 32
)

// The hash of a salted password is used directly as a cipher key, so the two
// sizes must be equal or key bits would be lost or uninitialized.
var (
	_ [KeySize - HashSize]byte
	_ [HashSize - KeySize]byte
)

// Salt returns a fresh cryptographically-strong salt, base64-encoded.
func Salt() (string, error) {
	raw := make([]byte, SaltSize)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("%w: salt: %v", common.ErrCrypto, err)
	}
	return encx.Base64(raw), nil
}

// Salted returns salt + ":" + value. This is a delimited concatenation, not
// cryptographic mixing; security comes from the subsequent hash or encrypt
// step. Both arguments must be non-empty.
func Salted(salt, value string) (string, error) {
	if salt == "" || value == "" {
		return "", fmt.Errorf("%w: salted: empty input", common.ErrCrypto)
	}
	return salt + ":" + value, nil
}

// Unsalted is the inverse of Salted. It fails if combined does not start
// with exactly salt + ":".
func Unsalted(salt, combined string) (string, error) {
	if salt == "" || combined == "" {
		return "", fmt.Errorf("%w: unsalted: empty input", common.ErrCrypto)
	}
	rest, ok := strings.CutPrefix(combined, salt+":")
	if !ok || rest == "" {
		return "", fmt.Errorf("%w: tampered salted value", common.ErrCrypto)
	}
	return rest, nil
}

// Hashed returns the one-way hash of value, base64-encoded. The digest is
// SHA-512 truncated to HashSize bytes so it can double as a cipher key.
func Hashed(value string) (string, error) {
	if value == "" {
		return "", fmt.Errorf("%w: hashed: empty input", common.ErrCrypto)
	}
	sum := sha512.Sum512([]byte(value))
	return encx.Base64(sum[:HashSize]), nil
}

// NewSymmetricKey returns a fresh random cipher key, base64-encoded.
func NewSymmetricKey() (string, error) {
	raw := make([]byte, KeySize)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("%w: symmetric key: %v", common.ErrCrypto, err)
	}
	return encx.Base64(raw), nil
}

func cipherKey(b64key string) ([]byte, error) {
	key, err := encx.UnBase64(b64key)
	if err != nil {
		return nil, fmt.Errorf("%w: bad key encoding: %v", common.ErrCrypto, err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: bad key size %d", common.ErrCrypto, len(key))
	}
	return key, nil
}

// Encrypted encrypts value under the base64-encoded key with AES-256 in CFB
// mode and returns the ciphertext base64-encoded.
//
// The IV is fixed all-zero: every encryption under a given key keys the
// stream identically, which is required for bit-compatibility with existing
// persisted vaults. The clear value's NUL terminator is included in the
// plaintext, padded with zeros up to a multiple of KeySize, so decryption
// recovers an exact string.
func Encrypted(value, b64key string) (string, error) {
	if value == "" {
		return "", fmt.Errorf("%w: encrypted: empty input", common.ErrCrypto)
	}
	key, err := cipherKey(b64key)
	if err != nil {
		return "", err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("%w: cipher open: %v", common.ErrCrypto, err)
	}

	n := len(value) + 1
	n += KeySize - n%KeySize
	plain := make([]byte, n)
	copy(plain, value)

	enc := make([]byte, n)
	iv := make([]byte, aes.BlockSize)
	cipher.NewCFBEncrypter(block, iv).XORKeyStream(enc, plain)

	return encx.Base64(enc), nil
}

// Decrypted is the inverse of Encrypted. It fails cleanly on a key size
// mismatch, a bad encoding, or a ciphertext that does not decrypt to a
// NUL-terminated string.
func Decrypted(b64value, b64key string) (string, error) {
	if b64value == "" {
		return "", fmt.Errorf("%w: decrypted: empty input", common.ErrCrypto)
	}
	raw, err := encx.UnBase64(b64value)
	if err != nil {
		return "", fmt.Errorf("%w: bad value encoding: %v", common.ErrCrypto, err)
	}
	key, err := cipherKey(b64key)
	if err != nil {
		return "", err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("%w: cipher open: %v", common.ErrCrypto, err)
	}

	dec := make([]byte, len(raw))
	iv := make([]byte, aes.BlockSize)
	cipher.NewCFBDecrypter(block, iv).XORKeyStream(dec, raw)

	end := bytes.IndexByte(dec, 0)
	if end < 0 {
		return "", fmt.Errorf("%w: decrypted value has no terminator", common.ErrCrypto)
	}
	return string(dec[:end]), nil
}

// IRandom returns a uniform random integer in [0, max). It draws from a
// fast non-cryptographic source and must only be used for non-secret
// randomized choices such as recipe generation, never for salts or keys.
func IRandom(max uint) uint {
	if max == 0 {
		return 0
	}
	return uint(mrand.Uint64N(uint64(max)))
}

// RandomString32 returns n strong random bytes, base32-encoded.
func RandomString32(n int) (string, error) {
	raw := make([]byte, n)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("%w: random string: %v", common.ErrCrypto, err)
	}
	return encx.Base32(raw), nil
}

// RandomString64 returns n strong random bytes, base64-encoded.
func RandomString64(n int) (string, error) {
	raw := make([]byte, n)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("%w: random string: %v", common.ErrCrypto, err)
	}
	return encx.Base64(raw), nil
}

// Wipe overwrites the contents of the provided byte slice with zeros.
// Useful for removing password bytes from memory after use.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
