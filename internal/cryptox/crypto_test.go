package cryptox

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apetrenko/keyfort/internal/common"
	"github.com/apetrenko/keyfort/internal/encx"
)

func TestSalt_SizeAndFreshness(t *testing.T) {
	s1, err := Salt()
	require.NoError(t, err)
	s2, err := Salt()
	require.NoError(t, err)

	raw, err := encx.UnBase64(s1)
	require.NoError(t, err)
	assert.Len(t, raw, SaltSize)
	assert.NotEqual(t, s1, s2, "two salts must differ")
}

func TestSalted_Unsalted_RoundTrip(t *testing.T) {
	salt, err := Salt()
	require.NoError(t, err)

	combined, err := Salted(salt, "my secret")
	require.NoError(t, err)
	assert.Equal(t, salt+":my secret", combined)

	value, err := Unsalted(salt, combined)
	require.NoError(t, err)
	assert.Equal(t, "my secret", value)
}

func TestSalted_EmptyInputs(t *testing.T) {
	_, err := Salted("", "value")
	assert.ErrorIs(t, err, common.ErrCrypto)
	_, err = Salted("salt", "")
	assert.ErrorIs(t, err, common.ErrCrypto)
}

func TestUnsalted_Tampered(t *testing.T) {
	for _, combined := range []string{
		"othersalt:value",
		"value",
		"sal:value",
		"salt:",
		"salt",
	} {
		_, err := Unsalted("salt", combined)
		assert.ErrorIs(t, err, common.ErrCrypto, "combined=%q", combined)
	}
}

func TestHashed_DeterministicAndSized(t *testing.T) {
	h1, err := Hashed("some value")
	require.NoError(t, err)
	h2, err := Hashed("some value")
	require.NoError(t, err)
	h3, err := Hashed("some other value")
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, h3)

	raw, err := encx.UnBase64(h1)
	require.NoError(t, err)
	assert.Len(t, raw, HashSize)
}

func TestHashed_UsableAsCipherKey(t *testing.T) {
	// The defining numeric constraint: a hash output is a valid cipher key.
	h, err := Hashed("passkey material")
	require.NoError(t, err)

	enc, err := Encrypted("payload", h)
	require.NoError(t, err)
	dec, err := Decrypted(enc, h)
	require.NoError(t, err)
	assert.Equal(t, "payload", dec)
}

func TestNewSymmetricKey_Size(t *testing.T) {
	k, err := NewSymmetricKey()
	require.NoError(t, err)
	raw, err := encx.UnBase64(k)
	require.NoError(t, err)
	assert.Len(t, raw, KeySize)
}

func TestEncrypted_Decrypted_RoundTrip(t *testing.T) {
	key, err := NewSymmetricKey()
	require.NoError(t, err)

	for _, value := range []string{
		"x",
		"short",
		strings.Repeat("a", KeySize-1),
		strings.Repeat("b", KeySize),
		strings.Repeat("c", KeySize*3+7),
		"salt:payload with delimiter",
	} {
		enc, err := Encrypted(value, key)
		require.NoError(t, err)
		assert.NotEqual(t, value, enc)

		dec, err := Decrypted(enc, key)
		require.NoError(t, err)
		assert.Equal(t, value, dec, "round trip of %q", value)
	}
}

func TestEncrypted_CiphertextPaddedToKeySize(t *testing.T) {
	key, err := NewSymmetricKey()
	require.NoError(t, err)

	enc, err := Encrypted("abc", key)
	require.NoError(t, err)

	raw, err := encx.UnBase64(enc)
	require.NoError(t, err)
	assert.Equal(t, 0, len(raw)%KeySize)
	assert.Greater(t, len(raw), len("abc"))
}

func TestDecrypted_WrongKey(t *testing.T) {
	key1, err := NewSymmetricKey()
	require.NoError(t, err)
	key2, err := NewSymmetricKey()
	require.NoError(t, err)

	enc, err := Encrypted("the secret", key1)
	require.NoError(t, err)

	dec, err := Decrypted(enc, key2)
	if err == nil {
		// A wrong key may still decrypt to some NUL-terminated garbage;
		// it must never recover the clear value.
		assert.NotEqual(t, "the secret", dec)
	}
}

func TestDecrypted_BadKeySize(t *testing.T) {
	enc, err := Encrypted("value", mustKey(t))
	require.NoError(t, err)

	short := encx.Base64([]byte("too short"))
	_, err = Decrypted(enc, short)
	assert.ErrorIs(t, err, common.ErrCrypto)

	_, err = Encrypted("value", short)
	assert.ErrorIs(t, err, common.ErrCrypto)
}

func TestIRandom_Bounds(t *testing.T) {
	assert.Equal(t, uint(0), IRandom(0))
	assert.Equal(t, uint(0), IRandom(1))
	for range 1000 {
		v := IRandom(10)
		assert.Less(t, v, uint(10))
	}
}

func TestRandomStrings_DecodeToRequestedSize(t *testing.T) {
	s32, err := RandomString32(20)
	require.NoError(t, err)
	raw32, err := encx.UnBase32(s32)
	require.NoError(t, err)
	assert.Len(t, raw32, 20)

	s64, err := RandomString64(20)
	require.NoError(t, err)
	raw64, err := encx.UnBase64(s64)
	require.NoError(t, err)
	assert.Len(t, raw64, 20)
}

func TestWipe(t *testing.T) {
	buf := []byte{1, 2, 3}
	Wipe(buf)
	assert.Equal(t, []byte{0, 0, 0}, buf)
	Wipe(nil)
}

func mustKey(t *testing.T) string {
	t.Helper()
	k, err := NewSymmetricKey()
	require.NoError(t, err)
	return k
}
