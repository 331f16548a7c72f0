// Package encx provides the reversible binary-to-text codecs used wherever
// secrets cross a text boundary (database columns, session tokens).
package encx

import (
	"encoding/base32"
	"strings"
)

// The "human" base32 alphabet (z-base-32): chosen to avoid characters that
// read ambiguously. Encoding always emits lowercase; decoding accepts both
// cases.
const b32Alphabet = "ybndrfg8ejkmcpqxot1uwisza345h769"

var b32Encoding = base32.NewEncoding(b32Alphabet).WithPadding(base32.NoPadding)

// Base32 encodes raw bytes using the human base32 alphabet, unpadded.
func Base32(raw []byte) string {
	return b32Encoding.EncodeToString(raw)
}

// UnBase32 decodes a human base32 string. The alphabet is case-insensitive.
func UnBase32(s string) ([]byte, error) {
	return b32Encoding.DecodeString(strings.ToLower(s))
}
