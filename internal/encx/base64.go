package encx

import "encoding/base64"

// Base64 encodes raw bytes with the standard alphabet, '=' padded.
func Base64(raw []byte) string {
	return base64.StdEncoding.EncodeToString(raw)
}

// UnBase64 decodes a standard, padded base64 string.
func UnBase64(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}
