package util

import (
	"crypto/sha256"
	"encoding/hex"
)

func SHA256Hex(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}

// ShortHash is SHA256Hex truncated for use in keys and log fields.
func ShortHash(b []byte) string {
	return SHA256Hex(b)[:16]
}
