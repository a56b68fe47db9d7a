package crypto

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// HashAccessCode returns the hex SHA-256 digest of a trimmed room access
// code. Empty codes hash to the empty string.
func HashAccessCode(code string) string {
	code = strings.TrimSpace(code)
	if code == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

// AccessCodeMatches reports whether code hashes to storedHash.
func AccessCodeMatches(code, storedHash string) bool {
	hashed := HashAccessCode(code)
	if hashed == "" || storedHash == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(hashed), []byte(storedHash)) == 1
}
