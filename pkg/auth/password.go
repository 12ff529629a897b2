package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	saltBytes  = 16
	keyBytes   = 32
	iterations = 100000
)

// HashPassword returns a PBKDF2-SHA256 hash encoded as "salt:hash" (both hex).
// The hex salt text itself is the PBKDF2 salt input.
func HashPassword(password string) (string, error) {
	buf := make([]byte, saltBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	salt := hex.EncodeToString(buf)
	return salt + ":" + derive(password, salt), nil
}

// CheckPassword validates a password against a stored "salt:hash" value.
// Malformed values never match.
func CheckPassword(password, stored string) bool {
	salt, want, ok := strings.Cut(stored, ":")
	if !ok || salt == "" || want == "" || strings.Contains(want, ":") {
		return false
	}
	got := derive(password, salt)
	return subtle.ConstantTimeCompare([]byte(got), []byte(strings.ToLower(want))) == 1
}

func derive(password, salt string) string {
	key := pbkdf2.Key([]byte(password), []byte(salt), iterations, keyBytes, sha256.New)
	return hex.EncodeToString(key)
}
