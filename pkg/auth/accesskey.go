package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Access keys are presented as "<key_id>.<secret>". The key id is stored in
// clear for lookup; only a bcrypt hash of the secret is persisted.

const keyIDBytes = 8
const secretBytes = 24

// NewAccessKey generates a fresh key id and secret. The returned plaintext
// is shown to the caller exactly once.
func NewAccessKey() (keyID, secret string, err error) {
	id := make([]byte, keyIDBytes)
	if _, err := rand.Read(id); err != nil {
		return "", "", fmt.Errorf("generate key id: %w", err)
	}
	sec := make([]byte, secretBytes)
	if _, err := rand.Read(sec); err != nil {
		return "", "", fmt.Errorf("generate secret: %w", err)
	}
	return hex.EncodeToString(id), hex.EncodeToString(sec), nil
}

// HashSecret returns the bcrypt hash stored in place of the secret.
func HashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash secret: %w", err)
	}
	return string(hash), nil
}

// CheckSecret validates a presented secret against the stored hash.
func CheckSecret(secret, storedHash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(secret)) == nil
}

// SplitPresentedKey parses the "<key_id>.<secret>" form from a request.
func SplitPresentedKey(presented string) (keyID, secret string, ok bool) {
	presented = strings.TrimSpace(presented)
	keyID, secret, found := strings.Cut(presented, ".")
	if !found || keyID == "" || secret == "" {
		return "", "", false
	}
	return keyID, secret, true
}
