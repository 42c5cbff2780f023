package util

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"

	"github.com/pkg/errors"
)

const (
	// IDBytes gives 96 bits of entropy, enough that collisions are a
	// retry path, not an expected event.
	IDBytes = 12

	// CapabilityBytes sizes one half of a delete capability; two halves
	// are concatenated so the capability is visibly longer than an id.
	CapabilityBytes = 12
)

// GenerateToken returns a URL-safe random token built from n random bytes.
func GenerateToken(n int) (string, error) {
	if n <= 0 {
		return "", errors.New("token length must be positive")
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.Wrap(err, "read random")
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// GeneratePasteID returns a new paste identifier.
func GeneratePasteID() (string, error) {
	return GenerateToken(IDBytes)
}

// GenerateDeleteToken returns a delete capability: two independent tokens
// concatenated, so it cannot be confused with a paste id.
func GenerateDeleteToken() (string, error) {
	a, err := GenerateToken(CapabilityBytes)
	if err != nil {
		return "", err
	}
	b, err := GenerateToken(CapabilityBytes)
	if err != nil {
		return "", err
	}
	return a + b, nil
}

// HashToken digests a capability or account token for storage. Plaintext
// tokens are returned to the client once and never persisted.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
