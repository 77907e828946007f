// Package auth authenticates operator API keys. Keys are configured only as
// SHA-256 hashes; plaintext keys never reach config or storage.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const keyPrefix = "sgk_"

// ErrInvalidKeyHash is returned for a configured hash that is not 64 hex digits.
var ErrInvalidKeyHash = errors.New("api key hash must be 64 hex characters")

// GenerateKey returns a new random API key.
func GenerateKey() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generating api key: %w", err)
	}
	return keyPrefix + base64.RawURLEncoding.EncodeToString(raw), nil
}

// HashKey returns the hex SHA-256 of a plaintext key.
func HashKey(plaintext string) string {
	h := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(h[:])
}

// KeySet holds the accepted key hashes.
type KeySet struct {
	hashes [][]byte
}

// NewKeySet parses hex hashes. Blank entries are ignored.
func NewKeySet(hexHashes []string) (*KeySet, error) {
	ks := &KeySet{}
	for _, h := range hexHashes {
		h = strings.ToLower(strings.TrimSpace(h))
		if h == "" {
			continue
		}
		b, err := hex.DecodeString(h)
		if err != nil || len(b) != sha256.Size {
			return nil, fmt.Errorf("%w: %q", ErrInvalidKeyHash, h)
		}
		ks.hashes = append(ks.hashes, b)
	}
	return ks, nil
}

// Empty reports whether no keys are configured.
func (k *KeySet) Empty() bool { return len(k.hashes) == 0 }

// Authenticate reports whether plaintext matches a configured hash. Every
// configured hash is compared so timing does not reveal which one matched.
func (k *KeySet) Authenticate(plaintext string) bool {
	if plaintext == "" {
		return false
	}
	sum := sha256.Sum256([]byte(plaintext))
	match := 0
	for _, h := range k.hashes {
		match |= subtle.ConstantTimeCompare(sum[:], h)
	}
	return match == 1
}
