package token

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	// MinBytes is the smallest accepted token size (256 bits).
	MinBytes = 32
	// MaxBytes bounds cookie size.
	MaxBytes = 64

	// MinHMACKeyBytes is the minimum key size when HMAC hashing is required.
	MinHMACKeyBytes = 32
)

// Generate returns a URL-safe random token of nBytes entropy.
func Generate(nBytes int) (string, error) {
	if nBytes < MinBytes || nBytes > MaxBytes {
		return "", fmt.Errorf("%w: %d not in [%d..%d]", ErrTokenSize, nBytes, MinBytes, MaxBytes)
	}

	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashSHA256Hex returns a SHA-256 hex digest of s.
func HashSHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HashHMACSHA256Hex returns an HMAC-SHA256 hex digest of s using key.
func HashHMACSHA256Hex(s string, key []byte) string {
	m := hmac.New(sha256.New, key)
	_, _ = m.Write([]byte(s))
	return hex.EncodeToString(m.Sum(nil))
}

// Hasher turns plaintext refresh tokens into storage digests.
type Hasher struct {
	key []byte
}

// NewHasher returns a Hasher. A blank key selects plain SHA-256.
// With requireHMAC the key must be present and at least MinHMACKeyBytes long.
func NewHasher(key string, requireHMAC bool) (*Hasher, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		if requireHMAC {
			return nil, ErrHMACKeyMissing
		}
		return &Hasher{}, nil
	}
	// Measured in bytes since the key is used as raw bytes.
	if requireHMAC && len(key) < MinHMACKeyBytes {
		return nil, ErrHMACKeyTooShort
	}
	return &Hasher{key: []byte(key)}, nil
}

// HMAC reports whether digests are keyed.
func (h *Hasher) HMAC() bool { return h != nil && len(h.key) > 0 }

// Hash returns the 64-char hex storage digest of plaintext.
func (h *Hasher) Hash(plaintext string) string {
	if !h.HMAC() {
		return HashSHA256Hex(plaintext)
	}
	return HashHMACSHA256Hex(plaintext, h.key)
}
