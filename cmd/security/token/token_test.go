package token

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

func TestGenerate_EntropyAndEncoding(t *testing.T) {
	t.Parallel()

	seen := make(map[string]struct{})
	for i := 0; i < 64; i++ {
		tok, err := Generate(32)
		if err != nil {
			t.Fatalf("Generate: %v", err)
		}
		raw, err := base64.RawURLEncoding.DecodeString(tok)
		if err != nil {
			t.Fatalf("not base64url: %v", err)
		}
		if len(raw) != 32 {
			t.Fatalf("expected 32 bytes, got %d", len(raw))
		}
		if strings.ContainsAny(tok, "+/=") {
			t.Fatalf("token is not URL safe: %q", tok)
		}
		if _, dup := seen[tok]; dup {
			t.Fatalf("duplicate token generated")
		}
		seen[tok] = struct{}{}
	}
}

func TestGenerate_RejectsSize(t *testing.T) {
	t.Parallel()

	for _, n := range []int{0, 16, 31, 65} {
		if _, err := Generate(n); !errors.Is(err, ErrTokenSize) {
			t.Fatalf("Generate(%d): expected ErrTokenSize, got %v", n, err)
		}
	}
}

func TestHasher_SHA256(t *testing.T) {
	t.Parallel()

	h, err := NewHasher("", false)
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	if h.HMAC() {
		t.Fatalf("expected plain SHA-256 mode")
	}

	// sha256("abc")
	const want = "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got := h.Hash("abc"); got != want {
		t.Fatalf("unexpected digest: %s", got)
	}
	if h.Hash("abc") != h.Hash("abc") {
		t.Fatalf("digest must be deterministic")
	}
}

func TestHasher_HMAC(t *testing.T) {
	t.Parallel()

	key := strings.Repeat("k", 32)
	h, err := NewHasher(key, true)
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	if !h.HMAC() {
		t.Fatalf("expected HMAC mode")
	}

	got := h.Hash("abc")
	if len(got) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(got))
	}
	if got == HashSHA256Hex("abc") {
		t.Fatalf("HMAC digest must differ from plain SHA-256")
	}
	if got != HashHMACSHA256Hex("abc", []byte(key)) {
		t.Fatalf("HMAC digest mismatch")
	}
}

func TestNewHasher_RequireHMAC(t *testing.T) {
	t.Parallel()

	if _, err := NewHasher("  ", true); !errors.Is(err, ErrHMACKeyMissing) {
		t.Fatalf("expected ErrHMACKeyMissing, got %v", err)
	}
	if _, err := NewHasher("short", true); !errors.Is(err, ErrHMACKeyTooShort) {
		t.Fatalf("expected ErrHMACKeyTooShort, got %v", err)
	}
	if _, err := NewHasher("short", false); err != nil {
		t.Fatalf("short key without policy should be accepted: %v", err)
	}
}
