package security

import (
	"encoding/base64"
	"testing"
)

func TestNewOpaqueTokenIsRandomBase64URL(t *testing.T) {
	a, err := NewOpaqueToken()
	if err != nil {
		t.Fatalf("new token: %v", err)
	}
	b, err := NewOpaqueToken()
	if err != nil {
		t.Fatalf("new token: %v", err)
	}
	if a == b {
		t.Fatal("expected distinct tokens")
	}
	raw, err := base64.RawURLEncoding.DecodeString(a)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(raw) != 32 {
		t.Fatalf("expected 32 bytes, got %d", len(raw))
	}
}

func TestHashRefreshTokenDependsOnPepper(t *testing.T) {
	h1 := HashRefreshToken("token", "pepper-a")
	h2 := HashRefreshToken("token", "pepper-a")
	h3 := HashRefreshToken("token", "pepper-b")
	if h1 != h2 {
		t.Fatal("hash must be deterministic")
	}
	if h1 == h3 {
		t.Fatal("hash must change with pepper")
	}
	if h1 == "token" {
		t.Fatal("hash must not equal raw token")
	}
}

func TestHashResetToken(t *testing.T) {
	if HashResetToken("a") == HashResetToken("b") {
		t.Fatal("expected distinct hashes")
	}
	if len(HashResetToken("a")) != 64 {
		t.Fatalf("expected hex sha256, got %q", HashResetToken("a"))
	}
}
