package auth

import (
	"errors"
	"strings"
	"testing"
)

func TestGenerateAndAuthenticate(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(key, keyPrefix) {
		t.Errorf("expected prefix %q, got %q", keyPrefix, key)
	}

	other, _ := GenerateKey()
	ks, err := NewKeySet([]string{HashKey(other), " " + strings.ToUpper(HashKey(key)) + " ", ""})
	if err != nil {
		t.Fatal(err)
	}
	if !ks.Authenticate(key) || !ks.Authenticate(other) {
		t.Error("expected configured keys to authenticate")
	}
	if ks.Authenticate(key + "x") {
		t.Error("expected modified key to be rejected")
	}
	if ks.Authenticate("") {
		t.Error("expected empty key to be rejected")
	}
}

func TestHashKeyIsStable(t *testing.T) {
	// sha256("test")
	const want = "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"
	if got := HashKey("test"); got != want {
		t.Errorf("HashKey(test) = %s", got)
	}
}

func TestNewKeySetRejectsBadHashes(t *testing.T) {
	for _, h := range []string{"abc", strings.Repeat("z", 64), strings.Repeat("a", 62)} {
		if _, err := NewKeySet([]string{h}); !errors.Is(err, ErrInvalidKeyHash) {
			t.Errorf("hash %q: expected ErrInvalidKeyHash, got %v", h, err)
		}
	}
	ks, err := NewKeySet(nil)
	if err != nil || !ks.Empty() {
		t.Errorf("expected empty key set, got %v", err)
	}
}
