package crypto

import (
	"strings"
	"testing"
)

func TestNewTokenLength(t *testing.T) {
	for _, length := range []int{1, 24, 48, 128} {
		token, err := NewToken(length)
		if err != nil {
			t.Fatal(err)
		}
		if len(token) != length {
			t.Errorf("expected length %d, got %d", length, len(token))
		}
	}
}

func TestNewTokenAlphabet(t *testing.T) {
	token, err := NewToken(256)
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range token {
		if !strings.ContainsRune(alphabet, r) {
			t.Fatalf("token contains character outside alphabet: %q", r)
		}
	}
}

func TestNewTokenUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		token, err := NewSecretKey()
		if err != nil {
			t.Fatal(err)
		}
		if seen[token] {
			t.Fatal("generated duplicate secret key")
		}
		seen[token] = true
	}
}

func TestSecureCompare(t *testing.T) {
	if !SecureCompare("abc", "abc") {
		t.Error("expected equal tokens to compare equal")
	}
	if SecureCompare("abc", "abd") {
		t.Error("expected different tokens to compare unequal")
	}
	if SecureCompare("abc", "abcd") {
		t.Error("expected different lengths to compare unequal")
	}
}
