package password

import (
	"errors"
	"strings"
	"testing"
)

func TestHashAndVerify(t *testing.T) {
	h, err := NewHasher()
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}

	encoded, err := h.Hash("s3cret-Pass!")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if !strings.HasPrefix(encoded, "$argon2id$") {
		t.Fatalf("not PHC encoded: %q", encoded)
	}

	ok, err := h.Verify("s3cret-Pass!", encoded)
	if err != nil || !ok {
		t.Fatalf("Verify(correct) = %v, %v", ok, err)
	}
	ok, err = h.Verify("wrong", encoded)
	if err != nil || ok {
		t.Fatalf("Verify(wrong) = %v, %v", ok, err)
	}
}

func TestHashesAreSalted(t *testing.T) {
	h, err := NewHasher()
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}

	a, _ := h.Hash("same")
	b, _ := h.Hash("same")
	if a == b {
		t.Fatal("two hashes of one secret must differ")
	}
}

func TestDummyHashNeverMatches(t *testing.T) {
	h, err := NewHasher()
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}

	for _, guess := range []string{"", "password", "hunter2"} {
		ok, err := h.Verify(guess, h.DummyHash())
		if err != nil {
			t.Fatalf("Verify against dummy: %v", err)
		}
		if ok {
			t.Fatalf("dummy hash matched %q", guess)
		}
	}
}

func TestVerifyMalformedHash(t *testing.T) {
	h, err := NewHasher()
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}

	for _, bad := range []string{
		"",
		"plaintext",
		"$argon2id$v=19$m=65536,t=3$short",
		"$bcrypt$v=19$m=65536,t=3,p=2$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA",
	} {
		if _, err := h.Verify("x", bad); !errors.Is(err, ErrMalformedHash) {
			t.Errorf("Verify(%q) err = %v, want ErrMalformedHash", bad, err)
		}
	}
}
