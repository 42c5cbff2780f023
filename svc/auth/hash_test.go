package auth

import (
	"strings"
	"testing"
)

func testHasher(t *testing.T) *Hasher {
	t.Helper()
	// Minimal parameters: tests exercise correctness, not cost.
	h, err := NewHasher(1, 8*1024, 1, []byte(strings.Repeat("p", 32)))
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	return h
}

func TestNewHasherValidation(t *testing.T) {
	pepper := []byte(strings.Repeat("p", 32))
	cases := []struct {
		name        string
		time, mem   uint32
		parallelism uint8
		pepper      []byte
	}{
		{"short pepper", 1, 8 * 1024, 1, []byte("short")},
		{"zero iterations", 0, 8 * 1024, 1, pepper},
		{"memory too small", 1, 512, 1, pepper},
		{"zero parallelism", 1, 8 * 1024, 0, pepper},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewHasher(tc.time, tc.mem, tc.parallelism, tc.pepper); err == nil {
				t.Fatal("expected constructor to reject parameters")
			}
		})
	}
}

func TestHashAndVerify(t *testing.T) {
	h := testHasher(t)
	encoded, err := h.Hash("correct horse battery staple")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if !strings.HasPrefix(encoded, "$argon2id$") {
		t.Fatalf("unexpected encoding: %q", encoded)
	}
	if strings.Contains(encoded, "correct horse") {
		t.Fatal("plaintext leaked into encoding")
	}

	ok, err := h.Verify("correct horse battery staple", encoded)
	if err != nil || !ok {
		t.Fatalf("Verify(correct) = %v, %v", ok, err)
	}
	ok, err = h.Verify("wrong password", encoded)
	if err != nil || ok {
		t.Fatalf("Verify(wrong) = %v, %v", ok, err)
	}
}

func TestHashSaltsDiffer(t *testing.T) {
	h := testHasher(t)
	a, err := h.Hash("same password")
	if err != nil {
		t.Fatal(err)
	}
	b, err := h.Hash("same password")
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Fatal("two hashes of the same password must not collide")
	}
}

func TestVerifyMalformedEncodings(t *testing.T) {
	h := testHasher(t)
	for _, encoded := range []string{
		"",
		"not a hash",
		"$argon2i$v=19$m=8192,t=1,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=19$garbage$c2FsdA$aGFzaA",
		"$argon2id$v=19$m=8192,t=1,p=1$!!!$aGFzaA",
		"$argon2id$v=19$m=99999999,t=1,p=1$c2FsdA$aGFzaA",
	} {
		ok, err := h.Verify("anything", encoded)
		if err != nil {
			t.Fatalf("Verify(%q) errored: %v", encoded, err)
		}
		if ok {
			t.Fatalf("Verify(%q) accepted a malformed hash", encoded)
		}
	}
}

func TestVerifyOverlongPassword(t *testing.T) {
	h := testHasher(t)
	encoded, err := h.Hash("normal")
	if err != nil {
		t.Fatal(err)
	}
	ok, err := h.Verify(strings.Repeat("x", maxPasswordLength+1), encoded)
	if err != nil || ok {
		t.Fatalf("overlong password: ok=%v err=%v", ok, err)
	}
	if _, err := h.Hash(strings.Repeat("x", maxPasswordLength+1)); err == nil {
		t.Fatal("Hash must reject overlong passwords")
	}
}

func TestPepperBindsHash(t *testing.T) {
	h := testHasher(t)
	encoded, err := h.Hash("password1")
	if err != nil {
		t.Fatal(err)
	}
	other, err := NewHasher(1, 8*1024, 1, []byte(strings.Repeat("q", 32)))
	if err != nil {
		t.Fatal(err)
	}
	ok, err := other.Verify("password1", encoded)
	if err != nil || ok {
		t.Fatalf("hash verified under a different pepper: ok=%v err=%v", ok, err)
	}
}
