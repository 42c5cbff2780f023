package util

import (
	"strings"
	"testing"
)

func TestGenerateToken(t *testing.T) {
	if _, err := GenerateToken(0); err == nil {
		t.Fatal("zero-length token must be rejected")
	}
	tok, err := GenerateToken(12)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	// 12 bytes encode to 16 base64url characters, no padding.
	if len(tok) != 16 {
		t.Fatalf("token length = %d, want 16", len(tok))
	}
	if strings.ContainsAny(tok, "+/=") {
		t.Fatalf("token %q is not URL safe", tok)
	}
}

func TestGeneratePasteIDUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id, err := GeneratePasteID()
		if err != nil {
			t.Fatalf("GeneratePasteID: %v", err)
		}
		if seen[id] {
			t.Fatalf("duplicate id %q after %d draws", id, i)
		}
		seen[id] = true
	}
}

func TestGenerateDeleteTokenLongerThanID(t *testing.T) {
	id, err := GeneratePasteID()
	if err != nil {
		t.Fatal(err)
	}
	tok, err := GenerateDeleteToken()
	if err != nil {
		t.Fatal(err)
	}
	if len(tok) <= len(id) {
		t.Fatalf("delete token (%d chars) must be visibly longer than an id (%d chars)", len(tok), len(id))
	}
}

func TestHashToken(t *testing.T) {
	a := HashToken("secret")
	b := HashToken("secret")
	if a != b {
		t.Fatal("digest must be deterministic")
	}
	if a == "secret" || a == HashToken("other") {
		t.Fatalf("suspicious digest %q", a)
	}
}
