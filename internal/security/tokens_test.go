package security

import (
	"encoding/hex"
	"testing"
)

func TestNewToken_Format(t *testing.T) {
	tok, err := NewToken()
	if err != nil {
		t.Fatalf("NewToken: %v", err)
	}
	if len(tok) != 32 {
		t.Errorf("len = %d, want 32", len(tok))
	}
	if _, err := hex.DecodeString(tok); err != nil {
		t.Errorf("token %q is not hex: %v", tok, err)
	}
}

func TestNewToken_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		tok, err := NewToken()
		if err != nil {
			t.Fatalf("NewToken: %v", err)
		}
		if seen[tok] {
			t.Fatalf("duplicate token %q", tok)
		}
		seen[tok] = true
	}
}

func TestTokenEqual(t *testing.T) {
	testCases := []struct {
		name              string
		presented, stored string
		want              bool
	}{
		{"match", "abc123", "abc123", true},
		{"mismatch", "abc123", "abc124", false},
		{"prefix", "abc", "abc123", false},
		{"empty presented", "", "abc123", false},
		{"both empty", "", "", false},
	}
	for _, tc := range testCases {
		if got := TokenEqual(tc.presented, tc.stored); got != tc.want {
			t.Errorf("%s: TokenEqual(%q, %q) = %v, want %v", tc.name, tc.presented, tc.stored, got, tc.want)
		}
	}
}
