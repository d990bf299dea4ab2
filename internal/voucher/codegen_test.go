package voucher

import (
	"strings"
	"testing"
)

func TestGenerateCodeShape(t *testing.T) {
	code, err := GenerateCode()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(code) != CodeLength {
		t.Fatalf("expected %d characters, got %d", CodeLength, len(code))
	}
	for _, r := range code {
		if !strings.ContainsRune(codeAlphabet, r) {
			t.Fatalf("character %q outside code alphabet", r)
		}
	}
}

func TestGenerateCodeUniqueness(t *testing.T) {
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		code, err := GenerateCode()
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if _, dup := seen[code]; dup {
			t.Fatalf("generated duplicate code %q", code)
		}
		seen[code] = struct{}{}
	}
}
