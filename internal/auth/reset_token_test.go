package auth_test

import (
	"encoding/hex"
	"testing"

	"github.com/mkarwoski/userdeck/internal/auth"
)

func TestNewResetToken(t *testing.T) {
	token, err := auth.NewResetToken()

	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	// 32 random bytes, hex encoded
	if len(token) != 64 {
		t.Fatalf("unexpected token length: %d", len(token))
	}

	if _, err := hex.DecodeString(token); err != nil {
		t.Fatalf("token is not hex: %v", err)
	}
}

func TestNewResetTokenIsUnique(t *testing.T) {
	seen := make(map[string]struct{}, 100)

	for i := 0; i < 100; i++ {
		token, err := auth.NewResetToken()

		if err != nil {
			t.Fatalf("generate failed: %v", err)
		}

		if _, dup := seen[token]; dup {
			t.Fatal("duplicate reset token generated")
		}

		seen[token] = struct{}{}
	}
}
