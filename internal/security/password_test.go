package security_test

import (
	"testing"

	"github.com/mkarwoski/userdeck/internal/security"
)

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := security.HashPassword("correct-horse")

	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}

	if hash == "correct-horse" {
		t.Fatal("hash must not equal the plaintext")
	}

	if err := security.CheckPassword(hash, "correct-horse"); err != nil {
		t.Fatalf("check with right password failed: %v", err)
	}

	if err := security.CheckPassword(hash, "battery-staple"); err == nil {
		t.Fatal("check with wrong password must fail")
	}
}

func TestHashPasswordIsSalted(t *testing.T) {
	a, err := security.HashPassword("same-input")

	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}

	b, err := security.HashPassword("same-input")

	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}

	if a == b {
		t.Fatal("two hashes of the same input must differ")
	}
}
