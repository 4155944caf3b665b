package auth

import (
	"crypto/rand"
	"encoding/hex"
)

// NewResetToken returns an unguessable correlation key for password resets.
// It is not a signed credential; validity is established by matching it
// against the stored token within its expiry window.
func NewResetToken() (string, error) {
	b := make([]byte, 32)

	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	return hex.EncodeToString(b), nil
}
