package user

import (
	"time"

	"github.com/google/uuid"
)

func New(name, email, passwordHash, role string) User {
	now := time.Now().UTC()

	if role == "" {
		role = RoleUser
	}

	return User{
		ID:           uuid.NewString(),
		Name:         name,
		Email:        email,
		PasswordHash: passwordHash,
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}
