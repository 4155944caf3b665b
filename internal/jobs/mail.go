package jobs

import (
	"encoding/json"
	"time"
)

const (
	TypePasswordResetMail = "mail.password_reset"
	TypeWelcomeMail       = "mail.welcome"
)

func IsKnownType(t string) bool {
	switch t {
	case TypePasswordResetMail, TypeWelcomeMail:
		return true
	default:
		return false
	}
}

type PasswordResetMailPayload struct {
	UserID      string    `json:"userId"`
	Email       string    `json:"email"`
	Name        string    `json:"name"`
	ResetLink   string    `json:"resetLink"`
	RequestedAt time.Time `json:"requestedAt"`
}

func (p PasswordResetMailPayload) JSON() (json.RawMessage, error) {
	b, err := json.Marshal(p)

	if err != nil {
		return nil, err
	}
	return json.RawMessage(b), nil
}

type WelcomeMailPayload struct {
	UserID      string    `json:"userId"`
	Email       string    `json:"email"`
	Name        string    `json:"name"`
	Role        string    `json:"role"`
	LoginURL    string    `json:"loginUrl"`
	RequestedAt time.Time `json:"requestedAt"`
}

func (p WelcomeMailPayload) JSON() (json.RawMessage, error) {
	b, err := json.Marshal(p)

	if err != nil {
		return nil, err
	}
	return json.RawMessage(b), nil
}
