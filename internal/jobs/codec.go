package jobs

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mkarwoski/userdeck/internal/domain/job"
)

// DecodePayload unmarshals j.Payload into the typed payload for its job type.
func DecodePayload(j job.Job) (any, error) {
	if !IsKnownType(j.Type) {
		return nil, ErrInvalidJobType
	}
	if len(j.Payload) == 0 {
		return nil, ErrInvalidJobPayload
	}

	switch j.Type {
	case TypePasswordResetMail:
		var p PasswordResetMailPayload
		if err := json.Unmarshal(j.Payload, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidJobPayload, err)
		}
		if err := validatePasswordReset(p); err != nil {
			return nil, err
		}
		return p, nil

	case TypeWelcomeMail:
		var p WelcomeMailPayload
		if err := json.Unmarshal(j.Payload, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidJobPayload, err)
		}
		if err := validateWelcome(p); err != nil {
			return nil, err
		}
		return p, nil

	default:
		return nil, ErrInvalidJobType
	}
}

func validatePasswordReset(p PasswordResetMailPayload) error {
	if strings.TrimSpace(p.UserID) == "" || strings.TrimSpace(p.Email) == "" || strings.TrimSpace(p.ResetLink) == "" {
		return ErrInvalidJobPayload
	}
	return nil
}

func validateWelcome(p WelcomeMailPayload) error {
	if strings.TrimSpace(p.UserID) == "" || strings.TrimSpace(p.Email) == "" {
		return ErrInvalidJobPayload
	}
	return nil
}
