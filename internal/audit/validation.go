package audit

import (
	"fmt"

	"github.com/folio-cms/folio/internal/model"
)

const (
	maxEmailLength = 320
	ipHashLength   = 16
)

var validReasons = map[string]bool{
	model.LoginReasonSuccess:       true,
	model.LoginReasonRegistered:    true,
	model.LoginReasonUnknownEmail:  true,
	model.LoginReasonWrongPassword: true,
}

// ValidateAttemptPayload validates a payload read from the stream.
func ValidateAttemptPayload(payload AttemptPayload) error {
	if payload.Email == "" {
		return fmt.Errorf("email is required")
	}
	if len(payload.Email) > maxEmailLength {
		return fmt.Errorf("email too long")
	}
	if !validReasons[payload.Reason] {
		return fmt.Errorf("unknown reason %q", payload.Reason)
	}
	succeeded := payload.Reason == model.LoginReasonSuccess || payload.Reason == model.LoginReasonRegistered
	if payload.Success != succeeded {
		return fmt.Errorf("success flag does not match reason %q", payload.Reason)
	}
	if payload.Success && payload.UserID == "" {
		return fmt.Errorf("user_id is required for successful attempts")
	}
	if len(payload.IPHash) != ipHashLength || !isHex(payload.IPHash) {
		return fmt.Errorf("ip_hash must be %d hex chars", ipHashLength)
	}
	if payload.AttemptedAt <= 0 {
		return fmt.Errorf("attempted_at must be set")
	}
	if len(payload.UserAgent) > maxUserAgentLength {
		return fmt.Errorf("user_agent too long")
	}
	return nil
}

func isHex(value string) bool {
	for i := 0; i < len(value); i++ {
		ch := value[i]
		if (ch >= '0' && ch <= '9') || (ch >= 'a' && ch <= 'f') || (ch >= 'A' && ch <= 'F') {
			continue
		}
		return false
	}
	return true
}
