package model

import "time"

// Login attempt reasons.
const (
	LoginReasonSuccess       = "success"
	LoginReasonRegistered    = "registered"
	LoginReasonUnknownEmail  = "unknown_email"
	LoginReasonWrongPassword = "wrong_password"
)

// LoginAttempt is an audit record of a login or registration.
type LoginAttempt struct {
	ID          string
	EventID     string // Redis stream message ID, used for idempotency
	Email       string
	UserID      *string
	Success     bool
	Reason      string
	IPHash      string
	UserAgent   string
	AttemptedAt time.Time
}
