package models

import (
	"time"
)

// VerificationToken represents a single-use email verification token.
// Only the SHA-256 hash of the token value is stored; the plain value is
// transmitted to the user exactly once.
type VerificationToken struct {
	ID         string     `json:"id"`
	Email      string     `json:"email"`
	TokenHash  string     `json:"-"` // Never expose token hash
	ExpiresAt  time.Time  `json:"expires_at"`
	ConsumedAt *time.Time `json:"consumed_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// IsExpired checks if the token has expired
func (t *VerificationToken) IsExpired() bool {
	return time.Now().After(t.ExpiresAt)
}

// IsConsumed checks if the token has already been redeemed
func (t *VerificationToken) IsConsumed() bool {
	return t.ConsumedAt != nil
}

// IsLive checks if the token is still redeemable (not expired and not consumed)
func (t *VerificationToken) IsLive() bool {
	return !t.IsExpired() && !t.IsConsumed()
}

// VerifyOutcome is the closed set of client-visible verification results.
// It is carried as the `verified` query parameter on the login redirect.
type VerifyOutcome string

const (
	VerifySuccess         VerifyOutcome = "true"
	VerifyInvalid         VerifyOutcome = "invalid"
	VerifyExpired         VerifyOutcome = "expired"
	VerifyAlreadyVerified VerifyOutcome = "already-verified"
	VerifyError           VerifyOutcome = "error"
)
