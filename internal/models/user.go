package models

import (
	"time"
)

type User struct {
	ID            string
	Email         string
	PasswordHash  string
	Name          string
	EmailVerified bool
	VerifiedAt    *time.Time // Timestamp of successful email verification
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
