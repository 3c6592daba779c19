package model

import (
	"time"

	"github.com/google/uuid"
)

// Identity is the provider-side account for a verified phone number
type Identity struct {
	ID          uuid.UUID
	PhoneNumber string
	CreatedAt   time.Time
}

// UserProfile is the profile record created at sign-up
type UserProfile struct {
	UID         string    `json:"uid"`
	FullName    string    `json:"full_name"`
	Email       string    `json:"email"`
	PhoneNumber string    `json:"phone_number"`
	Verified    bool      `json:"verified"`
	CreatedAt   time.Time `json:"created_at"`
}

// OtpSession represents an issued one-time code for phone verification
type OtpSession struct {
	ID              uuid.UUID
	PhoneNumber     string
	OTPHash         []byte
	ResendTokenHash []byte
	ExpiresAt       time.Time
	ConsumedAt      *time.Time
	CreatedAt       time.Time
	AttemptCount    int
	LastAttemptAt   *time.Time
}
