package verification

import (
	"net/mail"
	"strings"
	"time"

	"github.com/quickauth/server/internal/phone"
)

// Status is the state of a verification session.
type Status int

const (
	StatusIdle Status = iota
	StatusRequesting
	StatusCodeSent
	StatusVerifying
	StatusVerified
	StatusFailed
	StatusExpired
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusRequesting:
		return "requesting"
	case StatusCodeSent:
		return "code_sent"
	case StatusVerifying:
		return "verifying"
	case StatusVerified:
		return "verified"
	case StatusFailed:
		return "failed"
	case StatusExpired:
		return "expired"
	}
	return "unknown"
}

// active reports whether a session in this status blocks a new request.
func (s Status) active() bool {
	return s == StatusRequesting || s == StatusCodeSent || s == StatusVerifying
}

// Mode is whether the verification signs an existing user in or registers a new one.
type Mode int

const (
	ModeSignIn Mode = iota
	ModeSignUp
)

func (m Mode) String() string {
	if m == ModeSignUp {
		return "sign_up"
	}
	return "sign_in"
}

// ParseMode accepts "sign_in" and "sign_up".
func ParseMode(s string) (Mode, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sign_in", "signin", "":
		return ModeSignIn, true
	case "sign_up", "signup":
		return ModeSignUp, true
	}
	return ModeSignIn, false
}

// PendingProfile holds sign-up details for the duration of a session.
type PendingProfile struct {
	FullName string
	Email    string
}

// Validate checks the sign-up form fields.
func (p PendingProfile) Validate() error {
	if strings.TrimSpace(p.FullName) == "" {
		return InvalidProfile("Full name is required.")
	}
	email := strings.TrimSpace(p.Email)
	if email == "" {
		return InvalidProfile("Email is required.")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return InvalidProfile("Please enter a valid email address.")
	}
	return nil
}

// Snapshot is a copy of the controller's observable state.
type Snapshot struct {
	SessionID       string
	Status          Status
	Mode            Mode
	Phone           phone.Number
	ResendToken     string
	EnteredCode     string
	CodeComplete    bool
	ResendRemaining time.Duration
	CanResend       bool
	Pending         *PendingProfile
	Credential      *Credential
	Err             *Error
	Detached        bool
}
