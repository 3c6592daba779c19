package verification

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Outcome tells which branch of a send or resend the provider took.
type Outcome int

const (
	// OutcomeCodeSent means a code is on its way; SessionID and ResendToken are set.
	OutcomeCodeSent Outcome = iota + 1
	// OutcomeAutoVerified means the provider confirmed the number without a code.
	OutcomeAutoVerified
)

// Provider reasons. They follow the identity backend's error codes.
const (
	ReasonInvalidCode        = "invalid-verification-code"
	ReasonSessionExpired     = "invalid-verification-id"
	ReasonInvalidPhone       = "invalid-phone-number"
	ReasonInvalidResendToken = "invalid-resend-token"
	ReasonTooManyRequests    = "too-many-requests"
)

// Credential is the provider's proof of phone ownership.
type Credential struct {
	UserID    string
	Phone     string
	Token     string
	ExpiresAt time.Time
}

// SendResult is the result of SendCode and ResendCode.
type SendResult struct {
	Outcome     Outcome
	SessionID   string
	ResendToken string
	Credential  *Credential
}

// Provider is the external verification backend.
type Provider interface {
	SendCode(ctx context.Context, phoneE164 string) (SendResult, error)
	ResendCode(ctx context.Context, phoneE164, resendToken string) (SendResult, error)
	ExchangeCode(ctx context.Context, sessionID, code string) (Credential, error)
}

// Revoker is implemented by providers that can invalidate a credential.
type Revoker interface {
	Revoke(ctx context.Context, cred Credential) error
}

// ProviderError is a failure reported by the provider.
type ProviderError struct {
	Reason  string
	Message string
}

func (e *ProviderError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Reason
}

// classifyExchange maps a code-exchange failure to the error shown to the user.
func classifyExchange(err error) *Error {
	var pe *ProviderError
	if errors.As(err, &pe) {
		switch pe.Reason {
		case ReasonInvalidCode:
			return ErrInvalidCode
		case ReasonSessionExpired:
			return ErrExpiredSession
		}
		return ProviderFailure(pe.Message)
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, ReasonInvalidCode):
		return ErrInvalidCode
	case strings.Contains(msg, ReasonSessionExpired):
		return ErrExpiredSession
	}
	return ProviderFailure(msg)
}

// classifySend maps a send or resend failure to the error shown to the user.
func classifySend(err error) *Error {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return ProviderFailure(pe.Message)
	}
	return ProviderFailure(err.Error())
}
