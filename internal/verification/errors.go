package verification

import (
	"errors"
	"strings"
)

// ErrorKind classifies a failure surfaced to the caller.
type ErrorKind string

const (
	KindInvalidPhoneFormat   ErrorKind = "invalid_phone_format"
	KindIncompleteCode       ErrorKind = "incomplete_code"
	KindInvalidCode          ErrorKind = "invalid_code"
	KindExpiredSession       ErrorKind = "expired_session"
	KindProviderFailure      ErrorKind = "provider_failure"
	KindSessionAlreadyActive ErrorKind = "session_already_active"
	KindStorageFailure       ErrorKind = "storage_failure"
	KindResendNotReady       ErrorKind = "resend_not_ready"
	KindInvalidState         ErrorKind = "invalid_state"
	KindInvalidProfile       ErrorKind = "invalid_profile"
	KindEmailTaken           ErrorKind = "email_taken"
)

var defaultMessages = map[ErrorKind]string{
	KindInvalidPhoneFormat:   "Please enter a valid 10-digit phone number.",
	KindIncompleteCode:       "Please enter the complete 6-digit code.",
	KindInvalidCode:          "Invalid code. Please check and try again.",
	KindExpiredSession:       "Verification expired. Please request a new code.",
	KindProviderFailure:      "Verification failed. Please try again.",
	KindSessionAlreadyActive: "A verification is already in progress.",
	KindStorageFailure:       "Your number is verified but we could not save your account. Please retry.",
	KindResendNotReady:       "Please wait before requesting a new code.",
	KindInvalidState:         "This action is not available right now.",
	KindInvalidProfile:       "Please check your name and email.",
	KindEmailTaken:           "An account with this email already exists.",
}

// Error is the single error type presented to the UI layer. Detail, when
// set, is shown verbatim instead of the default message for the kind.
type Error struct {
	Kind   ErrorKind
	Detail string
}

func (e *Error) Error() string {
	return e.Message()
}

// Message returns a human-readable message for the error.
func (e *Error) Message() string {
	if d := strings.TrimSpace(e.Detail); d != "" {
		return d
	}
	if msg, ok := defaultMessages[e.Kind]; ok {
		return msg
	}
	return defaultMessages[KindProviderFailure]
}

// Is matches any *Error of the same kind, so callers can use the sentinel
// values below with errors.Is regardless of detail.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrInvalidPhoneFormat   = &Error{Kind: KindInvalidPhoneFormat}
	ErrIncompleteCode       = &Error{Kind: KindIncompleteCode}
	ErrInvalidCode          = &Error{Kind: KindInvalidCode}
	ErrExpiredSession       = &Error{Kind: KindExpiredSession}
	ErrProviderFailure      = &Error{Kind: KindProviderFailure}
	ErrSessionAlreadyActive = &Error{Kind: KindSessionAlreadyActive}
	ErrStorageFailure       = &Error{Kind: KindStorageFailure}
	ErrResendNotReady       = &Error{Kind: KindResendNotReady}
	ErrInvalidState         = &Error{Kind: KindInvalidState}
	ErrInvalidProfile       = &Error{Kind: KindInvalidProfile}
	ErrEmailTaken           = &Error{Kind: KindEmailTaken}
)

// ErrSessionDetached is returned by a blocking operation whose session was
// detached while the provider call was in flight. It is never published.
var ErrSessionDetached = errors.New("verification session detached")

// ProviderFailure wraps a provider-reported reason.
func ProviderFailure(detail string) *Error {
	return &Error{Kind: KindProviderFailure, Detail: detail}
}

// StorageFailure wraps a profile or session store failure.
func StorageFailure(detail string) *Error {
	return &Error{Kind: KindStorageFailure, Detail: detail}
}

// InvalidProfile reports a problem with sign-up details.
func InvalidProfile(detail string) *Error {
	return &Error{Kind: KindInvalidProfile, Detail: detail}
}

// AsError extracts the *Error from err, if any.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
