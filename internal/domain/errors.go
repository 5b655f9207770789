package domain

import (
	"errors"
	"strings"
)

var (
	ErrValidation         = errors.New("validation failed")
	ErrDuplicateEmail     = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrAlreadyVerified    = errors.New("account already verified")
	ErrOtpExpired         = errors.New("otp expired")
	ErrOtpMismatch        = errors.New("otp mismatch")
	ErrOtpNotRequested    = errors.New("otp not requested")
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrTokenExpired       = errors.New("token expired")
	ErrTokenInvalid       = errors.New("token invalid")
	ErrUserNotFound       = errors.New("user not found")
	ErrVersionConflict    = errors.New("user modified concurrently")
	ErrEmptyUpdate        = errors.New("user update names no fields")
	ErrUnavailable        = errors.New("service unavailable")
)

// ValidationError lists the offending input fields.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return ErrValidation.Error()
	}
	return ErrValidation.Error() + ": " + strings.Join(e.Fields, ", ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func NewValidationError(fields ...string) error {
	return &ValidationError{Fields: fields}
}

// Kind is the stable, caller-facing name of a failure.
type Kind string

const (
	KindValidation         Kind = "ValidationError"
	KindDuplicateEmail     Kind = "DuplicateEmail"
	KindInvalidCredentials Kind = "InvalidCredentials"
	KindAlreadyVerified    Kind = "AlreadyVerified"
	KindOtpExpired         Kind = "OtpExpired"
	KindOtpMismatch        Kind = "OtpMismatch"
	KindOtpNotRequested    Kind = "OtpNotRequested"
	KindUnauthenticated    Kind = "Unauthenticated"
	KindTokenExpired       Kind = "TokenExpired"
	KindNotFound           Kind = "NotFound"
	KindUnavailable        Kind = "Unavailable"
	KindInternal           Kind = "Internal"
)

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrValidation, KindValidation},
	{ErrDuplicateEmail, KindDuplicateEmail},
	{ErrInvalidCredentials, KindInvalidCredentials},
	{ErrAlreadyVerified, KindAlreadyVerified},
	{ErrOtpExpired, KindOtpExpired},
	{ErrOtpMismatch, KindOtpMismatch},
	{ErrOtpNotRequested, KindOtpNotRequested},
	{ErrTokenExpired, KindTokenExpired},
	{ErrTokenInvalid, KindUnauthenticated},
	{ErrUnauthenticated, KindUnauthenticated},
	{ErrUserNotFound, KindNotFound},
	{ErrUnavailable, KindUnavailable},
}

// KindOf classifies err. nil maps to "".
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}

var messages = map[Kind]string{
	KindValidation:         "Request is missing or has malformed fields",
	KindDuplicateEmail:     "An account with this email already exists",
	KindInvalidCredentials: "Invalid email or password",
	KindAlreadyVerified:    "Account is already verified",
	KindOtpExpired:         "The code has expired, request a new one",
	KindOtpMismatch:        "The code is incorrect",
	KindOtpNotRequested:    "No code is pending, request a new one",
	KindUnauthenticated:    "Not authenticated",
	KindTokenExpired:       "Session has expired, log in again",
	KindNotFound:           "User not found",
	KindUnavailable:        "Service temporarily unavailable",
	KindInternal:           "Internal server error",
}

// Message is the human-readable text for kind. It never carries request data.
func Message(kind Kind) string {
	if m, ok := messages[kind]; ok {
		return m
	}
	return messages[KindInternal]
}
