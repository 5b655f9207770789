package domain

import (
	"log/slog"
	"strings"
	"time"
)

type OTPPurpose string

const (
	OTPPurposeVerify OTPPurpose = "verify"
	OTPPurposeReset  OTPPurpose = "reset"
)

// OTP is a pending one-time code. Only the SHA-256 digest of the code is kept,
// and the digest and expiry always travel together.
type OTP struct {
	CodeHash  string
	ExpiresAt time.Time
}

// IsExpiredAt reports whether the code is past its expiry at t.
func (o OTP) IsExpiredAt(t time.Time) bool {
	return t.After(o.ExpiresAt)
}

type User struct {
	ID         string
	Email      string
	Name       string
	SecretHash string
	IsVerified bool
	VerifyOTP  *OTP
	ResetOTP   *OTP
	Version    int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// PendingOTP returns the stored code for purpose, or nil.
func (u *User) PendingOTP(purpose OTPPurpose) *OTP {
	switch purpose {
	case OTPPurposeVerify:
		return u.VerifyOTP
	case OTPPurposeReset:
		return u.ResetOTP
	default:
		return nil
	}
}

// LogValue keeps the secret hash and OTP digests out of logs.
func (u *User) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", u.ID),
		slog.String("email", u.Email),
		slog.Bool("verified", u.IsVerified),
		slog.Int64("version", u.Version),
	)
}

// UserUpdate names the fields of a single write. Unset fields are left alone.
// IfVersion makes the write conditional on the stored version.
type UserUpdate struct {
	Name           *string
	SecretHash     *string
	MarkVerified   bool
	SetVerifyOTP   *OTP
	ClearVerifyOTP bool
	SetResetOTP    *OTP
	ClearResetOTP  bool
	IfVersion      *int64
}

func (u UserUpdate) IsEmpty() bool {
	return u.Name == nil && u.SecretHash == nil && !u.MarkVerified &&
		u.SetVerifyOTP == nil && !u.ClearVerifyOTP &&
		u.SetResetOTP == nil && !u.ClearResetOTP
}

// NormalizeEmail is the canonical form used as the unique login key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
