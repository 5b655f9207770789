// Package otp issues and checks the six digit codes used for email
// verification and password reset.
package otp

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"
	"math/big"
	"time"

	"github.com/ErlanBelekov/authsvc/internal/domain"
)

const (
	CodeLength = 6

	DefaultVerifyTTL = 24 * time.Hour
	DefaultResetTTL  = 15 * time.Minute
)

var codeSpace = big.NewInt(1_000_000)

type Config struct {
	VerifyTTL time.Duration
	ResetTTL  time.Duration
	Now       func() time.Time
	Rand      io.Reader
}

type Engine struct {
	verifyTTL time.Duration
	resetTTL  time.Duration
	now       func() time.Time
	rand      io.Reader
}

func NewEngine(cfg Config) *Engine {
	e := &Engine{
		verifyTTL: cfg.VerifyTTL,
		resetTTL:  cfg.ResetTTL,
		now:       cfg.Now,
		rand:      cfg.Rand,
	}
	if e.verifyTTL <= 0 {
		e.verifyTTL = DefaultVerifyTTL
	}
	if e.resetTTL <= 0 {
		e.resetTTL = DefaultResetTTL
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.rand == nil {
		e.rand = rand.Reader
	}
	return e
}

func (e *Engine) TTL(purpose domain.OTPPurpose) time.Duration {
	if purpose == domain.OTPPurposeReset {
		return e.resetTTL
	}
	return e.verifyTTL
}

// Issue draws a fresh code. The plain code goes to the notifier, the returned
// OTP (digest + expiry) goes to the store.
func (e *Engine) Issue(purpose domain.OTPPurpose) (string, domain.OTP, error) {
	n, err := rand.Int(e.rand, codeSpace)
	if err != nil {
		return "", domain.OTP{}, fmt.Errorf("generate otp: %w", err)
	}
	code := fmt.Sprintf("%0*d", CodeLength, n.Int64())

	return code, domain.OTP{
		CodeHash:  Digest(code),
		ExpiresAt: e.now().Add(e.TTL(purpose)).UTC(),
	}, nil
}

// Validate checks supplied against stored at now. Expiry is reported even
// when the code matches.
func (e *Engine) Validate(stored *domain.OTP, supplied string, now time.Time) error {
	if stored == nil || stored.CodeHash == "" {
		return domain.ErrOtpNotRequested
	}
	if stored.IsExpiredAt(now) {
		return domain.ErrOtpExpired
	}
	if subtle.ConstantTimeCompare([]byte(Digest(supplied)), []byte(stored.CodeHash)) != 1 {
		return domain.ErrOtpMismatch
	}
	return nil
}

func (e *Engine) Now() time.Time {
	return e.now()
}

// Digest is the stored form of a code.
func Digest(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

// ValidCode reports whether s has the shape of an issued code.
func ValidCode(s string) bool {
	if len(s) != CodeLength {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
