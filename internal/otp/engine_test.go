package otp_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/ErlanBelekov/authsvc/internal/domain"
	"github.com/ErlanBelekov/authsvc/internal/otp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return t0 }

func TestIssue_SixDigitsAndPurposeTTL(t *testing.T) {
	e := otp.NewEngine(otp.Config{Now: fixedClock})

	code, stored, err := e.Issue(domain.OTPPurposeVerify)
	require.NoError(t, err)
	assert.True(t, otp.ValidCode(code), "code %q", code)
	assert.Equal(t, otp.Digest(code), stored.CodeHash)
	assert.NotContains(t, stored.CodeHash, code)
	assert.Equal(t, t0.Add(24*time.Hour), stored.ExpiresAt)

	_, reset, err := e.Issue(domain.OTPPurposeReset)
	require.NoError(t, err)
	assert.Equal(t, t0.Add(15*time.Minute), reset.ExpiresAt)
}

func TestIssue_ZeroPadsSmallValues(t *testing.T) {
	// An all-zero random stream yields 0, which must still be six digits.
	e := otp.NewEngine(otp.Config{Now: fixedClock, Rand: bytes.NewReader(make([]byte, 64))})

	code, _, err := e.Issue(domain.OTPPurposeVerify)
	require.NoError(t, err)
	assert.Equal(t, "000000", code)
}

func TestIssue_CodesVary(t *testing.T) {
	e := otp.NewEngine(otp.Config{})
	seen := make(map[string]struct{})
	for range 50 {
		code, _, err := e.Issue(domain.OTPPurposeVerify)
		require.NoError(t, err)
		seen[code] = struct{}{}
	}
	assert.Greater(t, len(seen), 40)
}

func TestValidate(t *testing.T) {
	e := otp.NewEngine(otp.Config{Now: fixedClock, ResetTTL: 10 * time.Minute})
	code, stored, err := e.Issue(domain.OTPPurposeReset)
	require.NoError(t, err)

	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}

	tests := []struct {
		name     string
		stored   *domain.OTP
		supplied string
		now      time.Time
		want     error
	}{
		{"ok", &stored, code, t0.Add(time.Minute), nil},
		{"ok at exact expiry", &stored, code, stored.ExpiresAt, nil},
		{"not requested", nil, code, t0, domain.ErrOtpNotRequested},
		{"empty stored", &domain.OTP{}, code, t0, domain.ErrOtpNotRequested},
		{"mismatch", &stored, wrong, t0, domain.ErrOtpMismatch},
		{"expired beats correct code", &stored, code, t0.Add(11 * time.Minute), domain.ErrOtpExpired},
		{"expired beats mismatch", &stored, wrong, t0.Add(11 * time.Minute), domain.ErrOtpExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := e.Validate(tt.stored, tt.supplied, tt.now)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestValidCode(t *testing.T) {
	assert.True(t, otp.ValidCode("012345"))
	assert.False(t, otp.ValidCode("12345"))
	assert.False(t, otp.ValidCode("1234567"))
	assert.False(t, otp.ValidCode("12a456"))
	assert.False(t, otp.ValidCode(""))
}
