package postgres_test

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/ErlanBelekov/authsvc/internal/domain"
	"github.com/ErlanBelekov/authsvc/internal/infrastructure/postgres"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var userCols = []string{
	"id", "email", "name", "secret_hash", "is_verified",
	"verify_otp_hash", "verify_otp_expires_at", "reset_otp_hash", "reset_otp_expires_at",
	"version", "created_at", "updated_at",
}

const testID = "7f0c3a52-8d7e-4c55-9a3e-1f2b3c4d5e6f"

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func strPtr(s string) *string        { return &s }
func timePtr(t time.Time) *time.Time { return &t }
func int64Ptr(v int64) *int64        { return &v }

func userRow(verifyHash *string, verifyExp *time.Time, version int64) *pgxmock.Rows {
	return pgxmock.NewRows(userCols).AddRow(
		testID, "ann@x.com", "Ann", "$argon2id$...", false,
		verifyHash, verifyExp, (*string)(nil), (*time.Time)(nil),
		version, now, now,
	)
}

func newRepo(t *testing.T) (*postgres.UserRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return postgres.NewUserRepository(mock), mock
}

func TestCreate(t *testing.T) {
	tests := []struct {
		name      string
		setupMock func(mock pgxmock.PgxPoolIface)
		wantErr   error
		wantCode  string
	}{
		{
			name: "inserts normalized email",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery("INSERT INTO users").
					WithArgs("ann@x.com", "Ann", "hash").
					WillReturnRows(userRow(nil, nil, 1))
			},
		},
		{
			name: "unique violation is duplicate email",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery("INSERT INTO users").
					WithArgs("ann@x.com", "Ann", "hash").
					WillReturnError(&pgconn.PgError{Code: pgerrcode.UniqueViolation})
			},
			wantErr: domain.ErrDuplicateEmail,
		},
		{
			name: "connection failure is coded",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery("INSERT INTO users").
					WithArgs("ann@x.com", "Ann", "hash").
					WillReturnError(errors.New("connection reset"))
			},
			wantCode: "USER_CREATE_FAILED",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := newRepo(t)
			tt.setupMock(mock)

			u, err := repo.Create(context.Background(), " Ann@X.com", "Ann", "hash")
			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			case tt.wantCode != "":
				oopsErr, ok := oops.AsOops(err)
				require.True(t, ok)
				assert.Equal(t, tt.wantCode, oopsErr.Code())
			default:
				require.NoError(t, err)
				assert.Equal(t, testID, u.ID)
				assert.Nil(t, u.VerifyOTP)
				assert.Nil(t, u.ResetOTP)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestFindByEmail_ScansOTP(t *testing.T) {
	repo, mock := newRepo(t)
	exp := now.Add(time.Hour)
	mock.ExpectQuery("(?s)SELECT .+ FROM users WHERE email = ").
		WithArgs("ann@x.com").
		WillReturnRows(userRow(strPtr("digest"), timePtr(exp), 4))

	u, err := repo.FindByEmail(context.Background(), "ANN@x.com")
	require.NoError(t, err)
	require.NotNil(t, u.VerifyOTP)
	assert.Equal(t, "digest", u.VerifyOTP.CodeHash)
	assert.True(t, exp.Equal(u.VerifyOTP.ExpiresAt))
	assert.Equal(t, int64(4), u.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByID_NotFound(t *testing.T) {
	repo, mock := newRepo(t)
	mock.ExpectQuery("(?s)SELECT .+ FROM users WHERE id = ").
		WithArgs(testID).
		WillReturnRows(pgxmock.NewRows(userCols))

	_, err := repo.FindByID(context.Background(), testID)
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByID_MalformedIDIsNotFound(t *testing.T) {
	repo, mock := newRepo(t)
	mock.ExpectQuery("(?s)SELECT .+ FROM users WHERE id = ").
		WithArgs("not-a-uuid").
		WillReturnError(&pgconn.PgError{Code: pgerrcode.InvalidTextRepresentation})

	_, err := repo.FindByID(context.Background(), "not-a-uuid")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdate_SetOTPWritesBothColumns(t *testing.T) {
	repo, mock := newRepo(t)
	exp := now.Add(24 * time.Hour)

	mock.ExpectQuery(regexp.QuoteMeta(
		"UPDATE users SET verify_otp_hash = $2, verify_otp_expires_at = $3, version = version + 1, updated_at = NOW() WHERE id = $1 RETURNING")).
		WithArgs(testID, "digest", exp).
		WillReturnRows(userRow(strPtr("digest"), timePtr(exp), 2))

	u, err := repo.Update(context.Background(), testID, domain.UserUpdate{
		SetVerifyOTP: &domain.OTP{CodeHash: "digest", ExpiresAt: exp},
	})
	require.NoError(t, err)
	assert.Equal(t, "digest", u.VerifyOTP.CodeHash)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdate_ConditionalConsume(t *testing.T) {
	consume := domain.UserUpdate{MarkVerified: true, ClearVerifyOTP: true, IfVersion: int64Ptr(3)}
	query := regexp.QuoteMeta(
		"UPDATE users SET is_verified = TRUE, verify_otp_hash = NULL, verify_otp_expires_at = NULL, version = version + 1, updated_at = NOW() WHERE id = $1 AND version = $2 RETURNING")

	tests := []struct {
		name      string
		setupMock func(mock pgxmock.PgxPoolIface)
		wantErr   error
	}{
		{
			name: "version matches",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(query).
					WithArgs(testID, int64(3)).
					WillReturnRows(userRow(nil, nil, 4))
			},
		},
		{
			name: "version moved on",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(query).
					WithArgs(testID, int64(3)).
					WillReturnRows(pgxmock.NewRows(userCols))
				mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)")).
					WithArgs(testID).
					WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
			},
			wantErr: domain.ErrVersionConflict,
		},
		{
			name: "user gone",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(query).
					WithArgs(testID, int64(3)).
					WillReturnRows(pgxmock.NewRows(userCols))
				mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)")).
					WithArgs(testID).
					WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
			},
			wantErr: domain.ErrUserNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := newRepo(t)
			tt.setupMock(mock)

			u, err := repo.Update(context.Background(), testID, consume)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.Nil(t, u.VerifyOTP)
				assert.Equal(t, int64(4), u.Version)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestUpdate_ResetPasswordWritesHashAndClearsCode(t *testing.T) {
	repo, mock := newRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta(
		"UPDATE users SET secret_hash = $2, reset_otp_hash = NULL, reset_otp_expires_at = NULL, version = version + 1, updated_at = NOW() WHERE id = $1 AND version = $3 RETURNING")).
		WithArgs(testID, "newhash", int64(7)).
		WillReturnRows(userRow(nil, nil, 8))

	_, err := repo.Update(context.Background(), testID, domain.UserUpdate{
		SecretHash:    strPtr("newhash"),
		ClearResetOTP: true,
		IfVersion:     int64Ptr(7),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClearExpiredOTPs(t *testing.T) {
	repo, mock := newRepo(t)
	mock.ExpectExec("UPDATE users SET").
		WithArgs(now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))

	n, err := repo.ClearExpiredOTPs(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClearExpiredOTPs_Failure(t *testing.T) {
	repo, mock := newRepo(t)
	mock.ExpectExec("UPDATE users SET").
		WithArgs(now).
		WillReturnError(errors.New("timeout"))

	_, err := repo.ClearExpiredOTPs(context.Background(), now)
	oopsErr, ok := oops.AsOops(err)
	require.True(t, ok)
	assert.Equal(t, "OTP_SWEEP_FAILED", oopsErr.Code())
}

func TestUpdate_EmptyUpdateSkipsQuery(t *testing.T) {
	repo, mock := newRepo(t)

	_, err := repo.Update(context.Background(), testID, domain.UserUpdate{IfVersion: int64Ptr(3)})
	require.ErrorIs(t, err, domain.ErrEmptyUpdate)
	assert.NoError(t, mock.ExpectationsWereMet())
}
