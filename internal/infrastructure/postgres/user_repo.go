package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ErlanBelekov/authsvc/internal/domain"
	"github.com/ErlanBelekov/authsvc/internal/repository"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"
)

var _ repository.UserRepository = (*UserRepository)(nil)

const userColumns = `id, email, name, secret_hash, is_verified,
	verify_otp_hash, verify_otp_expires_at, reset_otp_hash, reset_otp_expires_at,
	version, created_at, updated_at`

type UserRepository struct {
	db DBTX
}

func NewUserRepository(db DBTX) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(ctx context.Context, email, name, secretHash string) (*domain.User, error) {
	query := `INSERT INTO users (email, name, secret_hash)
		VALUES ($1, $2, $3)
		RETURNING ` + userColumns

	row := r.db.QueryRow(ctx, query, domain.NormalizeEmail(email), name, secretHash)
	u, err := scanUser(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return nil, domain.ErrDuplicateEmail
		}
		return nil, oops.Code("USER_CREATE_FAILED").With("operation", "create user").Wrap(err)
	}
	return u, nil
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`

	u, err := scanUser(r.db.QueryRow(ctx, query, domain.NormalizeEmail(email)))
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, domain.ErrUserNotFound
		}
		return nil, oops.Code("USER_QUERY_FAILED").With("operation", "find user by email").Wrap(err)
	}
	return u, nil
}

func (r *UserRepository) FindByID(ctx context.Context, id string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	u, err := scanUser(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) || isBadUUID(err) {
			return nil, domain.ErrUserNotFound
		}
		return nil, oops.Code("USER_QUERY_FAILED").With("operation", "find user by id").With("user_id", id).Wrap(err)
	}
	return u, nil
}

// Update writes only the named columns in one statement. With IfVersion the
// row is matched on version too; a miss is then told apart from a missing user
// by a follow-up existence check.
func (r *UserRepository) Update(ctx context.Context, id string, upd domain.UserUpdate) (*domain.User, error) {
	if upd.IsEmpty() {
		return nil, domain.ErrEmptyUpdate
	}

	args := []any{id}
	var sets []string
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if upd.Name != nil {
		sets = append(sets, "name = "+arg(*upd.Name))
	}
	if upd.SecretHash != nil {
		sets = append(sets, "secret_hash = "+arg(*upd.SecretHash))
	}
	if upd.MarkVerified {
		sets = append(sets, "is_verified = TRUE")
	}
	switch {
	case upd.SetVerifyOTP != nil:
		sets = append(sets,
			"verify_otp_hash = "+arg(upd.SetVerifyOTP.CodeHash),
			"verify_otp_expires_at = "+arg(upd.SetVerifyOTP.ExpiresAt))
	case upd.ClearVerifyOTP:
		sets = append(sets, "verify_otp_hash = NULL", "verify_otp_expires_at = NULL")
	}
	switch {
	case upd.SetResetOTP != nil:
		sets = append(sets,
			"reset_otp_hash = "+arg(upd.SetResetOTP.CodeHash),
			"reset_otp_expires_at = "+arg(upd.SetResetOTP.ExpiresAt))
	case upd.ClearResetOTP:
		sets = append(sets, "reset_otp_hash = NULL", "reset_otp_expires_at = NULL")
	}
	sets = append(sets, "version = version + 1", "updated_at = NOW()")

	where := "id = $1"
	if upd.IfVersion != nil {
		where += " AND version = " + arg(*upd.IfVersion)
	}

	query := `UPDATE users SET ` + strings.Join(sets, ", ") +
		` WHERE ` + where +
		` RETURNING ` + userColumns

	u, err := scanUser(r.db.QueryRow(ctx, query, args...))
	if err == nil {
		return u, nil
	}
	if isBadUUID(err) {
		return nil, domain.ErrUserNotFound
	}
	if !errors.Is(err, domain.ErrUserNotFound) {
		return nil, oops.Code("USER_UPDATE_FAILED").With("operation", "update user").With("user_id", id).Wrap(err)
	}
	if upd.IfVersion == nil {
		return nil, domain.ErrUserNotFound
	}

	exists, err := r.exists(ctx, id)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, domain.ErrVersionConflict
	}
	return nil, domain.ErrUserNotFound
}

func (r *UserRepository) ClearExpiredOTPs(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE users SET
			verify_otp_hash       = CASE WHEN verify_otp_expires_at < $1 THEN NULL ELSE verify_otp_hash END,
			verify_otp_expires_at = CASE WHEN verify_otp_expires_at < $1 THEN NULL ELSE verify_otp_expires_at END,
			reset_otp_hash        = CASE WHEN reset_otp_expires_at < $1 THEN NULL ELSE reset_otp_hash END,
			reset_otp_expires_at  = CASE WHEN reset_otp_expires_at < $1 THEN NULL ELSE reset_otp_expires_at END,
			version               = version + 1,
			updated_at            = NOW()
		WHERE verify_otp_expires_at < $1 OR reset_otp_expires_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, oops.Code("OTP_SWEEP_FAILED").With("operation", "clear expired otps").Wrap(err)
	}
	return tag.RowsAffected(), nil
}

func (r *UserRepository) exists(ctx context.Context, id string) (bool, error) {
	var found bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, id).Scan(&found)
	if err != nil {
		return false, oops.Code("USER_QUERY_FAILED").With("operation", "check user exists").With("user_id", id).Wrap(err)
	}
	return found, nil
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var (
		u                         domain.User
		verifyHash, resetHash     *string
		verifyExpiry, resetExpiry *time.Time
	)
	err := row.Scan(
		&u.ID, &u.Email, &u.Name, &u.SecretHash, &u.IsVerified,
		&verifyHash, &verifyExpiry, &resetHash, &resetExpiry,
		&u.Version, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, err
	}

	u.VerifyOTP = otpFrom(verifyHash, verifyExpiry)
	u.ResetOTP = otpFrom(resetHash, resetExpiry)
	return &u, nil
}

func otpFrom(hash *string, expiry *time.Time) *domain.OTP {
	if hash == nil || expiry == nil {
		return nil
	}
	return &domain.OTP{CodeHash: *hash, ExpiresAt: expiry.UTC()}
}

// isBadUUID catches ids that cannot be users because they are not UUIDs.
func isBadUUID(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.InvalidTextRepresentation
}
