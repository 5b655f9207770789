package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/ErlanBelekov/authsvc/internal/domain"
	ctxlog "github.com/ErlanBelekov/authsvc/internal/log"
	"github.com/ErlanBelekov/authsvc/internal/metrics"
	"github.com/ErlanBelekov/authsvc/internal/otp"
	"github.com/ErlanBelekov/authsvc/internal/repository"
	"github.com/ErlanBelekov/authsvc/internal/session"
	"github.com/go-playground/validator/v10"
)

// maxWriteAttempts bounds how often a version-guarded write is re-planned
// after losing a race on the same user.
const maxWriteAttempts = 3

type passwordHasher interface {
	Hash(ctx context.Context, plaintext string) (string, error)
	Verify(ctx context.Context, plaintext, encoded string) (bool, error)
	DummyHash(ctx context.Context) (string, error)
}

type otpEngine interface {
	Issue(purpose domain.OTPPurpose) (string, domain.OTP, error)
	Validate(stored *domain.OTP, supplied string, now time.Time) error
	Now() time.Time
}

type sessionIssuer interface {
	Mint(userID string) (session.Token, error)
	Validate(ctx context.Context, raw string) (session.Claims, error)
	Revoke(ctx context.Context, c session.Claims) error
}

type otpNotifier interface {
	Notify(ctx context.Context, to, code string, purpose domain.OTPPurpose) error
}

type AuthUsecase struct {
	users    repository.UserRepository
	hasher   passwordHasher
	otps     otpEngine
	sessions sessionIssuer
	notifier otpNotifier
	logger   *slog.Logger
	validate *validator.Validate
}

func NewAuthUsecase(
	users repository.UserRepository,
	hasher passwordHasher,
	otps otpEngine,
	sessions sessionIssuer,
	notifier otpNotifier,
	logger *slog.Logger,
) *AuthUsecase {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("otpcode", func(fl validator.FieldLevel) bool {
		return otp.ValidCode(fl.Field().String())
	})
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})

	return &AuthUsecase{
		users:    users,
		hasher:   hasher,
		otps:     otps,
		sessions: sessions,
		notifier: notifier,
		logger:   logger.With("component", "auth"),
		validate: v,
	}
}

// RegisterInput and the other inputs use json tags to name the fields
// reported in validation errors.
type RegisterInput struct {
	Name     string `json:"name"     validate:"required,max=100"`
	Email    string `json:"email"    validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=8,max=128"`
}

type LoginInput struct {
	Email    string `json:"email"    validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=128"`
}

type ResetPasswordInput struct {
	Email       string `json:"email"       validate:"required,email,max=254"`
	Code        string `json:"otp"         validate:"required,otpcode"`
	NewPassword string `json:"newPassword" validate:"required,min=8,max=128"`
}

type AuthResult struct {
	User  *domain.User
	Token session.Token
}

// Identity is what a valid session token resolves to.
type Identity struct {
	UserID    string
	TokenID   string
	ExpiresAt time.Time
}

func (u *AuthUsecase) Register(ctx context.Context, in RegisterInput) (_ *AuthResult, err error) {
	defer observe("register", &err)

	in.Name = strings.TrimSpace(in.Name)
	in.Email = domain.NormalizeEmail(in.Email)
	if err := u.check(in); err != nil {
		return nil, err
	}

	// Skip the hash for addresses that are already taken. Create still
	// enforces uniqueness for the racing case.
	if _, err := u.users.FindByEmail(ctx, in.Email); err == nil {
		return nil, domain.ErrDuplicateEmail
	} else if !errors.Is(err, domain.ErrUserNotFound) {
		return nil, u.storeErr(ctx, "register", err)
	}

	hash, err := u.hashPassword(ctx, in.Password)
	if err != nil {
		return nil, u.storeErr(ctx, "register", err)
	}

	user, err := u.users.Create(ctx, in.Email, in.Name, hash)
	if err != nil {
		return nil, u.storeErr(ctx, "register", err)
	}

	token, err := u.sessions.Mint(user.ID)
	if err != nil {
		return nil, fmt.Errorf("register: %w", err)
	}

	u.logger.InfoContext(ctx, "user registered", "user", user)
	return &AuthResult{User: user, Token: token}, nil
}

// Login answers ErrInvalidCredentials for unknown emails and wrong passwords
// alike. Unknown emails are checked against a dummy hash so both paths cost
// one derivation.
func (u *AuthUsecase) Login(ctx context.Context, in LoginInput) (_ *AuthResult, err error) {
	defer observe("login", &err)

	in.Email = domain.NormalizeEmail(in.Email)
	if err := u.check(in); err != nil {
		return nil, err
	}

	user, err := u.users.FindByEmail(ctx, in.Email)
	if errors.Is(err, domain.ErrUserNotFound) {
		if dummy, derr := u.hasher.DummyHash(ctx); derr == nil {
			_, _ = u.verifyPassword(ctx, in.Password, dummy)
		}
		return nil, domain.ErrInvalidCredentials
	}
	if err != nil {
		return nil, u.storeErr(ctx, "login", err)
	}

	ok, err := u.verifyPassword(ctx, in.Password, user.SecretHash)
	if err != nil {
		ctxlog.LogError(ctx, u.logger, "password verification failed", err)
		return nil, fmt.Errorf("login: %w", err)
	}
	if !ok {
		return nil, domain.ErrInvalidCredentials
	}

	token, err := u.sessions.Mint(user.ID)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	return &AuthResult{User: user, Token: token}, nil
}

// Logout revokes the token when a revocation store is configured. Missing,
// expired or invalid tokens are a no-op.
func (u *AuthUsecase) Logout(ctx context.Context, rawToken string) (err error) {
	defer observe("logout", &err)

	claims, err := u.sessions.Validate(ctx, rawToken)
	if err != nil {
		if errors.Is(err, domain.ErrUnavailable) {
			ctxlog.LogError(ctx, u.logger, "logout: revocation lookup failed", err)
			return err
		}
		return nil
	}

	if err := u.sessions.Revoke(ctx, claims); err != nil {
		ctxlog.LogError(ctx, u.logger, "logout: revoke failed", err)
		return err
	}
	return nil
}

func (u *AuthUsecase) IsAuthenticated(ctx context.Context, rawToken string) (_ *Identity, err error) {
	defer observe("is_authenticated", &err)

	if rawToken == "" {
		return nil, domain.ErrUnauthenticated
	}
	claims, err := u.sessions.Validate(ctx, rawToken)
	if err != nil {
		return nil, err
	}
	return &Identity{UserID: claims.UserID, TokenID: claims.TokenID, ExpiresAt: claims.ExpiresAt}, nil
}

// SendVerifyOTP replaces any pending verification code with a fresh one and
// hands it to the notifier.
func (u *AuthUsecase) SendVerifyOTP(ctx context.Context, userID string) (err error) {
	defer observe("send_verify_otp", &err)

	var code string
	user, err := u.mutate(ctx, "send verify otp", domain.OTPPurposeVerify,
		func(ctx context.Context) (*domain.User, error) { return u.users.FindByID(ctx, userID) },
		func(user *domain.User) (domain.UserUpdate, error) {
			if user.IsVerified {
				return domain.UserUpdate{}, domain.ErrAlreadyVerified
			}
			c, pending, err := u.otps.Issue(domain.OTPPurposeVerify)
			if err != nil {
				return domain.UserUpdate{}, err
			}
			code = c
			return domain.UserUpdate{SetVerifyOTP: &pending}, nil
		})
	if err != nil {
		return err
	}

	u.notify(ctx, user.Email, code, domain.OTPPurposeVerify)
	return nil
}

// VerifyEmail consumes the pending verification code. A consumed code is gone,
// so presenting it again reports ErrOtpNotRequested.
func (u *AuthUsecase) VerifyEmail(ctx context.Context, userID, code string) (err error) {
	defer observe("verify_email", &err)

	if err := u.check(struct {
		Code string `json:"otp" validate:"required,otpcode"`
	}{code}); err != nil {
		return err
	}

	user, err := u.mutate(ctx, "verify email", domain.OTPPurposeVerify,
		func(ctx context.Context) (*domain.User, error) { return u.users.FindByID(ctx, userID) },
		func(user *domain.User) (domain.UserUpdate, error) {
			pending := user.PendingOTP(domain.OTPPurposeVerify)
			if pending == nil {
				return domain.UserUpdate{}, domain.ErrOtpNotRequested
			}
			if user.IsVerified {
				return domain.UserUpdate{}, domain.ErrAlreadyVerified
			}
			if err := u.otps.Validate(pending, code, u.otps.Now()); err != nil {
				return domain.UserUpdate{}, err
			}
			return domain.UserUpdate{MarkVerified: true, ClearVerifyOTP: true}, nil
		})
	if err != nil {
		return err
	}

	u.logger.InfoContext(ctx, "email verified", "user", user)
	return nil
}

// SendResetOTP reports ErrUserNotFound for unknown emails. Hiding that from
// callers is left to the transport.
func (u *AuthUsecase) SendResetOTP(ctx context.Context, email string) (err error) {
	defer observe("send_reset_otp", &err)

	email = domain.NormalizeEmail(email)
	if err := u.check(struct {
		Email string `json:"email" validate:"required,email,max=254"`
	}{email}); err != nil {
		return err
	}

	var code string
	user, err := u.mutate(ctx, "send reset otp", domain.OTPPurposeReset,
		func(ctx context.Context) (*domain.User, error) { return u.users.FindByEmail(ctx, email) },
		func(*domain.User) (domain.UserUpdate, error) {
			c, pending, err := u.otps.Issue(domain.OTPPurposeReset)
			if err != nil {
				return domain.UserUpdate{}, err
			}
			code = c
			return domain.UserUpdate{SetResetOTP: &pending}, nil
		})
	if err != nil {
		return err
	}

	u.notify(ctx, user.Email, code, domain.OTPPurposeReset)
	return nil
}

// ResetPassword consumes the pending reset code and replaces the secret hash
// in the same write.
func (u *AuthUsecase) ResetPassword(ctx context.Context, in ResetPasswordInput) (err error) {
	defer observe("reset_password", &err)

	in.Email = domain.NormalizeEmail(in.Email)
	if err := u.check(in); err != nil {
		return err
	}

	var hash string
	user, err := u.mutate(ctx, "reset password", domain.OTPPurposeReset,
		func(ctx context.Context) (*domain.User, error) { return u.users.FindByEmail(ctx, in.Email) },
		func(user *domain.User) (domain.UserUpdate, error) {
			if err := u.otps.Validate(user.PendingOTP(domain.OTPPurposeReset), in.Code, u.otps.Now()); err != nil {
				return domain.UserUpdate{}, err
			}
			if hash == "" {
				h, err := u.hashPassword(ctx, in.NewPassword)
				if err != nil {
					return domain.UserUpdate{}, err
				}
				hash = h
			}
			return domain.UserUpdate{SecretHash: &hash, ClearResetOTP: true}, nil
		})
	if err != nil {
		return err
	}

	u.logger.InfoContext(ctx, "password reset", "user", user)
	return nil
}

func (u *AuthUsecase) UserData(ctx context.Context, userID string) (_ *domain.User, err error) {
	defer observe("user_data", &err)

	user, err := u.users.FindByID(ctx, userID)
	if err != nil {
		return nil, u.storeErr(ctx, "user data", err)
	}
	return user, nil
}

// mutate loads a user, lets plan derive the write from what it saw, and
// applies the write only if the user's version is unchanged. Losing the race
// re-runs load and plan, so a code is always validated against the state the
// write replaces.
func (u *AuthUsecase) mutate(
	ctx context.Context,
	op string,
	purpose domain.OTPPurpose,
	load func(context.Context) (*domain.User, error),
	plan func(*domain.User) (domain.UserUpdate, error),
) (*domain.User, error) {
	for attempt := 1; ; attempt++ {
		user, err := load(ctx)
		if err != nil {
			return nil, u.storeErr(ctx, op, err)
		}

		upd, err := plan(user)
		if err != nil {
			if domain.KindOf(err) == domain.KindInternal {
				return nil, u.storeErr(ctx, op, err)
			}
			return nil, err
		}
		version := user.Version
		upd.IfVersion = &version

		updated, err := u.users.Update(ctx, user.ID, upd)
		if err == nil {
			return updated, nil
		}
		if !errors.Is(err, domain.ErrVersionConflict) {
			return nil, u.storeErr(ctx, op, err)
		}
		if attempt == maxWriteAttempts {
			u.logger.WarnContext(ctx, "gave up after repeated write conflicts", "op", op, "user_id", user.ID)
			return nil, fmt.Errorf("%s: %w: %w", op, domain.ErrUnavailable, err)
		}
		metrics.OTPConflictRetriesTotal.WithLabelValues(string(purpose)).Inc()
	}
}

// notify never fails the caller. The code is already stored and the user can
// ask for another one.
func (u *AuthUsecase) notify(ctx context.Context, to, code string, purpose domain.OTPPurpose) {
	if u.notifier == nil {
		return
	}
	if err := u.notifier.Notify(ctx, to, code, purpose); err != nil {
		ctxlog.LogError(ctx, u.logger, "otp notification failed", err)
	}
}

func (u *AuthUsecase) hashPassword(ctx context.Context, plaintext string) (string, error) {
	start := time.Now()
	defer func() {
		metrics.PasswordHashDuration.WithLabelValues("hash").Observe(time.Since(start).Seconds())
	}()
	return u.hasher.Hash(ctx, plaintext)
}

func (u *AuthUsecase) verifyPassword(ctx context.Context, plaintext, encoded string) (bool, error) {
	start := time.Now()
	defer func() {
		metrics.PasswordHashDuration.WithLabelValues("verify").Observe(time.Since(start).Seconds())
	}()
	return u.hasher.Verify(ctx, plaintext, encoded)
}

// storeErr passes domain failures through and turns anything else into
// ErrUnavailable after logging it.
func (u *AuthUsecase) storeErr(ctx context.Context, op string, err error) error {
	if kind := domain.KindOf(err); kind != domain.KindInternal && kind != domain.KindUnavailable {
		return err
	}
	ctxlog.LogError(ctx, u.logger, op+" failed", err)
	if errors.Is(err, domain.ErrUnavailable) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, domain.ErrUnavailable, err)
}

// check runs struct validation and reports failing fields by name.
func (u *AuthUsecase) check(in any) error {
	err := u.validate.Struct(in)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return domain.NewValidationError()
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Field())
	}
	return domain.NewValidationError(fields...)
}

func observe(op string, errp *error) {
	outcome := "ok"
	if *errp != nil {
		outcome = string(domain.KindOf(*errp))
	}
	metrics.AuthOperationsTotal.WithLabelValues(op, outcome).Inc()
}
