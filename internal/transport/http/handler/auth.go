package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ErlanBelekov/authsvc/internal/domain"
	"github.com/ErlanBelekov/authsvc/internal/usecase"
	"github.com/gin-gonic/gin"
)

// authUsecaser is the subset of AuthUsecase the handler needs.
// Defined here (point of use) so tests can inject a fake.
type authUsecaser interface {
	Register(ctx context.Context, in usecase.RegisterInput) (*usecase.AuthResult, error)
	Login(ctx context.Context, in usecase.LoginInput) (*usecase.AuthResult, error)
	Logout(ctx context.Context, rawToken string) error
	SendVerifyOTP(ctx context.Context, userID string) error
	VerifyEmail(ctx context.Context, userID, code string) error
	SendResetOTP(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, in usecase.ResetPasswordInput) error
	UserData(ctx context.Context, userID string) (*domain.User, error)
}

type AuthHandler struct {
	authUsecase authUsecaser
	cookie      CookieConfig
	// revealUnknownEmail makes send-reset-otp answer 404 for unknown emails.
	revealUnknownEmail bool
	logger             *slog.Logger
}

func NewAuthHandler(authUsecase authUsecaser, cookie CookieConfig, revealUnknownEmail bool, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		authUsecase:        authUsecase,
		cookie:             cookie,
		revealUnknownEmail: revealUnknownEmail,
		logger:             logger.With("component", "auth_handler"),
	}
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type verifyAccountRequest struct {
	OTP string `json:"otp"`
}

type sendResetOTPRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Email       string `json:"email"`
	OTP         string `json:"otp"`
	NewPassword string `json:"newPassword"`
}

type userResponse struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Email             string `json:"email"`
	IsAccountVerified bool   `json:"isAccountVerified"`
}

type sessionResponse struct {
	Success   bool         `json:"success"`
	User      userResponse `json:"user"`
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expiresAt"`
}

func toUserResponse(u *domain.User) userResponse {
	return userResponse{ID: u.ID, Name: u.Name, Email: u.Email, IsAccountVerified: u.IsVerified}
}

// bind decodes the JSON body. Field rules are enforced by the usecase so
// every validation failure has the same shape.
func (h *AuthHandler) bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		WriteError(c, h.logger, domain.NewValidationError("body"))
		return false
	}
	return true
}

// POST /api/auth/register
func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if !h.bind(c, &req) {
		return
	}

	res, err := h.authUsecase.Register(c.Request.Context(), usecase.RegisterInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		WriteError(c, h.logger, err)
		return
	}

	h.cookie.set(c, res.Token.Value, res.Token.ExpiresAt)
	c.JSON(http.StatusCreated, sessionResponse{
		Success:   true,
		User:      toUserResponse(res.User),
		Token:     res.Token.Value,
		ExpiresAt: res.Token.ExpiresAt,
	})
}

// POST /api/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if !h.bind(c, &req) {
		return
	}

	res, err := h.authUsecase.Login(c.Request.Context(), usecase.LoginInput{Email: req.Email, Password: req.Password})
	if err != nil {
		WriteError(c, h.logger, err)
		return
	}

	h.cookie.set(c, res.Token.Value, res.Token.ExpiresAt)
	c.JSON(http.StatusOK, sessionResponse{
		Success:   true,
		User:      toUserResponse(res.User),
		Token:     res.Token.Value,
		ExpiresAt: res.Token.ExpiresAt,
	})
}

// POST /api/auth/logout
// The cookie is cleared even when revocation fails, so the browser forgets
// the token either way.
func (h *AuthHandler) Logout(c *gin.Context) {
	err := h.authUsecase.Logout(c.Request.Context(), SessionToken(c))
	h.cookie.clear(c)
	if err != nil {
		WriteError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Logged out"})
}

// POST /api/auth/send-verify-otp
func (h *AuthHandler) SendVerifyOTP(c *gin.Context) {
	if err := h.authUsecase.SendVerifyOTP(c.Request.Context(), c.GetString("userID")); err != nil {
		WriteError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Verification code sent"})
}

// POST /api/auth/verify-account
func (h *AuthHandler) VerifyAccount(c *gin.Context) {
	var req verifyAccountRequest
	if !h.bind(c, &req) {
		return
	}

	if err := h.authUsecase.VerifyEmail(c.Request.Context(), c.GetString("userID"), req.OTP); err != nil {
		WriteError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Email verified"})
}

// GET /api/auth/is-auth
// Auth middleware has already resolved the session by the time this runs.
func (h *AuthHandler) IsAuth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "userId": c.GetString("userID")})
}

// POST /api/auth/send-reset-otp
// Unknown emails get the same answer as known ones unless revealUnknownEmail is set.
func (h *AuthHandler) SendResetOTP(c *gin.Context) {
	var req sendResetOTPRequest
	if !h.bind(c, &req) {
		return
	}

	err := h.authUsecase.SendResetOTP(c.Request.Context(), req.Email)
	if errors.Is(err, domain.ErrUserNotFound) && !h.revealUnknownEmail {
		err = nil
	}
	if err != nil {
		WriteError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "If an account exists for this email, a reset code has been sent"})
}

// POST /api/auth/reset-password
// Unknown emails look like an email with no pending code unless revealUnknownEmail is set.
func (h *AuthHandler) ResetPassword(c *gin.Context) {
	var req resetPasswordRequest
	if !h.bind(c, &req) {
		return
	}

	err := h.authUsecase.ResetPassword(c.Request.Context(), usecase.ResetPasswordInput{
		Email:       req.Email,
		Code:        req.OTP,
		NewPassword: req.NewPassword,
	})
	if errors.Is(err, domain.ErrUserNotFound) && !h.revealUnknownEmail {
		err = domain.ErrOtpNotRequested
	}
	if err != nil {
		WriteError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Password has been reset"})
}

// GET /api/user/data
func (h *AuthHandler) UserData(c *gin.Context) {
	user, err := h.authUsecase.UserData(c.Request.Context(), c.GetString("userID"))
	if err != nil {
		WriteError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "userData": toUserResponse(user)})
}
