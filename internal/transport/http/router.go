package httptransport

import (
	"log/slog"

	"github.com/ErlanBelekov/authsvc/internal/transport/http/handler"
	"github.com/ErlanBelekov/authsvc/internal/transport/http/middleware"
	"github.com/gin-gonic/gin"

	sloggin "github.com/samber/slog-gin"
)

func NewRouter(logger *slog.Logger, authHandler *handler.AuthHandler, authMW gin.HandlerFunc, allowedOrigins []string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Security())
	r.Use(middleware.CORS(allowedOrigins))
	// Bodies carry passwords and codes, so only the request line is logged.
	r.Use(sloggin.NewWithConfig(logger, sloggin.Config{
		DefaultLevel:     slog.LevelInfo,
		ClientErrorLevel: slog.LevelWarn,
		ServerErrorLevel: slog.LevelError,
	}))
	r.Use(middleware.Metrics())

	auth := r.Group("/api/auth")
	auth.POST("/register", authHandler.Register)
	auth.POST("/login", authHandler.Login)
	auth.POST("/logout", authHandler.Logout)
	auth.POST("/send-reset-otp", authHandler.SendResetOTP)
	auth.POST("/reset-password", authHandler.ResetPassword)

	// Session-protected auth routes
	auth.POST("/send-verify-otp", authMW, authHandler.SendVerifyOTP)
	auth.POST("/verify-account", authMW, authHandler.VerifyAccount)
	auth.GET("/is-auth", authMW, authHandler.IsAuth)

	user := r.Group("/api/user", authMW)
	user.GET("/data", authHandler.UserData)

	return r
}
