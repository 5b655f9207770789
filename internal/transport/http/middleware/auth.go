package middleware

import (
	"context"
	"log/slog"

	ctxlog "github.com/ErlanBelekov/authsvc/internal/log"
	"github.com/ErlanBelekov/authsvc/internal/transport/http/handler"
	"github.com/ErlanBelekov/authsvc/internal/usecase"
	"github.com/gin-gonic/gin"
)

type authenticator interface {
	IsAuthenticated(ctx context.Context, rawToken string) (*usecase.Identity, error)
}

// Auth resolves the session token from the cookie or a Bearer header and sets
// "userID" and "tokenID" in the gin context.
func Auth(authn authenticator, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := authn.IsAuthenticated(c.Request.Context(), handler.SessionToken(c))
		if err != nil {
			handler.WriteError(c, logger, err)
			return
		}

		c.Set("userID", id.UserID)
		c.Set("tokenID", id.TokenID)
		c.Request = c.Request.WithContext(ctxlog.WithUserID(c.Request.Context(), id.UserID))
		c.Next()
	}
}
