package middleware_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ErlanBelekov/authsvc/internal/domain"
	ctxlog "github.com/ErlanBelekov/authsvc/internal/log"
	"github.com/ErlanBelekov/authsvc/internal/transport/http/handler"
	"github.com/ErlanBelekov/authsvc/internal/transport/http/middleware"
	"github.com/ErlanBelekov/authsvc/internal/usecase"
	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const validToken = "valid.session.token"

type fakeAuthenticator struct {
	err error
}

func (f *fakeAuthenticator) IsAuthenticated(_ context.Context, raw string) (*usecase.Identity, error) {
	if f.err != nil {
		return nil, f.err
	}
	if raw == "" {
		return nil, domain.ErrUnauthenticated
	}
	if raw != validToken {
		return nil, domain.ErrTokenInvalid
	}
	return &usecase.Identity{UserID: "user-abc", TokenID: "01J0000000000000000000000", ExpiresAt: time.Now().Add(time.Hour)}, nil
}

// newEngine builds a minimal gin engine with the Auth middleware protecting GET /protected.
// The handler writes the userID from context so we can assert it was set.
func newEngine(authn *fakeAuthenticator) *gin.Engine {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := gin.New()
	r.GET("/protected", middleware.Auth(authn, logger), func(c *gin.Context) {
		userID, _ := c.Get("userID")
		if ctxlog.UserIDFrom(c.Request.Context()) != userID {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.String(http.StatusOK, "%v", userID)
	})
	return r
}

func TestAuth_MissingToken_Returns401(t *testing.T) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	newEngine(&fakeAuthenticator{}).ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestAuth_NonBearerScheme_Returns401(t *testing.T) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	newEngine(&fakeAuthenticator{}).ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestAuth_InvalidToken_Returns401(t *testing.T) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer not.a.jwt")
	newEngine(&fakeAuthenticator{}).ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestAuth_ExpiredToken_Returns401(t *testing.T) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+validToken)
	newEngine(&fakeAuthenticator{err: domain.ErrTokenExpired}).ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestAuth_RevocationStoreDown_Returns503(t *testing.T) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+validToken)
	newEngine(&fakeAuthenticator{err: domain.ErrUnavailable}).ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestAuth_ValidBearer_PassesAndSetsUserID(t *testing.T) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+validToken)
	newEngine(&fakeAuthenticator{}).ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if got := w.Body.String(); got != "user-abc" {
		t.Errorf("body = %q, want %q", got, "user-abc")
	}
}

func TestAuth_CookieWinsOverHeader(t *testing.T) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.AddCookie(&http.Cookie{Name: handler.SessionCookieName, Value: validToken})
	req.Header.Set("Authorization", "Bearer something-else")
	newEngine(&fakeAuthenticator{}).ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}
