package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/ErlanBelekov/authsvc/internal/domain"
	ctxlog "github.com/ErlanBelekov/authsvc/internal/log"
	"github.com/gin-gonic/gin"
)

// ErrorKindKey is the gin context key WriteError stores the error kind under.
const ErrorKindKey = "errorKind"

var statusByKind = map[domain.Kind]int{
	domain.KindValidation:         http.StatusBadRequest,
	domain.KindDuplicateEmail:     http.StatusConflict,
	domain.KindInvalidCredentials: http.StatusUnauthorized,
	domain.KindAlreadyVerified:    http.StatusConflict,
	domain.KindOtpExpired:         http.StatusBadRequest,
	domain.KindOtpMismatch:        http.StatusBadRequest,
	domain.KindOtpNotRequested:    http.StatusBadRequest,
	domain.KindUnauthenticated:    http.StatusUnauthorized,
	domain.KindTokenExpired:       http.StatusUnauthorized,
	domain.KindNotFound:           http.StatusNotFound,
	domain.KindUnavailable:        http.StatusServiceUnavailable,
	domain.KindInternal:           http.StatusInternalServerError,
}

type errorBody struct {
	Kind    domain.Kind `json:"kind"`
	Message string      `json:"message"`
	Fields  []string    `json:"fields,omitempty"`
}

// StatusOf maps err onto the HTTP status for its kind.
func StatusOf(err error) int {
	if s, ok := statusByKind[domain.KindOf(err)]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// WriteError aborts the request with the error envelope. Only the kind's
// fixed message is sent; err itself stays in the logs.
func WriteError(c *gin.Context, logger *slog.Logger, err error) {
	kind := domain.KindOf(err)
	status := StatusOf(err)

	if status >= http.StatusInternalServerError {
		ctxlog.LogError(c.Request.Context(), logger, "request failed", err)
	}

	c.Set(ErrorKindKey, string(kind))

	body := errorBody{Kind: kind, Message: domain.Message(kind)}
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		body.Fields = verr.Fields
	}
	c.AbortWithStatusJSON(status, gin.H{"success": false, "error": body})
}
