// internal/pkg/response/response.go
package response

import (
	"net/http"

	xerrors "identity-service/internal/pkg/errors"

	"github.com/gin-gonic/gin"
)

// Response defines the standard API response format.
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Success sends a successful response with a message and optional data.
func Success(c *gin.Context, status int, message string, data interface{}) {
	if status == 0 {
		status = http.StatusOK
	}

	c.JSON(status, Response{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// Error sends a standardized error response.
func Error(c *gin.Context, code int, message string, err error) {
	// Abort FIRST before writing response
	c.Abort()

	resp := Response{
		Success: false,
		Message: message,
	}

	if err != nil {
		resp.Error = err.Error()
	}

	c.JSON(code, resp)
}

// FromError maps application sentinel errors onto HTTP status codes.
// Unknown errors are reported as a generic 500 without leaking detail.
func FromError(c *gin.Context, err error) {
	switch {
	case xerrors.Is(err, xerrors.ErrNotFound):
		Error(c, http.StatusNotFound, "not found", err)
	case xerrors.Is(err, xerrors.ErrUnauthenticated), xerrors.Is(err, xerrors.ErrSessionExpired):
		Error(c, http.StatusUnauthorized, "authentication required", err)
	case xerrors.Is(err, xerrors.ErrInvalidCredentials):
		Error(c, http.StatusUnauthorized, "invalid credentials", err)
	case xerrors.Is(err, xerrors.ErrAccessDenied):
		Error(c, http.StatusForbidden, "access denied", err)
	case xerrors.Is(err, xerrors.ErrNoTenantSelected):
		Error(c, http.StatusConflict, "tenant selection required", err)
	case xerrors.Is(err, xerrors.ErrTenantMismatch), xerrors.Is(err, xerrors.ErrConflict):
		Error(c, http.StatusConflict, "conflict", err)
	case xerrors.Is(err, xerrors.ErrInvalidInput):
		Error(c, http.StatusBadRequest, "invalid input", err)
	default:
		Error(c, http.StatusInternalServerError, "internal server error", nil)
	}
}
