// internal/handlers/auth/auth_handler.go
package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"

	authdom "identity-service/internal/domain/auth"
	"identity-service/internal/middleware"
	"identity-service/internal/pkg/response"
	"identity-service/internal/pkg/session"
	authsvc "identity-service/internal/service/auth"
)

type Handler struct {
	svc          *authsvc.Service
	cookieSecure bool
}

func NewHandler(svc *authsvc.Service, cookieSecure bool) *Handler {
	return &Handler{svc: svc, cookieSecure: cookieSecure}
}

// Login authenticates and issues the session cookie.
func (h *Handler) Login(c *gin.Context) {
	var req authdom.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request", err)
		return
	}
	req.IPAddress = c.ClientIP()
	req.UserAgent = c.Request.UserAgent()

	result, err := h.svc.Login(c.Request.Context(), &req)
	if err != nil {
		response.FromError(c, err)
		return
	}

	session.SetCookie(c.Writer, result.SessionID, result.ExpiresAt, h.cookieSecure)
	response.Success(c, http.StatusOK, "login successful", result)
}

// Logout tears the session down and clears the cookie.
func (h *Handler) Logout(c *gin.Context) {
	tc, ok := middleware.GetTenantContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, "authentication required", nil)
		return
	}

	if err := h.svc.Logout(c.Request.Context(), tc.SessionID, tc.UserID, c.ClientIP(), c.Request.UserAgent()); err != nil {
		response.FromError(c, err)
		return
	}

	session.ClearCookie(c.Writer, h.cookieSecure)
	response.Success(c, http.StatusOK, "logged out", nil)
}

// Refresh rotates the session's tokens.
func (h *Handler) Refresh(c *gin.Context) {
	tc, ok := middleware.GetTenantContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, "authentication required", nil)
		return
	}

	rotated, err := h.svc.Refresh(c.Request.Context(), tc.SessionID, tc.UserID, c.ClientIP(), c.Request.UserAgent())
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, "tokens refreshed", gin.H{
		"expires_at": rotated.ExpiresAt,
	})
}

// Me returns the caller's session view.
func (h *Handler) Me(c *gin.Context) {
	tc, ok := middleware.GetTenantContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, "authentication required", nil)
		return
	}

	info, err := h.svc.Session(c.Request.Context(), tc.SessionID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, "session", info)
}

// ChangePassword rotates the caller's local credential.
func (h *Handler) ChangePassword(c *gin.Context) {
	tc, ok := middleware.GetTenantContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, "authentication required", nil)
		return
	}

	var req authdom.ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request", err)
		return
	}

	if err := h.svc.ChangePassword(c.Request.Context(), tc.UserID, &req, c.ClientIP(), c.Request.UserAgent()); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, "password changed", nil)
}
