// internal/handlers/tenant/tenant_handler.go
package tenant

import (
	"net/http"

	"github.com/gin-gonic/gin"

	tenantdom "identity-service/internal/domain/tenant"
	"identity-service/internal/middleware"
	"identity-service/internal/pkg/response"
	tenantsvc "identity-service/internal/service/tenant"
)

// Handler serves the user-facing tenant selection surface.
type Handler struct {
	svc *tenantsvc.Service
}

func NewHandler(svc *tenantsvc.Service) *Handler {
	return &Handler{svc: svc}
}

// Current returns the session's active tenant, if any.
func (h *Handler) Current(c *gin.Context) {
	tc, ok := middleware.GetTenantContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, "authentication required", nil)
		return
	}

	if !tc.HasTenant() {
		response.Success(c, http.StatusOK, "no tenant selected", nil)
		return
	}

	response.Success(c, http.StatusOK, "current tenant", gin.H{
		"tenant_id":        tc.TenantID,
		"tenant_name":      tc.TenantName,
		"roles":            tc.Roles,
		"is_impersonating": tc.IsImpersonating,
	})
}

// Available lists the tenants the caller can select.
func (h *Handler) Available(c *gin.Context) {
	tc, ok := middleware.GetTenantContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, "authentication required", nil)
		return
	}

	tenants, err := h.svc.Available(c.Request.Context(), tc.UserID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, "available tenants", tenants)
}

// Select switches the session's active tenant.
func (h *Handler) Select(c *gin.Context) {
	tc, ok := middleware.GetTenantContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, "authentication required", nil)
		return
	}

	var req tenantdom.SelectTenantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request", err)
		return
	}

	if err := h.svc.SelectTenant(c.Request.Context(), tc, req.TenantID, c.ClientIP(), c.Request.UserAgent()); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, "tenant selected", nil)
}

// Members lists the active tenant's member roster. Routed behind the
// tenant gate, so a resolved tenant is guaranteed here.
func (h *Handler) Members(c *gin.Context) {
	tc, ok := middleware.GetTenantContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, "authentication required", nil)
		return
	}

	members, err := h.svc.TenantMembers(c.Request.Context(), tc, *tc.TenantID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, "tenant members", members)
}

// Clear drops the session's tenant selection.
func (h *Handler) Clear(c *gin.Context) {
	tc, ok := middleware.GetTenantContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, "authentication required", nil)
		return
	}

	if err := h.svc.ClearSelection(c.Request.Context(), tc); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, "tenant selection cleared", nil)
}
