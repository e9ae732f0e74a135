// internal/handlers/admin/admin_handler.go
package admin

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	auditdom "identity-service/internal/domain/audit"
	tenantdom "identity-service/internal/domain/tenant"
	"identity-service/internal/middleware"
	"identity-service/internal/pkg/response"
	auditsvc "identity-service/internal/service/audit"
	lockoutsvc "identity-service/internal/service/lockout"
	tenantsvc "identity-service/internal/service/tenant"
	ws "identity-service/internal/websocket"
)

// Handler serves the platform-admin surface: tenant administration,
// impersonation and the security views. Every route behind it is gated by
// RequirePlatformAdmin.
type Handler struct {
	tenants *tenantsvc.Service
	locker  *lockoutsvc.Service
	auditor *auditsvc.Service
	hub     *ws.Hub
}

func NewHandler(tenants *tenantsvc.Service, locker *lockoutsvc.Service, auditor *auditsvc.Service, hub *ws.Hub) *Handler {
	return &Handler{tenants: tenants, locker: locker, auditor: auditor, hub: hub}
}

// ListTenants pages through the catalog. include_deleted=true lifts the
// soft-delete filter.
func (h *Handler) ListTenants(c *gin.Context) {
	tc, _ := middleware.GetTenantContext(c)

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	includeDeleted := c.Query("include_deleted") == "true"

	list, err := h.tenants.ListTenants(c.Request.Context(), tc, page, pageSize, includeDeleted)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, "tenants", list)
}

// CreateTenant registers a new tenant.
func (h *Handler) CreateTenant(c *gin.Context) {
	tc, _ := middleware.GetTenantContext(c)

	var req tenantdom.CreateTenantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request", err)
		return
	}

	t, err := h.tenants.CreateTenant(c.Request.Context(), tc, &req)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, "tenant created", t)
}

// GetTenant returns one tenant. include_deleted=true surfaces
// soft-deleted rows.
func (h *Handler) GetTenant(c *gin.Context) {
	tc, _ := middleware.GetTenantContext(c)

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, http.StatusBadRequest, "invalid tenant id", err)
		return
	}

	t, err := h.tenants.GetTenant(c.Request.Context(), tc, id, c.Query("include_deleted") == "true")
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, "tenant", t)
}

// UpdateTenant applies partial updates to a tenant.
func (h *Handler) UpdateTenant(c *gin.Context) {
	tc, _ := middleware.GetTenantContext(c)

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, http.StatusBadRequest, "invalid tenant id", err)
		return
	}

	var req tenantdom.UpdateTenantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request", err)
		return
	}

	t, err := h.tenants.UpdateTenant(c.Request.Context(), tc, id, &req)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, "tenant updated", t)
}

// DeactivateTenant soft-deletes a tenant.
func (h *Handler) DeactivateTenant(c *gin.Context) {
	tc, _ := middleware.GetTenantContext(c)

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, http.StatusBadRequest, "invalid tenant id", err)
		return
	}

	if err := h.tenants.DeactivateTenant(c.Request.Context(), tc, id); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, "tenant deactivated", nil)
}

// TenantMembers lists a tenant's memberships.
func (h *Handler) TenantMembers(c *gin.Context) {
	tc, _ := middleware.GetTenantContext(c)

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, http.StatusBadRequest, "invalid tenant id", err)
		return
	}

	members, err := h.tenants.TenantMembers(c.Request.Context(), tc, id)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, "tenant members", members)
}

// AddTenantMember attaches a user to a tenant.
func (h *Handler) AddTenantMember(c *gin.Context) {
	tc, _ := middleware.GetTenantContext(c)

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, http.StatusBadRequest, "invalid tenant id", err)
		return
	}

	var req tenantdom.AddUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request", err)
		return
	}

	tu, err := h.tenants.AddUserToTenant(c.Request.Context(), tc, id, &req)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, "user added to tenant", tu)
}

// RemoveTenantMember detaches a user from a tenant.
func (h *Handler) RemoveTenantMember(c *gin.Context) {
	tc, _ := middleware.GetTenantContext(c)

	tenantID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, http.StatusBadRequest, "invalid tenant id", err)
		return
	}
	userID, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		response.Error(c, http.StatusBadRequest, "invalid user id", err)
		return
	}

	if err := h.tenants.RemoveUserFromTenant(c.Request.Context(), tc, tenantID, userID); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, "user removed from tenant", nil)
}

// Impersonate starts a bounded impersonation window into a tenant.
func (h *Handler) Impersonate(c *gin.Context) {
	tc, _ := middleware.GetTenantContext(c)

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, http.StatusBadRequest, "invalid tenant id", err)
		return
	}

	expiresAt, err := h.tenants.Impersonate(c.Request.Context(), tc, id, c.ClientIP(), c.Request.UserAgent())
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, "impersonation started", gin.H{
		"tenant_id":  id,
		"expires_at": expiresAt,
	})
}

// StopImpersonation ends the caller's impersonation window.
func (h *Handler) StopImpersonation(c *gin.Context) {
	tc, _ := middleware.GetTenantContext(c)

	if err := h.tenants.StopImpersonation(c.Request.Context(), tc, c.ClientIP(), c.Request.UserAgent()); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, "impersonation stopped", nil)
}

// SuspiciousActivity reports IPs with clustered login failures inside the
// inspection window (hours, default 24).
func (h *Handler) SuspiciousActivity(c *gin.Context) {
	hours, err := strconv.Atoi(c.DefaultQuery("window_hours", "24"))
	if err != nil || hours < 1 {
		hours = 24
	}

	activity, err := h.auditor.SuspiciousActivity(c.Request.Context(), time.Duration(hours)*time.Hour)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, "suspicious activity", activity)
}

// LockoutStatus returns a user's lockout counters.
func (h *Handler) LockoutStatus(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		response.Error(c, http.StatusBadRequest, "invalid user id", err)
		return
	}

	state, err := h.locker.State(c.Request.Context(), userID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	if state == nil {
		response.Success(c, http.StatusOK, "no lockout state", nil)
		return
	}
	response.Success(c, http.StatusOK, "lockout state", state)
}

// UnlockAccount force-clears a user's lockout window.
func (h *Handler) UnlockAccount(c *gin.Context) {
	tc, _ := middleware.GetTenantContext(c)

	userID, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		response.Error(c, http.StatusBadRequest, "invalid user id", err)
		return
	}

	if err := h.locker.Unlock(c.Request.Context(), userID); err != nil {
		response.FromError(c, err)
		return
	}

	h.auditor.Record(c.Request.Context(), auditsvc.Event{
		UserID:    &userID,
		Type:      auditdom.EventAccountUnlocked,
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
		AdditionalData: map[string]interface{}{
			"unlocked_by": tc.UserID.String(),
		},
	})
	response.Success(c, http.StatusOK, "account unlocked", nil)
}

// UserAuditHistory returns a user's recent audit trail.
func (h *Handler) UserAuditHistory(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		response.Error(c, http.StatusBadRequest, "invalid user id", err)
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	entries, err := h.auditor.History(c.Request.Context(), userID, limit)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, "audit history", entries)
}

// Events upgrades the connection to the live audit event stream.
func (h *Handler) Events(c *gin.Context) {
	h.hub.ServeWS(c)
}
