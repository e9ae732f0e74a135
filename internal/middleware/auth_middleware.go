// internal/middleware/auth_middleware.go
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"identity-service/internal/pkg/response"
	"identity-service/internal/pkg/session"
	"identity-service/internal/pkg/tenantctx"
)

// contextKeyTenant is where the resolved tenant context lives for the
// remainder of the request. Resolution happens exactly once per request.
const contextKeyTenant = "tenant_context"

// RequireSession resolves the session cookie into a tenant context and
// rejects unauthenticated requests.
func RequireSession(resolver *tenantctx.Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID, err := c.Cookie(session.CookieName)
		if err != nil || sessionID == "" {
			response.Error(c, http.StatusUnauthorized, "authentication required", nil)
			return
		}

		tc, err := resolver.Resolve(c.Request.Context(), sessionID)
		if err != nil {
			response.FromError(c, err)
			return
		}

		c.Set(contextKeyTenant, tc)
		c.Next()
	}
}

// RequirePlatformAdmin gates platform-admin routes. Must run after
// RequireSession.
func RequirePlatformAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		tc, ok := GetTenantContext(c)
		if !ok || !tc.IsPlatformAdmin {
			response.Error(c, http.StatusForbidden, "access denied", nil)
			return
		}
		c.Next()
	}
}

// RequireTenant gates routes that operate on tenant-scoped data.
func RequireTenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		tc, ok := GetTenantContext(c)
		if !ok || !tc.HasTenant() {
			response.Error(c, http.StatusConflict, "tenant selection required", nil)
			return
		}
		c.Next()
	}
}

// GetTenantContext returns the tenant context resolved by RequireSession.
func GetTenantContext(c *gin.Context) (*tenantctx.TenantContext, bool) {
	v, exists := c.Get(contextKeyTenant)
	if !exists {
		return nil, false
	}
	tc, ok := v.(*tenantctx.TenantContext)
	return tc, ok
}
