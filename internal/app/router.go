// internal/app/router.go
package app

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	adminhandler "identity-service/internal/handlers/admin"
	authhandler "identity-service/internal/handlers/auth"
	tenanthandler "identity-service/internal/handlers/tenant"
	"identity-service/internal/middleware"
	"identity-service/internal/pkg/tenantctx"
)

// SetupRouter builds the route tree. Everything except login and the
// health probe sits behind session resolution; the admin group is
// additionally gated on the platform-admin flag.
func SetupRouter(
	logger *zap.Logger,
	resolver *tenantctx.Resolver,
	authHandler *authhandler.Handler,
	tenantHandler *tenanthandler.Handler,
	adminHandler *adminhandler.Handler,
) *gin.Engine {
	r := gin.New()
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.CORS())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")

	authGroup := api.Group("/auth")
	{
		authGroup.POST("/login", authHandler.Login)

		authed := authGroup.Group("")
		authed.Use(middleware.RequireSession(resolver))
		{
			authed.POST("/logout", authHandler.Logout)
			authed.POST("/refresh", authHandler.Refresh)
			authed.GET("/me", authHandler.Me)
			authed.POST("/change-password", authHandler.ChangePassword)
		}
	}

	tenantGroup := api.Group("/tenant")
	tenantGroup.Use(middleware.RequireSession(resolver))
	{
		tenantGroup.GET("/current", tenantHandler.Current)
		tenantGroup.GET("/available", tenantHandler.Available)
		tenantGroup.POST("/select", tenantHandler.Select)
		tenantGroup.POST("/clear", tenantHandler.Clear)
		tenantGroup.GET("/members", middleware.RequireTenant(), tenantHandler.Members)
	}

	adminGroup := api.Group("/admin")
	adminGroup.Use(middleware.RequireSession(resolver), middleware.RequirePlatformAdmin())
	{
		adminGroup.GET("/tenants", adminHandler.ListTenants)
		adminGroup.POST("/tenants", adminHandler.CreateTenant)
		adminGroup.GET("/tenant/:id", adminHandler.GetTenant)
		adminGroup.PUT("/tenant/:id", adminHandler.UpdateTenant)
		adminGroup.POST("/tenant/:id/deactivate", adminHandler.DeactivateTenant)
		adminGroup.GET("/tenant/:id/users", adminHandler.TenantMembers)
		adminGroup.POST("/tenant/:id/users", adminHandler.AddTenantMember)
		adminGroup.DELETE("/tenant/:id/users/:userId", adminHandler.RemoveTenantMember)
		adminGroup.POST("/tenant/:id/impersonate", adminHandler.Impersonate)
		adminGroup.POST("/tenant/stop-impersonation", adminHandler.StopImpersonation)

		adminGroup.GET("/security/suspicious-activity", adminHandler.SuspiciousActivity)
		adminGroup.GET("/security/lockout/:userId", adminHandler.LockoutStatus)
		adminGroup.POST("/security/unlock/:userId", adminHandler.UnlockAccount)
		adminGroup.GET("/security/audit/:userId", adminHandler.UserAuditHistory)

		adminGroup.GET("/events", adminHandler.Events)
	}

	return r
}
