package main

import (
	"database/sql"
	"time"

	"dialer-platform/internal/httpapi"
	"dialer-platform/internal/rbac"
	"dialer-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, authMW gin.HandlerFunc, db *sql.DB, rdb *redis.Client) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		if err := utils.HealthCheck(c.Request.Context(), db, 2*time.Second); err != nil {
			c.JSON(503, gin.H{"status": "degraded", "postgres": err.Error()})
			return
		}
		if err := rdb.Ping(c.Request.Context()).Err(); err != nil {
			c.JSON(503, gin.H{"status": "degraded", "redis": err.Error()})
			return
		}
		c.JSON(200, gin.H{"status": "ok"})
	})

	// AUTH routes (token issuance).
	// NOTE: This is a placeholder login route; real credential validation is not implemented.
	r.POST("/v1/auth/login", h.Login)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(authMW)
	{
		// CAMPAIGN routes
		campaigns := v1.Group("/campaigns")
		{
			campaigns.GET("", rbac.RequireAnyRole(rbac.RoleOperator, rbac.RoleViewer), h.ListCampaigns)
			campaigns.GET("/:campaign_id", rbac.RequireAnyRole(rbac.RoleOperator, rbac.RoleViewer), h.GetCampaign)
			campaigns.GET("/:campaign_id/summary", rbac.RequireAnyRole(rbac.RoleOperator, rbac.RoleViewer, rbac.RoleComplianceAuditor), h.GetCampaignSummary)

			campaigns.POST("", rbac.RequireAnyRole(rbac.RoleOperator), h.CreateCampaign)
			campaigns.POST("/:campaign_id/enqueue", rbac.RequireAnyRole(rbac.RoleOperator), h.Enqueue)
			campaigns.POST("/:campaign_id/pause", rbac.RequireAnyRole(rbac.RoleOperator), h.PauseCampaign)
			campaigns.POST("/:campaign_id/resume", rbac.RequireAnyRole(rbac.RoleOperator), h.ResumeCampaign)
		}

		// DIALER control routes
		// Overrides change live pacing; admin-only by default.
		d := v1.Group("/dialer")
		{
			d.GET("/status", rbac.RequireAnyRole(rbac.RoleOperator, rbac.RoleViewer), h.GetDialerStatus)
			d.PUT("/cps-override", rbac.RequireAnyRole(), h.SetCpsOverride)
		}
	}
}
