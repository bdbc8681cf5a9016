package main

import (
	"database/sql"
	"time"

	"consult-platform/internal/auth"
	"consult-platform/internal/httpapi"
	"consult-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, verifier *auth.Verifier, db *sql.DB) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		if err := utils.HealthCheck(c.Request.Context(), db, 2*time.Second); err != nil {
			c.JSON(503, gin.H{"status": "degraded"})
			return
		}
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(auth.RequireToken(verifier))
	{
		v1.GET("/me", func(c *gin.Context) {
			p, _ := auth.PrincipalFromGin(c)
			c.JSON(200, gin.H{"user_id": p.ID, "role": string(p.Role)})
		})

		// SESSION routes
		sessions := v1.Group("/sessions")
		{
			sessions.POST("/request", auth.RequireRole(auth.RoleUser), h.RequestSession)
			sessions.POST("/requests/:request_id/accept", auth.RequireRole(auth.RolePsychic), h.AcceptRequest)
			sessions.POST("/requests/:request_id/reject", auth.RequireRole(auth.RolePsychic), h.RejectRequest)
			sessions.POST("/requests/:request_id/cancel", auth.RequireRole(auth.RoleUser), h.CancelRequest)
			sessions.POST("/:session_id/end", h.EndSession)
		}

		// WALLET routes
		wallets := v1.Group("/wallet")
		{
			wallets.GET("/balance", h.GetBalance)
			wallets.GET("/ledger", h.GetLedger)
		}

		// REPORTING routes
		v1.GET("/providers/me/earnings", auth.RequireRole(auth.RolePsychic, auth.RoleAdmin), h.ProviderEarnings)
		v1.GET("/me/spend", h.ConsumerSpend)

		// ADMIN routes
		admin := v1.Group("/admin")
		admin.Use(auth.RequireRole(auth.RoleAdmin))
		{
			admin.POST("/wallets/topup", h.Topup)
		}
	}
}
