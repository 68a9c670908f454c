package main

import (
	"log/slog"

	"openphone-relay/internal/auth"
	"openphone-relay/internal/httpapi"
	"openphone-relay/internal/metrics"
	"openphone-relay/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func newRouter(log *slog.Logger, h httpapi.Handlers, authManager *auth.Manager) (*gin.Engine, error) {
	tmpl, err := httpapi.Templates()
	if err != nil {
		return nil, err
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))
	r.Use(metrics.GinMiddleware())
	r.SetHTMLTemplate(tmpl)

	registerRoutes(r, h, authManager)
	return r, nil
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, authManager *auth.Manager) {
	// public
	r.GET("/healthz", h.Healthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Provider webhook (public, unsigned).
	r.POST("/openphone-webhook", h.Webhook)

	// all-tenant views need an all-tenant token when auth is enabled
	global := auth.RequireReportAccess(authManager, "")
	r.GET("/", global, h.Index)
	r.GET("/reports", global, h.GlobalReport)

	// tenant views
	tenant := r.Group("/:accountId")
	tenant.Use(auth.RequireReportAccess(authManager, "accountId"))
	{
		tenant.GET("", h.TenantRedirect)
		tenant.GET("/dashboard", h.TenantDashboard)
		tenant.GET("/reports", h.TenantReport)
	}
}
