package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iliyamo/membership-downgrades/internal/handler"
	"github.com/iliyamo/membership-downgrades/internal/middleware"
	"github.com/iliyamo/membership-downgrades/internal/utils"
)

// RegisterRoutes registers routes that do not require authentication: the
// health check and, when gatherer is non-nil, the Prometheus scrape
// endpoint.
func RegisterRoutes(e *echo.Echo, health echo.HandlerFunc, gatherer prometheus.Gatherer) {
	e.GET("/healthz", health)
	if gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
}

// RegisterAuth registers the login endpoint under /v1/auth.  limit is
// applied per client IP.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, limit echo.MiddlewareFunc) {
	g := e.Group("/v1/auth")
	g.POST("/login", a.Login, limit)
}

// RegisterAdmin registers the downgrade and email template endpoints.
// Every route requires an ADMIN access token.
func RegisterAdmin(e *echo.Echo, d *handler.DowngradeHandler, t *handler.EmailTemplateHandler, jwtSecret string, limit echo.MiddlewareFunc) {
	g := e.Group("/v1", middleware.JWTAuth(jwtSecret), middleware.RequireRole(utils.RoleAdmin), limit)

	g.GET("/downgrades", d.List)
	g.POST("/downgrades", d.Create)
	g.GET("/downgrades/:id", d.Get)
	g.GET("/downgrades/:id/text", d.Text)
	g.PUT("/downgrades/:id/status", d.SetStatus)
	g.POST("/downgrades/:id/process", d.Process)
	g.POST("/downgrades/:id/enqueue", d.Enqueue)

	g.GET("/email-templates", t.List)
	g.POST("/email-templates/:key/test", t.SendTest)
}
