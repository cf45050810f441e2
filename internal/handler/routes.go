package handler

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutes sends every path and method on the forwarding server to the
// relay. Any covers echo's known methods; the not-found routes catch the rest,
// which the router would otherwise answer with 405.
func RegisterRoutes(e *echo.Echo, fwd *ForwardHandler) {
	e.Any("/", fwd.Handle)
	e.Any("/*", fwd.Handle)
	e.RouteNotFound("/", fwd.Handle)
	e.RouteNotFound("/*", fwd.Handle)
}

// RegisterAdminRoutes wires the health endpoints onto the admin server.
func RegisterAdminRoutes(e *echo.Echo, health *HealthHandler) {
	e.GET("/healthz", health.Healthz)
	e.GET("/proxy/status", health.Status)
}
