// Package router registers the HTTP routes of the service.
package router

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iliyamo/catalogue-reservation/internal/handler"
	"github.com/iliyamo/catalogue-reservation/internal/middleware"
)

// RegisterRoutes registers the unauthenticated operational endpoints.
func RegisterRoutes(e *echo.Echo, health echo.HandlerFunc) {
	e.GET("/healthz", health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

// RegisterActions registers the catalogue action API under /v1.  Every
// route needs a valid access token with the EDITOR or ADMIN role; the
// routes that start remote actions are also rate limited.
func RegisterActions(e *echo.Echo, h *handler.ActionHandler, jwtSecret string, limit echo.MiddlewareFunc) {
	v1 := e.Group("/v1")
	v1.Use(middleware.JWTAuth(jwtSecret))
	v1.Use(middleware.RequireRole(middleware.RoleEditor, middleware.RoleAdmin))

	v1.GET("/actions", h.ListActions)

	cat := v1.Group("/catalogues/:code/versions/:version")
	cat.GET("", h.GetCatalogue)
	cat.GET("/forced-edit", h.ForcedEdit)
	cat.POST("/reserve", h.Reserve, limit)
	cat.POST("/unreserve", h.Unreserve, limit)
	cat.POST("/publish", h.Publish, limit)
	cat.POST("/upload", h.Upload, limit)
}
