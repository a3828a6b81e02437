package server

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// RegisterRoutes configures all API routes, middleware, and error handlers
func RegisterRoutes(e *echo.Echo, h *Handlers, cfg ServerConfig) {
	e.HTTPErrorHandler = NotFoundJSON()

	e.Use(SetJSONContentType)
	e.Use(SetNoCacheHeaders)

	// Optional API key authentication
	if cfg.APIKey != "" {
		e.Use(middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
			KeyLookup: "header:X-API-Key",
			Validator: func(key string, c echo.Context) (bool, error) {
				return key == cfg.APIKey, nil
			},
		}))
	}

	v1 := e.Group("/v1")
	v1.GET("/health", h.Health)                 // Health check endpoint
	v1.POST("/quote", h.Quote)                  // Constant-product quote
	v1.GET("/bundles/recent", h.RecentOutcomes) // Recent bundle outcomes
}
