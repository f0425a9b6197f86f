package routes

import (
	"github.com/alxbtnk/duck/internal/handlers"
	"github.com/alxbtnk/duck/internal/middleware"
	"github.com/gin-gonic/gin"
)

func RegisterDuckifyRoutes(r gin.IRouter, h *handlers.DuckifyHandler, enabled, secureCookie bool) {
	duckify := r.Group("/duckify")
	duckify.Use(middleware.FeatureGate(enabled, "Duckify"), middleware.Session(secureCookie))
	{
		duckify.GET("", h.Status)
		duckify.POST("", middleware.DuckifyRateLimit(), h.Submit)
		duckify.DELETE("", h.Reset)
	}
}
