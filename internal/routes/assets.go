package routes

import (
	"github.com/alxbtnk/duck/internal/handlers"
	"github.com/alxbtnk/duck/internal/middleware"
	"github.com/gin-gonic/gin"
)

func RegisterAssetRoutes(r gin.IRouter, h *handlers.AssetHandler, adminSecret string) {
	assets := r.Group("/assets")
	{
		assets.GET("", h.ListAssets)
		assets.GET("/:key", h.GetAsset)

		// Admin only
		assets.PUT("/:key",
			middleware.AdminRateLimit(),
			middleware.AuthMiddleware(adminSecret),
			middleware.AdminOnly(),
			h.PutAsset,
		)
	}
}

// RegisterMediaRoutes serves uploaded asset bytes outside /api so the page can
// use the references directly as image sources.
func RegisterMediaRoutes(r gin.IRouter, h *handlers.AssetHandler) {
	r.GET("/media/:key", h.ServeMedia)
	r.HEAD("/media/:key", h.ServeMedia)
}
