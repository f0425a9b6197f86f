package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/alxbtnk/duck/internal/assets"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type HealthHandler struct {
	db       *gorm.DB
	rdb      *redis.Client
	registry *assets.Registry
}

// NewHealthHandler checks db and, when not nil, rdb.
func NewHealthHandler(db *gorm.DB, rdb *redis.Client, registry *assets.Registry) *HealthHandler {
	return &HealthHandler{db: db, rdb: rdb, registry: registry}
}

// Health reports database and Redis status. Storage problems degrade the
// service rather than take it down, so the status code stays 200.
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	dbStatus := "ok"
	if sqlDB, err := h.db.DB(); err != nil || sqlDB.PingContext(ctx) != nil {
		dbStatus = "error"
	}

	redisStatus := "not configured"
	if h.rdb != nil {
		redisStatus = "ok"
		if err := h.rdb.Ping(ctx).Err(); err != nil {
			redisStatus = "error"
		}
	}

	status := "ok"
	if dbStatus != "ok" || redisStatus == "error" {
		status = "degraded"
	}

	c.JSON(http.StatusOK, gin.H{
		"status": status,
		"ready":  h.registry.Ready(),
		"checks": gin.H{
			"database": dbStatus,
			"redis":    redisStatus,
		},
	})
}
