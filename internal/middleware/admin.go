package middleware

import (
	"net/http"

	"github.com/alxbtnk/duck/pkg/utils"
	"github.com/gin-gonic/gin"
)

// AdminOnly restricts access to tokens carrying the admin role. It must run
// after AuthMiddleware.
func AdminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		value, exists := c.Get("claims")
		if !exists {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			c.Abort()
			return
		}

		claims, ok := value.(*utils.Claims)
		if !ok || claims.Role != utils.RoleAdmin {
			c.JSON(http.StatusForbidden, gin.H{"error": "Admin access required"})
			c.Abort()
			return
		}

		c.Next()
	}
}
