package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// FeatureGate blocks access to a feature that is not configured on this
// deployment.
func FeatureGate(enabled bool, featureName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !enabled {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error":   "Feature Disabled",
				"message": featureName + " is currently unavailable.",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}
