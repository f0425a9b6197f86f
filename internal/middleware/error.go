package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/alxbtnk/duck/pkg/errors"
	"github.com/alxbtnk/duck/pkg/logger"
	"github.com/gin-gonic/gin"
)

// ErrorHandlerMiddleware handles errors and panics
func ErrorHandlerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error().
					Str("panic", fmt.Sprintf("%v", r)).
					Str("stack", string(debug.Stack())).
					Msg("Panic recovered")

				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error":   "Internal Server Error",
					"message": "An unexpected error occurred",
				})
			}
		}()

		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors.Last().Err
		if appErr, ok := errors.AsAppError(err); ok {
			body := gin.H{}
			for k, v := range appErr.Details {
				body[k] = v
			}
			body["error"] = appErr.Message
			if appErr.Kind != "" {
				body["kind"] = appErr.Kind
			}
			c.JSON(appErr.Code, body)
			return
		}

		logger.Error().Err(err).Str("path", c.Request.URL.Path).Msg("Unhandled request error")

		// Don't expose internal errors to the client
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Internal Server Error",
		})
	}
}
