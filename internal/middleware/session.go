package middleware

import (
	"net/http"

	"github.com/alxbtnk/duck/pkg/utils"
	"github.com/gin-gonic/gin"
)

const (
	SessionCookie = "duckify_session"
	SessionKey    = "sessionId"
)

// Session makes sure every visitor carries a session cookie and exposes its
// id under SessionKey. Unknown or malformed cookies are replaced.
func Session(secure bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := c.Cookie(SessionCookie)
		if err != nil || !utils.IsUUID(id) {
			id = utils.GenerateID()
			c.SetSameSite(http.SameSiteLaxMode)
			c.SetCookie(SessionCookie, id, 0, "/", "", secure, true)
		}
		c.Set(SessionKey, id)
		c.Next()
	}
}
