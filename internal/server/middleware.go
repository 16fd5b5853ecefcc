package server

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mbande/biskato/internal/validation"
)

// identityMiddleware resolves the caller from the X-User-ID header set by
// the platform gateway after it authenticates the mobile session. Handlers
// read the identity via c.GetString("authUserID").
func identityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader("X-User-ID")
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "X-User-ID header is required",
			})
			return
		}
		if !validation.IsValidUserID(userID) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "invalid user id",
			})
			return
		}
		c.Set("authUserID", userID)
		c.Next()
	}
}

// adminMiddleware gates operator endpoints on the X-Admin-Secret header.
// In development with no secret configured, any caller passes.
func adminMiddleware(secret string, development bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			if development {
				c.Set("authUserID", "admin")
				c.Next()
				return
			}
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "admin access is not configured",
			})
			return
		}
		provided := c.GetHeader("X-Admin-Secret")
		if subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "invalid admin secret",
			})
			return
		}
		c.Set("authUserID", "admin")
		c.Next()
	}
}
