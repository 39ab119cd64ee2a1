package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// SharedSecret rejects requests whose bearer token doesn't match secret,
// used on the Console<->Comet channel (§6 comet_secret) where the caller is
// another service process, not an operator carrying a JWT.
func SharedSecret(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		const prefix = "Bearer "
		auth := c.GetHeader("Authorization")
		if len(auth) <= len(prefix) || auth[:len(prefix)] != prefix || auth[len(prefix):] != secret {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}
